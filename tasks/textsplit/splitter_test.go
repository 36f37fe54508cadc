package textsplit

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestNew_Validates(t *testing.T) {
	_, err := New(0, 0)
	assert.Error(t, err)
	_, err = New(10, 10)
	assert.Error(t, err)
	_, err = New(10, -1)
	assert.Error(t, err)

	s, err := New(4024, 256)
	require.NoError(t, err)
	assert.Equal(t, DefaultSeparators, s.Separators)
}

func TestSplit_ShortTextIsOneChunk(t *testing.T) {
	s, err := New(100, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"hello world"}, s.Split("  hello world \n"))
	assert.Empty(t, s.Split("   \n\n "))
}

func TestSplit_Overlap(t *testing.T) {
	s, err := New(5, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"a b c", "c d e", "e f g", "g h"}, s.Split("a b c d e f g h"))
}

func TestSplit_PrefersParagraphs(t *testing.T) {
	s, err := New(20, 0)
	require.NoError(t, err)
	chunks := s.Split("first paragraph\n\nsecond paragraph")
	assert.Equal(t, []string{"first paragraph", "second paragraph"}, chunks)
}

func TestSplit_FallsBackToRunes(t *testing.T) {
	s, err := New(4, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"abcd", "efgh", "ij"}, s.Split("abcdefghij"))
}

func TestSplit_Properties(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		size := rapid.IntRange(8, 64).Draw(rt, "size")
		overlap := rapid.IntRange(0, size-1).Draw(rt, "overlap")
		words := rapid.SliceOfN(rapid.StringMatching(`[a-z]{1,6}`), 1, 80).Draw(rt, "words")
		text := strings.Join(words, " ")

		s, err := New(size, overlap)
		if err != nil {
			rt.Fatal(err)
		}
		chunks := s.Split(text)
		if len(chunks) == 0 {
			rt.Fatalf("no chunks for %q", text)
		}

		joined := strings.Join(chunks, " ")
		for _, c := range chunks {
			if runeLen(c) > size {
				rt.Fatalf("chunk %q longer than %d", c, size)
			}
		}
		for _, w := range words {
			if !strings.Contains(joined, w) {
				rt.Fatalf("word %q lost", w)
			}
		}
	})
}
