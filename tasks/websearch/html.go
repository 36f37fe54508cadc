package websearch

import (
	"errors"
	"io"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// skipped elements never contribute visible text.
var skipped = map[atom.Atom]bool{
	atom.Script:   true,
	atom.Style:    true,
	atom.Noscript: true,
	atom.Template: true,
	atom.Svg:      true,
	atom.Head:     true,
}

// block elements end a line of text.
var block = map[atom.Atom]bool{
	atom.P: true, atom.Div: true, atom.Br: true, atom.Li: true,
	atom.H1: true, atom.H2: true, atom.H3: true, atom.H4: true, atom.H5: true, atom.H6: true,
	atom.Tr: true, atom.Section: true, atom.Article: true, atom.Pre: true, atom.Blockquote: true,
}

// ExtractText returns the document title and its visible text with
// whitespace collapsed and one line per block element.
func ExtractText(r io.Reader) (title, text string, err error) {
	z := html.NewTokenizer(r)

	var (
		lines   []string
		current strings.Builder
		depth   int
		inTitle bool
	)
	flush := func() {
		if s := strings.Join(strings.Fields(current.String()), " "); s != "" {
			lines = append(lines, s)
		}
		current.Reset()
	}

	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			if errors.Is(z.Err(), io.EOF) {
				flush()
				return strings.TrimSpace(title), strings.Join(lines, "\n"), nil
			}
			return "", "", z.Err()
		case html.StartTagToken, html.SelfClosingTagToken:
			name, _ := z.TagName()
			a := atom.Lookup(name)
			if a == atom.Title {
				inTitle = tt == html.StartTagToken
				continue
			}
			if skipped[a] && tt == html.StartTagToken {
				depth++
			}
			if block[a] {
				flush()
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			a := atom.Lookup(name)
			if a == atom.Title {
				inTitle = false
				continue
			}
			if skipped[a] && depth > 0 {
				depth--
			}
			if block[a] {
				flush()
			}
		case html.TextToken:
			if inTitle {
				title += string(z.Text())
				continue
			}
			if depth == 0 {
				current.Write(z.Text())
				current.WriteByte(' ')
			}
		}
	}
}
