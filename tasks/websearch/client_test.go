package websearch

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/BaSui01/graphflow/testutil"
	"github.com/BaSui01/graphflow/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_Search(t *testing.T) {
	var got searchRequest
	var auth string
	srv := testutil.NewJSONServer(t, func(r *http.Request, req searchRequest) (searchResponse, error) {
		got = req
		auth = r.Header.Get("Authorization")
		return searchResponse{Results: []Result{
			{Title: "a", URL: "https://a"}, {Title: "b", URL: "https://b"},
			{Title: "c", URL: "https://c"}, {Title: "d", URL: "https://d"},
		}}, nil
	})

	c, err := New(Config{Endpoint: srv.URL, APIKey: "tvly"}, nil)
	require.NoError(t, err)

	res, err := c.Search(testutil.TestContext(t), "graph executors", 3)
	require.NoError(t, err)
	assert.Len(t, res, 3, "results are capped client side")
	assert.Equal(t, "graph executors", got.Query)
	assert.Equal(t, 3, got.MaxResults)
	assert.Equal(t, "Bearer tvly", auth)
}

func TestClient_SearchErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c, err := New(Config{Endpoint: srv.URL}, nil)
	require.NoError(t, err)

	_, err = c.Search(testutil.TestContext(t), "q", 3)
	assert.Equal(t, types.ErrRateLimited, types.GetErrorCode(err))

	_, err = c.Search(testutil.TestContext(t), "  ", 3)
	assert.Equal(t, types.ErrInvalidInput, types.GetErrorCode(err))
}

func TestClient_RateLimited(t *testing.T) {
	srv := testutil.NewJSONServer(t, func(r *http.Request, req searchRequest) (searchResponse, error) {
		return searchResponse{}, nil
	})

	c, err := New(Config{Endpoint: srv.URL, RateLimit: 20, Burst: 1}, nil)
	require.NoError(t, err)

	start := time.Now()
	for range 3 {
		_, err := c.Search(testutil.TestContext(t), "q", 1)
		require.NoError(t, err)
	}
	assert.GreaterOrEqual(t, time.Since(start), 90*time.Millisecond)
}

func TestClient_FetchAll(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/page/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprintf(w, "<html><head><title>Page %s</title></head><body><p>Body of %s</p></body></html>",
			strings.TrimPrefix(r.URL.Path, "/page/"), r.URL.Path)
	})
	mux.HandleFunc("/plain", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte("  just text \n"))
	})
	mux.HandleFunc("/broken", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c, err := New(Config{Endpoint: srv.URL, FetchConcurrency: 2}, nil)
	require.NoError(t, err)

	pages := c.FetchAll(testutil.TestContext(t), []string{
		srv.URL + "/page/1", srv.URL + "/broken", srv.URL + "/plain", srv.URL + "/page/2", srv.URL + "/page/3",
	}, 4)

	require.Len(t, pages, 3, "broken page dropped and limit applied")
	assert.Equal(t, "Page 1", pages[0].Title)
	assert.Equal(t, "Body of /page/1", pages[0].Text)
	assert.Equal(t, "just text", pages[1].Text)
	assert.Equal(t, srv.URL+"/page/2", pages[2].URL)
}

func TestExtractText(t *testing.T) {
	doc := `<!doctype html><html><head><title> Attention </title><style>p{}</style></head>
<body><script>var x = 1;</script><h1>Heading</h1><p>First   para<br>next line</p>
<div>Tail <b>bold</b></div><noscript>enable js</noscript></body></html>`

	title, text, err := ExtractText(strings.NewReader(doc))
	require.NoError(t, err)
	assert.Equal(t, "Attention", title)
	assert.Equal(t, "Heading\nFirst para\nnext line\nTail bold", text)
}
