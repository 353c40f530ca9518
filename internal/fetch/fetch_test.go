package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nkamali/faro/internal/cache"
)

const articleHTML = `<!doctype html>
<html><head><title>Tides Explained</title></head>
<body><article>
<h1>Tides Explained</h1>
<p>Tides are driven primarily by the gravitational pull of the moon acting on the oceans of the rotating earth.</p>
<p>The sun contributes a smaller secondary effect, which is why spring and neap tides alternate through the lunar month.</p>
</article></body></html>`

const thinHTML = `<!doctype html>
<html><head>
<title>Thin Page</title>
<meta name="description" content="A short description of the page contents.">
<meta property="og:title" content="Thin Page OG">
</head><body><div>no paragraphs here</div></body></html>`

func TestFetchExtractsArticle(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(articleHTML))
	}))
	defer srv.Close()

	f := NewHTTP(nil, Options{})
	page, err := f.Fetch(context.Background(), srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	if page == nil {
		t.Fatal("page is nil")
	}
	if !strings.Contains(page.Text, "gravitational pull of the moon") {
		t.Fatalf("article text not extracted: %q", page.Text)
	}
	if !strings.Contains(page.Title, "Tides") {
		t.Fatalf("title = %q", page.Title)
	}
}

func TestFetchMetaFallback(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(thinHTML))
	}))
	defer srv.Close()

	f := NewHTTP(nil, Options{})
	page, err := f.Fetch(context.Background(), srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	if page == nil {
		t.Fatal("fallback page is nil")
	}
	if !strings.Contains(page.Text, "short description") {
		t.Fatalf("meta description not used: %q", page.Text)
	}
	if page.Title != "Thin Page OG" {
		t.Fatalf("og:title not preferred: %q", page.Title)
	}
}

func TestFetchFailureReturnsNilNil(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer srv.Close()

	f := NewHTTP(nil, Options{})
	page, err := f.Fetch(context.Background(), srv.URL)
	if err != nil || page != nil {
		t.Fatalf("Fetch = %+v, %v, want nil, nil", page, err)
	}

	page, err = f.Fetch(context.Background(), "not-a-url")
	if err != nil || page != nil {
		t.Fatalf("Fetch(invalid) = %+v, %v, want nil, nil", page, err)
	}
}

func TestFetchTimeout(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	f := NewHTTP(nil, Options{Timeout: 20 * time.Millisecond})
	page, err := f.Fetch(context.Background(), srv.URL)
	if err != nil || page != nil {
		t.Fatalf("timed-out fetch = %+v, %v, want nil, nil", page, err)
	}
}

func TestFetchUsesCache(t *testing.T) {
	t.Parallel()
	var calls int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&calls, 1)
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(articleHTML))
	}))
	defer srv.Close()

	f := NewHTTP(cache.NewMemory(16), Options{})
	for i := 0; i < 3; i++ {
		if page, _ := f.Fetch(context.Background(), srv.URL); page == nil {
			t.Fatal("page is nil")
		}
	}
	if n := atomic.LoadInt64(&calls); n != 1 {
		t.Fatalf("server hit %d times, want 1", n)
	}
}

func TestFetchClipsLongText(t *testing.T) {
	t.Parallel()
	long := "<p>" + strings.Repeat("word ", 2000) + "</p>"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte("<html><head><title>x</title></head><body><article>" + long + "</article></body></html>"))
	}))
	defer srv.Close()

	f := NewHTTP(nil, Options{MaxChars: 500})
	page, _ := f.Fetch(context.Background(), srv.URL)
	if page == nil {
		t.Fatal("page is nil")
	}
	if len(page.Text) > 500 {
		t.Fatalf("text length %d exceeds cap", len(page.Text))
	}
}

func TestFetchSetsUserAgent(t *testing.T) {
	t.Parallel()
	var ua string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ua = r.Header.Get("User-Agent")
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(articleHTML))
	}))
	defer srv.Close()

	f := NewHTTP(nil, Options{UserAgent: "faro-test/1.0"})
	f.Fetch(context.Background(), srv.URL)
	if ua != "faro-test/1.0" {
		t.Fatalf("user agent = %q", ua)
	}
}
