package source

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveFileRef(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "specs"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "specs", "checkout.md"), []byte("# Checkout spec"), 0o644))

	r := NewResolver(root)

	got, err := r.Resolve(context.Background(), "specs/checkout.md")
	require.NoError(t, err)
	assert.Equal(t, "# Checkout spec", got)

	// file: prefix is accepted.
	got, err = r.Resolve(context.Background(), "file:specs/checkout.md")
	require.NoError(t, err)
	assert.Equal(t, "# Checkout spec", got)
}

func TestResolveRejectsEscapingRef(t *testing.T) {
	r := NewResolver(t.TempDir())

	_, err := r.Resolve(context.Background(), "../outside.md")
	assert.ErrorIs(t, err, ErrRefOutsideRoot)

	_, err = r.Resolve(context.Background(), "/etc/passwd")
	assert.ErrorIs(t, err, ErrRefOutsideRoot)
}

func TestResolveMissingFile(t *testing.T) {
	r := NewResolver(t.TempDir())
	_, err := r.Resolve(context.Background(), "missing.md")
	assert.Error(t, err)
}

func TestResolveHTTPRefConvertsHTML(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(`<html><head><title>Checkout Spec</title></head>
<body><main><h1>Checkout</h1><p>Guests may check out without an account.</p></main></body></html>`))
	}))
	defer srv.Close()

	r := NewResolver(t.TempDir(), WithFetcher(NewFetcher(5*time.Second, 1<<20, withInsecure())))

	got, err := r.Resolve(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Contains(t, got, "Guests may check out without an account.")
	assert.NotContains(t, got, "<p>")
}

func TestResolveHTTPRefPlainText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "text/markdown")
		_, _ = w.Write([]byte("# Plain spec"))
	}))
	defer srv.Close()

	r := NewResolver(t.TempDir(), WithFetcher(NewFetcher(5*time.Second, 1<<20, withInsecure())))

	got, err := r.Resolve(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "# Plain spec", got)
}
