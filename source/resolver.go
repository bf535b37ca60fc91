// Package source resolves spec content references: local files under a
// configured root, and HTTPS documents fetched with SSRF guards and distilled
// to markdown. It also provides the file watcher behind the auto-registration
// command.
package source

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// ErrRefOutsideRoot is returned when a file ref escapes the configured root.
var ErrRefOutsideRoot = errors.New("content ref escapes the source root")

// Resolver turns a content ref into spec text.
type Resolver struct {
	root      string
	fetcher   *Fetcher
	converter *Converter
	logger    *slog.Logger
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithFetcher overrides the HTTP fetcher.
func WithFetcher(f *Fetcher) ResolverOption {
	return func(r *Resolver) {
		r.fetcher = f
	}
}

// WithResolverLogger sets the logger.
func WithResolverLogger(l *slog.Logger) ResolverOption {
	return func(r *Resolver) {
		r.logger = l
	}
}

// NewResolver creates a Resolver. File refs are read relative to root; an
// empty root means the current working directory.
func NewResolver(root string, opts ...ResolverOption) *Resolver {
	r := &Resolver{
		root:      root,
		fetcher:   NewFetcher(30*time.Second, 2<<20),
		converter: NewConverter(),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve fetches the content behind a ref. "http(s)://" refs are fetched and
// converted to markdown; "file:" refs and bare paths are read from disk under
// the root.
func (r *Resolver) Resolve(ctx context.Context, ref string) (string, error) {
	switch {
	case strings.HasPrefix(ref, "http://"), strings.HasPrefix(ref, "https://"):
		return r.resolveURL(ctx, ref)
	default:
		return r.resolveFile(strings.TrimPrefix(ref, "file:"))
	}
}

func (r *Resolver) resolveURL(ctx context.Context, ref string) (string, error) {
	res, err := r.fetcher.Fetch(ctx, ref)
	if err != nil {
		return "", fmt.Errorf("fetch %s: %w", ref, err)
	}
	if !strings.Contains(res.ContentType, "html") {
		return string(res.Body), nil
	}
	converted, err := r.converter.Convert(res.Body, ref)
	if err != nil {
		return "", fmt.Errorf("convert %s: %w", ref, err)
	}
	r.logger.Debug("Resolved web content ref",
		slog.String("ref", ref),
		slog.String("title", converted.Title),
		slog.Int("bytes", len(converted.Markdown)))
	return converted.Markdown, nil
}

func (r *Resolver) resolveFile(path string) (string, error) {
	root := r.root
	if root == "" {
		root = "."
	}
	if !filepath.IsLocal(path) {
		return "", fmt.Errorf("ref %q: %w", path, ErrRefOutsideRoot)
	}
	data, err := os.ReadFile(filepath.Join(root, path))
	if err != nil {
		return "", fmt.Errorf("read content ref: %w", err)
	}
	return string(data), nil
}
