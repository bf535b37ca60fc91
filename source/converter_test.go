package source

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConvertExtractsTitleAndMarkdown(t *testing.T) {
	page := []byte(`<html>
<head><title>Checkout Spec</title></head>
<body>
<nav>Home | Docs</nav>
<main>
<h1>Checkout</h1>
<p>Guests may check out without an account.</p>
<ul><li>Orders include a user_id</li></ul>
</main>
<footer>Copyright</footer>
</body></html>`)

	c := NewConverter()
	got, err := c.Convert(page, "https://example.com/specs/checkout")
	require.NoError(t, err)

	assert.Equal(t, "Checkout Spec", got.Title)
	assert.Contains(t, got.Markdown, "Guests may check out without an account.")
	assert.Contains(t, got.Markdown, "user_id")
	assert.NotContains(t, got.Markdown, "<p>")
}

func TestConvertFallsBackToMarkdownHeading(t *testing.T) {
	page := []byte(`<html><body><article><h1>Billing Spec</h1><p>Invoices are immutable.</p></article></body></html>`)

	c := NewConverter()
	got, err := c.Convert(page, "")
	require.NoError(t, err)

	assert.Equal(t, "Billing Spec", got.Title)
	assert.Contains(t, got.Markdown, "Invoices are immutable.")
}
