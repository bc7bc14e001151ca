package catalog

import (
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadPagesEmbedded(t *testing.T) {
	t.Parallel()

	pages, err := LoadPages()
	require.NoError(t, err)

	page, err := pages.Get("shipping")
	require.NoError(t, err)
	assert.Equal(t, "Shipping policy", page.Title)
	assert.Contains(t, string(page.Body), "<strong>one business day</strong>")
	assert.Equal(t, 2025, page.UpdatedAt.Year())

	footer := pages.Footer()
	require.NotEmpty(t, footer)
	assert.Equal(t, "shipping", footer[0].Slug)
	for _, p := range footer {
		assert.NotEqual(t, "about", p.Slug)
	}
}

func TestLoadPagesFrontMatter(t *testing.T) {
	t.Parallel()

	fsys := fstest.MapFS{
		"size-guide.md": {Data: []byte("# Sizes\n\nMeasure twice.")},
		"faq.md":        {Data: []byte("---\ntitle: FAQ\norder: 1\n---\nAsk away.")},
	}
	pages, err := LoadPagesFS(fsys)
	require.NoError(t, err)

	guide, err := pages.Get("Size-Guide")
	require.NoError(t, err)
	assert.Equal(t, "Size Guide", guide.Title)
	assert.True(t, guide.Footer)

	footer := pages.Footer()
	require.Len(t, footer, 2)
	assert.Equal(t, "faq", footer[1].Slug, "explicit order sorts after the zero order")

	_, err = pages.Get("../etc/passwd")
	assert.ErrorIs(t, err, ErrPageNotFound)
}

func TestLoadPagesRejectsBadYAML(t *testing.T) {
	t.Parallel()

	_, err := LoadPagesFS(fstest.MapFS{"bad.md": {Data: []byte("---\ntitle: [unclosed\n---\nbody")}})
	assert.Error(t, err)
}
