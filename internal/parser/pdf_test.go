package parser

import (
	"strings"
	"testing"

	"github.com/dgallion1/ragingest/internal/fragment"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPDFFragments_PagesAndParagraphs(t *testing.T) {
	text := "Intro paragraph.\n\nSecond paragraph\nwraps here.\f\n\n\fLast page text.\r\n\r\nTrailing."
	frags := pdfFragments("report.pdf", text)
	require.Len(t, frags, 4)

	want := []struct {
		content string
		page    int
	}{
		{"Intro paragraph.", 1},
		{"Second paragraph\nwraps here.", 1},
		{"Last page text.", 3},
		{"Trailing.", 3},
	}
	for i, w := range want {
		assert.Equal(t, w.content, frags[i].Content)
		page, ok := frags[i].IntAttr(fragment.AttrPageNumber)
		assert.True(t, ok)
		assert.Equal(t, w.page, page, "fragment %d", i)
		assert.Equal(t, fragment.NarrativeText, frags[i].Category)
		assert.False(t, frags[i].HasParent())
		assert.Equal(t, "application/pdf", frags[i].StringAttr(fragment.AttrFiletype))
	}
}

func TestPDFParser_MalformedInput(t *testing.T) {
	p := &PDFParser{FallbackPdftotext: false}
	_, err := p.Parse(strings.NewReader("%PDF-1.4\nthis is not really a pdf"), "broken.pdf")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "extract pdf text")
}

func TestPDFParser_Empty(t *testing.T) {
	_, err := (&PDFParser{}).Parse(strings.NewReader(""), "empty.pdf")
	assert.Error(t, err)
}
