package parser

import (
	"path/filepath"
	"strings"

	"github.com/dgallion1/ragingest/internal/fragment"
	"github.com/google/uuid"
)

// builder turns a stream of headings and body blocks into fragments. Each
// heading becomes a Title whose parent is the nearest open heading of a lower
// level; body blocks point at the innermost open heading.
type builder struct {
	source   string
	filename string
	filetype string
	page     int

	stack []headingEntry
	out   []fragment.Fragment
}

type headingEntry struct {
	id    string
	level int
}

func newBuilder(source string) *builder {
	ext := strings.ToLower(filepath.Ext(source))
	return &builder{
		source:   source,
		filename: filepath.Base(source),
		filetype: fileTypes[ext],
	}
}

// setPage records the page number attached to subsequent fragments.
func (b *builder) setPage(page int) {
	b.page = page
}

func (b *builder) heading(level int, text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	// Pop stack until we find a parent with lower level.
	for len(b.stack) > 0 && b.stack[len(b.stack)-1].level >= level {
		b.stack = b.stack[:len(b.stack)-1]
	}

	f := b.newFragment(fragment.Title, text)
	if len(b.stack) > 0 {
		f.ParentID = b.stack[len(b.stack)-1].id
	}
	f.SetAttr(fragment.AttrCategoryDepth, level-1)
	b.out = append(b.out, f)
	b.stack = append(b.stack, headingEntry{id: f.ID, level: level})
}

func (b *builder) block(cat fragment.Category, text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	f := b.newFragment(cat, text)
	if len(b.stack) > 0 {
		f.ParentID = b.stack[len(b.stack)-1].id
	}
	f.SetAttr(fragment.AttrCategoryDepth, len(b.stack))
	b.out = append(b.out, f)
}

func (b *builder) newFragment(cat fragment.Category, text string) fragment.Fragment {
	f := fragment.Fragment{
		ID:       uuid.NewString(),
		Category: cat,
		Content:  text,
		Attributes: map[string]any{
			fragment.AttrSource:   b.source,
			fragment.AttrFilename: b.filename,
		},
	}
	if b.filetype != "" {
		f.SetAttr(fragment.AttrFiletype, b.filetype)
	}
	if b.page > 0 {
		f.SetAttr(fragment.AttrPageNumber, b.page)
	}
	return f
}

func (b *builder) fragments() []fragment.Fragment {
	return b.out
}
