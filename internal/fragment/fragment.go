package fragment

import (
	"maps"
	"strconv"
)

// Category tags a fragment with the kind of element it was parsed from.
type Category string

const (
	Title             Category = "Title"
	NarrativeText     Category = "NarrativeText"
	ListItem          Category = "ListItem"
	Table             Category = "Table"
	Code              Category = "CodeSnippet"
	UncategorizedText Category = "UncategorizedText"

	// Content marks a title that has absorbed narrative children during merge.
	Content Category = "content"
)

// Well-known attribute keys.
const (
	AttrTitle         = "title"
	AttrSource        = "source"
	AttrFilename      = "filename"
	AttrFiletype      = "filetype"
	AttrPageNumber    = "page_number"
	AttrCategoryDepth = "category_depth"
	AttrLanguages     = "languages"
	AttrChunkIndex    = "chunk_index"
	AttrOriginID      = "origin_id"
)

// Fragment is one parsed unit of text.
type Fragment struct {
	ID         string         `json:"id"`
	ParentID   string         `json:"parent_id,omitempty"` // empty when the fragment has no parent
	Category   Category       `json:"category"`
	Content    string         `json:"content"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

// Batch is a bounded group of merged fragments handed to a sink in one call.
type Batch []Fragment

// HasParent reports whether the fragment carries a parent reference.
func (f Fragment) HasParent() bool {
	return f.ParentID != ""
}

// Clone returns a copy whose attribute map is not shared with f.
func (f Fragment) Clone() Fragment {
	out := f
	if f.Attributes != nil {
		out.Attributes = maps.Clone(f.Attributes)
	}
	return out
}

// SetAttr sets an attribute, allocating the map on first use.
func (f *Fragment) SetAttr(key string, value any) {
	if f.Attributes == nil {
		f.Attributes = make(map[string]any)
	}
	f.Attributes[key] = value
}

// StringAttr returns the attribute rendered as a string, or "" if absent.
func (f Fragment) StringAttr(key string) string {
	v, ok := f.Attributes[key]
	if !ok || v == nil {
		return ""
	}
	switch val := v.(type) {
	case string:
		return val
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	}
	return ""
}

// IntAttr returns an integer attribute. JSON-decoded numbers arrive as float64.
func (f Fragment) IntAttr(key string) (int, bool) {
	switch val := f.Attributes[key].(type) {
	case int:
		return val, true
	case int64:
		return int(val), true
	case float64:
		return int(val), true
	}
	return 0, false
}

// Clone copies every fragment in the batch.
func (b Batch) Clone() Batch {
	out := make(Batch, len(b))
	for i := range b {
		out[i] = b[i].Clone()
	}
	return out
}
