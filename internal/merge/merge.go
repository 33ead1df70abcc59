// Package merge folds flat, parent-referencing fragments into title chains.
//
// Parsers emit headings and body blocks as separate fragments linked by parent
// ids. Merge walks them once, keeps a registry of the titles seen so far, and
// produces fragments where narrative text sits under its full heading path,
// e.g. "Guide -> Install pip install foo".
package merge

import (
	"errors"
	"fmt"

	"github.com/dgallion1/ragingest/internal/fragment"
)

const (
	// TitleDelimiter joins an ancestor title chain.
	TitleDelimiter = " -> "
	// ContentDelimiter joins narrative text onto its title.
	ContentDelimiter = " "
)

// ErrMissingParent is reported when a non-title fragment references a parent
// that is not an open title at that point of the pass.
var ErrMissingParent = errors.New("missing parent reference")

// Diagnostic describes a recoverable problem found during a merge.
type Diagnostic struct {
	FragmentID string
	ParentID   string
	Err        error
}

func (d Diagnostic) Error() string {
	return fmt.Sprintf("fragment %s: parent %s: %v", d.FragmentID, d.ParentID, d.Err)
}

func (d Diagnostic) Unwrap() error { return d.Err }

// Result is the output of a merge pass.
type Result struct {
	Fragments   []fragment.Fragment
	Diagnostics []Diagnostic
}

// MissingParents counts MissingParentReference diagnostics.
func (r Result) MissingParents() int {
	n := 0
	for _, d := range r.Diagnostics {
		if errors.Is(d.Err, ErrMissingParent) {
			n++
		}
	}
	return n
}

// registry holds open titles as indices into the arena. Order records first
// insertion so the emitted titles are deterministic.
type registry struct {
	index map[string]int
	order []string
}

func (r *registry) lookup(id string) (int, bool) {
	i, ok := r.index[id]
	return i, ok
}

func (r *registry) put(id string, arenaIdx int) {
	if _, ok := r.index[id]; !ok {
		r.order = append(r.order, id)
	}
	r.index[id] = arenaIdx
}

// Merge runs the single-pass hierarchy merge. The input slice is not modified.
//
// Output order is: standalone fragments (no parent, or an unresolvable parent)
// in input order, followed by titles that absorbed at least one child, in the
// order their ids were first registered. Titles without children are dropped.
func Merge(in []fragment.Fragment) Result {
	var (
		out   []fragment.Fragment
		diags []Diagnostic
		arena = make([]fragment.Fragment, 0, len(in))
		reg   = registry{index: make(map[string]int)}
	)

	for _, src := range in {
		f := src.Clone()
		delete(f.Attributes, fragment.AttrLanguages)

		switch {
		case f.Category == fragment.Title:
			f.SetAttr(fragment.AttrTitle, f.Content)
			if f.HasParent() {
				if pi, ok := reg.lookup(f.ParentID); ok {
					f.Content = arena[pi].Content + TitleDelimiter + f.Content
				}
			}
			arena = append(arena, f)
			reg.put(f.ID, len(arena)-1)

		case !f.HasParent():
			out = append(out, f)

		default:
			pi, ok := reg.lookup(f.ParentID)
			if !ok {
				diags = append(diags, Diagnostic{FragmentID: f.ID, ParentID: f.ParentID, Err: ErrMissingParent})
				out = append(out, f)
				continue
			}
			parent := arena[pi]
			parent.Content = parent.Content + ContentDelimiter + f.Content
			parent.Category = fragment.Content
			arena[pi] = parent
		}
	}

	for _, id := range reg.order {
		f := arena[reg.index[id]]
		if f.Category == fragment.Content {
			out = append(out, f)
		}
	}

	return Result{Fragments: out, Diagnostics: diags}
}
