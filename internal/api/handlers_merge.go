package api

import (
	"encoding/json"
	"net/http"

	"github.com/dgallion1/ragingest/internal/fragment"
	"github.com/dgallion1/ragingest/internal/merge"
)

type diagnosticJSON struct {
	FragmentID string `json:"fragment_id"`
	ParentID   string `json:"parent_id"`
	Error      string `json:"error"`
}

// handleMerge folds a posted fragment array without touching any sink.
func (s *Server) handleMerge(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBytes)

	var in []fragment.Fragment
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		jsonError(w, "invalid fragment array: "+err.Error(), http.StatusBadRequest)
		return
	}

	res := merge.Merge(in)
	diags := make([]diagnosticJSON, 0, len(res.Diagnostics))
	for _, d := range res.Diagnostics {
		diags = append(diags, diagnosticJSON{FragmentID: d.FragmentID, ParentID: d.ParentID, Error: d.Err.Error()})
	}
	out := res.Fragments
	if out == nil {
		out = []fragment.Fragment{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"fragments":       out,
		"diagnostics":     diags,
		"missing_parents": res.MissingParents(),
	})
}
