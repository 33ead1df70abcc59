package api

import (
	"net/http"

	"github.com/dgallion1/ragingest/internal/sink"
)

func (s *Server) handleSinkStats(w http.ResponseWriter, r *http.Request) {
	if s.opts.SinkStats == nil {
		jsonError(w, "sink stats unavailable", http.StatusServiceUnavailable)
		return
	}

	body := map[string]any{
		"stats": s.opts.SinkStats.Snapshot(),
	}
	if c, ok := s.opts.Sink.(sink.Counter); ok {
		n, err := c.Count(r.Context())
		if err != nil {
			s.log.Warn("count stored fragments", "error", err)
		} else {
			body["stored"] = n
		}
	}
	writeJSON(w, http.StatusOK, body)
}
