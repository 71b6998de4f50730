package httpapi

import "net/http"

// handlePerfLatency serves the in-process rolling latency window. A reset=true
// query clears it after the snapshot is taken.
func (s *Server) handlePerfLatency(w http.ResponseWriter, r *http.Request) {
	snap := s.collector.Snapshot()
	if r.URL.Query().Get("reset") == "true" {
		s.collector.ResetLatency()
	}
	respondJSON(w, http.StatusOK, snap)
}
