package web

import (
	"net/http"

	"github.com/JonMunkholm/feedmap/internal/core"
)

// handleHealth reports liveness, how many groups hold a snapshot, and
// worker pool usage.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{
		"status":    "ok",
		"groups":    len(s.service.Runner().GroupNames()),
		"snapshots": s.service.Snapshots().Len(),
		"workers":   s.service.Runner().Limiter().Status(),
	})
}

// handleUpdateTimes lists the accepted update time values.
func (s *Server) handleUpdateTimes(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string][]string{"options": core.UpdateTimeOptions()})
}

func (s *Server) handleListGroups(w http.ResponseWriter, r *http.Request) {
	groups, err := s.service.ListGroups(r.Context())
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, map[string]any{"groups": groups})
}

func (s *Server) handleGetGroup(w http.ResponseWriter, r *http.Request) {
	g, err := s.service.GetGroup(r.Context(), nameParam(r))
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, g)
}

func (s *Server) handleGroupStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.service.GroupStatus(r.Context(), nameParam(r))
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, st)
}

func (s *Server) handleListChannels(w http.ResponseWriter, r *http.Request) {
	channels, err := s.service.ListChannels(r.Context())
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, map[string]any{"channels": channels})
}

func (s *Server) handleGetChannel(w http.ResponseWriter, r *http.Request) {
	c, err := s.service.GetChannel(r.Context(), nameParam(r))
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, c)
}
