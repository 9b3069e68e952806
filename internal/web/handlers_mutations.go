package web

import (
	"context"
	"net/http"

	"github.com/JonMunkholm/feedmap/internal/core"
	"github.com/JonMunkholm/feedmap/internal/logging"
)

// createGroupRequest is the body of POST /api/groups.
// Fields are discovered by the pipeline and cannot be supplied.
type createGroupRequest struct {
	Name        string   `json:"name"`
	SourceURL   string   `json:"sourceUrl"`
	UpdateTimes []string `json:"updateTimes"`
	Rules       string   `json:"rules"`
}

func (s *Server) handleCreateGroup(w http.ResponseWriter, r *http.Request) {
	var req createGroupRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondBadRequest(w, r, err.Error())
		return
	}

	g, err := s.service.CreateGroup(r.Context(), core.Group{
		Name:        req.Name,
		SourceURL:   req.SourceURL,
		UpdateTimes: req.UpdateTimes,
		Rules:       req.Rules,
	})
	if err != nil {
		respondError(w, r, err)
		return
	}

	w.Header().Set("Location", "/api/groups/"+g.Name)
	writeJSONStatus(w, http.StatusCreated, g)
}

func (s *Server) handleDeleteGroup(w http.ResponseWriter, r *http.Request) {
	if err := s.service.DeleteGroup(r.Context(), nameParam(r)); err != nil {
		respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// createChannelRequest is the body of POST /api/channels.
type createChannelRequest struct {
	Name   string              `json:"name"`
	Group  string              `json:"group"`
	Fields []core.FieldMapping `json:"fields"`
}

func (s *Server) handleCreateChannel(w http.ResponseWriter, r *http.Request) {
	var req createChannelRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondBadRequest(w, r, err.Error())
		return
	}

	c, err := s.service.CreateChannel(r.Context(), core.Channel{
		Name:   req.Name,
		Group:  req.Group,
		Fields: req.Fields,
	})
	if err != nil {
		respondError(w, r, err)
		return
	}

	w.Header().Set("Location", "/api/channels/"+c.Name)
	writeJSONStatus(w, http.StatusCreated, c)
}

// runResponse is the body of a synchronous refresh.
type runResponse struct {
	RunID         string              `json:"runId"`
	Group         string              `json:"group"`
	State         core.RunState       `json:"state"`
	SchemaVersion int64               `json:"schemaVersion"`
	RecordCount   int                 `json:"recordCount"`
	SkippedRows   int                 `json:"skippedRows"`
	Fields        []string            `json:"fields"`
	SnapshotState core.SnapshotStatus `json:"snapshotStatus"`
	DurationMs    int64               `json:"durationMs"`
}

// handleRefreshGroup runs the group now. With ?async=true the run starts
// in the background and 202 is returned immediately.
func (s *Server) handleRefreshGroup(w http.ResponseWriter, r *http.Request) {
	name := nameParam(r)

	if parseBoolParam(r, "async") {
		if err := s.service.TriggerGroup(r.Context(), name); err != nil {
			respondError(w, r, err)
			return
		}
		writeJSONStatus(w, http.StatusAccepted, map[string]string{"group": name, "status": "started"})
		return
	}

	// A client disconnect must not cancel a refresh that already started
	ctx := context.WithoutCancel(r.Context())
	res, err := s.service.RefreshGroup(ctx, name)
	if err != nil {
		respondError(w, r, err)
		return
	}

	logging.FromContext(r.Context()).Info("group refreshed via api",
		"group", name, "run_id", res.RunID, "state", res.State)

	resp := runResponse{
		RunID:      res.RunID,
		Group:      res.Group,
		State:      res.State,
		Fields:     []string{},
		DurationMs: res.Duration.Milliseconds(),
	}
	if snap := res.Snapshot; snap != nil {
		resp.SchemaVersion = snap.SchemaVersion
		resp.RecordCount = len(snap.Records)
		resp.SkippedRows = snap.SkippedRows
		resp.SnapshotState = snap.Status
		if snap.Fields != nil {
			resp.Fields = snap.Fields
		}
	}
	writeJSON(w, resp)
}

// handleRefreshAll runs every group and reports each outcome.
func (s *Server) handleRefreshAll(w http.ResponseWriter, r *http.Request) {
	outcomes, err := s.service.RefreshAll(context.WithoutCancel(r.Context()))
	if err != nil {
		respondError(w, r, err)
		return
	}

	failed := 0
	for _, o := range outcomes {
		if o.Error != "" {
			failed++
		}
	}
	writeJSON(w, map[string]any{
		"groups": outcomes,
		"total":  len(outcomes),
		"failed": failed,
	})
}
