package web

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"
)

// handlePreviewChannel returns the first rows of a channel projection
// together with its warnings.
func (s *Server) handlePreviewChannel(w http.ResponseWriter, r *http.Request) {
	limit := parseIntParam(r, "limit", s.cfg.Export.PreviewLimit)

	preview, err := s.service.PreviewChannel(r.Context(), nameParam(r), limit)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, preview)
}

// handleExportChannel downloads the channel as <name>.csv.
//
// The ETag is the content hash, so unchanged exports answer conditional
// requests with 304. Warnings are summarized in X-Mapping-Warnings; use
// the preview endpoint for details.
func (s *Server) handleExportChannel(w http.ResponseWriter, r *http.Request) {
	artifact, err := s.service.ExportChannel(r.Context(), nameParam(r))
	if err != nil {
		respondError(w, r, err)
		return
	}

	warnings := 0
	for _, wn := range artifact.Warnings {
		warnings += wn.Count
	}

	h := w.Header()
	h.Set("Content-Type", "text/csv; charset=utf-8")
	h.Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", artifact.FileName))
	h.Set("ETag", `"`+artifact.ContentHash+`"`)
	h.Set("Cache-Control", "no-cache")
	h.Set("X-Schema-Version", strconv.FormatInt(artifact.SchemaVersion, 10))
	h.Set("X-Snapshot-Status", string(artifact.SnapshotState))
	h.Set("X-Row-Count", strconv.Itoa(artifact.RowCount))
	h.Set("X-Mapping-Warnings", strconv.Itoa(warnings))

	http.ServeContent(w, r, artifact.FileName, artifact.FetchedAt, bytes.NewReader(artifact.Content))
}
