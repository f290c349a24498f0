package api

import (
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/appstore-crawler/internal/model"
	"github.com/JakeFAU/appstore-crawler/internal/progress"
)

// SnapshotSource exposes the current run aggregate. *progress.Tracker
// satisfies it.
type SnapshotSource interface {
	Snapshot() progress.Snapshot
}

// ProgressHandler serves the live run snapshot.
type ProgressHandler struct {
	source SnapshotSource
	logger *zap.Logger
}

// NewProgressHandler wires the snapshot source and logger.
func NewProgressHandler(source SnapshotSource, logger *zap.Logger) *ProgressHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ProgressHandler{source: source, logger: logger}
}

// Get handles GET /v1/progress. It returns the snapshot as JSON, or 503 when
// progress tracking is disabled. ?table=<name> narrows flushed_rows to one
// table and rejects unknown names with 400.
func (h *ProgressHandler) Get(w http.ResponseWriter, r *http.Request) {
	if h.source == nil {
		writeError(w, http.StatusServiceUnavailable, "progress tracking disabled")
		return
	}
	snap := h.source.Snapshot()
	if table := strings.TrimSpace(r.URL.Query().Get("table")); table != "" {
		if !knownTable(table) {
			writeError(w, http.StatusBadRequest, "unknown table "+table)
			return
		}
		snap.FlushedRows = map[string]int64{table: snap.FlushedRows[table]}
	}
	writeJSON(w, http.StatusOK, snap)
}

func knownTable(table string) bool {
	_, err := model.ParseKind(table)
	return err == nil
}
