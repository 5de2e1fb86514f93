package handlers

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/BaSui01/stepflow/progress"
)

// =============================================================================
// 📈 任务进度 Handler
// =============================================================================

// ProgressHandler serves polling consumers: the current merged progress
// snapshot and the activity feed for a job.
type ProgressHandler struct {
	store      progress.Store
	activities progress.ActivityLog
	logger     *zap.Logger
}

// NewProgressHandler 创建任务进度处理器
func NewProgressHandler(store progress.Store, activities progress.ActivityLog, logger *zap.Logger) *ProgressHandler {
	return &ProgressHandler{
		store:      store,
		activities: activities,
		logger:     logger.With(zap.String("component", "progress_handler")),
	}
}

// HandleSnapshot 处理 GET /api/v1/jobs/{id}/progress
func (h *ProgressHandler) HandleSnapshot(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")
	if jobID == "" {
		WriteError(w, http.StatusBadRequest, CodeInvalidRequest, "missing job id", h.logger)
		return
	}

	snapshot, err := h.store.Read(r.Context(), jobID)
	switch {
	case errors.Is(err, progress.ErrJobNotFound):
		WriteError(w, http.StatusNotFound, CodeNotFound, "job not found", h.logger)
		return
	case err != nil:
		WriteError(w, http.StatusInternalServerError, CodeInternal, "failed to read progress", h.logger)
		return
	}

	WriteSuccess(w, snapshot)
}

// HandleActivities 处理 GET /api/v1/jobs/{id}/activities
func (h *ProgressHandler) HandleActivities(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")
	if jobID == "" {
		WriteError(w, http.StatusBadRequest, CodeInvalidRequest, "missing job id", h.logger)
		return
	}

	records, err := h.activities.List(r.Context(), jobID)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, CodeInternal, "failed to list activities", h.logger)
		return
	}

	WriteSuccess(w, records)
}
