package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/stepflow/workflow"
)

// =============================================================================
// 🔁 工作流运行 Handler
// =============================================================================

// maxInputBytes caps the accepted workflow input payload.
const maxInputBytes = 1 << 20 // 1 MB

// RunHandler 工作流运行处理器
type RunHandler struct {
	runner *workflow.Runner
	logger *zap.Logger
}

// NewRunHandler 创建工作流运行处理器
func NewRunHandler(runner *workflow.Runner, logger *zap.Logger) *RunHandler {
	return &RunHandler{
		runner: runner,
		logger: logger.With(zap.String("component", "run_handler")),
	}
}

// RunView is the API representation of a workflow run.
type RunView struct {
	ID              string          `json:"id"`
	WorkflowName    string          `json:"workflow_name"`
	Status          string          `json:"status"`
	Output          json.RawMessage `json:"output,omitempty"`
	Error           string          `json:"error,omitempty"`
	CancelRequested bool            `json:"cancel_requested,omitempty"`
	StartedAt       string          `json:"started_at"`
	CompletedAt     string          `json:"completed_at,omitempty"`
}

func runView(run *workflow.Run) RunView {
	v := RunView{
		ID:              run.ID.String(),
		WorkflowName:    run.WorkflowName,
		Status:          string(run.Status),
		Output:          run.Output,
		Error:           run.Error,
		CancelRequested: run.CancelRequested,
		StartedAt:       run.StartedAt.Format(timeLayout),
	}
	if run.CompletedAt != nil {
		v.CompletedAt = run.CompletedAt.Format(timeLayout)
	}
	return v
}

const timeLayout = "2006-01-02T15:04:05.000Z07:00"

// HandleStart 处理 POST /api/v1/workflows/{name}/runs
func (h *RunHandler) HandleStart(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	body, err := io.ReadAll(io.LimitReader(r.Body, maxInputBytes+1))
	if err != nil {
		WriteError(w, http.StatusBadRequest, CodeInvalidRequest, "failed to read request body", h.logger)
		return
	}
	if len(body) > maxInputBytes {
		WriteError(w, http.StatusRequestEntityTooLarge, CodeInvalidRequest, "input too large", h.logger)
		return
	}
	if len(body) == 0 {
		body = []byte("{}")
	}
	if !json.Valid(body) {
		WriteError(w, http.StatusBadRequest, CodeInvalidRequest, "input must be valid JSON", h.logger)
		return
	}

	// ?job_id= keys the externally-visible progress snapshot; it is
	// injected into the input object so the workflow sees it.
	if jobID := r.URL.Query().Get("job_id"); jobID != "" {
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(body, &fields); err != nil {
			WriteError(w, http.StatusBadRequest, CodeInvalidRequest, "input must be a JSON object when job_id is set", h.logger)
			return
		}
		encoded, _ := json.Marshal(jobID)
		fields["job_id"] = encoded
		if body, err = json.Marshal(fields); err != nil {
			WriteError(w, http.StatusInternalServerError, CodeInternal, "failed to encode input", h.logger)
			return
		}
	}

	handle, err := h.runner.Start(r.Context(), name, body)
	switch {
	case errors.Is(err, workflow.ErrWorkflowNotFound):
		WriteError(w, http.StatusNotFound, CodeNotFound, err.Error(), h.logger)
		return
	case errors.Is(err, workflow.ErrInvalidInput):
		WriteError(w, http.StatusBadRequest, CodeInvalidRequest, err.Error(), h.logger)
		return
	case err != nil:
		h.logger.Error("failed to start workflow run",
			zap.String("workflow", name),
			zap.Error(err),
		)
		WriteError(w, http.StatusInternalServerError, CodeInternal, "failed to start run", h.logger)
		return
	}

	run, err := handle.Get(r.Context())
	if err != nil {
		WriteError(w, http.StatusInternalServerError, CodeInternal, "failed to load run", h.logger)
		return
	}

	WriteCreated(w, runView(run))
}

// HandleGet 处理 GET /api/v1/runs/{id}
func (h *RunHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	runID, ok := h.parseRunID(w, r)
	if !ok {
		return
	}

	run, err := h.runner.Store().GetRun(r.Context(), runID)
	switch {
	case errors.Is(err, workflow.ErrRunNotFound):
		WriteError(w, http.StatusNotFound, CodeNotFound, "run not found", h.logger)
		return
	case err != nil:
		WriteError(w, http.StatusInternalServerError, CodeInternal, "failed to load run", h.logger)
		return
	}

	WriteSuccess(w, runView(run))
}

// HandleCancel 处理 POST /api/v1/runs/{id}/cancel
func (h *RunHandler) HandleCancel(w http.ResponseWriter, r *http.Request) {
	runID, ok := h.parseRunID(w, r)
	if !ok {
		return
	}

	err := h.runner.Cancel(r.Context(), runID)
	switch {
	case errors.Is(err, workflow.ErrRunNotFound):
		WriteError(w, http.StatusNotFound, CodeNotFound, "run not found", h.logger)
		return
	case err != nil:
		WriteError(w, http.StatusInternalServerError, CodeInternal, "failed to cancel run", h.logger)
		return
	}

	run, err := h.runner.Store().GetRun(r.Context(), runID)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, CodeInternal, "failed to load run", h.logger)
		return
	}

	WriteSuccess(w, runView(run))
}

// HandleList 处理 GET /api/v1/runs?status=&limit=&offset=
func (h *RunHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	filter := workflow.RunFilter{}

	if status := r.URL.Query().Get("status"); status != "" {
		filter.Status = workflow.RunStatus(status)
	}
	if limit, ok := queryInt(r, "limit"); ok {
		filter.Limit = limit
	}
	if offset, ok := queryInt(r, "offset"); ok {
		filter.Offset = offset
	}

	runs, err := h.runner.Store().ListRuns(r.Context(), filter)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, CodeInternal, "failed to list runs", h.logger)
		return
	}

	views := make([]RunView, 0, len(runs))
	for _, run := range runs {
		views = append(views, runView(run))
	}
	WriteSuccess(w, views)
}

func (h *RunHandler) parseRunID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	runID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		WriteError(w, http.StatusBadRequest, CodeInvalidRequest, "invalid run id", h.logger)
		return uuid.Nil, false
	}
	return runID, true
}

func queryInt(r *http.Request, key string) (int, bool) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return 0, false
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}
