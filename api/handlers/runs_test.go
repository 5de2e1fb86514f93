package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/stepflow/workflow"
)

type echoInput struct {
	JobID   string `json:"job_id,omitempty"`
	Message string `json:"message"`
}

type echoOutput struct {
	JobID string `json:"job_id,omitempty"`
	Echo  string `json:"echo"`
}

// newRunsAPI wires a runner with a trivial echo workflow behind the
// same mux patterns the server registers.
func newRunsAPI(t *testing.T) (*http.ServeMux, *workflow.Runner) {
	t.Helper()

	def := workflow.NewDefinition[echoInput, echoOutput]("echo", time.Minute,
		func(wf *workflow.Workflow, input echoInput) (echoOutput, error) {
			echo, err := workflow.StepResult(wf, "echo", func(ctx context.Context) (string, error) {
				return "echo: " + input.Message, nil
			})
			if err != nil {
				return echoOutput{}, err
			}
			return echoOutput{JobID: input.JobID, Echo: echo}, nil
		})

	registry := workflow.NewRegistry()
	registry.Register(def)
	runner := workflow.NewRunner(registry, workflow.NewMemoryStore(), nil, zap.NewNop())

	handler := NewRunHandler(runner, zap.NewNop())
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/workflows/{name}/runs", handler.HandleStart)
	mux.HandleFunc("GET /api/v1/runs", handler.HandleList)
	mux.HandleFunc("GET /api/v1/runs/{id}", handler.HandleGet)
	mux.HandleFunc("POST /api/v1/runs/{id}/cancel", handler.HandleCancel)
	return mux, runner
}

func doJSON(t *testing.T, mux *http.ServeMux, method, target, body string) (*httptest.ResponseRecorder, Response) {
	t.Helper()

	req := httptest.NewRequest(method, target, strings.NewReader(body))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return rec, resp
}

func decodeRunView(t *testing.T, resp Response) RunView {
	t.Helper()
	raw, err := json.Marshal(resp.Data)
	require.NoError(t, err)
	var view RunView
	require.NoError(t, json.Unmarshal(raw, &view))
	return view
}

// waitTerminal polls until the run leaves the running state.
func waitTerminal(t *testing.T, runner *workflow.Runner, id string) *workflow.Run {
	t.Helper()
	runID, err := uuid.Parse(id)
	require.NoError(t, err)

	var run *workflow.Run
	require.Eventually(t, func() bool {
		run, err = runner.Store().GetRun(context.Background(), runID)
		return err == nil && run.Status.IsTerminal()
	}, 5*time.Second, 10*time.Millisecond)
	return run
}

func TestRunHandler_Start(t *testing.T) {
	mux, runner := newRunsAPI(t)

	rec, resp := doJSON(t, mux, http.MethodPost, "/api/v1/workflows/echo/runs", `{"message":"hello"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	require.True(t, resp.Success)

	view := decodeRunView(t, resp)
	assert.Equal(t, "echo", view.WorkflowName)
	require.NotEmpty(t, view.ID)

	run := waitTerminal(t, runner, view.ID)
	assert.Equal(t, workflow.RunStatusCompleted, run.Status)

	var output echoOutput
	require.NoError(t, json.Unmarshal(run.Output, &output))
	assert.Equal(t, "echo: hello", output.Echo)
}

func TestRunHandler_StartEmptyBody(t *testing.T) {
	mux, runner := newRunsAPI(t)

	rec, resp := doJSON(t, mux, http.MethodPost, "/api/v1/workflows/echo/runs", "")
	require.Equal(t, http.StatusCreated, rec.Code)

	view := decodeRunView(t, resp)
	run := waitTerminal(t, runner, view.ID)
	assert.Equal(t, workflow.RunStatusCompleted, run.Status)
}

func TestRunHandler_StartInjectsJobID(t *testing.T) {
	mux, runner := newRunsAPI(t)

	rec, resp := doJSON(t, mux, http.MethodPost,
		"/api/v1/workflows/echo/runs?job_id=job-42", `{"message":"hi"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	view := decodeRunView(t, resp)
	run := waitTerminal(t, runner, view.ID)

	var output echoOutput
	require.NoError(t, json.Unmarshal(run.Output, &output))
	assert.Equal(t, "job-42", output.JobID)
}

func TestRunHandler_StartRejectsBadInput(t *testing.T) {
	mux, _ := newRunsAPI(t)

	tests := []struct {
		name   string
		target string
		body   string
		status int
	}{
		{"invalid json", "/api/v1/workflows/echo/runs", `{"message":`, http.StatusBadRequest},
		{"unknown field", "/api/v1/workflows/echo/runs", `{"bogus":1}`, http.StatusBadRequest},
		{"job_id on non-object", "/api/v1/workflows/echo/runs?job_id=j", `[1,2]`, http.StatusBadRequest},
		{"unknown workflow", "/api/v1/workflows/nope/runs", `{"message":"x"}`, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, resp := doJSON(t, mux, http.MethodPost, tt.target, tt.body)
			assert.Equal(t, tt.status, rec.Code)
			assert.False(t, resp.Success)
			require.NotNil(t, resp.Error)
		})
	}
}

func TestRunHandler_StartRejectsOversizedInput(t *testing.T) {
	mux, _ := newRunsAPI(t)

	big := `{"message":"` + strings.Repeat("x", maxInputBytes) + `"}`
	rec, _ := doJSON(t, mux, http.MethodPost, "/api/v1/workflows/echo/runs", big)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestRunHandler_Get(t *testing.T) {
	mux, runner := newRunsAPI(t)

	_, resp := doJSON(t, mux, http.MethodPost, "/api/v1/workflows/echo/runs", `{"message":"hi"}`)
	started := decodeRunView(t, resp)
	waitTerminal(t, runner, started.ID)

	rec, resp := doJSON(t, mux, http.MethodGet, "/api/v1/runs/"+started.ID, "")
	require.Equal(t, http.StatusOK, rec.Code)

	view := decodeRunView(t, resp)
	assert.Equal(t, started.ID, view.ID)
	assert.Equal(t, string(workflow.RunStatusCompleted), view.Status)
	assert.NotEmpty(t, view.CompletedAt)
}

func TestRunHandler_GetNotFound(t *testing.T) {
	mux, _ := newRunsAPI(t)

	rec, _ := doJSON(t, mux, http.MethodGet, "/api/v1/runs/"+uuid.NewString(), "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRunHandler_GetBadID(t *testing.T) {
	mux, _ := newRunsAPI(t)

	rec, resp := doJSON(t, mux, http.MethodGet, "/api/v1/runs/not-a-uuid", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, CodeInvalidRequest, resp.Error.Code)
}

func TestRunHandler_CancelTerminalRun(t *testing.T) {
	mux, runner := newRunsAPI(t)

	_, resp := doJSON(t, mux, http.MethodPost, "/api/v1/workflows/echo/runs", `{"message":"hi"}`)
	started := decodeRunView(t, resp)
	waitTerminal(t, runner, started.ID)

	// Cancelling a finished run is a no-op that reports current state.
	rec, resp := doJSON(t, mux, http.MethodPost, "/api/v1/runs/"+started.ID+"/cancel", "")
	require.Equal(t, http.StatusOK, rec.Code)

	view := decodeRunView(t, resp)
	assert.Equal(t, string(workflow.RunStatusCompleted), view.Status)
}

func TestRunHandler_List(t *testing.T) {
	mux, runner := newRunsAPI(t)

	for i := 0; i < 3; i++ {
		_, resp := doJSON(t, mux, http.MethodPost, "/api/v1/workflows/echo/runs", `{"message":"hi"}`)
		waitTerminal(t, runner, decodeRunView(t, resp).ID)
	}

	rec, resp := doJSON(t, mux, http.MethodGet, "/api/v1/runs?status=completed", "")
	require.Equal(t, http.StatusOK, rec.Code)

	raw, err := json.Marshal(resp.Data)
	require.NoError(t, err)
	var views []RunView
	require.NoError(t, json.Unmarshal(raw, &views))
	assert.Len(t, views, 3)

	rec, resp = doJSON(t, mux, http.MethodGet, "/api/v1/runs?limit=2", "")
	require.Equal(t, http.StatusOK, rec.Code)
	raw, err = json.Marshal(resp.Data)
	require.NoError(t, err)
	views = nil
	require.NoError(t, json.Unmarshal(raw, &views))
	assert.Len(t, views, 2)
}
