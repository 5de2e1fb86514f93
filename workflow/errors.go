package workflow

import "errors"

var (
	// ErrRunNotFound 运行记录不存在
	ErrRunNotFound = errors.New("workflow run not found")

	// ErrWorkflowNotFound 工作流未注册
	ErrWorkflowNotFound = errors.New("workflow not registered")

	// ErrRunNotResumable is returned when resuming a run that is not running.
	ErrRunNotResumable = errors.New("run is not in a resumable state")

	// ErrRunCancelled is returned from a step boundary after a cancel request
	// has been observed. The runner maps it to RunStatusCancelled.
	ErrRunCancelled = errors.New("workflow run cancelled")

	// ErrRunTerminal is returned by UpdateRun when the stored record is
	// already in a terminal state. Terminal states are absorbing: a stale
	// writer must never overwrite a finished run.
	ErrRunTerminal = errors.New("run already in a terminal state")

	// ErrInvalidInput 输入校验失败
	ErrInvalidInput = errors.New("invalid workflow input")

	// ErrStoreClosed is returned by store operations after Close.
	ErrStoreClosed = errors.New("store is closed")
)
