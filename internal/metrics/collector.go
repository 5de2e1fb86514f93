// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/BaSui01/stepflow/workflow"
)

// =============================================================================
// 📊 指标收集器
// =============================================================================

// Collector 指标收集器
type Collector struct {
	// HTTP 指标
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// 工作流运行指标
	runsStarted  *prometheus.CounterVec
	runsFinished *prometheus.CounterVec
	runDuration  *prometheus.HistogramVec

	// 步骤指标
	stepDuration  *prometheus.HistogramVec
	stepsReplayed *prometheus.CounterVec
	stepFailures  *prometheus.CounterVec
	mapItemsTotal *prometheus.CounterVec

	logger *zap.Logger
}

// NewCollector 创建指标收集器
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	// HTTP 指标
	c.httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	c.httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// 工作流运行指标
	c.runsStarted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_started_total",
			Help:      "Total number of workflow runs started",
		},
		[]string{"workflow"},
	)

	c.runsFinished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_finished_total",
			Help:      "Total number of workflow runs reaching a terminal status",
		},
		[]string{"workflow", "status"},
	)

	c.runDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Workflow run duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{"workflow", "status"},
	)

	// 步骤指标
	c.stepDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "step_duration_seconds",
			Help:      "Step execution duration in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"workflow", "step"},
	)

	c.stepsReplayed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "steps_replayed_total",
			Help:      "Total number of steps served from a checkpoint",
		},
		[]string{"workflow", "step"},
	)

	c.stepFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "step_failures_total",
			Help:      "Total number of step body failures",
		},
		[]string{"workflow", "step"},
	)

	c.mapItemsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "map_items_total",
			Help:      "Total number of finished map items",
		},
		[]string{"workflow", "step", "result"},
	)

	logger.Info("metrics collector initialized", zap.String("namespace", namespace))

	return c
}

// =============================================================================
// 🎯 HTTP 指标记录
// =============================================================================

// RecordHTTPRequest 记录 HTTP 请求
func (c *Collector) RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	c.httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// =============================================================================
// 🔁 工作流指标记录 (workflow.RunEmitter)
// =============================================================================

// RunStarted implements workflow.RunEmitter.
func (c *Collector) RunStarted(run *workflow.Run) {
	c.runsStarted.WithLabelValues(run.WorkflowName).Inc()
}

// RunFinished implements workflow.RunEmitter.
func (c *Collector) RunFinished(run *workflow.Run, elapsed time.Duration) {
	c.runsFinished.WithLabelValues(run.WorkflowName, string(run.Status)).Inc()
	c.runDuration.WithLabelValues(run.WorkflowName, string(run.Status)).Observe(elapsed.Seconds())
}

// StepCompleted implements workflow.StepEmitter.
func (c *Collector) StepCompleted(run *workflow.Run, stepName string, elapsed time.Duration) {
	c.stepDuration.WithLabelValues(run.WorkflowName, stepName).Observe(elapsed.Seconds())
}

// StepFailed implements workflow.StepEmitter.
func (c *Collector) StepFailed(run *workflow.Run, stepName string, err error) {
	c.stepFailures.WithLabelValues(run.WorkflowName, stepName).Inc()
}

// StepReplayed implements workflow.StepEmitter.
func (c *Collector) StepReplayed(run *workflow.Run, stepName string) {
	c.stepsReplayed.WithLabelValues(run.WorkflowName, stepName).Inc()
}

// MapItemDone implements workflow.StepEmitter.
func (c *Collector) MapItemDone(run *workflow.Run, stepName string, ok bool) {
	result := "ok"
	if !ok {
		result = "failed"
	}
	c.mapItemsTotal.WithLabelValues(run.WorkflowName, stepName, result).Inc()
}

var _ workflow.RunEmitter = (*Collector)(nil)
