package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/adamj-ops/square-brain-sub000/internal/audit"
	"github.com/adamj-ops/square-brain-sub000/internal/observability"
	"github.com/adamj-ops/square-brain-sub000/pkg/models"
)

// ErrorCode classifies tool execution failures.
type ErrorCode string

const (
	CodeToolNotFound    ErrorCode = "TOOL_NOT_FOUND"
	CodeWriteNotAllowed ErrorCode = "WRITE_NOT_ALLOWED"
	CodeValidationError ErrorCode = "VALIDATION_ERROR"
	CodeExecutionError  ErrorCode = "EXECUTION_ERROR"
)

// ToolError describes a failed tool execution.
type ToolError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Details any       `json:"details,omitempty"`
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Result is the outcome of one tool execution: either a response or an
// error, never both. Faults raised by a tool are captured here rather than
// propagated to the orchestrator.
type Result struct {
	Tool     string
	Response *Response
	Err      *ToolError
}

// OK reports whether the execution succeeded.
func (r Result) OK() bool { return r.Err == nil }

// ExecutorConfig configures the tool executor.
type ExecutorConfig struct {
	// PerToolTimeout bounds individual tool executions. Default: 30s.
	PerToolTimeout time.Duration

	// Sanitizer applies output truncation and redaction. Defaults used if nil.
	Sanitizer *Sanitizer
}

// DefaultExecutorConfig returns sensible executor defaults.
func DefaultExecutorConfig() ExecutorConfig {
	return ExecutorConfig{
		PerToolTimeout: 30 * time.Second,
	}
}

// Executor validates arguments, enforces write permission, invokes tools,
// records audit entries, and sanitizes results.
type Executor struct {
	registry  *Registry
	sink      audit.Sink
	sanitizer *Sanitizer
	config    ExecutorConfig
	logger    *slog.Logger
	metrics   *observability.Metrics
}

// NewExecutor creates an executor over the given registry and audit sink.
// A nil sink disables auditing; a nil logger falls back to slog.Default.
func NewExecutor(registry *Registry, sink audit.Sink, config ExecutorConfig, logger *slog.Logger, metrics *observability.Metrics) *Executor {
	if sink == nil {
		sink = audit.NopSink{}
	}
	if config.PerToolTimeout <= 0 {
		config.PerToolTimeout = 30 * time.Second
	}
	sanitizer := config.Sanitizer
	if sanitizer == nil {
		sanitizer = NewSanitizer(DefaultSanitizerConfig())
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		registry:  registry,
		sink:      sink,
		sanitizer: sanitizer,
		config:    config,
		logger:    logger,
		metrics:   metrics,
	}
}

// Sanitizer returns the executor's result sanitizer.
func (e *Executor) Sanitizer() *Sanitizer { return e.sanitizer }

// Registry returns the executor's tool registry.
func (e *Executor) Registry() *Registry { return e.registry }

// Execute runs a single tool call through the full pipeline:
// lookup, write gating, validation, audit start, run, audit finish.
//
// The write check precedes validation so that a disabled capability never
// executes partially-validated mutating logic. Exactly one audit entry
// transition happens per call, and an unavailable audit sink degrades to a
// placeholder entry rather than blocking execution.
func (e *Executor) Execute(ctx context.Context, name string, rawArgs json.RawMessage, tc models.ToolContext) Result {
	def, ok := e.registry.Lookup(name)
	if !ok {
		return e.fail(name, &ToolError{
			Code:    CodeToolNotFound,
			Message: "tool not found: " + name,
		})
	}

	if def.Writes() && !tc.AllowWrites {
		return e.fail(name, &ToolError{
			Code:    CodeWriteNotAllowed,
			Message: "tool requires write permission: " + name,
		})
	}

	if err := def.ValidateArgs(rawArgs); err != nil {
		return e.fail(name, &ToolError{
			Code:    CodeValidationError,
			Message: err.Error(),
			Details: string(rawArgs),
		})
	}

	auditID, err := e.sink.RecordStart(ctx, &audit.Entry{
		ToolName:  name,
		Args:      rawArgs,
		OrgID:     tc.OrgID,
		SessionID: tc.SessionID,
		UserID:    tc.UserID,
	})
	if err != nil {
		e.logger.Warn("audit start failed, proceeding with placeholder entry",
			"tool", name, "error", err)
		auditID = audit.PlaceholderID
	}

	start := time.Now()
	resp, runErr := e.runSafely(ctx, def, rawArgs, tc)
	duration := time.Since(start)
	if e.metrics != nil {
		e.metrics.ToolDuration.WithLabelValues(name).Observe(duration.Seconds())
	}

	if runErr != nil {
		e.finishAudit(ctx, auditID, &audit.Entry{
			Status:     audit.StatusError,
			Error:      runErr.Error(),
			DurationMS: duration.Milliseconds(),
		})
		return e.fail(name, &ToolError{
			Code:    CodeExecutionError,
			Message: runErr.Error(),
		})
	}

	resultPayload, encErr := json.Marshal(resp)
	if encErr != nil {
		resultPayload = nil
	}
	e.finishAudit(ctx, auditID, &audit.Entry{
		Status:     audit.StatusSuccess,
		Result:     resultPayload,
		DurationMS: duration.Milliseconds(),
	})
	if e.metrics != nil {
		e.metrics.ToolExecutions.WithLabelValues(name, "success").Inc()
	}

	return Result{Tool: name, Response: &Response{
		Data:           e.sanitizer.Sanitize(resp.Data),
		Explainability: e.sanitizer.Sanitize(resp.Explainability),
	}}
}

// runSafely invokes the tool with a per-call timeout, converting panics
// into ordinary errors so a misbehaving tool cannot take down the loop.
func (e *Executor) runSafely(ctx context.Context, def *Definition, rawArgs json.RawMessage, tc models.ToolContext) (resp *Response, err error) {
	runCtx, cancel := context.WithTimeout(ctx, e.config.PerToolTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			resp = nil
			err = fmt.Errorf("tool panicked: %v", r)
		}
	}()

	resp, err = def.Run(runCtx, rawArgs, tc)
	if err != nil {
		return nil, err
	}
	if resp == nil {
		return nil, fmt.Errorf("tool returned no response")
	}
	return resp, nil
}

func (e *Executor) fail(name string, terr *ToolError) Result {
	if e.metrics != nil {
		e.metrics.ToolExecutions.WithLabelValues(name, string(terr.Code)).Inc()
	}
	return Result{Tool: name, Err: terr}
}

func (e *Executor) finishAudit(ctx context.Context, id string, entry *audit.Entry) {
	if err := e.sink.RecordFinish(ctx, id, entry); err != nil {
		e.logger.Warn("audit finish failed", "audit_id", id, "error", err)
	}
}
