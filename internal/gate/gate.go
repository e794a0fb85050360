package gate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/teemow/mailgate/internal/config"
	"github.com/teemow/mailgate/internal/confirm"
	"github.com/teemow/mailgate/internal/instrumentation"
	"github.com/teemow/mailgate/internal/logging"
)

// Executor performs an approved action against the remote mailbox and
// returns a short summary for the agent.
type Executor interface {
	Execute(ctx context.Context, a Action) (string, error)
}

// Approver issues and checks human approvals. *confirm.Registry implements it.
type Approver interface {
	Mode() confirm.Mode
	RequestApproval(ctx context.Context, actionType string, params []string, display confirm.Display) (*confirm.Challenge, error)
	ValidateApproval(ctx context.Context, actionType string, params []string, token string) confirm.Outcome
}

// Status classifies a gate Result.
type Status string

const (
	StatusExecuted             Status = "executed"
	StatusConfirmationRequired Status = "confirmation_required"
	StatusPending              Status = "pending"
	StatusRejected             Status = "rejected"
	StatusBlocked              Status = "blocked"
	StatusInvalid              Status = "invalid"
	StatusMissingScopes        Status = "missing_scopes"
	StatusRateLimited          Status = "rate_limited"
	StatusUnavailable          Status = "unavailable"
)

// Result is what a gated call produced. Only StatusExecuted means the
// remote mailbox was changed.
type Result struct {
	Status  Status
	Message string

	// Challenge is set for StatusConfirmationRequired.
	Challenge *confirm.Challenge
	Display   confirm.Display

	// Missing lists the scopes the credential lacks.
	Missing []string
}

// Executed reports whether the action ran.
func (r *Result) Executed() bool {
	return r.Status == StatusExecuted
}

// Text renders the result for the agent.
func (r *Result) Text() string {
	if r.Status != StatusConfirmationRequired || r.Challenge == nil {
		return r.Message
	}

	var b strings.Builder
	b.WriteString("SECURE ACTION: Human confirmation required.\n")
	b.WriteString(r.Display.Text())
	b.WriteString("\n\n")
	if r.Challenge.Mode == confirm.ModeOutOfBand {
		fmt.Fprintf(&b, "Ask the user to open %s and confirm the action there.\n", r.Challenge.ConfirmURL)
		fmt.Fprintf(&b, "After they confirm, call this tool again with the same parameters and confirmationToken %q.", r.Challenge.ExternalID)
	} else {
		fmt.Fprintf(&b, "Ask the user to input the following token to confirm: %s\n", r.Challenge.Code)
		b.WriteString("Then call this tool again with the same parameters and the token as confirmationToken. ")
		b.WriteString("If the user does not provide this token, drop the request.")
	}
	fmt.Fprintf(&b, "\nThe confirmation expires at %s.", r.Challenge.ExpiresAt.UTC().Format("15:04:05 MST"))
	return b.String()
}

// Config configures a Gate.
type Config struct {
	Approver Approver
	Executor Executor

	// Journal records every attempt. Optional.
	Journal *Journal

	// SendLimiter caps sendEmail executions. Optional.
	SendLimiter *SendLimiter

	// GrantedScopes returns the scopes of the current credential. When nil
	// no scope check is made.
	GrantedScopes func() []string

	// Disabled runs actions without human confirmation. Configuration
	// refuses this in production.
	Disabled bool

	Logger  *slog.Logger
	Metrics *instrumentation.Metrics
	Audit   *instrumentation.AuditLogger
}

// Gate runs sensitive actions only after a human approved them.
type Gate struct {
	approver Approver
	executor Executor
	journal  *Journal
	limiter  *SendLimiter
	granted  func() []string
	disabled bool

	logger  *slog.Logger
	metrics *instrumentation.Metrics
	audit   *instrumentation.AuditLogger
}

// New creates a Gate.
func New(cfg Config) (*Gate, error) {
	if cfg.Executor == nil {
		return nil, errors.New("gate requires an executor")
	}
	if cfg.Approver == nil && !cfg.Disabled {
		return nil, errors.New("gate requires an approver unless confirmation is disabled")
	}
	g := &Gate{
		approver: cfg.Approver,
		executor: cfg.Executor,
		journal:  cfg.Journal,
		limiter:  cfg.SendLimiter,
		granted:  cfg.GrantedScopes,
		disabled: cfg.Disabled,
		logger:   cfg.Logger,
		metrics:  cfg.Metrics,
		audit:    cfg.Audit,
	}
	if g.logger == nil {
		g.logger = slog.Default()
	}
	return g, nil
}

// Run gates a. Without a token it asks for approval; with one it checks
// the approval and, when it holds, executes a exactly once. Refusals are
// reported in the Result; the error is only set when execution failed or
// the approval could not be requested.
func (g *Gate) Run(ctx context.Context, a Action, token string) (*Result, error) {
	actionType := string(a.Type())
	logger := logging.WithAction(g.logger, actionType)
	mode := g.modeName()

	suspicious := fieldsSuspicious(a.Fields())
	if g.journal != nil {
		alerted, err := g.journal.Record(a, suspicious)
		if err != nil {
			return nil, err
		}
		if alerted {
			logger.Error("repeated suspicious input for gated action")
		}
	}

	if suspicious {
		g.audit.LogEvent(ctx, instrumentation.EventSuspiciousInput, logging.Action(actionType))
		g.metrics.RecordApprovalRequest(ctx, actionType, mode, instrumentation.ResultBlocked)
		return &Result{
			Status:  StatusBlocked,
			Message: "Suspicious input detected in action fields. Action blocked.",
		}, nil
	}

	if err := a.Validate(); err != nil {
		return &Result{Status: StatusInvalid, Message: err.Error()}, nil
	}

	if missing := g.missingScopes(a); len(missing) > 0 {
		return &Result{
			Status:  StatusMissingScopes,
			Message: fmt.Sprintf("Missing required scopes for %s: %s.", actionType, strings.Join(missing, ", ")),
			Missing: missing,
		}, nil
	}

	if g.disabled {
		return g.execute(ctx, logger, a)
	}

	display := a.Display()
	params := Params(a)

	if token == "" {
		return g.request(ctx, logger, a, params, display)
	}

	release, ok := g.acquire(a)
	if !ok {
		return g.rateLimited(ctx, actionType), nil
	}

	outcome := g.approver.ValidateApproval(ctx, actionType, params, token)
	switch outcome.Status {
	case confirm.Approved:
	case confirm.Pending:
		release()
		return &Result{
			Status:  StatusPending,
			Message: fmt.Sprintf("Action not executed: %s. Call again with the same confirmationToken once confirmed.", outcome.Reason),
		}, nil
	default:
		release()
		return &Result{
			Status:  StatusRejected,
			Message: fmt.Sprintf("Action not executed: confirmation %s. Please start the process again.", outcome.Reason),
		}, nil
	}

	return g.run(ctx, logger, a)
}

func (g *Gate) request(ctx context.Context, logger *slog.Logger, a Action, params []string, display confirm.Display) (*Result, error) {
	actionType := string(a.Type())
	ch, err := g.approver.RequestApproval(ctx, actionType, params, display)
	if errors.Is(err, confirm.ErrServiceUnavailable) {
		return &Result{
			Status:  StatusUnavailable,
			Message: "The confirmation service is unreachable. Please try again shortly.",
		}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to request approval: %w", err)
	}

	if ch.Status == confirm.ChallengePending {
		logger.Debug("approval already pending")
		return &Result{
			Status: StatusPending,
			Message: fmt.Sprintf("Confirmation already initiated for %s. Provide the previously issued token via confirmationToken to proceed.",
				actionType),
		}, nil
	}

	logger.Info("approval requested", logging.Mode(ch.Mode.String()))
	return &Result{
		Status:    StatusConfirmationRequired,
		Challenge: ch,
		Display:   display,
	}, nil
}

// execute is the unconfirmed path used when the gate is disabled.
func (g *Gate) execute(ctx context.Context, logger *slog.Logger, a Action) (*Result, error) {
	if _, ok := g.acquire(a); !ok {
		return g.rateLimited(ctx, string(a.Type())), nil
	}
	logger.Warn("executing gated action without confirmation")
	return g.run(ctx, logger, a)
}

func (g *Gate) run(ctx context.Context, logger *slog.Logger, a Action) (*Result, error) {
	summary, err := g.executor.Execute(ctx, a)
	if err != nil {
		logger.Warn("gated action failed", logging.Err(err))
		return nil, err
	}
	logger.Info("gated action executed")
	return &Result{Status: StatusExecuted, Message: summary}, nil
}

func (g *Gate) acquire(a Action) (release func(), ok bool) {
	if a.Type() != ActionSendEmail {
		return func() {}, true
	}
	return g.limiter.Acquire()
}

func (g *Gate) rateLimited(ctx context.Context, actionType string) *Result {
	g.audit.LogEvent(ctx, instrumentation.EventRateLimited, logging.Action(actionType))
	return &Result{
		Status:  StatusRateLimited,
		Message: "Rate limit exceeded for sending email. Please wait before sending more.",
	}
}

func (g *Gate) missingScopes(a Action) []string {
	if g.granted == nil {
		return nil
	}
	return config.MissingScopes(a.RequiredScopes(), g.granted())
}

func (g *Gate) modeName() string {
	if g.disabled || g.approver == nil {
		return "disabled"
	}
	return g.approver.Mode().String()
}

// fieldsSuspicious checks every field. Free text may contain blank lines.
func fieldsSuspicious(fields []Field) bool {
	for _, f := range fields {
		if f.Kind == FieldText {
			if IsSuspiciousText(f.Value) {
				return true
			}
			continue
		}
		if IsSuspicious(f.Value) {
			return true
		}
	}
	return false
}
