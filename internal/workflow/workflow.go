// Package workflow runs the two-stage purchase approval state machine.
//
//	pending-supervisor --approve--> pending-executive --approve--> approved
//	        |                              |
//	        +-----------reject-------------+-----------> rejected
//
// Approved and rejected are terminal. Every transition appends one history
// entry and never rewrites earlier ones.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/opsengine/internal/apperr"
	"github.com/wolfeidau/opsengine/internal/auth"
	"github.com/wolfeidau/opsengine/internal/broadcast"
	"github.com/wolfeidau/opsengine/internal/fanout"
	"github.com/wolfeidau/opsengine/internal/models"
	"github.com/wolfeidau/opsengine/internal/notify"
	"github.com/wolfeidau/opsengine/internal/store"
	"github.com/wolfeidau/opsengine/internal/telemetry"
	"github.com/wolfeidau/opsengine/internal/util"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Review decisions as sent by clients.
const (
	DecisionApprove = "approve"
	DecisionReject  = "reject"
)

// History actions.
const (
	ActionCreated            = "created"
	ActionSupervisorApproved = "supervisor_approved"
	ActionSupervisorRejected = "supervisor_rejected"
	ActionExecutiveApproved  = "executive_approved"
	ActionExecutiveRejected  = "executive_rejected"
)

// Config configures a Workflow.
type Config struct {
	// MaxSubmitAttempts bounds retries when a sequence code is taken by a
	// concurrent submission. Default: 5
	MaxSubmitAttempts uint
	// RetryInitialInterval is the first retry backoff. Default: 10ms
	RetryInitialInterval time.Duration
}

// Workflow owns purchase request mutation.
type Workflow struct {
	requests store.PurchaseRequestStore
	notifier notify.Notifier
	push     fanout.Pusher
	locks    *util.KeyedMutex
	cfg      Config
}

// New creates a workflow.
func New(requests store.PurchaseRequestStore, notifier notify.Notifier, push fanout.Pusher, cfg Config) *Workflow {
	if cfg.MaxSubmitAttempts == 0 {
		cfg.MaxSubmitAttempts = 5
	}
	if cfg.RetryInitialInterval <= 0 {
		cfg.RetryInitialInterval = 10 * time.Millisecond
	}
	return &Workflow{
		requests: requests,
		notifier: notifier,
		push:     push,
		locks:    util.NewKeyedMutex(),
		cfg:      cfg,
	}
}

// ReviewRequest is one reviewer decision. ExpectedStatus, when set, must
// match the stored status or the review fails with InvalidStateTransition.
type ReviewRequest struct {
	RequestID      string                `json:"request_id"`
	Decision       string                `json:"decision"`
	Note           string                `json:"note,omitempty"`
	ExpectedStatus models.PurchaseStatus `json:"expected_status,omitempty"`
}

func parseDecision(s string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case DecisionApprove, models.DecisionApproved:
		return DecisionApprove, nil
	case DecisionReject, models.DecisionRejected:
		return DecisionReject, nil
	}
	return "", apperr.New(apperr.KindInvalidRequest, "decision must be approve or reject, got %q", s)
}

// Review advances a pending request by one stage.
func (w *Workflow) Review(ctx context.Context, actor *auth.Actor, req ReviewRequest) (*models.PurchaseRequest, error) {
	ctx, span := telemetry.Tracer().Start(ctx, "workflow.Review", trace.WithAttributes(
		attribute.String("request_id", req.RequestID),
		attribute.String("decision", req.Decision),
	))
	defer span.End()

	if actor == nil || actor.Employee == nil {
		return nil, apperr.New(apperr.KindAuthentication, "not authenticated")
	}
	if !actor.Can(auth.CapPurchaseSupervise) && !actor.Can(auth.CapPurchaseApprove) {
		return nil, apperr.New(apperr.KindAuthorization, "permission denied: %s cannot review purchase requests", actor.ID())
	}
	decision, err := parseDecision(req.Decision)
	if err != nil {
		return nil, err
	}

	unlock := w.locks.Lock(req.RequestID)
	defer unlock()

	pr, err := w.requests.GetPurchaseRequest(ctx, req.RequestID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, apperr.New(apperr.KindNotFound, "purchase request %s not found", req.RequestID)
		}
		return nil, downstream("get purchase request", err)
	}

	next, err := transition(pr, actor, decision, req)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	if err := w.requests.UpdatePurchaseRequest(ctx, next, pr.Version); err != nil {
		switch {
		case errors.Is(err, store.ErrConflict):
			return nil, apperr.New(apperr.KindConflict, "purchase request %s was reviewed concurrently", pr.Code)
		case errors.Is(err, store.ErrNotFound):
			return nil, apperr.New(apperr.KindNotFound, "purchase request %s not found", req.RequestID)
		}
		return nil, downstream("update purchase request", err)
	}

	telemetry.GetMetrics().PurchaseTransitionsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("from", string(pr.Status)),
		attribute.String("to", string(next.Status)),
	))
	log.Info().
		Str("request", next.Code).
		Str("from", string(pr.Status)).
		Str("to", string(next.Status)).
		Str("actor", actor.ID()).
		Msg("Purchase request reviewed")

	w.announceReview(ctx, next, actor)
	w.push.Publish(ctx, broadcast.TopicPurchaseRequests, broadcast.TopicDashboard)

	return next, nil
}

// transition computes the reviewed copy of pr without touching pr.
func transition(pr *models.PurchaseRequest, actor *auth.Actor, decision string, req ReviewRequest) (*models.PurchaseRequest, error) {
	if pr.Status.IsTerminal() {
		return nil, apperr.New(apperr.KindInvalidStateTransition, "purchase request %s is already %s", pr.Code, pr.Status)
	}
	if req.ExpectedStatus != "" && req.ExpectedStatus != pr.Status {
		return nil, apperr.New(apperr.KindInvalidStateTransition, "purchase request %s is %s, not %s", pr.Code, pr.Status, req.ExpectedStatus)
	}

	var (
		required auth.Capability
		next     models.PurchaseStatus
		action   string
	)
	switch pr.Status {
	case models.PurchaseStatusPendingSupervisor:
		required = auth.CapPurchaseSupervise
		next, action = models.PurchaseStatusPendingExecutive, ActionSupervisorApproved
		if decision == DecisionReject {
			next, action = models.PurchaseStatusRejected, ActionSupervisorRejected
		}
	case models.PurchaseStatusPendingExecutive:
		required = auth.CapPurchaseApprove
		next, action = models.PurchaseStatusApproved, ActionExecutiveApproved
		if decision == DecisionReject {
			next, action = models.PurchaseStatusRejected, ActionExecutiveRejected
		}
	default:
		return nil, apperr.New(apperr.KindInvalidStateTransition, "purchase request %s has unknown status %q", pr.Code, pr.Status)
	}
	if !actor.Can(required) {
		return nil, apperr.New(apperr.KindInvalidStateTransition, "purchase request %s is %s and needs %s", pr.Code, pr.Status, required)
	}

	now := time.Now().UTC()
	slot := models.Approval{
		Decision:    models.DecisionApproved,
		DeciderID:   actor.ID(),
		DeciderName: actor.Name(),
		DecidedAt:   &now,
		Note:        strings.TrimSpace(req.Note),
	}
	if decision == DecisionReject {
		slot.Decision = models.DecisionRejected
	}

	out := pr.Clone()
	if pr.Status == models.PurchaseStatusPendingSupervisor {
		out.Approvals.Supervisor = slot
	} else {
		out.Approvals.Executive = slot
	}
	out.Status = next
	out.UpdatedAt = now
	out.History = append(out.History, models.HistoryEntry{
		Actor:   actor.Name(),
		Action:  action,
		Message: historyMessage(action, actor, slot.Note),
		At:      now,
	})
	return out, nil
}

func historyMessage(action string, actor *auth.Actor, note string) string {
	var verb string
	switch action {
	case ActionSupervisorApproved:
		verb = "approved as supervisor"
	case ActionSupervisorRejected:
		verb = "rejected as supervisor"
	case ActionExecutiveApproved:
		verb = "approved as executive"
	case ActionExecutiveRejected:
		verb = "rejected as executive"
	default:
		verb = action
	}
	msg := fmt.Sprintf("%s %s", actor.Name(), verb)
	if note != "" {
		msg += ": " + note
	}
	return msg
}

func (w *Workflow) announceReview(ctx context.Context, pr *models.PurchaseRequest, actor *auth.Actor) {
	severity := models.SeverityInfo
	title := "Purchase request awaiting executive approval"
	switch pr.Status {
	case models.PurchaseStatusApproved:
		severity, title = models.SeveritySuccess, "Purchase request approved"
	case models.PurchaseStatusRejected:
		severity, title = models.SeverityError, "Purchase request rejected"
	}
	notify.Best(ctx, w.notifier, title,
		fmt.Sprintf("%s reviewed by %s", pr.Code, actor.Name()),
		severity,
		map[string]any{"request_id": pr.ID, "code": pr.Code, "status": string(pr.Status)},
	)
}

// List returns purchase requests newest first.
func (w *Workflow) List(ctx context.Context, actor *auth.Actor, filter store.PurchaseRequestFilter) ([]*models.PurchaseRequest, error) {
	if err := actor.Require(auth.CapPurchaseView); err != nil {
		return nil, err
	}
	if filter.Status != "" && !filter.Status.IsTerminal() && !filter.Status.IsPending() {
		return nil, apperr.New(apperr.KindInvalidRequest, "unknown status %q", filter.Status)
	}
	list, err := w.requests.ListPurchaseRequests(ctx, filter)
	if err != nil {
		return nil, downstream("list purchase requests", err)
	}
	return list, nil
}

// Get returns a single purchase request.
func (w *Workflow) Get(ctx context.Context, actor *auth.Actor, id string) (*models.PurchaseRequest, error) {
	if err := actor.Require(auth.CapPurchaseView); err != nil {
		return nil, err
	}
	pr, err := w.requests.GetPurchaseRequest(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, apperr.New(apperr.KindNotFound, "purchase request %s not found", id)
		}
		return nil, downstream("get purchase request", err)
	}
	return pr, nil
}

func downstream(op string, err error) error {
	return apperr.Wrap(apperr.KindDownstreamUnavailable, fmt.Errorf("failed to %s: %w", op, err))
}
