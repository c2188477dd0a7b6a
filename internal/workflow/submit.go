package workflow

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/opsengine/internal/apperr"
	"github.com/wolfeidau/opsengine/internal/auth"
	"github.com/wolfeidau/opsengine/internal/broadcast"
	"github.com/wolfeidau/opsengine/internal/models"
	"github.com/wolfeidau/opsengine/internal/notify"
	"github.com/wolfeidau/opsengine/internal/store"
	"github.com/wolfeidau/opsengine/internal/telemetry"
)

const codePrefix = "PR-"

// codeLock serializes code assignment within the process.
const codeLock = "purchase-request-code"

// SubmitRequest is a new purchase request.
type SubmitRequest struct {
	Items    []models.LineItem `json:"items"`
	Reason   string            `json:"reason,omitempty"`
	NeededBy *time.Time        `json:"needed_by,omitempty"`
}

func (r *SubmitRequest) validate() error {
	if len(r.Items) == 0 {
		return apperr.New(apperr.KindInvalidRequest, "at least one line item is required")
	}
	for i := range r.Items {
		r.Items[i].Name = strings.TrimSpace(r.Items[i].Name)
		if r.Items[i].Name == "" {
			return apperr.New(apperr.KindInvalidRequest, "line item %d has no name", i+1)
		}
		if r.Items[i].Quantity <= 0 {
			return apperr.New(apperr.KindInvalidRequest, "line item %q needs a positive quantity", r.Items[i].Name)
		}
	}
	return nil
}

// NextCode returns the code following last, PR-0001 when last is empty.
func NextCode(last string) (string, error) {
	if last == "" {
		return fmt.Sprintf("%s%04d", codePrefix, 1), nil
	}
	n, err := strconv.Atoi(strings.TrimPrefix(last, codePrefix))
	if err != nil || !strings.HasPrefix(last, codePrefix) || n < 0 {
		return "", fmt.Errorf("malformed purchase request code %q", last)
	}
	return fmt.Sprintf("%s%04d", codePrefix, n+1), nil
}

// Submit creates a request in pending-supervisor with one history entry.
func (w *Workflow) Submit(ctx context.Context, actor *auth.Actor, req SubmitRequest) (*models.PurchaseRequest, error) {
	ctx, span := telemetry.Tracer().Start(ctx, "workflow.Submit")
	defer span.End()

	if err := actor.Require(auth.CapPurchaseSubmit); err != nil {
		return nil, err
	}
	if err := req.validate(); err != nil {
		return nil, err
	}

	unlock := w.locks.Lock(codeLock)
	defer unlock()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = w.cfg.RetryInitialInterval

	pr, err := backoff.Retry(ctx, func() (*models.PurchaseRequest, error) {
		last, err := w.requests.LastPurchaseRequestCode(ctx)
		if err != nil {
			return nil, backoff.Permanent(downstream("read last purchase request code", err))
		}
		code, err := NextCode(last)
		if err != nil {
			return nil, backoff.Permanent(apperr.Wrap(apperr.KindInternal, err))
		}

		pr := newRequest(code, actor, req)
		if err := w.requests.CreatePurchaseRequest(ctx, pr); err != nil {
			if errors.Is(err, store.ErrAlreadyExists) {
				log.Debug().Str("code", code).Msg("Purchase request code taken, retrying")
				return nil, err
			}
			return nil, backoff.Permanent(downstream("create purchase request", err))
		}
		return pr, nil
	}, backoff.WithBackOff(b), backoff.WithMaxTries(w.cfg.MaxSubmitAttempts))
	if err != nil {
		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			err = perm.Err
		}
		if errors.Is(err, store.ErrAlreadyExists) {
			err = apperr.New(apperr.KindConflict, "could not assign a purchase request code after %d attempts", w.cfg.MaxSubmitAttempts)
		}
		span.RecordError(err)
		return nil, err
	}

	telemetry.GetMetrics().PurchaseSubmissionsTotal.Add(ctx, 1)
	log.Info().Str("request", pr.Code).Int("items", len(pr.Items)).Str("actor", actor.ID()).Msg("Purchase request submitted")

	notify.Best(ctx, w.notifier,
		"New purchase request",
		fmt.Sprintf("%s submitted by %s", pr.Code, pr.RequesterName),
		models.SeverityInfo,
		map[string]any{"request_id": pr.ID, "code": pr.Code, "status": string(pr.Status)},
	)
	w.push.Publish(ctx, broadcast.TopicPurchaseRequests, broadcast.TopicDashboard)

	return pr, nil
}

func newRequest(code string, actor *auth.Actor, req SubmitRequest) *models.PurchaseRequest {
	now := time.Now().UTC()
	pending := models.Approval{Decision: models.DecisionPending}

	return &models.PurchaseRequest{
		ID:            uuid.Must(uuid.NewV7()).String(),
		Code:          code,
		RequesterID:   actor.ID(),
		RequesterName: actor.Name(),
		Items:         append([]models.LineItem(nil), req.Items...),
		Reason:        strings.TrimSpace(req.Reason),
		NeededBy:      req.NeededBy,
		Status:        models.PurchaseStatusPendingSupervisor,
		Approvals:     models.Approvals{Supervisor: pending, Executive: pending},
		History: []models.HistoryEntry{{
			Actor:   actor.Name(),
			Action:  ActionCreated,
			Message: fmt.Sprintf("%s created %s with %d item(s)", actor.Name(), code, len(req.Items)),
			At:      now,
		}},
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
}
