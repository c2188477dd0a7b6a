package workflow

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/wolfeidau/opsengine/internal/apperr"
	"github.com/wolfeidau/opsengine/internal/auth"
	"github.com/wolfeidau/opsengine/internal/broadcast"
	"github.com/wolfeidau/opsengine/internal/fanout/fanouttest"
	"github.com/wolfeidau/opsengine/internal/models"
	"github.com/wolfeidau/opsengine/internal/notify"
	"github.com/wolfeidau/opsengine/internal/store"
	"github.com/wolfeidau/opsengine/internal/store/memory"
)

type fixture struct {
	workflow      *Workflow
	requests      store.PurchaseRequestStore
	notifications *memory.NotificationStore
	push          *fanouttest.Recorder
}

func newFixture(t *testing.T, requests store.PurchaseRequestStore) *fixture {
	t.Helper()
	if requests == nil {
		requests = memory.NewPurchaseRequestStore()
	}
	notifications := memory.NewNotificationStore()
	push := &fanouttest.Recorder{}
	return &fixture{
		workflow:      New(requests, notify.NewCenter(notifications, push, 0), push, Config{RetryInitialInterval: time.Millisecond}),
		requests:      requests,
		notifications: notifications,
		push:          push,
	}
}

func (f *fixture) notificationCount(t *testing.T) int {
	t.Helper()
	list, err := f.notifications.ListNotifications(context.Background(), 100)
	require.NoError(t, err)
	return len(list)
}

func actor(id, name string, caps ...auth.Capability) *auth.Actor {
	role := &models.Role{Name: name, Capabilities: map[string]bool{}}
	for _, c := range caps {
		role.Capabilities[string(c)] = true
	}
	return &auth.Actor{Employee: &models.Employee{ID: id, Name: name}, Role: role}
}

var (
	requester  = actor("emp-r", "Rita", auth.CapPurchaseSubmit, auth.CapPurchaseView)
	supervisor = actor("emp-s", "Sven", auth.CapPurchaseSupervise, auth.CapPurchaseView)
	executive  = actor("emp-e", "Eve", auth.CapPurchaseApprove, auth.CapPurchaseView)
	outsider   = actor("emp-o", "Otto")
	admin      = &auth.Actor{Employee: &models.Employee{ID: "emp-a", Name: "Ada"}, Role: &models.Role{Name: "admin", FullAccess: true}}
)

func twoItems() SubmitRequest {
	return SubmitRequest{
		Items: []models.LineItem{
			{Name: "Paper", Quantity: 10, Unit: "ream"},
			{Name: "Toner", Quantity: 2},
		},
		Reason: "office restock",
	}
}

func (f *fixture) submit(t *testing.T) *models.PurchaseRequest {
	t.Helper()
	pr, err := f.workflow.Submit(context.Background(), requester, twoItems())
	require.NoError(t, err)
	return pr
}

func TestNextCode(t *testing.T) {
	tests := []struct {
		last    string
		want    string
		wantErr bool
	}{
		{last: "", want: "PR-0001"},
		{last: "PR-0004", want: "PR-0005"},
		{last: "PR-0999", want: "PR-1000"},
		{last: "PR-9999", want: "PR-10000"},
		{last: "INV-0003", wantErr: true},
		{last: "PR-abc", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.last, func(t *testing.T) {
			got, err := NextCode(tt.last)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestSubmit(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	require.NoError(t, f.requests.CreatePurchaseRequest(ctx, &models.PurchaseRequest{
		ID: "old", Code: "PR-0004", Status: models.PurchaseStatusApproved, CreatedAt: time.Now().Add(-time.Hour),
	}))

	pr := f.submit(t)
	require.Equal(t, "PR-0005", pr.Code)
	require.Equal(t, models.PurchaseStatusPendingSupervisor, pr.Status)
	require.Len(t, pr.Items, 2)
	require.Len(t, pr.History, 1)
	require.Equal(t, ActionCreated, pr.History[0].Action)
	require.Equal(t, models.DecisionPending, pr.Approvals.Supervisor.Decision)
	require.Equal(t, models.DecisionPending, pr.Approvals.Executive.Decision)
	require.Equal(t, "emp-r", pr.RequesterID)

	require.Equal(t, 1, f.notificationCount(t))
	require.Equal(t, 1, f.push.Count(broadcast.TopicPurchaseRequests))
}

func TestSubmit_Invalid(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	_, err := f.workflow.Submit(ctx, requester, SubmitRequest{})
	require.ErrorIs(t, err, apperr.InvalidRequest)

	_, err = f.workflow.Submit(ctx, requester, SubmitRequest{Items: []models.LineItem{{Name: " ", Quantity: 1}}})
	require.ErrorIs(t, err, apperr.InvalidRequest)

	_, err = f.workflow.Submit(ctx, requester, SubmitRequest{Items: []models.LineItem{{Name: "Pens", Quantity: 0}}})
	require.ErrorIs(t, err, apperr.InvalidRequest)

	_, err = f.workflow.Submit(ctx, outsider, twoItems())
	require.ErrorIs(t, err, apperr.Authorization)

	list, err := f.requests.ListPurchaseRequests(ctx, store.PurchaseRequestFilter{})
	require.NoError(t, err)
	require.Empty(t, list)
	require.Empty(t, f.push.Topics())
}

func TestSubmit_ConcurrentCodesAreUnique(t *testing.T) {
	f := newFixture(t, nil)

	var wg sync.WaitGroup
	codes := make([]string, 10)
	for i := range codes {
		wg.Add(1)
		go func() {
			defer wg.Done()
			pr, err := f.workflow.Submit(context.Background(), requester, twoItems())
			if err == nil {
				codes[i] = pr.Code
			}
		}()
	}
	wg.Wait()

	seen := map[string]bool{}
	for _, code := range codes {
		require.NotEmpty(t, code)
		require.False(t, seen[code], "duplicate code %s", code)
		seen[code] = true
	}
	require.True(t, seen["PR-0010"])
}

// racingCodes hands out a stale last code once, as if a submission on
// another instance had landed in between.
type racingCodes struct {
	store.PurchaseRequestStore
	mu    sync.Mutex
	stale bool
}

func (r *racingCodes) LastPurchaseRequestCode(ctx context.Context) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stale {
		r.stale = false
		return "", nil
	}
	return r.PurchaseRequestStore.LastPurchaseRequestCode(ctx)
}

func TestSubmit_RetriesTakenCode(t *testing.T) {
	inner := memory.NewPurchaseRequestStore()
	require.NoError(t, inner.CreatePurchaseRequest(context.Background(), &models.PurchaseRequest{ID: "x", Code: "PR-0001"}))

	f := newFixture(t, &racingCodes{PurchaseRequestStore: inner, stale: true})
	pr := f.submit(t)
	require.Equal(t, "PR-0002", pr.Code)
}

func TestReview_Lifecycle(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	pr := f.submit(t)
	f.push.Reset()

	pr, err := f.workflow.Review(ctx, supervisor, ReviewRequest{RequestID: pr.ID, Decision: "approve", Note: "ok"})
	require.NoError(t, err)
	require.Equal(t, models.PurchaseStatusPendingExecutive, pr.Status)
	require.Equal(t, models.DecisionApproved, pr.Approvals.Supervisor.Decision)
	require.Equal(t, "emp-s", pr.Approvals.Supervisor.DeciderID)
	require.NotNil(t, pr.Approvals.Supervisor.DecidedAt)
	require.Equal(t, "ok", pr.Approvals.Supervisor.Note)
	require.Equal(t, models.DecisionPending, pr.Approvals.Executive.Decision)
	require.Len(t, pr.History, 2)
	require.Equal(t, 2, f.notificationCount(t))
	require.Equal(t, 1, f.push.Count(broadcast.TopicPurchaseRequests))

	first := append([]models.HistoryEntry(nil), pr.History...)

	pr, err = f.workflow.Review(ctx, executive, ReviewRequest{RequestID: pr.ID, Decision: "reject"})
	require.NoError(t, err)
	require.Equal(t, models.PurchaseStatusRejected, pr.Status)
	require.Equal(t, models.DecisionRejected, pr.Approvals.Executive.Decision)
	require.Equal(t, "emp-e", pr.Approvals.Executive.DeciderID)
	require.Len(t, pr.History, 3)
	require.Equal(t, first, pr.History[:2])
	require.Equal(t, 3, f.notificationCount(t))

	f.push.Reset()
	_, err = f.workflow.Review(ctx, executive, ReviewRequest{RequestID: pr.ID, Decision: "approve"})
	require.ErrorIs(t, err, apperr.InvalidStateTransition)

	stored, err := f.requests.GetPurchaseRequest(ctx, pr.ID)
	require.NoError(t, err)
	require.Len(t, stored.History, 3)
	require.Equal(t, models.PurchaseStatusRejected, stored.Status)
	require.Equal(t, 3, f.notificationCount(t))
	require.Empty(t, f.push.Topics())
}

func TestReview_FullApproval(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	pr := f.submit(t)

	pr, err := f.workflow.Review(ctx, supervisor, ReviewRequest{RequestID: pr.ID, Decision: DecisionApprove})
	require.NoError(t, err)
	pr, err = f.workflow.Review(ctx, executive, ReviewRequest{RequestID: pr.ID, Decision: DecisionApprove})
	require.NoError(t, err)
	require.Equal(t, models.PurchaseStatusApproved, pr.Status)

	for _, who := range []*auth.Actor{supervisor, executive, admin} {
		_, err = f.workflow.Review(ctx, who, ReviewRequest{RequestID: pr.ID, Decision: DecisionReject})
		require.ErrorIs(t, err, apperr.InvalidStateTransition)
	}
}

func TestReview_SupervisorRejectIsTerminal(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	pr := f.submit(t)

	pr, err := f.workflow.Review(ctx, supervisor, ReviewRequest{RequestID: pr.ID, Decision: DecisionReject})
	require.NoError(t, err)
	require.Equal(t, models.PurchaseStatusRejected, pr.Status)
	require.Equal(t, models.DecisionPending, pr.Approvals.Executive.Decision)

	_, err = f.workflow.Review(ctx, executive, ReviewRequest{RequestID: pr.ID, Decision: DecisionApprove})
	require.ErrorIs(t, err, apperr.InvalidStateTransition)
}

func TestReview_Authority(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	pr := f.submit(t)
	f.push.Reset()

	_, err := f.workflow.Review(ctx, outsider, ReviewRequest{RequestID: pr.ID, Decision: DecisionApprove})
	require.ErrorIs(t, err, apperr.Authorization)

	_, err = f.workflow.Review(ctx, requester, ReviewRequest{RequestID: pr.ID, Decision: DecisionApprove})
	require.ErrorIs(t, err, apperr.Authorization)

	_, err = f.workflow.Review(ctx, executive, ReviewRequest{RequestID: pr.ID, Decision: DecisionApprove})
	require.ErrorIs(t, err, apperr.InvalidStateTransition)

	_, err = f.workflow.Review(ctx, nil, ReviewRequest{RequestID: pr.ID, Decision: DecisionApprove})
	require.ErrorIs(t, err, apperr.Authentication)

	stored, err := f.requests.GetPurchaseRequest(ctx, pr.ID)
	require.NoError(t, err)
	require.Equal(t, models.PurchaseStatusPendingSupervisor, stored.Status)
	require.Len(t, stored.History, 1)
	require.Empty(t, f.push.Topics())

	pr, err = f.workflow.Review(ctx, supervisor, ReviewRequest{RequestID: pr.ID, Decision: DecisionApprove})
	require.NoError(t, err)
	_, err = f.workflow.Review(ctx, supervisor, ReviewRequest{RequestID: pr.ID, Decision: DecisionApprove})
	require.ErrorIs(t, err, apperr.InvalidStateTransition)
}

func TestReview_InvalidInput(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	pr := f.submit(t)

	_, err := f.workflow.Review(ctx, supervisor, ReviewRequest{RequestID: pr.ID, Decision: "maybe"})
	require.ErrorIs(t, err, apperr.InvalidRequest)

	_, err = f.workflow.Review(ctx, supervisor, ReviewRequest{RequestID: "missing", Decision: DecisionApprove})
	require.ErrorIs(t, err, apperr.NotFound)

	_, err = f.workflow.Review(ctx, supervisor, ReviewRequest{
		RequestID: pr.ID, Decision: DecisionApprove, ExpectedStatus: models.PurchaseStatusPendingExecutive,
	})
	require.ErrorIs(t, err, apperr.InvalidStateTransition)
}

func TestReview_ConcurrentReviewsHaveOneWinner(t *testing.T) {
	f := newFixture(t, nil)
	pr := f.submit(t)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = f.workflow.Review(context.Background(), admin, ReviewRequest{
				RequestID:      pr.ID,
				Decision:       DecisionApprove,
				ExpectedStatus: models.PurchaseStatusPendingSupervisor,
			})
		}()
	}
	wg.Wait()

	var won, lost int
	for _, err := range errs {
		switch {
		case err == nil:
			won++
		case errors.Is(err, apperr.InvalidStateTransition), errors.Is(err, apperr.Conflict):
			lost++
		}
	}
	require.Equal(t, 1, won)
	require.Equal(t, 1, lost)

	stored, err := f.requests.GetPurchaseRequest(context.Background(), pr.ID)
	require.NoError(t, err)
	require.Equal(t, models.PurchaseStatusPendingExecutive, stored.Status)
	require.Len(t, stored.History, 2)
}

// staleRequests bumps the stored version between read and write, as a
// review landing on another instance would.
type staleRequests struct {
	store.PurchaseRequestStore
}

func (s staleRequests) UpdatePurchaseRequest(ctx context.Context, pr *models.PurchaseRequest, expectedVersion int64) error {
	return s.PurchaseRequestStore.UpdatePurchaseRequest(ctx, pr, expectedVersion-1)
}

func TestReview_VersionConflict(t *testing.T) {
	f := newFixture(t, staleRequests{memory.NewPurchaseRequestStore()})
	pr := f.submit(t)

	_, err := f.workflow.Review(context.Background(), supervisor, ReviewRequest{RequestID: pr.ID, Decision: DecisionApprove})
	require.ErrorIs(t, err, apperr.Conflict)
}

func TestReview_Monotonic(t *testing.T) {
	reachable := map[models.PurchaseStatus][]models.PurchaseStatus{
		models.PurchaseStatusPendingSupervisor: {models.PurchaseStatusPendingExecutive, models.PurchaseStatusRejected},
		models.PurchaseStatusPendingExecutive:  {models.PurchaseStatusApproved, models.PurchaseStatusRejected},
	}
	decisions := []string{DecisionApprove, DecisionReject}
	actors := []*auth.Actor{supervisor, executive, admin, outsider}

	f := newFixture(t, nil)
	ctx := context.Background()

	for round := range 8 {
		pr := f.submit(t)
		historyLen := len(pr.History)
		for step := range 6 {
			who := actors[(round+step)%len(actors)]
			decision := decisions[(round*step+round)%len(decisions)]

			before, err := f.requests.GetPurchaseRequest(ctx, pr.ID)
			require.NoError(t, err)

			after, err := f.workflow.Review(ctx, who, ReviewRequest{RequestID: pr.ID, Decision: decision})
			if err != nil {
				stored, getErr := f.requests.GetPurchaseRequest(ctx, pr.ID)
				require.NoError(t, getErr)
				require.Equal(t, before.Status, stored.Status)
				require.Len(t, stored.History, historyLen)
				continue
			}

			require.Contains(t, reachable[before.Status], after.Status)
			require.Len(t, after.History, historyLen+1)
			require.Equal(t, before.History, after.History[:historyLen])
			historyLen = len(after.History)
		}
	}
}

func TestList(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	first := f.submit(t)
	f.submit(t)

	_, err := f.workflow.Review(ctx, supervisor, ReviewRequest{RequestID: first.ID, Decision: DecisionReject})
	require.NoError(t, err)

	all, err := f.workflow.List(ctx, requester, store.PurchaseRequestFilter{})
	require.NoError(t, err)
	require.Len(t, all, 2)

	rejected, err := f.workflow.List(ctx, requester, store.PurchaseRequestFilter{Status: models.PurchaseStatusRejected})
	require.NoError(t, err)
	require.Len(t, rejected, 1)
	require.Equal(t, first.ID, rejected[0].ID)

	_, err = f.workflow.List(ctx, requester, store.PurchaseRequestFilter{Status: "lost"})
	require.ErrorIs(t, err, apperr.InvalidRequest)

	_, err = f.workflow.List(ctx, outsider, store.PurchaseRequestFilter{})
	require.ErrorIs(t, err, apperr.Authorization)

	got, err := f.workflow.Get(ctx, supervisor, first.ID)
	require.NoError(t, err)
	require.Equal(t, first.Code, got.Code)

	_, err = f.workflow.Get(ctx, supervisor, "missing")
	require.ErrorIs(t, err, apperr.NotFound)
}
