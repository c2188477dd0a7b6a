package models

import "time"

// PurchaseStatus is a state of the two-stage approval workflow.
type PurchaseStatus string

const (
	PurchaseStatusPendingSupervisor PurchaseStatus = "pending-supervisor"
	PurchaseStatusPendingExecutive  PurchaseStatus = "pending-executive"
	PurchaseStatusApproved          PurchaseStatus = "approved"
	PurchaseStatusRejected          PurchaseStatus = "rejected"
)

// IsTerminal reports whether no further transitions are possible.
func (s PurchaseStatus) IsTerminal() bool {
	return s == PurchaseStatusApproved || s == PurchaseStatusRejected
}

// IsPending reports whether the request still awaits a review.
func (s PurchaseStatus) IsPending() bool {
	return s == PurchaseStatusPendingSupervisor || s == PurchaseStatusPendingExecutive
}

// Approval decisions.
const (
	DecisionPending  = "pending"
	DecisionApproved = "approved"
	DecisionRejected = "rejected"
)

// LineItem is a single requested good.
type LineItem struct {
	Name     string `json:"name"`
	Quantity int64  `json:"quantity"`
	Unit     string `json:"unit,omitempty"`
}

// Approval is the record of one review stage.
type Approval struct {
	Decision    string     `json:"decision"`
	DeciderID   string     `json:"decider_id,omitempty"`
	DeciderName string     `json:"decider_name,omitempty"`
	DecidedAt   *time.Time `json:"decided_at,omitempty"`
	Note        string     `json:"note,omitempty"`
}

// Approvals holds both review slots.
type Approvals struct {
	Supervisor Approval `json:"supervisor"`
	Executive  Approval `json:"executive"`
}

// HistoryEntry is one immutable line of a request's audit trail.
type HistoryEntry struct {
	Actor   string    `json:"actor"`
	Action  string    `json:"action"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

// PurchaseRequest is a request for goods advancing through supervisor
// and executive review. It is never deleted.
type PurchaseRequest struct {
	ID            string         `json:"id"`
	Code          string         `json:"code"`
	RequesterID   string         `json:"requester_id"`
	RequesterName string         `json:"requester_name"`
	Items         []LineItem     `json:"items"`
	Reason        string         `json:"reason,omitempty"`
	NeededBy      *time.Time     `json:"needed_by,omitempty"`
	Status        PurchaseStatus `json:"status"`
	Approvals     Approvals      `json:"approvals"`
	History       []HistoryEntry `json:"history"`
	Version       int64          `json:"version"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// Clone returns a deep copy of the request.
func (p *PurchaseRequest) Clone() *PurchaseRequest {
	if p == nil {
		return nil
	}
	clone := *p
	clone.Items = append([]LineItem(nil), p.Items...)
	clone.History = append([]HistoryEntry(nil), p.History...)
	if p.NeededBy != nil {
		t := *p.NeededBy
		clone.NeededBy = &t
	}
	clone.Approvals.Supervisor = p.Approvals.Supervisor.clone()
	clone.Approvals.Executive = p.Approvals.Executive.clone()
	return &clone
}

func (a Approval) clone() Approval {
	if a.DecidedAt != nil {
		t := *a.DecidedAt
		a.DecidedAt = &t
	}
	return a
}
