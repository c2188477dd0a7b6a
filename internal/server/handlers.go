package server

import (
	"net/http"

	"github.com/rs/zerolog"
	"github.com/wolfeidau/opsengine/internal/apperr"
	"github.com/wolfeidau/opsengine/internal/attendance"
	"github.com/wolfeidau/opsengine/internal/auth"
	"github.com/wolfeidau/opsengine/internal/broadcast"
	"github.com/wolfeidau/opsengine/internal/dashboard"
	"github.com/wolfeidau/opsengine/internal/ledger"
	"github.com/wolfeidau/opsengine/internal/models"
	"github.com/wolfeidau/opsengine/internal/store"
	"github.com/wolfeidau/opsengine/internal/workflow"
)

// topicCapabilities gates pull requests for each push topic.
var topicCapabilities = map[broadcast.Topic]auth.Capability{
	broadcast.TopicDashboard:        auth.CapDashboardView,
	broadcast.TopicInventory:        auth.CapInventoryView,
	broadcast.TopicAttendance:       auth.CapAttendanceView,
	broadcast.TopicPurchaseRequests: auth.CapPurchaseView,
	broadcast.TopicNotifications:    auth.CapNotificationsView,
}

type meResponse struct {
	Employee     *models.Employee  `json:"employee"`
	Role         *models.Role      `json:"role"`
	Capabilities []auth.Capability `json:"capabilities"`
}

func (s *Server) me(w http.ResponseWriter, r *http.Request) {
	actor := auth.ActorFromContext(r.Context())
	if actor == nil {
		writeError(w, r, apperr.New(apperr.KindAuthentication, "not authenticated"))
		return
	}
	caps := auth.Capabilities(actor.Role)
	if caps == nil {
		caps = []auth.Capability{}
	}
	writeJSON(w, http.StatusOK, meResponse{Employee: actor.Employee, Role: actor.Role, Capabilities: caps})
}

func (s *Server) getDashboard(w http.ResponseWriter, r *http.Request) {
	summary, err := s.svc.Dashboard.Summary(r.Context(), auth.ActorFromContext(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) snapshot(w http.ResponseWriter, r *http.Request) {
	topic := broadcast.Topic(r.PathValue("topic"))
	required, ok := topicCapabilities[topic]
	if !ok {
		writeError(w, r, apperr.New(apperr.KindNotFound, "unknown topic %q", topic))
		return
	}
	if err := auth.ActorFromContext(r.Context()).Require(required); err != nil {
		writeError(w, r, err)
		return
	}

	payload, err := s.svc.Cascade.Snapshot(r.Context(), topic)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, broadcastFrame{Topic: topic, Payload: payload})
}

type broadcastFrame struct {
	Topic   broadcast.Topic `json:"topic"`
	Payload any             `json:"payload"`
}

// freshSummary is attached to mutation results. The mutation has already
// committed, so a failed summary is logged and left out.
func (s *Server) freshSummary(r *http.Request) *dashboard.Summary {
	summary, err := s.svc.Dashboard.ComputeSummary(r.Context())
	if err != nil {
		zerolog.Ctx(r.Context()).Warn().Err(err).Msg("dashboard summary unavailable")
		return nil
	}
	return summary
}

func (s *Server) listItems(w http.ResponseWriter, r *http.Request) {
	items, err := s.svc.Ledger.Items(r.Context(), auth.ActorFromContext(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(items))
}

func (s *Server) createItem(w http.ResponseWriter, r *http.Request) {
	var req ledger.NewItem
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	item, err := s.svc.Ledger.CreateItem(r.Context(), auth.ActorFromContext(r.Context()), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, item)
}

type movementResponse struct {
	Item        *models.Item        `json:"item"`
	Transaction *models.Transaction `json:"transaction"`
	Dashboard   *dashboard.Summary  `json:"dashboard"`
}

func (s *Server) applyMovement(w http.ResponseWriter, r *http.Request) {
	var req ledger.ApplyRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	res, err := s.svc.Ledger.Apply(r.Context(), auth.ActorFromContext(r.Context()), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, movementResponse{Item: res.Item, Transaction: res.Transaction, Dashboard: s.freshSummary(r)})
}

func (s *Server) listTransactions(w http.ResponseWriter, r *http.Request) {
	txns, err := s.svc.Ledger.Transactions(r.Context(), auth.ActorFromContext(r.Context()), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(txns))
}

type thresholdRequest struct {
	Threshold *int64 `json:"threshold"`
}

type thresholdResponse struct {
	Item      *models.Item       `json:"item"`
	Dashboard *dashboard.Summary `json:"dashboard"`
}

func (s *Server) setThreshold(w http.ResponseWriter, r *http.Request) {
	var req thresholdRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.Threshold == nil {
		writeError(w, r, apperr.New(apperr.KindInvalidRequest, "threshold is required"))
		return
	}
	item, err := s.svc.Ledger.SetThreshold(r.Context(), auth.ActorFromContext(r.Context()), r.PathValue("id"), *req.Threshold)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, thresholdResponse{Item: item, Dashboard: s.freshSummary(r)})
}

func (s *Server) listAttendance(w http.ResponseWriter, r *http.Request) {
	day, err := s.svc.Attendance.ParseDay(r.URL.Query().Get("day"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	records, err := s.svc.Attendance.List(r.Context(), auth.ActorFromContext(r.Context()), day)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(records))
}

func (s *Server) recordAttendance(w http.ResponseWriter, r *http.Request) {
	var req attendance.RecordRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	rec, err := s.svc.Attendance.Record(r.Context(), auth.ActorFromContext(r.Context()), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) listPurchaseRequests(w http.ResponseWriter, r *http.Request) {
	filter := store.PurchaseRequestFilter{
		Status:      models.PurchaseStatus(r.URL.Query().Get("status")),
		RequesterID: r.URL.Query().Get("requester_id"),
	}
	list, err := s.svc.Workflow.List(r.Context(), auth.ActorFromContext(r.Context()), filter)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(list))
}

func (s *Server) submitPurchaseRequest(w http.ResponseWriter, r *http.Request) {
	var req workflow.SubmitRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	pr, err := s.svc.Workflow.Submit(r.Context(), auth.ActorFromContext(r.Context()), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, pr)
}

func (s *Server) getPurchaseRequest(w http.ResponseWriter, r *http.Request) {
	pr, err := s.svc.Workflow.Get(r.Context(), auth.ActorFromContext(r.Context()), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, pr)
}

func (s *Server) reviewPurchaseRequest(w http.ResponseWriter, r *http.Request) {
	var req workflow.ReviewRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	req.RequestID = r.PathValue("id")

	pr, err := s.svc.Workflow.Review(r.Context(), auth.ActorFromContext(r.Context()), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, pr)
}

type notificationsResponse struct {
	Notifications []*models.Notification `json:"notifications"`
	Unread        int                    `json:"unread"`
}

func (s *Server) listNotifications(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		writeError(w, r, err)
		return
	}
	actor := auth.ActorFromContext(r.Context())
	list, err := s.svc.Notifications.List(r.Context(), actor, limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	unread, err := s.svc.Notifications.UnreadCount(r.Context(), actor)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, notificationsResponse{Notifications: nonNil(list), Unread: unread})
}

func (s *Server) markNotificationRead(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.Notifications.MarkRead(r.Context(), auth.ActorFromContext(r.Context()), r.PathValue("id")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) markAllNotificationsRead(w http.ResponseWriter, r *http.Request) {
	if _, err := s.svc.Notifications.MarkAllRead(r.Context(), auth.ActorFromContext(r.Context())); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type capabilitiesRequest struct {
	Capabilities []string `json:"capabilities"`
}

func (s *Server) updateRoleCapabilities(w http.ResponseWriter, r *http.Request) {
	var req capabilitiesRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	role, err := s.svc.Resolver.UpdateRoleCapabilities(r.Context(), auth.ActorFromContext(r.Context()), r.PathValue("id"), req.Capabilities)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, role)
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
