package server

import (
	"time"

	"github.com/wolfeidau/opsengine/internal/attendance"
	"github.com/wolfeidau/opsengine/internal/auth"
	"github.com/wolfeidau/opsengine/internal/broadcast"
	"github.com/wolfeidau/opsengine/internal/dashboard"
	"github.com/wolfeidau/opsengine/internal/fanout"
	"github.com/wolfeidau/opsengine/internal/ledger"
	"github.com/wolfeidau/opsengine/internal/notify"
	"github.com/wolfeidau/opsengine/internal/store"
	"github.com/wolfeidau/opsengine/internal/workflow"
)

// ServicesConfig configures NewServices.
type ServicesConfig struct {
	Verifier             auth.VerifierConfig
	Resolver             auth.ResolverConfig
	Dashboard            dashboard.Config
	NotificationPageSize int
	// Location decides day boundaries for attendance and the dashboard.
	Location *time.Location
}

// NewServices wires the engine components over stores. Pushes go to pub,
// which is either hub itself or a relay in front of it.
func NewServices(stores *store.Stores, hub *broadcast.Hub, pub broadcast.Publisher, cfg ServicesConfig) (Services, error) {
	verifier, err := auth.NewJWTVerifier(cfg.Verifier)
	if err != nil {
		return Services{}, err
	}

	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	cfg.Dashboard.Location = cfg.Location

	aggregator := dashboard.NewAggregator(stores, cfg.Dashboard)
	cascade := fanout.New(pub, stores, aggregator, fanout.Config{
		NotificationPage: cfg.NotificationPageSize,
		Location:         cfg.Location,
	})
	center := notify.NewCenter(stores.Notifications, cascade, cfg.NotificationPageSize)

	return Services{
		Verifier:      verifier,
		Resolver:      auth.NewResolver(stores.Roles, stores.Employees, cfg.Resolver),
		Ledger:        ledger.New(stores.Inventory, center, cascade, ledger.Config{}),
		Workflow:      workflow.New(stores.PurchaseRequests, center, cascade, workflow.Config{}),
		Notifications: center,
		Attendance:    attendance.NewRegister(stores.Attendance, stores.Employees, cascade, cfg.Location),
		Dashboard:     aggregator,
		Cascade:       cascade,
		Hub:           hub,
	}, nil
}
