// Package supervisor manages per-account worker lifecycle: starting a
// worker when an account becomes enabled, stopping it when disabled or
// removed, and diffing the configured account set against the running one
// on every hot-reload tick (§5, §9), directly modeled on the teacher's
// engine.Engine slots/reconcileMarkets/startMarketLocked/stopMarketLocked
// trio, renamed from "market" to "account".
package supervisor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"mirror-engine/internal/config"
	"mirror-engine/internal/mirror"
	"mirror-engine/internal/notify"
	"mirror-engine/internal/sizing"
	"mirror-engine/internal/venue"
)

// accountSlot is one actively-mirrored account.
type accountSlot struct {
	cfg    config.AccountConfig
	cancel context.CancelFunc
}

// venueFactory builds the Destination Venue Adapter for one account. The
// default, defaultVenueFactory, constructs a real *venue.Client carrying
// that account's own credentials; tests substitute a fake.
type venueFactory func(cfg config.AccountConfig, baseURL string, dryRun bool, logger *slog.Logger) mirror.VenueAdapter

func defaultVenueFactory(cfg config.AccountConfig, baseURL string, dryRun bool, logger *slog.Logger) mirror.VenueAdapter {
	return venue.NewClient(cfg.ClientConfig(baseURL, dryRun), logger)
}

// Supervisor owns the lifecycle of every account's Worker goroutine.
type Supervisor struct {
	store        mirror.EventStore
	venueBaseURL string
	dryRun       bool
	newVenue     venueFactory
	events       chan<- mirror.EngineEvent
	logger       *slog.Logger

	slots   map[string]*accountSlot
	slotsMu sync.RWMutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Supervisor. Every account owns its own Destination Venue
// Adapter instance, built from that account's own credentials at start time
// (§3 Ownership: "the Destination Venue Adapter ... holds API credentials
// and is not shared between accounts") — only the venue host (baseURL) and
// the process-wide dry-run flag are shared.
func New(baseURL string, dryRun bool, store mirror.EventStore, events chan<- mirror.EngineEvent, logger *slog.Logger) *Supervisor {
	ctx, cancel := context.WithCancel(context.Background())
	return &Supervisor{
		store:        store,
		venueBaseURL: baseURL,
		dryRun:       dryRun,
		newVenue:     defaultVenueFactory,
		events:       events,
		logger:       logger.With("component", "supervisor"),
		slots:        make(map[string]*accountSlot),
		ctx:          ctx,
		cancel:       cancel,
	}
}

// Reconcile diffs the desired account set (freshly loaded config) against
// the currently running slots: stops accounts no longer enabled, starts
// newly enabled ones, restarts accounts whose config changed. Disabled or
// missing accounts are stopped; this is the one entry point the hot-reload
// watcher calls.
func (s *Supervisor) Reconcile(accounts []config.AccountConfig) {
	desired := make(map[string]config.AccountConfig, len(accounts))
	for _, a := range accounts {
		if a.Enabled {
			desired[a.AccountName] = a
		}
	}

	s.slotsMu.Lock()
	defer s.slotsMu.Unlock()

	for name := range s.slots {
		if _, ok := desired[name]; !ok {
			s.stopLocked(name)
		}
	}

	for name, cfg := range desired {
		slot, running := s.slots[name]
		if !running {
			s.startLocked(cfg)
			continue
		}
		if !sameConfig(slot.cfg, cfg) {
			s.stopLocked(name)
			s.startLocked(cfg)
		}
	}
}

func (s *Supervisor) startLocked(cfg config.AccountConfig) {
	ctx, cancel := context.WithCancel(s.ctx)

	var sink notify.Sink = notify.NopSink{}
	if cfg.NotificationWebhook != "" {
		sink = notify.NewWebhookSink(cfg.NotificationWebhook)
	}

	reg := cfg.Registry()
	h := &mirror.Handlers{
		Venue:    s.newVenue(cfg, s.venueBaseURL, s.dryRun, s.logger.With("account", cfg.AccountName)),
		Calc:     sizing.New(cfg.SizingPolicy(), reg),
		Registry: reg,
		Leverage: mirror.LeveragePolicy{Default: cfg.DefaultLeverage, Overrides: cfg.LeverageOverrides},
		State:    mirror.NewState(),
		Logger:   s.logger.With("account", cfg.AccountName),
	}

	if cfg.Venue.WSURL != "" {
		auth := venue.NewAuth(venue.Credentials{APIKey: cfg.Venue.APIKey, APISecret: cfg.Venue.APISecret}, 5*time.Second)
		stream := venue.NewOrderStream(cfg.Venue.WSURL, auth, s.logger.With("account", cfg.AccountName))
		h.OrderUpdates = stream.Updates()

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if err := stream.Run(ctx); err != nil && ctx.Err() == nil {
				s.logger.Error("order stream exited", "account", cfg.AccountName, "error", err)
			}
		}()
	}

	w := &mirror.Worker{
		Account:     cfg.AccountName,
		Store:       s.store,
		Handlers:    h,
		Registry:    reg,
		Allowlist:   cfg.AllowlistFilter(),
		MaxAge:      cfg.MaxAge(),
		AgeFilterOn: cfg.AgeFilterEnabled,
		Notify:      sink,
		Events:      s.events,
		Logger:      s.logger.With("account", cfg.AccountName),
	}

	s.slots[cfg.AccountName] = &accountSlot{cfg: cfg, cancel: cancel}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		w.Run(ctx)
	}()

	s.logger.Info("account started", "account", cfg.AccountName)
}

func (s *Supervisor) stopLocked(name string) {
	slot, ok := s.slots[name]
	if !ok {
		return
	}
	slot.cancel()
	delete(s.slots, name)
	s.logger.Info("account stopped", "account", name)
}

// Stop cancels every running account worker and blocks until each has
// returned.
func (s *Supervisor) Stop() {
	s.cancel()
	s.wg.Wait()
}

// sameConfig reports whether two AccountConfigs are deeply equivalent for
// the purposes of deciding whether a running worker needs restarting.
// Hand-rolled instead of reflect.DeepEqual to skip fields (like map
// iteration order) that don't affect behavior when compared by value.
func sameConfig(a, b config.AccountConfig) bool {
	if a.AccountName != b.AccountName || a.Enabled != b.Enabled {
		return false
	}
	if a.SourceWalletAddress != b.SourceWalletAddress {
		return false
	}
	if a.Venue != b.Venue {
		return false
	}
	if a.AllowlistEnabled != b.AllowlistEnabled || len(a.Allowlist) != len(b.Allowlist) {
		return false
	}
	if a.DefaultLeverage != b.DefaultLeverage || len(a.LeverageOverrides) != len(b.LeverageOverrides) {
		return false
	}
	if a.AgeFilterEnabled != b.AgeFilterEnabled || a.MaxAgeHours != b.MaxAgeHours {
		return false
	}
	if a.NotificationWebhook != b.NotificationWebhook {
		return false
	}
	if a.Sizing != b.Sizing {
		return false
	}
	if len(a.Symbols) != len(b.Symbols) {
		return false
	}
	for i := range a.Symbols {
		if a.Symbols[i] != b.Symbols[i] {
			return false
		}
	}
	for k, v := range a.LeverageOverrides {
		if b.LeverageOverrides[k] != v {
			return false
		}
	}
	for _, c := range a.Allowlist {
		found := false
		for _, c2 := range b.Allowlist {
			if c == c2 {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
