// Package supervisor owns the daemon's lifecycle: construction order at
// startup, goroutine ownership, and an orderly shutdown that leaves the
// firewall clean.
package supervisor

import (
	"context"
	"fmt"
	"sync"

	"github.com/adator85/interceptor/internal/clock"
	"github.com/adator85/interceptor/internal/config"
	"github.com/adator85/interceptor/internal/errs"
	"github.com/adator85/interceptor/internal/firewall"
	"github.com/adator85/interceptor/internal/heartbeat"
	"github.com/adator85/interceptor/internal/hq"
	"github.com/adator85/interceptor/internal/jail"
	"github.com/adator85/interceptor/internal/logging"
	"github.com/adator85/interceptor/internal/matcher"
	"github.com/adator85/interceptor/internal/offense"
	"github.com/adator85/interceptor/internal/registry"
	"github.com/adator85/interceptor/internal/store"
	"github.com/adator85/interceptor/internal/tailer"
)

// Supervisor wires and owns every long-lived component.
type Supervisor struct {
	cfg    config.Config
	logger *logging.Logger

	store    *store.Store
	gateway  *firewall.Gateway
	registry *registry.Registry
	hqClient *hq.Client
	jailMgr  *jail.Manager
	recorder *offense.Recorder
	tailMux  *tailer.Multiplexer
	heart    *heartbeat.Heartbeat
	workers  []*matcher.Worker

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New constructs a Supervisor from a loaded configuration. It does not
// touch the filesystem, firewall, or network — call Start for that.
func New(cfg config.Config, logger *logging.Logger) *Supervisor {
	if logger == nil {
		logger = logging.Default()
	}
	return &Supervisor{cfg: cfg, logger: logger.WithComponent("supervisor")}
}

// Start runs the startup sequence from spec §4.11: Store, Firewall
// Gateway, Module Registry, Heartbeat, Tailer Multiplexer, HQ hello.
func (s *Supervisor) Start(ctx context.Context) error {
	identity, err := clock.ResolveIdentity()
	if err != nil {
		s.logger.Warn("failed to resolve host identity", "error", err)
	}

	st, err := store.Open(s.cfg.DBPath, s.logger)
	if err != nil {
		return fmt.Errorf("startup: %w", err)
	}
	s.store = st

	gw := firewall.New(firewall.Config{Chain: s.cfg.Firewall.Chain, Binary: s.cfg.Firewall.Binary, Logger: s.logger})
	if err := gw.Start(); err != nil {
		st.Close()
		return fmt.Errorf("startup: %w: %v", errs.ErrFirewallUnavailable, err)
	}
	s.gateway = gw

	reg, err := registry.Load(s.cfg.ModulesDir, s.logger, s.cfg.DefaultJailAttempt, s.cfg.DefaultJailDuration)
	if err != nil {
		_ = gw.Reset()
		st.Close()
		return fmt.Errorf("startup: %w", err)
	}
	s.registry = reg

	effectiveWhitelist := append([]string{}, s.cfg.GlobalWhitelist...)
	for _, mod := range reg.Modules() {
		effectiveWhitelist = append(effectiveWhitelist, mod.Whitelist...)
	}

	var hqCfg *hq.Config
	if s.cfg.API.IntcHQ.URL != "" {
		hqCfg = &hq.Config{
			Active:         s.cfg.API.IntcHQ.Active,
			Report:         s.cfg.API.IntcHQ.Report,
			URL:            s.cfg.API.IntcHQ.URL,
			APIKey:         s.cfg.API.IntcHQ.APIKey,
			TimeoutSeconds: s.cfg.API.IntcHQ.TimeoutSeconds,
		}
	}
	s.hqClient = hq.New(hqCfg, s.logger)

	s.jailMgr = jail.New(jail.Config{
		Store:           st,
		Gateway:         gw,
		Logger:          s.logger,
		SentinelIPv4:    config.DefaultSentinelIPv4,
		GlobalWhitelist: s.cfg.GlobalWhitelist,
		PulseSeconds:    s.cfg.PulseSeconds,
	})
	s.recorder = offense.New(st, s.logger)

	s.heart = heartbeat.New(heartbeat.Config{
		Store:           st,
		Jail:            s.jailMgr,
		HQ:              s.hqClient,
		Logger:          s.logger,
		PulseSeconds:    s.cfg.PulseSeconds,
		HQCommFrequency: s.cfg.HQCommFrequency,
		SentinelIPv4:    config.DefaultSentinelIPv4,
		Hostname:        identity.Hostname,
		GlobalWhitelist: effectiveWhitelist,
	})

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.heart.Run(runCtx)
	}()

	s.tailMux = tailer.New(s.logger, 256)
	if err := s.tailMux.Start(reg); err != nil {
		s.logger.Error("tailer multiplexer start reported an error", "error", err)
	}

	worker := matcher.New(matcher.Config{
		Registry: reg,
		Recorder: s.recorder,
		Jail:     s.jailMgr,
		Logger:   s.logger,
		Debug:    s.cfg.Debug,
	})
	s.workers = append(s.workers, worker)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		worker.Run(runCtx, s.tailMux.Lines())
	}()

	if err := s.hqClient.Hello(runCtx, s.cfg.Version); err != nil {
		s.logger.Warn("HQ hello failed at startup", "error", err)
	}

	s.logger.Info("supervisor started", "modules", len(reg.Modules()), "hostname", identity.Hostname)
	return nil
}

// Stop runs the shutdown sequence: stop Heartbeat and workers, terminate
// followers, reset the firewall, close the Store.
func (s *Supervisor) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()

	if s.tailMux != nil {
		s.tailMux.Stop()
	}
	if s.gateway != nil {
		if err := s.gateway.Reset(); err != nil {
			s.logger.Error("firewall reset failed during shutdown", "error", err)
		}
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			s.logger.Error("store close failed during shutdown", "error", err)
		}
	}

	s.logger.Info("supervisor stopped")
}
