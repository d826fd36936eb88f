package server

import (
	"context"
	"fmt"
	"io"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"

	"github.com/bookrelay/bookrelay/internal/bookrelay/auditlog"
	"github.com/bookrelay/bookrelay/internal/bookrelay/challenge"
	"github.com/bookrelay/bookrelay/internal/bookrelay/config"
	"github.com/bookrelay/bookrelay/internal/bookrelay/eventbus"
	"github.com/bookrelay/bookrelay/internal/bookrelay/metrics"
	"github.com/bookrelay/bookrelay/internal/bookrelay/orchestrator"
	"github.com/bookrelay/bookrelay/internal/bookrelay/provider"
	"github.com/bookrelay/bookrelay/internal/bookrelay/sessionstore"
	"github.com/bookrelay/bookrelay/internal/bookrelay/worker"
)

// Service is the set of long-lived components behind the HTTP server.
type Service struct {
	Orchestrator *orchestrator.Orchestrator
	Metrics      *metrics.Metrics
	Bus          *eventbus.Bus

	auditor   *auditlog.Auditor
	auditFile io.Closer
}

// NewService builds every component from cfg. Challenge artifacts left behind by a
// previous run are purged.
func NewService(cfg *config.ConfigParam) (*Service, error) {
	artifacts, err := challenge.NewArtifactStore(cfg.Challenge.ArtifactDir)
	if err != nil {
		return nil, fmt.Errorf("creating artifact store: %w", err)
	}
	if n, err := artifacts.Purge(); err != nil {
		return nil, fmt.Errorf("purging artifacts: %w", err)
	} else if n > 0 {
		log.Info().Int("count", n).Str("dir", artifacts.Dir()).Msg("purged stale artifacts")
	}

	gen, err := challenge.NewGenerator(challenge.Options{
		Width:      cfg.Challenge.Width,
		Height:     cfg.Challenge.Height,
		Length:     cfg.Challenge.Length,
		Noise:      cfg.Challenge.Noise,
		Background: cfg.Challenge.Background,
	})
	if err != nil {
		return nil, fmt.Errorf("creating challenge generator: %w", err)
	}

	p, err := provider.New(&cfg.Provider)
	if err != nil {
		return nil, fmt.Errorf("creating provider: %w", err)
	}
	sup, werr := worker.New(&cfg.Worker, p)
	if werr != nil {
		return nil, fmt.Errorf("creating worker supervisor: %w", werr)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)
	bus := eventbus.New()

	svc := &Service{Metrics: m, Bus: bus}
	if cfg.Audit.Enabled {
		w, err := auditlog.OpenFile(cfg.Audit.File)
		if err != nil {
			return nil, fmt.Errorf("opening audit log: %w", err)
		}
		svc.auditFile = w
		svc.auditor = auditlog.New(bus, w)
	}

	svc.Orchestrator = orchestrator.New(sessionstore.New(), gen, artifacts, sup, orchestrator.Options{
		TTL:            cfg.Session.GetTTL(),
		SweepInterval:  cfg.Session.GetSweepInterval(),
		DefaultMobile:  cfg.Provider.DefaultMobile,
		DefaultPayment: cfg.Provider.DefaultPayment,
	}, orchestrator.WithEventBus(bus), orchestrator.WithMetrics(m))
	return svc, nil
}

// Start begins auditing and the expiry sweep.
func (s *Service) Start(ctx context.Context) {
	if s.auditor != nil {
		s.auditor.Start()
	}
	s.Orchestrator.Run(ctx)
}

// Stop shuts the orchestrator down and flushes the audit log.
func (s *Service) Stop(ctx context.Context) error {
	err := s.Orchestrator.Shutdown(ctx)
	if s.auditor != nil {
		s.auditor.Stop()
	}
	s.Bus.Shutdown()
	if s.auditFile != nil {
		if cerr := s.auditFile.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}
