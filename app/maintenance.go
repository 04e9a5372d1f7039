package app

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

// Maintenance runs the periodic account upkeep jobs.
type Maintenance struct {
	cron   *cron.Cron
	server *Server
}

// NewMaintenance schedules the expired-beta sweep in the limit time zone.
func NewMaintenance(s *Server) (*Maintenance, error) {
	loc := s.cfg.Limits.Location
	if loc == nil {
		loc = time.Local
	}
	m := &Maintenance{cron: cron.New(cron.WithLocation(loc)), server: s}
	schedule := s.cfg.Limits.SweepSchedule
	if schedule == "" {
		return m, nil
	}
	if _, err := m.cron.AddFunc(schedule, m.sweep); err != nil {
		return nil, fmt.Errorf("add beta sweep: %w", err)
	}
	return m, nil
}

func (m *Maintenance) Start() {
	m.cron.Start()
}

// Stop waits for a running job to finish.
func (m *Maintenance) Stop() {
	<-m.cron.Stop().Done()
}

func (m *Maintenance) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	if _, err := m.server.SweepExpiredBeta(ctx); err != nil {
		log.Error().Err(err).Msg("beta sweep failed")
	}
}

// SweepExpiredBeta downgrades every lapsed beta account to free. Requests
// also downgrade lazily, so the sweep only keeps stored tiers tidy.
func (s *Server) SweepExpiredBeta(ctx context.Context) (int64, error) {
	n, err := s.store.DowngradeAllExpiredBeta(ctx, s.cfg.Limits.Free, s.now())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		log.Info().Int64("accounts", n).Msg("expired beta accounts downgraded")
	}
	return n, nil
}
