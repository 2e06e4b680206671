package logging

import (
	"context"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

// Policy maps a service/level pair to a retention window. Level "ALL" covers
// every level for the service; service "ALL" is the global default row.
type Policy struct {
	Service       string
	Level         string
	RetentionDays int
}

// PolicyStore reads retention policies and deletes expired rows.
type PolicyStore interface {
	ListRetentionPolicies(ctx context.Context) ([]Policy, error)
	// DeleteLogsBefore removes application_logs rows for the given
	// service/level selector older than cutoff, returning the row count.
	// Empty service or level means "any".
	DeleteLogsBefore(ctx context.Context, service, level string, cutoff time.Time) (int64, error)
	// DeleteUnpoliciedLogsBefore removes rows older than cutoff whose
	// service/level pair is not covered by any retention policy.
	DeleteUnpoliciedLogsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Sweeper deletes application logs past their retention window.
type Sweeper struct {
	store       PolicyStore
	defaultDays int
	cron        *cron.Cron
}

// NewSweeper builds a sweeper with the given default retention.
func NewSweeper(store PolicyStore, defaultDays int) *Sweeper {
	return &Sweeper{
		store:       store,
		defaultDays: defaultDays,
	}
}

// Start schedules the hourly sweep. Call Stop to halt it.
func (s *Sweeper) Start() {
	s.cron = cron.New()
	_, err := s.cron.AddFunc("@hourly", func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		s.Sweep(ctx)
	})
	if err != nil {
		log.Error().Err(err).Msg("Failed to schedule retention sweep")
		return
	}
	s.cron.Start()
}

// Stop halts the schedule, waiting for a running sweep to finish.
func (s *Sweeper) Stop() {
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
}

// Sweep runs one retention pass: policy-specific deletes first, then the
// default window for everything not covered by a policy.
func (s *Sweeper) Sweep(ctx context.Context) {
	now := time.Now().UTC()

	policies, err := s.store.ListRetentionPolicies(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Retention sweep: failed to load policies")
		policies = nil
	}

	var total int64
	for _, p := range policies {
		if p.RetentionDays <= 0 {
			continue
		}
		level := p.Level
		if strings.EqualFold(level, "ALL") {
			level = ""
		}
		service := p.Service
		if strings.EqualFold(service, "ALL") {
			service = ""
		}
		cutoff := now.AddDate(0, 0, -p.RetentionDays)
		deleted, err := s.store.DeleteLogsBefore(ctx, service, level, cutoff)
		if err != nil {
			log.Error().Err(err).Str("service", p.Service).Str("level", p.Level).
				Msg("Retention sweep: delete failed")
			continue
		}
		total += deleted
	}

	// Default window catches rows from services with no explicit policy.
	// Policied rows are left to their own windows, even longer ones.
	cutoff := now.AddDate(0, 0, -s.defaultDays)
	deleted, err := s.store.DeleteUnpoliciedLogsBefore(ctx, cutoff)
	if err != nil {
		log.Error().Err(err).Msg("Retention sweep: default delete failed")
	} else {
		total += deleted
	}

	if total > 0 {
		log.Info().Int64("deleted", total).Msg("Retention sweep completed")
	}
}
