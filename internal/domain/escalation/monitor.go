package escalation

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Escalator is the slice of the case service the monitor drives. The timer
// path goes through the same guarded transition as human actors, so a race
// with an in-flight rejection resolves idempotently on the far side.
type Escalator interface {
	EscalationDue(ctx context.Context, now time.Time) ([]uuid.UUID, error)
	TriggerEscalation(ctx context.Context, caseID uuid.UUID) error
}

// Monitor periodically scans for cases whose response window has elapsed and
// escalates them one at a time.
type Monitor struct {
	esc      Escalator
	interval time.Duration
	logger   zerolog.Logger
}

func NewMonitor(esc Escalator, interval time.Duration, logger zerolog.Logger) *Monitor {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Monitor{esc: esc, interval: interval, logger: logger}
}

// Run blocks until ctx is cancelled, sweeping at the configured interval.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.logger.Info().Dur("interval", m.interval).Msg("escalation monitor started")

	for {
		select {
		case <-ctx.Done():
			m.logger.Info().Msg("escalation monitor stopped")
			return
		case now := <-ticker.C:
			m.sweep(ctx, now)
		}
	}
}

func (m *Monitor) sweep(ctx context.Context, now time.Time) {
	due, err := m.esc.EscalationDue(ctx, now)
	if err != nil {
		m.logger.Error().Err(err).Msg("escalation scan failed")
		return
	}

	for _, caseID := range due {
		if err := m.esc.TriggerEscalation(ctx, caseID); err != nil {
			// A lost race with a human rejection lands here; the guard on
			// the far side already handled the already-escalated path.
			m.logger.Warn().Err(err).Str("case_id", caseID.String()).Msg("escalation attempt failed")
			continue
		}
		m.logger.Info().Str("case_id", caseID.String()).Msg("case escalated by timeout")
	}
}
