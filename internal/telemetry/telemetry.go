// Package telemetry runs the periodic device sampler. Every interval
// it gathers host metrics and pushes one telemetry sample through the
// producer; the dispatch loop takes it from there.
package telemetry

import (
	"context"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/sirupsen/logrus"

	"connect-agent/pkg/models"
)

// Producer is the slice of the printer the sampler needs.
type Producer interface {
	State() models.State
	Telemetry(state models.State, data map[string]any)
}

// Sampler pushes one sample per interval.
type Sampler struct {
	producer Producer
	interval time.Duration
	log      *logrus.Entry
}

// New creates a sampler for the producer.
func New(producer Producer, interval time.Duration) *Sampler {
	return &Sampler{
		producer: producer,
		interval: interval,
		log:      logrus.WithField("component", "telemetry"),
	}
}

// Start launches the sampling loop on a background goroutine. It stops
// when ctx is cancelled.
func (s *Sampler) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)

	go func() {
		defer ticker.Stop()
		s.log.WithField("interval", s.interval).Info("Telemetry sampler started")

		for {
			select {
			case <-ctx.Done():
				s.log.Info("Telemetry sampler stopped")
				return
			case <-ticker.C:
				s.sample(ctx)
			}
		}
	}()
}

// sample gathers host metrics and pushes one telemetry item. Metric
// failures degrade to a bare state sample instead of skipping the
// tick.
func (s *Sampler) sample(ctx context.Context) {
	data := map[string]any{}

	if v, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		data["ram_usage"] = v.UsedPercent
	} else {
		s.log.WithError(err).Debug("Failed to read memory stats")
	}

	if pct, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(pct) > 0 {
		data["cpu_usage"] = pct[0]
	} else if err != nil {
		s.log.WithError(err).Debug("Failed to read cpu stats")
	}

	s.producer.Telemetry(s.producer.State(), data)
}
