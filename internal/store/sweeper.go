// internal/store/sweeper.go
//
// Background job that closes idle sessions.

package store

import (
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/rs/zerolog/log"
)

// StartSweeper runs Sweep every interval and returns the running scheduler;
// call Shutdown on it to stop.
func StartSweeper(m *Sessions, interval, ttl time.Duration) (gocron.Scheduler, error) {
	sched, err := gocron.NewScheduler()
	if err != nil {
		return nil, err
	}
	_, err = sched.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func() {
			if n := m.Sweep(time.Now(), ttl); n > 0 {
				log.Info().Int("closed", n).Int("live", m.Len()).Msg("swept idle sessions")
			}
		}),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		_ = sched.Shutdown()
		return nil, err
	}
	sched.Start()
	return sched, nil
}
