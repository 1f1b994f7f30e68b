// Package autosave fires a periodic save on the village event loop.
package autosave

import (
	"errors"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Poster queues fn on the goroutine that owns the village.
type Poster interface {
	Post(fn func()) error
}

type Autosaver struct {
	cron  *cron.Cron
	every time.Duration
}

// Start schedules save every interval. The cron goroutine only posts; save itself
// always runs on the loop. Intervals are truncated to whole seconds.
func Start(every time.Duration, loop Poster, save func(), log zerolog.Logger) (*Autosaver, error) {
	if every < time.Second {
		return nil, errors.New("autosave: interval must be at least 1s")
	}
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	c.Schedule(cron.Every(every), cron.FuncJob(func() {
		if err := loop.Post(save); err != nil {
			log.Warn().Err(err).Msg("autosave skipped, loop stopped")
		}
	}))
	c.Start()
	return &Autosaver{cron: c, every: every}, nil
}

func (a *Autosaver) Every() time.Duration { return a.every }

// Stop halts the schedule and waits for an in-flight tick to finish posting.
func (a *Autosaver) Stop() {
	<-a.cron.Stop().Done()
}
