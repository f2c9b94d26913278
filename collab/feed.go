package collab

import (
	"context"
	"time"

	"boardsync/core"
	"boardsync/fingerprint"

	"github.com/sirupsen/logrus"
)

// DefaultPollInterval is the degraded-mode refetch cadence.
const DefaultPollInterval = 30 * time.Second

// Feed is the live-updates capability: something that delivers remote
// board changes to the local drawing surface. The canonical
// implementation is push-based (PushFeed over a Channel); PollFeed is a
// resilience fallback for when the channel is unavailable.
type Feed interface {
	Start(ctx context.Context) error
	Stop()
}

// PushFeed delivers updates by connecting the broadcast channel.
type PushFeed struct {
	Channel *Channel
}

func (f *PushFeed) Start(ctx context.Context) error { return f.Channel.Connect(ctx) }
func (f *PushFeed) Stop()                           { f.Channel.Disconnect() }

// PollFeed refetches the board record on an interval and delivers the
// element list when its fingerprint changes. Strictly a degraded mode:
// higher latency, no presence, no cursors.
type PollFeed struct {
	Store      core.BoardStore
	ProjectID  string
	Interval   time.Duration
	OnElements func(elements []core.Element)

	stop chan struct{}
	last string
}

// Start begins polling in the background until Stop is called.
func (f *PollFeed) Start(ctx context.Context) error {
	if f.Interval <= 0 {
		f.Interval = DefaultPollInterval
	}
	f.stop = make(chan struct{})

	log := logrus.WithFields(logrus.Fields{
		"component":  "collab",
		"mode":       "poll",
		"project_id": f.ProjectID,
	})
	log.Info("Falling back to poll-based updates")

	go func() {
		ticker := time.NewTicker(f.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-f.stop:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				record, err := f.Store.GetOrCreate(ctx, f.ProjectID)
				if err != nil {
					log.WithError(err).Warn("Poll refetch failed")
					continue
				}
				print := fingerprint.Elements(record.Snapshot.Elements)
				if print == f.last {
					continue
				}
				f.last = print
				if f.OnElements != nil {
					f.OnElements(record.Snapshot.Elements)
				}
			}
		}
	}()
	return nil
}

// Stop ends polling. Safe to call once after a successful Start.
func (f *PollFeed) Stop() {
	if f.stop != nil {
		close(f.stop)
	}
}
