// Package autosave buffers drawing-surface change events and turns them
// into durable board saves: rapid edits coalesce behind a debounce, at
// most one save is ever in flight, and a snapshot that arrives mid-save
// is saved again automatically once the first write completes.
package autosave

import (
	"context"
	"sync"
	"time"

	"boardsync/core"
	"boardsync/fingerprint"

	"github.com/sirupsen/logrus"
)

const (
	// DefaultInputDebounce is how long local edits must go quiet before
	// the auto-save window starts counting.
	DefaultInputDebounce = 1 * time.Second

	// DefaultSaveDelay is the auto-save window after the input debounce.
	DefaultSaveDelay = 3 * time.Second

	// DefaultFollowUpDelay is the pause before re-saving a snapshot that
	// was buffered while another save was in flight.
	DefaultFollowUpDelay = 100 * time.Millisecond
)

type (
	// Options tune the coordinator. Zero values fall back to the
	// defaults above.
	Options struct {
		InputDebounce time.Duration
		SaveDelay     time.Duration
		FollowUpDelay time.Duration

		// OnResult, when set, is invoked after every completed save
		// attempt so a UI can show saved/failed state. Called without
		// internal locks held.
		OnResult func(record *core.BoardRecord, err error)
	}

	// Coordinator is the save-scheduling state machine for one project.
	// All fields are guarded by mu; timer callbacks and callers share no
	// other state.
	Coordinator struct {
		store     core.BoardStore
		projectID string
		opts      Options
		log       *logrus.Entry

		mu          sync.Mutex
		cond        *sync.Cond // signaled when an in-flight save completes
		pending     *core.Snapshot
		last        *core.Snapshot // last snapshot known durable or queued
		pendingSeq  uint64
		lastPrint   string
		unsaved     bool
		saving      bool
		lastSavedAt time.Time
		inputTimer  *time.Timer
		saveTimer   *time.Timer
		closed      bool
	}
)

// New creates a coordinator for one project backed by the given store.
func New(store core.BoardStore, projectID string, opts Options) *Coordinator {
	if opts.InputDebounce <= 0 {
		opts.InputDebounce = DefaultInputDebounce
	}
	if opts.SaveDelay <= 0 {
		opts.SaveDelay = DefaultSaveDelay
	}
	if opts.FollowUpDelay <= 0 {
		opts.FollowUpDelay = DefaultFollowUpDelay
	}
	c := &Coordinator{
		store:     store,
		projectID: projectID,
		opts:      opts,
		log: logrus.WithFields(logrus.Fields{
			"component":  "autosave",
			"project_id": projectID,
		}),
	}
	c.cond = sync.NewCond(&c.mu)
	return c
}

// SetBaseline records the snapshot loaded from the store so that the
// first change event is compared against durable state instead of
// against nothing.
func (c *Coordinator) SetBaseline(snapshot core.Snapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	snap := snapshot
	c.last = &snap
	c.lastPrint = fingerprint.Elements(snapshot.Elements)
}

// Queue buffers a snapshot for saving. Events whose element fingerprint
// matches the previous one are no-ops: they neither buffer nor restart
// any timer. Returns whether the snapshot was accepted as a real change.
func (c *Coordinator) Queue(snapshot core.Snapshot) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false
	}

	print := fingerprint.Elements(snapshot.Elements)
	if print == c.lastPrint {
		return false
	}

	snap := snapshot
	c.lastPrint = print
	c.pending = &snap
	c.last = &snap
	c.pendingSeq++
	c.unsaved = true

	// A fresh edit restarts both layers of debounce.
	if c.saveTimer != nil {
		c.saveTimer.Stop()
		c.saveTimer = nil
	}
	if c.inputTimer != nil {
		c.inputTimer.Stop()
	}
	c.inputTimer = time.AfterFunc(c.opts.InputDebounce, c.armSave)
	return true
}

func (c *Coordinator) armSave() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.pending == nil {
		return
	}
	if c.saveTimer != nil {
		c.saveTimer.Stop()
	}
	c.saveTimer = time.AfterFunc(c.opts.SaveDelay, func() {
		// If a save is already in flight the completion path issues the
		// follow-up itself; nothing to do here.
		_ = c.flush(context.Background(), false)
	})
}

// ForceSave cancels outstanding timers and saves immediately with
// whatever is buffered, or with the last known snapshot when nothing is.
// Used before navigating away and on explicit user save.
func (c *Coordinator) ForceSave(ctx context.Context) error {
	c.mu.Lock()
	if c.inputTimer != nil {
		c.inputTimer.Stop()
		c.inputTimer = nil
	}
	if c.saveTimer != nil {
		c.saveTimer.Stop()
		c.saveTimer = nil
	}
	c.mu.Unlock()
	return c.flush(ctx, true)
}

// flush performs one serialized save. When force is false and a save is
// already in flight it returns immediately; the retry-on-completion rule
// guarantees the latest pending snapshot still converges. When force is
// true it waits for the in-flight save and then writes synchronously.
func (c *Coordinator) flush(ctx context.Context, force bool) error {
	c.mu.Lock()
	if c.closed && !force {
		c.mu.Unlock()
		return nil
	}
	if c.saving {
		if !force {
			c.mu.Unlock()
			return nil
		}
		for c.saving {
			c.cond.Wait()
		}
	}

	snap := c.pending
	seq := c.pendingSeq
	if snap == nil {
		if !force || c.last == nil {
			c.mu.Unlock()
			return nil
		}
		snap = c.last
	}
	c.saving = true
	c.mu.Unlock()

	record, err := c.store.Save(ctx, c.projectID, *snap)

	c.mu.Lock()
	c.saving = false
	c.cond.Broadcast()
	if err != nil {
		// Pending stays intact and unsaved stays true; the next change
		// event or an explicit ForceSave retries.
		c.log.WithError(err).Warn("Board save failed, keeping pending snapshot")
	} else {
		c.lastSavedAt = time.Now()
		if record != nil && !record.UpdatedAt.IsZero() {
			c.lastSavedAt = record.UpdatedAt
		}
		if c.pendingSeq == seq {
			c.pending = nil
			c.unsaved = false
		} else if !c.closed {
			// A newer snapshot arrived mid-save: converge shortly.
			delay := c.opts.FollowUpDelay
			time.AfterFunc(delay, func() {
				_ = c.flush(context.Background(), false)
			})
		}
	}
	onResult := c.opts.OnResult
	c.mu.Unlock()

	if onResult != nil {
		onResult(record, err)
	}
	return err
}

// Close stops all timers and, if no save is in flight and changes are
// still pending, issues one last fire-and-forget save. It never blocks
// on the network.
func (c *Coordinator) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	if c.inputTimer != nil {
		c.inputTimer.Stop()
		c.inputTimer = nil
	}
	if c.saveTimer != nil {
		c.saveTimer.Stop()
		c.saveTimer = nil
	}
	var snap *core.Snapshot
	if !c.saving && c.pending != nil {
		snap = c.pending
	}
	c.mu.Unlock()

	if snap != nil {
		go func(s core.Snapshot) {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if _, err := c.store.Save(ctx, c.projectID, s); err != nil {
				c.log.WithError(err).Warn("Teardown flush failed")
			}
		}(*snap)
	}
}

// Unsaved reports whether a snapshot is buffered and not yet durable.
func (c *Coordinator) Unsaved() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.unsaved
}

// Saving reports whether a save is currently in flight.
func (c *Coordinator) Saving() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.saving
}

// LastSavedAt returns the time of the last confirmed durable write, or
// the zero time if nothing has been saved this session.
func (c *Coordinator) LastSavedAt() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastSavedAt
}

// Pending returns a copy of the buffered snapshot, or nil. Used by the
// unload guard to hand unsaved state to the beacon.
func (c *Coordinator) Pending() *core.Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending == nil {
		return nil
	}
	snap := *c.pending
	return &snap
}
