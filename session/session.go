// Package session ties persistence, auto-save scheduling, and the
// presence channel together into one editing session per open board.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"boardsync/autosave"
	"boardsync/collab"
	"boardsync/core"

	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"
)

// Options configure one board session.
type Options struct {
	// Store persists snapshots. Required.
	Store core.BoardStore

	// Dialer opens the presence channel. Optional; without one the
	// session runs solo.
	Dialer collab.Dialer

	// ParticipantID identifies this session on the channel. Generated
	// when empty.
	ParticipantID string
	DisplayName   string

	// Beacon, when set, receives unsaved state on page unload.
	Beacon *Beacon

	// PollInterval is the degraded-mode refetch cadence used when the
	// channel cannot be connected. Zero falls back to the collab default.
	PollInterval time.Duration

	Autosave autosave.Options
	Channel  collab.Options
}

// BoardSession is one participant's open board: it owns the local
// snapshot, schedules saves through the coordinator, and mirrors edits
// onto the presence channel.
type BoardSession struct {
	projectID    string
	store        core.BoardStore
	coord        *autosave.Coordinator
	channel      *collab.Channel
	pollFeed     *collab.PollFeed
	pollInterval time.Duration
	beacon       *Beacon
	log          *logrus.Entry

	mu        sync.Mutex
	snapshot  core.Snapshot
	recovered bool
	loaded    bool
	closed    bool
}

// New creates a session for one project. Load must be called before any
// change is applied.
func New(projectID string, opts Options) *BoardSession {
	if opts.ParticipantID == "" {
		opts.ParticipantID = ulid.Make().String()
	}

	s := &BoardSession{
		projectID:    projectID,
		store:        opts.Store,
		beacon:       opts.Beacon,
		pollInterval: opts.PollInterval,
		log: logrus.WithFields(logrus.Fields{
			"component":  "session",
			"project_id": projectID,
		}),
	}
	s.coord = autosave.New(opts.Store, projectID, opts.Autosave)

	if opts.Dialer != nil {
		channelOpts := opts.Channel
		if channelOpts.OnElements == nil {
			channelOpts.OnElements = s.applyRemoteElements
		}
		s.channel = collab.NewChannel(opts.Dialer, projectID, opts.ParticipantID, opts.DisplayName, channelOpts)
	}
	return s
}

// applyRemoteElements merges a foreign broadcast into the local view.
// Remote edits never enter the save path; their author saves them.
func (s *BoardSession) applyRemoteElements(elements []core.Element) {
	s.mu.Lock()
	s.snapshot.Elements = elements
	s.mu.Unlock()
}

// Load fetches (or creates) the board and seeds the save baseline, then
// connects the presence channel. A channel failure degrades to solo
// editing; only a store failure fails the load.
func (s *BoardSession) Load(ctx context.Context) (*core.BoardRecord, error) {
	record, err := s.store.GetOrCreate(ctx, s.projectID)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.snapshot = record.Snapshot
	s.recovered = record.Recovered
	s.loaded = true
	s.mu.Unlock()

	s.coord.SetBaseline(record.Snapshot)

	if record.Recovered {
		s.log.Warn("Board loaded from an unrecognized snapshot, starting blank")
	}

	if s.channel != nil {
		if err := s.channel.Connect(ctx); err != nil {
			if errors.Is(err, core.ErrChannelUnavailable) {
				s.log.WithError(err).Warn("Presence channel unavailable, falling back to polling")
			} else {
				s.log.WithError(err).Warn("Presence channel connect failed, falling back to polling")
			}
			s.startPollFeed()
		}
	}
	return record, nil
}

// startPollFeed begins degraded-mode refetching: no presence, no
// cursors, just eventual visibility of remote saves.
func (s *BoardSession) startPollFeed() {
	feed := &collab.PollFeed{
		Store:      s.store,
		ProjectID:  s.projectID,
		Interval:   s.pollInterval,
		OnElements: s.applyRemoteElements,
	}
	if err := feed.Start(context.Background()); err != nil {
		s.log.WithError(err).Warn("Poll fallback failed to start")
		return
	}
	s.mu.Lock()
	s.pollFeed = feed
	s.mu.Unlock()
}

// ApplyChange records a local edit: the snapshot becomes the new save
// candidate and, if it is a real change, is broadcast to collaborators.
// Returns whether the change was accepted (no-op events are suppressed).
func (s *BoardSession) ApplyChange(elements []core.Element, viewState core.ViewState, files map[string]core.BinaryFile) bool {
	s.mu.Lock()
	if s.closed || !s.loaded {
		s.mu.Unlock()
		return false
	}
	s.snapshot = core.Snapshot{Elements: elements, ViewState: viewState, Files: files}
	snapshot := s.snapshot
	s.mu.Unlock()

	accepted := s.coord.Queue(snapshot)
	if accepted && s.channel != nil {
		s.channel.BroadcastElements(elements)
	}
	return accepted
}

// Cursor publishes the local pointer position to collaborators.
func (s *BoardSession) Cursor(x, y float64) {
	if s.channel != nil {
		s.channel.BroadcastCursor(x, y)
	}
}

// ForceSave persists immediately, bypassing the debounce.
func (s *BoardSession) ForceSave(ctx context.Context) error {
	return s.coord.ForceSave(ctx)
}

// Snapshot returns a copy of the current local state.
func (s *BoardSession) Snapshot() core.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot
}

// ExportJSON serializes the current board for download. Export reads
// local state only and works offline. Image and vector export are the
// drawing engine's job; it renders, this only hands over the data.
func (s *BoardSession) ExportJSON() ([]byte, error) {
	s.mu.Lock()
	snapshot := s.snapshot
	s.mu.Unlock()
	return json.MarshalIndent(snapshot, "", "  ")
}

// Unsaved reports whether local changes are not yet durable. Drives the
// unload warning.
func (s *BoardSession) Unsaved() bool {
	return s.coord.Unsaved()
}

// Saving reports whether a save is in flight.
func (s *BoardSession) Saving() bool {
	return s.coord.Saving()
}

// LastSavedAt returns the time of the last confirmed save.
func (s *BoardSession) LastSavedAt() time.Time {
	return s.coord.LastSavedAt()
}

// Collaborators returns the visible roster, self excluded.
func (s *BoardSession) Collaborators() []core.Participant {
	if s.channel == nil {
		return nil
	}
	return s.channel.Collaborators()
}

// ChannelConnected reports presence-channel health for UI display.
func (s *BoardSession) ChannelConnected() bool {
	return s.channel != nil && s.channel.Connected()
}

// Recovered reports whether the loaded snapshot had to be discarded as
// unreadable.
func (s *BoardSession) Recovered() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recovered
}

// BeaconFlush hands any unsaved snapshot to the beacon. Called by the
// unload guard when the page is going away and a blocking save is no
// longer possible.
func (s *BoardSession) BeaconFlush() {
	if s.beacon == nil {
		return
	}
	pending := s.coord.Pending()
	if pending == nil {
		return
	}
	s.beacon.Send(s.projectID, *pending)
}

// Close tears the session down: a final fire-and-forget flush of any
// pending snapshot, then a best-effort leave on the channel. Safe to
// call repeatedly.
func (s *BoardSession) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	pollFeed := s.pollFeed
	s.pollFeed = nil
	s.mu.Unlock()

	s.coord.Close()
	if pollFeed != nil {
		pollFeed.Stop()
	}
	if s.channel != nil {
		s.channel.Disconnect()
	}
	s.log.Info("Session closed")
}
