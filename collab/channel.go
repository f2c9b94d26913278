// Package collab implements the presence and broadcast channel: a
// per-project topic carrying element-batch and cursor broadcasts between
// connected viewers, plus a membership roster with stale-entry eviction.
// The channel is best-effort view sync; it never participates in the
// save path and degrades to solo editing when unavailable.
package collab

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"boardsync/core"

	"github.com/sirupsen/logrus"
)

const (
	// DefaultElementInterval bounds element broadcasts during continuous
	// dragging.
	DefaultElementInterval = 50 * time.Millisecond

	// DefaultCursorInterval throttles cursor broadcasts harder; they are
	// purely cosmetic.
	DefaultCursorInterval = 2 * DefaultElementInterval

	// DefaultSweepInterval is how often the roster is checked for silent
	// disconnects.
	DefaultSweepInterval = 10 * time.Second

	// DefaultStaleAfter is the inactivity threshold before a collaborator
	// is evicted without an explicit leave.
	DefaultStaleAfter = 30 * time.Second
)

type (
	// Options tune one channel. Zero durations fall back to defaults.
	Options struct {
		ElementInterval time.Duration
		CursorInterval  time.Duration
		SweepInterval   time.Duration
		StaleAfter      time.Duration

		// OnElements receives foreign element broadcasts so the local
		// drawing surface can be updated. Own broadcasts never reach it.
		OnElements func(elements []core.Element)

		// OnPresence receives the visible-collaborator list (self
		// excluded) whenever it changes.
		OnPresence func(participants []core.Participant)

		// OnStateChange reports connection-state transitions for UI
		// display ("reconnecting…").
		OnStateChange func(connected bool)
	}

	// Channel is one participant's handle on a project topic.
	Channel struct {
		dialer        Dialer
		projectID     string
		participantID string
		displayName   string
		color         string
		opts          Options
		log           *logrus.Entry

		mu              sync.Mutex
		transport       Transport
		connected       bool
		done            chan struct{}
		roster          map[string]*core.Participant
		lastElement     time.Time
		lastCursor      time.Time
		pendingElements []core.Element
		elementTimer    *time.Timer
	}
)

// NewChannel creates a channel for one participant on one project. The
// dialer is injected; nothing here touches ambient globals.
func NewChannel(dialer Dialer, projectID, participantID, displayName string, opts Options) *Channel {
	if opts.ElementInterval <= 0 {
		opts.ElementInterval = DefaultElementInterval
	}
	if opts.CursorInterval <= 0 {
		opts.CursorInterval = DefaultCursorInterval
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = DefaultSweepInterval
	}
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = DefaultStaleAfter
	}
	return &Channel{
		dialer:        dialer,
		projectID:     projectID,
		participantID: participantID,
		displayName:   displayName,
		color:         ColorFor(participantID),
		opts:          opts,
		roster:        make(map[string]*core.Participant),
		log: logrus.WithFields(logrus.Fields{
			"component":      "collab",
			"project_id":     projectID,
			"participant_id": participantID,
		}),
	}
}

// Color returns this participant's assigned cursor color.
func (ch *Channel) Color() string {
	return ch.color
}

// Connected reports whether the channel currently has a live transport.
func (ch *Channel) Connected() bool {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.connected
}

// Connect dials the topic and announces presence. Errors wrap
// core.ErrChannelUnavailable; callers treat them as a degraded mode, not
// a failure of the board itself.
func (ch *Channel) Connect(ctx context.Context) error {
	ch.mu.Lock()
	if ch.connected {
		ch.mu.Unlock()
		return nil
	}
	ch.mu.Unlock()

	transport, err := ch.dialer.Dial(ctx, ch.projectID)
	if err != nil {
		return fmt.Errorf("%w: %v", core.ErrChannelUnavailable, err)
	}

	join := Message{
		Type:          MessageJoin,
		ProjectID:     ch.projectID,
		ParticipantID: ch.participantID,
		DisplayName:   ch.displayName,
		Color:         ch.color,
		Timestamp:     time.Now().UnixMilli(),
	}
	if err := transport.Send(join); err != nil {
		transport.Close()
		return fmt.Errorf("%w: %v", core.ErrChannelUnavailable, err)
	}

	done := make(chan struct{})
	ch.mu.Lock()
	ch.transport = transport
	ch.connected = true
	ch.done = done
	ch.mu.Unlock()

	go ch.readLoop(transport, done)
	go ch.sweepLoop(done)

	ch.notifyState(true)
	ch.log.Info("Channel connected")
	return nil
}

// Disconnect leaves the topic and clears local collaborator state. Safe
// to call repeatedly.
func (ch *Channel) Disconnect() {
	ch.mu.Lock()
	if !ch.connected {
		ch.mu.Unlock()
		return
	}
	transport := ch.transport
	done := ch.done
	ch.transport = nil
	ch.connected = false
	ch.done = nil
	ch.roster = make(map[string]*core.Participant)
	if ch.elementTimer != nil {
		ch.elementTimer.Stop()
		ch.elementTimer = nil
	}
	ch.pendingElements = nil
	ch.mu.Unlock()

	close(done)
	// Best effort; the sweep on other clients covers a lost leave.
	_ = transport.Send(Message{
		Type:          MessageLeave,
		ProjectID:     ch.projectID,
		ParticipantID: ch.participantID,
		Timestamp:     time.Now().UnixMilli(),
	})
	transport.Close()

	ch.notifyPresence(nil)
	ch.notifyState(false)
	ch.log.Info("Channel disconnected")
}

// BroadcastElements publishes the local element list. Throttled with
// trailing-edge delivery: a batch arriving inside the window is buffered
// and sent when the window expires, so the final frame of a drag is
// never lost. Silently a no-op while disconnected.
func (ch *Channel) BroadcastElements(elements []core.Element) {
	ch.mu.Lock()
	if !ch.connected {
		ch.mu.Unlock()
		return
	}
	now := time.Now()
	if wait := ch.opts.ElementInterval - now.Sub(ch.lastElement); wait > 0 {
		ch.pendingElements = elements
		if ch.elementTimer == nil {
			ch.elementTimer = time.AfterFunc(wait, ch.flushPendingElements)
		}
		ch.mu.Unlock()
		return
	}
	ch.lastElement = now
	transport := ch.transport
	ch.mu.Unlock()

	ch.sendElements(transport, elements, now)
}

// flushPendingElements delivers the newest batch buffered during the
// throttle window.
func (ch *Channel) flushPendingElements() {
	ch.mu.Lock()
	ch.elementTimer = nil
	elements := ch.pendingElements
	ch.pendingElements = nil
	if elements == nil || !ch.connected {
		ch.mu.Unlock()
		return
	}
	now := time.Now()
	ch.lastElement = now
	transport := ch.transport
	ch.mu.Unlock()

	ch.sendElements(transport, elements, now)
}

func (ch *Channel) sendElements(transport Transport, elements []core.Element, now time.Time) {
	err := transport.Send(Message{
		Type:          MessageElements,
		ProjectID:     ch.projectID,
		ParticipantID: ch.participantID,
		Elements:      elements,
		Timestamp:     now.UnixMilli(),
	})
	if err != nil {
		ch.log.WithError(err).Warn("Element broadcast failed")
	}
}

// BroadcastCursor publishes a pointer position. Throttled harder than
// elements; silently a no-op while disconnected.
func (ch *Channel) BroadcastCursor(x, y float64) {
	ch.mu.Lock()
	if !ch.connected {
		ch.mu.Unlock()
		return
	}
	now := time.Now()
	if now.Sub(ch.lastCursor) < ch.opts.CursorInterval {
		ch.mu.Unlock()
		return
	}
	ch.lastCursor = now
	transport := ch.transport
	ch.mu.Unlock()

	err := transport.Send(Message{
		Type:          MessageCursor,
		ProjectID:     ch.projectID,
		ParticipantID: ch.participantID,
		DisplayName:   ch.displayName,
		Color:         ch.color,
		X:             x,
		Y:             y,
		Timestamp:     now.UnixMilli(),
	})
	if err != nil {
		ch.log.WithError(err).Warn("Cursor broadcast failed")
	}
}

// Collaborators returns the visible roster (self excluded), stable order.
func (ch *Channel) Collaborators() []core.Participant {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.rosterSnapshotLocked()
}

func (ch *Channel) rosterSnapshotLocked() []core.Participant {
	participants := make([]core.Participant, 0, len(ch.roster))
	for _, p := range ch.roster {
		participants = append(participants, *p)
	}
	sort.Slice(participants, func(i, j int) bool {
		return participants[i].ID < participants[j].ID
	})
	return participants
}

func (ch *Channel) readLoop(transport Transport, done chan struct{}) {
	for {
		msg, err := transport.Receive()
		if err != nil {
			select {
			case <-done:
				return // deliberate disconnect
			default:
			}
			ch.mu.Lock()
			if ch.transport == transport {
				ch.connected = false
				ch.transport = nil
				ch.roster = make(map[string]*core.Participant)
			}
			ch.mu.Unlock()
			ch.log.WithError(err).Warn("Channel connection lost")
			ch.notifyPresence(nil)
			ch.notifyState(false)
			return
		}
		ch.handle(msg)
	}
}

func (ch *Channel) handle(msg Message) {
	// Never react to our own broadcasts.
	if msg.ParticipantID == ch.participantID && msg.Type != MessageSync {
		return
	}

	switch msg.Type {
	case MessageElements:
		ch.touch(msg, nil)
		if ch.opts.OnElements != nil {
			ch.opts.OnElements(msg.Elements)
		}

	case MessageCursor:
		ch.touch(msg, &core.CursorPos{X: msg.X, Y: msg.Y})
		ch.notifyPresence(ch.Collaborators())

	case MessageJoin:
		ch.touch(msg, nil)
		ch.notifyPresence(ch.Collaborators())

	case MessageLeave:
		ch.mu.Lock()
		delete(ch.roster, msg.ParticipantID)
		ch.mu.Unlock()
		ch.notifyPresence(ch.Collaborators())

	case MessageSync:
		ch.mu.Lock()
		ch.roster = make(map[string]*core.Participant, len(msg.Participants))
		for _, p := range msg.Participants {
			if p.ID == ch.participantID {
				continue
			}
			entry := p
			if entry.Color == "" {
				entry.Color = ColorFor(entry.ID)
			}
			if entry.LastActiveAt.IsZero() {
				entry.LastActiveAt = time.Now()
			}
			ch.roster[entry.ID] = &entry
		}
		ch.mu.Unlock()
		ch.notifyPresence(ch.Collaborators())
	}
}

// touch refreshes (or creates) the roster entry for the message sender.
func (ch *Channel) touch(msg Message, cursor *core.CursorPos) {
	ch.mu.Lock()
	defer ch.mu.Unlock()

	entry, ok := ch.roster[msg.ParticipantID]
	if !ok {
		entry = &core.Participant{
			ID:    msg.ParticipantID,
			Color: ColorFor(msg.ParticipantID),
		}
		ch.roster[msg.ParticipantID] = entry
	}
	if msg.DisplayName != "" {
		entry.DisplayName = msg.DisplayName
	}
	if msg.Color != "" {
		entry.Color = msg.Color
	}
	if cursor != nil {
		entry.Cursor = cursor
	}
	entry.LastActiveAt = time.Now()
}

// sweepLoop evicts roster entries whose last activity exceeds the
// staleness threshold, covering closed tabs and lost networks that never
// sent a leave.
func (ch *Channel) sweepLoop(done chan struct{}) {
	ticker := time.NewTicker(ch.opts.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			ch.mu.Lock()
			cutoff := time.Now().Add(-ch.opts.StaleAfter)
			evicted := 0
			for id, p := range ch.roster {
				if p.LastActiveAt.Before(cutoff) {
					delete(ch.roster, id)
					evicted++
				}
			}
			var roster []core.Participant
			if evicted > 0 {
				roster = ch.rosterSnapshotLocked()
			}
			ch.mu.Unlock()

			if evicted > 0 {
				ch.log.WithField("evicted", evicted).Debug("Swept stale collaborators")
				ch.notifyPresence(roster)
			}
		}
	}
}

func (ch *Channel) notifyPresence(participants []core.Participant) {
	if ch.opts.OnPresence != nil {
		ch.opts.OnPresence(participants)
	}
}

func (ch *Channel) notifyState(connected bool) {
	if ch.opts.OnStateChange != nil {
		ch.opts.OnStateChange(connected)
	}
}
