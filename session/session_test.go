package session

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"boardsync/autosave"
	"boardsync/collab"
	"boardsync/core"
	"boardsync/stores/memory"
)

type fakeTransport struct {
	mu       sync.Mutex
	sent     []collab.Message
	incoming chan collab.Message
	closed   bool
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{incoming: make(chan collab.Message, 16)}
}

func (t *fakeTransport) Send(msg collab.Message) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sent = append(t.sent, msg)
	return nil
}

func (t *fakeTransport) Receive() (collab.Message, error) {
	msg, ok := <-t.incoming
	if !ok {
		return collab.Message{}, errors.New("transport closed")
	}
	return msg, nil
}

func (t *fakeTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.closed {
		t.closed = true
		close(t.incoming)
	}
	return nil
}

func (t *fakeTransport) sentTypes() []collab.MessageType {
	t.mu.Lock()
	defer t.mu.Unlock()
	types := make([]collab.MessageType, 0, len(t.sent))
	for _, msg := range t.sent {
		types = append(types, msg.Type)
	}
	return types
}

type fakeDialer struct {
	transport *fakeTransport
	err       error
}

func (d *fakeDialer) Dial(ctx context.Context, projectID string) (collab.Transport, error) {
	if d.err != nil {
		return nil, d.err
	}
	return d.transport, nil
}

func fastOptions(store core.BoardStore, dialer collab.Dialer) Options {
	return Options{
		Store:         store,
		Dialer:        dialer,
		ParticipantID: "me",
		DisplayName:   "Me",
		Autosave: autosave.Options{
			InputDebounce: 10 * time.Millisecond,
			SaveDelay:     20 * time.Millisecond,
			FollowUpDelay: 5 * time.Millisecond,
		},
		Channel: collab.Options{
			ElementInterval: time.Millisecond,
			CursorInterval:  time.Millisecond,
		},
	}
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition never became true")
}

func elementsOf(ids ...string) []core.Element {
	elements := make([]core.Element, 0, len(ids))
	for i, id := range ids {
		elements = append(elements, core.Element{ID: id, Version: int64(i) + 1})
	}
	return elements
}

func TestLoad_BlankBoardAndJoinAnnouncement(t *testing.T) {
	transport := newFakeTransport()
	s := New("proj-1", fastOptions(memory.NewStore(), &fakeDialer{transport: transport}))
	defer s.Close()

	record, err := s.Load(context.Background())
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if len(record.Snapshot.Elements) != 0 {
		t.Error("first load should return a blank board")
	}
	if s.Unsaved() {
		t.Error("freshly loaded board should not be unsaved")
	}

	types := transport.sentTypes()
	if len(types) == 0 || types[0] != collab.MessageJoin {
		t.Errorf("channel should announce join on load, sent: %v", types)
	}
}

func TestLoad_ChannelFailureDegradesToSolo(t *testing.T) {
	store := memory.NewStore()
	s := New("proj-1", fastOptions(store, &fakeDialer{err: errors.New("refused")}))
	defer s.Close()

	if _, err := s.Load(context.Background()); err != nil {
		t.Fatalf("Load() should succeed without a channel: %v", err)
	}
	if s.ChannelConnected() {
		t.Error("channel should not report connected")
	}

	// Editing and saving still work solo.
	if !s.ApplyChange(elementsOf("r1"), core.ViewState{}, nil) {
		t.Fatal("change should be accepted")
	}
	if err := s.ForceSave(context.Background()); err != nil {
		t.Fatalf("ForceSave() failed: %v", err)
	}
	record, _ := store.GetOrCreate(context.Background(), "proj-1")
	if len(record.Snapshot.Elements) != 1 {
		t.Errorf("snapshot not persisted: %+v", record.Snapshot)
	}
}

func TestLoad_PollFallbackDeliversRemoteSaves(t *testing.T) {
	store := memory.NewStore()
	opts := fastOptions(store, &fakeDialer{err: errors.New("refused")})
	opts.PollInterval = 5 * time.Millisecond
	s := New("proj-1", opts)
	defer s.Close()

	if _, err := s.Load(context.Background()); err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	// Another participant saves through the shared store.
	if _, err := store.Save(context.Background(), "proj-1", core.Snapshot{
		Elements: elementsOf("remote-1"),
	}); err != nil {
		t.Fatalf("seeding remote save failed: %v", err)
	}

	waitFor(t, time.Second, func() bool {
		snapshot := s.Snapshot()
		return len(snapshot.Elements) == 1 && snapshot.Elements[0].ID == "remote-1"
	})
}

func TestApplyChange_DebouncedSaveAndBroadcast(t *testing.T) {
	store := memory.NewStore()
	transport := newFakeTransport()
	s := New("proj-1", fastOptions(store, &fakeDialer{transport: transport}))
	defer s.Close()

	if _, err := s.Load(context.Background()); err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if !s.ApplyChange(elementsOf("r1"), core.ViewState{}, nil) {
		t.Fatal("change should be accepted")
	}
	if !s.Unsaved() {
		t.Error("pending change should report unsaved")
	}

	waitFor(t, time.Second, func() bool { return !s.Unsaved() })

	record, _ := store.GetOrCreate(context.Background(), "proj-1")
	if len(record.Snapshot.Elements) != 1 || record.Snapshot.Elements[0].ID != "r1" {
		t.Errorf("persisted snapshot mismatch: %+v", record.Snapshot)
	}
	if s.LastSavedAt().IsZero() {
		t.Error("LastSavedAt should be set after the save")
	}

	sawElements := false
	for _, typ := range transport.sentTypes() {
		if typ == collab.MessageElements {
			sawElements = true
		}
	}
	if !sawElements {
		t.Error("accepted change should be broadcast")
	}
}

func TestApplyChange_NoOpIsSuppressed(t *testing.T) {
	transport := newFakeTransport()
	s := New("proj-1", fastOptions(memory.NewStore(), &fakeDialer{transport: transport}))
	defer s.Close()

	if _, err := s.Load(context.Background()); err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	elements := elementsOf("r1")
	if !s.ApplyChange(elements, core.ViewState{}, nil) {
		t.Fatal("first change should be accepted")
	}
	if s.ApplyChange(elements, core.ViewState{}, nil) {
		t.Error("identical change should be suppressed")
	}

	count := 0
	for _, typ := range transport.sentTypes() {
		if typ == collab.MessageElements {
			count++
		}
	}
	if count != 1 {
		t.Errorf("broadcast count mismatch: got %d, want 1", count)
	}
}

func TestRemoteElements_UpdateViewWithoutSaving(t *testing.T) {
	store := memory.NewStore()
	transport := newFakeTransport()
	s := New("proj-1", fastOptions(store, &fakeDialer{transport: transport}))
	defer s.Close()

	if _, err := s.Load(context.Background()); err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	transport.incoming <- collab.Message{
		Type:          collab.MessageElements,
		ParticipantID: "peer",
		Elements:      elementsOf("remote-1"),
	}

	waitFor(t, time.Second, func() bool {
		snapshot := s.Snapshot()
		return len(snapshot.Elements) == 1 && snapshot.Elements[0].ID == "remote-1"
	})

	if s.Unsaved() {
		t.Error("remote broadcast must not enter the save path")
	}
}

func TestExportJSON_ContainsLocalState(t *testing.T) {
	s := New("proj-1", Options{Store: memory.NewStore()})
	defer s.Close()

	if _, err := s.Load(context.Background()); err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	s.ApplyChange(elementsOf("r1"), core.ViewState{BackgroundColor: "#fff"}, nil)

	data, err := s.ExportJSON()
	if err != nil {
		t.Fatalf("ExportJSON() failed: %v", err)
	}
	var snapshot core.Snapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		t.Fatalf("export is not valid JSON: %v", err)
	}
	if len(snapshot.Elements) != 1 || snapshot.ViewState.BackgroundColor != "#fff" {
		t.Errorf("export mismatch: %+v", snapshot)
	}
}

func TestClose_SendsLeaveAndRejectsFurtherChanges(t *testing.T) {
	transport := newFakeTransport()
	s := New("proj-1", fastOptions(memory.NewStore(), &fakeDialer{transport: transport}))

	if _, err := s.Load(context.Background()); err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	s.Close()

	types := transport.sentTypes()
	if len(types) == 0 || types[len(types)-1] != collab.MessageLeave {
		t.Errorf("close should send a leave frame, sent: %v", types)
	}
	if s.ApplyChange(elementsOf("r1"), core.ViewState{}, nil) {
		t.Error("closed session should reject changes")
	}
	s.Close() // idempotent
}

func TestBeaconFlush_PostsPendingSnapshot(t *testing.T) {
	received := make(chan beaconPayload, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload beaconPayload
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Errorf("decoding beacon payload failed: %v", err)
		}
		received <- payload
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	opts := fastOptions(memory.NewStore(), nil)
	// Long delays so the snapshot is still pending when the beacon fires.
	opts.Autosave = autosave.Options{InputDebounce: time.Hour, SaveDelay: time.Hour}
	opts.Beacon = &Beacon{Endpoint: server.URL}
	s := New("proj-1", opts)

	if _, err := s.Load(context.Background()); err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	s.ApplyChange(elementsOf("r1"), core.ViewState{}, nil)
	s.BeaconFlush()

	select {
	case payload := <-received:
		if payload.ProjectID != "proj-1" || len(payload.Snapshot.Elements) != 1 {
			t.Errorf("beacon payload mismatch: %+v", payload)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("beacon request never arrived")
	}
}

func TestBeaconFlush_NoOpWithoutPendingChanges(t *testing.T) {
	requests := make(chan struct{}, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests <- struct{}{}
	}))
	defer server.Close()

	opts := fastOptions(memory.NewStore(), nil)
	opts.Beacon = &Beacon{Endpoint: server.URL}
	s := New("proj-1", opts)
	defer s.Close()

	if _, err := s.Load(context.Background()); err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	s.BeaconFlush()

	select {
	case <-requests:
		t.Error("beacon should not fire without pending changes")
	case <-time.After(50 * time.Millisecond):
	}
}
