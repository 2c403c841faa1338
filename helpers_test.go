package hangr

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// ============================================================================
// Fake clock
// ============================================================================

type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	seq    int
	timers []*fakeTimer
}

type fakeTimer struct {
	clock *fakeClock
	at    time.Time
	seq   int
	fn    func()
}

func newFakeClock(start time.Time) *fakeClock {
	return &fakeClock{now: start}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, fn func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	t := &fakeTimer{clock: c, at: c.now.Add(d), seq: c.seq, fn: fn}
	c.timers = append(c.timers, t)
	return t
}

func (t *fakeTimer) Stop() bool {
	c := t.clock
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, other := range c.timers {
		if other == t {
			c.timers = append(c.timers[:i], c.timers[i+1:]...)
			return true
		}
	}
	return false
}

// Advance moves time forward, firing due timers synchronously in deadline
// order.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	for {
		sort.SliceStable(c.timers, func(i, j int) bool {
			if c.timers[i].at.Equal(c.timers[j].at) {
				return c.timers[i].seq < c.timers[j].seq
			}
			return c.timers[i].at.Before(c.timers[j].at)
		})
		if len(c.timers) == 0 || c.timers[0].at.After(target) {
			break
		}
		t := c.timers[0]
		c.timers = c.timers[1:]
		if t.at.After(c.now) {
			c.now = t.at
		}
		c.mu.Unlock()
		t.fn()
		c.mu.Lock()
	}
	c.now = target
	c.mu.Unlock()
}

// AdvanceTo moves time forward to t.
func (c *fakeClock) AdvanceTo(t time.Time) {
	c.Advance(t.Sub(c.Now()))
}

func (c *fakeClock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.timers)
}

// ============================================================================
// Inline executor
// ============================================================================

// inlineExecutor runs posted work immediately on the calling goroutine,
// queueing work posted while other work is running. Go runs inline too, so
// a whole RPC round trip completes before Post returns.
type inlineExecutor struct {
	running bool
	queue   []func()
}

func (e *inlineExecutor) Post(fn func()) {
	e.queue = append(e.queue, fn)
	if e.running {
		return
	}
	e.running = true
	for len(e.queue) > 0 {
		next := e.queue[0]
		e.queue = e.queue[1:]
		next()
	}
	e.running = false
}

func (e *inlineExecutor) Go(fn func()) { fn() }

// ============================================================================
// Fake remote
// ============================================================================

var errNotProgrammed = errors.New("fake remote: no response programmed")

type fakeRemote struct {
	handler NotificationHandler

	connectErrs []error
	connects    int
	onConnect   func()

	selfInfo        *GetSelfInfoResponse
	recent          *SyncRecentConversationsResponse
	conversation    *GetConversationResponse
	conversationErr error
	entities        map[string]Entity
	newEvents       *SyncAllNewEventsResponse
	watermarkResp   *Ack
	uploadID        string
	uploadErr       error
	sendErr         error
	onSend          func(req SendChatMessageRequest)

	entityCalls  [][]string
	syncSince    []Timestamp
	active       []bool
	activeDurs   []time.Duration
	sent         []SendChatMessageRequest
	uploads      []string
	focus        []FocusStatus
	typing       []TypingStatus
	watermarks   []Timestamp
	convRequests []int
	loggedOut    bool
}

var _ RemoteSession = (*fakeRemote)(nil)

func (f *fakeRemote) Bind(h NotificationHandler) { f.handler = h }

func (f *fakeRemote) Connect(ctx context.Context, creds CredentialProvider) error {
	f.connects++
	if f.onConnect != nil {
		f.onConnect()
	}
	if len(f.connectErrs) == 0 {
		return nil
	}
	err := f.connectErrs[0]
	f.connectErrs = f.connectErrs[1:]
	return err
}

func (f *fakeRemote) Logout(context.Context) error {
	f.loggedOut = true
	return nil
}

func (f *fakeRemote) GetSelfInfo(context.Context) (*GetSelfInfoResponse, error) {
	if f.selfInfo == nil {
		return nil, errNotProgrammed
	}
	return f.selfInfo, nil
}

func (f *fakeRemote) GetConversation(_ context.Context, _ ConversationID, _ Timestamp, count int, _ bool) (*GetConversationResponse, error) {
	f.convRequests = append(f.convRequests, count)
	if f.conversationErr != nil {
		return nil, f.conversationErr
	}
	if f.conversation == nil {
		return nil, errNotProgrammed
	}
	return f.conversation, nil
}

func (f *fakeRemote) GetEntities(_ context.Context, ids []string) (*GetEntitiesResponse, error) {
	f.entityCalls = append(f.entityCalls, append([]string(nil), ids...))
	resp := &GetEntitiesResponse{}
	for _, id := range ids {
		if e, ok := f.entities[id]; ok {
			resp.Entities = append(resp.Entities, e)
		}
	}
	return resp, nil
}

func (f *fakeRemote) SyncRecentConversations(context.Context) (*SyncRecentConversationsResponse, error) {
	if f.recent == nil {
		return nil, errNotProgrammed
	}
	return f.recent, nil
}

func (f *fakeRemote) SyncAllNewEvents(_ context.Context, since Timestamp) (*SyncAllNewEventsResponse, error) {
	f.syncSince = append(f.syncSince, since)
	if f.newEvents == nil {
		return nil, errNotProgrammed
	}
	return f.newEvents, nil
}

func (f *fakeRemote) UpdateWatermark(_ context.Context, _ ConversationID, ts Timestamp) (*Ack, error) {
	f.watermarks = append(f.watermarks, ts)
	if f.watermarkResp != nil {
		return f.watermarkResp, nil
	}
	return &Ack{}, nil
}

func (f *fakeRemote) UploadImage(_ context.Context, path string) (string, error) {
	f.uploads = append(f.uploads, path)
	return f.uploadID, f.uploadErr
}

func (f *fakeRemote) SendChatMessage(_ context.Context, req SendChatMessageRequest) (*SendChatMessageResponse, error) {
	f.sent = append(f.sent, req)
	if f.onSend != nil {
		f.onSend(req)
	}
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	return &SendChatMessageResponse{CreatedEvent: Event{
		ConversationID:    req.ConversationID,
		EventID:           "sent-" + req.ClientGeneratedID,
		Category:          CategoryChatMessage,
		ClientGeneratedID: req.ClientGeneratedID,
		Message:           &ChatMessage{Segments: req.Segments},
	}}, nil
}

func (f *fakeRemote) SetFocus(_ context.Context, _ ConversationID, status FocusStatus, _ time.Duration) (*Ack, error) {
	f.focus = append(f.focus, status)
	return &Ack{}, nil
}

func (f *fakeRemote) SetTyping(_ context.Context, _ ConversationID, status TypingStatus) (*Ack, error) {
	f.typing = append(f.typing, status)
	return &Ack{}, nil
}

func (f *fakeRemote) SetActiveClient(_ context.Context, active bool, d time.Duration) (*Ack, error) {
	f.active = append(f.active, active)
	f.activeDurs = append(f.activeDurs, d)
	return &Ack{}, nil
}

// ============================================================================
// Harness
// ============================================================================

var testEpoch = time.UnixMilli(1_000_000)

type harness struct {
	t       *testing.T
	m       *Manager
	remote  *fakeRemote
	clock   *fakeClock
	power   *PowerEvents
	updates []Update
}

func newHarness(t *testing.T, mutate ...func(*ManagerConfig)) *harness {
	t.Helper()
	h := &harness{
		t:      t,
		remote: &fakeRemote{},
		clock:  newFakeClock(testEpoch),
		power:  &PowerEvents{},
	}
	cfg := ManagerConfig{
		Remote:       h.remote,
		Credentials:  StaticToken("token"),
		PowerMonitor: h.power,
		Clock:        h.clock,
		Executor:     &inlineExecutor{},
	}
	for _, fn := range mutate {
		fn(&cfg)
	}
	m, err := NewManager(cfg)
	require.NoError(t, err)
	h.m = m
	m.Subscribe(func(u Update) { h.updates = append(h.updates, u) })
	t.Cleanup(m.Close)
	return h
}

// open connects with the given conversations as the full sync result.
func (h *harness) open(states ...*ConversationState) {
	h.t.Helper()
	h.remote.recent = &SyncRecentConversationsResponse{ConversationStates: states}
	h.m.Open()
	require.Equal(h.t, StateConnected, h.m.state)
}

func (h *harness) reset() { h.updates = nil }

func (h *harness) kinds() []Kind {
	out := make([]Kind, 0, len(h.updates))
	for _, u := range h.updates {
		out = append(out, u.Kind())
	}
	return out
}

func (h *harness) delays() []time.Duration {
	var out []time.Duration
	for _, u := range h.updates {
		if r, ok := u.(Reconnecting); ok {
			out = append(out, r.Delay)
		}
	}
	return out
}

func conv(id ConversationID, events ...Event) *ConversationState {
	return &ConversationState{
		ConversationID: id,
		Conversation: &Conversation{
			ID: id,
			SelfState: SelfConversationState{
				SelfReadState: ReadState{Participant: ParticipantID{ChatID: "me"}},
			},
		},
		Events: events,
	}
}

func ev(id ConversationID, eventID string) Event {
	return Event{ConversationID: id, EventID: eventID, Category: CategoryChatMessage}
}

func eventIDs(events []Event) []string {
	out := make([]string, 0, len(events))
	for _, e := range events {
		out = append(out, e.EventID)
	}
	return out
}
