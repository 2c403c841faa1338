package hangr

import (
	"sync"

	"github.com/rs/zerolog"
)

// ============================================================================
// ConversationCache
// ============================================================================

// ConversationCache holds the recent conversations of the current session in
// sync order, indexed by canonical conversation id. It is memory-only and is
// discarded on every reconnect.
//
// Until Reset is called with the result of a full sync the cache is
// unloaded: lookups miss and live events for unknown conversations are
// dropped rather than queued.
type ConversationCache struct {
	log zerolog.Logger

	mu      sync.RWMutex
	loaded  bool
	entries []*ConversationState
	index   map[ConversationID]*ConversationState
}

// NewConversationCache creates an empty, unloaded cache.
func NewConversationCache(log zerolog.Logger) *ConversationCache {
	return &ConversationCache{
		log:   log.With().Str("component", "conversation-cache").Logger(),
		index: make(map[ConversationID]*ConversationState),
	}
}

// Loaded reports whether a full sync has populated the cache.
func (c *ConversationCache) Loaded() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.loaded
}

// Len returns the number of entries.
func (c *ConversationCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Reset replaces the whole cache with the result of a full sync.
func (c *ConversationCache) Reset(states []*ConversationState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.loaded = true
	c.entries = make([]*ConversationState, 0, len(states))
	c.index = make(map[ConversationID]*ConversationState, len(states))
	for _, s := range states {
		c.insertLocked(s.Clone())
	}
}

// Clear discards every entry and marks the cache unloaded.
func (c *ConversationCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.loaded = false
	c.entries = nil
	c.index = make(map[ConversationID]*ConversationState)
}

// Get returns a copy of the entry for id.
func (c *ConversationCache) Get(id ConversationID) (*ConversationState, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.index[id]
	if !ok {
		return nil, false
	}
	return s.Clone(), true
}

// Snapshot returns a deep copy of every entry in cache order.
func (c *ConversationCache) Snapshot() []*ConversationState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return cloneStates(c.entries)
}

// Filter returns a deep copy of the entry for id as a one-element list, or
// an empty list when the conversation is not cached.
func (c *ConversationCache) Filter(id ConversationID) []*ConversationState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if s, ok := c.index[id]; ok {
		return []*ConversationState{s.Clone()}
	}
	return []*ConversationState{}
}

// ----------------------------------------------------------------------------
// Live traffic
// ----------------------------------------------------------------------------

// Append pushes e onto the tail of the entry for id. When no entry exists
// and the cache is loaded, a pending entry holding only e is created.
// It reports whether an entry already existed.
func (c *ConversationCache) Append(id ConversationID, e Event) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.index[id]; ok {
		s.Events = append(s.Events, e)
		return true
	}
	if !c.loaded {
		c.log.Debug().Str("conversation", string(id)).Msg("cache not loaded; dropping live event")
		return false
	}
	c.insertLocked(&ConversationState{ConversationID: id, Events: []Event{e}})
	return false
}

// AppendExisting pushes e onto the tail of an existing entry only.
func (c *ConversationCache) AppendExisting(id ConversationID, e Event) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.index[id]
	if !ok {
		c.log.Warn().Str("conversation", string(id)).Msg("append: unknown conversation")
		return false
	}
	s.Events = append(s.Events, e)
	return true
}

// Promotion is the result of Promote.
type Promotion struct {
	// Snapshot is the updated entry as consumers should see it.
	Snapshot *ConversationState
	// Received is the queued event that triggered creation, when the entry
	// was pending.
	Received *Event
}

// Promote applies conversation metadata from a conversation-created
// notification. A pending entry has its most recent event popped, gets its
// metadata, is snapshotted without that event, and has the event pushed
// back. The caller announces Snapshot first and Received second. An entry
// that already had metadata only has it replaced. ok is false when the
// conversation is not cached.
func (c *ConversationCache) Promote(conv *Conversation) (p Promotion, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.index[conv.ID]
	if !ok {
		return Promotion{}, false
	}

	if !s.Pending() {
		s.Conversation = conv.Clone()
		return Promotion{Snapshot: s.Clone()}, true
	}

	s.Conversation = conv.Clone()
	if len(s.Events) == 0 {
		return Promotion{Snapshot: s.Clone()}, true
	}
	last := s.Events[len(s.Events)-1]
	s.Events = s.Events[:len(s.Events)-1]
	p.Snapshot = s.Clone()
	s.Events = append(s.Events, last)
	p.Received = &last
	return p, true
}

// Insert adds a metadata-only entry for a conversation not seen before.
func (c *ConversationCache) Insert(conv *Conversation) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.loaded {
		return false
	}
	if _, ok := c.index[conv.ID]; ok {
		return false
	}
	c.insertLocked(&ConversationState{
		ConversationID: conv.ID,
		Conversation:   conv.Clone(),
		Events:         []Event{},
	})
	return true
}

// ----------------------------------------------------------------------------
// Merges
// ----------------------------------------------------------------------------

// MergeFull merges the result of a single-conversation history fetch: the
// read states are replaced and the fetched events are placed ahead of any
// events already cached from live traffic.
func (c *ConversationCache) MergeFull(state *ConversationState) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.lookupForMergeLocked(state, "merge full")
	if !ok {
		return false
	}
	c.adoptReadStatesLocked(s, state, false)
	fetched := newEvents(s.Events, state.Events)
	s.Events = append(fetched, s.Events...)
	return true
}

// MergeIncremental merges the result of a catch-up sync: read states and
// self state are replaced and the fetched events are appended after the
// cached ones.
func (c *ConversationCache) MergeIncremental(state *ConversationState) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.lookupForMergeLocked(state, "merge incremental")
	if !ok {
		return false
	}
	c.adoptReadStatesLocked(s, state, true)
	s.Events = append(s.Events, newEvents(s.Events, state.Events)...)
	return true
}

// ----------------------------------------------------------------------------
// Read positions
// ----------------------------------------------------------------------------

// UpdateWatermark records a participant's read position. The participant's
// read state is updated, and so is the self read state when it belongs to
// the same participant.
func (c *ConversationCache) UpdateWatermark(n WatermarkNotification) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.index[n.ConversationID]
	if !ok || s.Conversation == nil {
		return false
	}
	for i := range s.Conversation.ReadStates {
		rs := &s.Conversation.ReadStates[i]
		if rs.Participant.ChatID == n.Participant.ChatID {
			rs.LatestReadTimestamp = n.LatestReadTimestamp
			break
		}
	}
	self := &s.Conversation.SelfState.SelfReadState
	if self.Participant.ChatID == n.Participant.ChatID {
		self.LatestReadTimestamp = n.LatestReadTimestamp
	}
	return true
}

// SetSelfRead records the local user's read position.
func (c *ConversationCache) SetSelfRead(id ConversationID, ts Timestamp) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.index[id]
	if !ok || s.Conversation == nil {
		c.log.Warn().Str("conversation", string(id)).Msg("set self read: unknown conversation")
		return false
	}
	s.Conversation.SelfState.SelfReadState.LatestReadTimestamp = ts
	return true
}

// RemoveEvents drops the given events from an entry.
func (c *ConversationCache) RemoveEvents(id ConversationID, eventIDs []string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.index[id]
	if !ok {
		return 0
	}
	drop := make(map[string]struct{}, len(eventIDs))
	for _, eid := range eventIDs {
		drop[eid] = struct{}{}
	}
	kept := s.Events[:0]
	removed := 0
	for _, e := range s.Events {
		if _, ok := drop[e.EventID]; ok && e.EventID != "" {
			removed++
			continue
		}
		kept = append(kept, e)
	}
	s.Events = kept
	return removed
}

// ----------------------------------------------------------------------------
// Internals
// ----------------------------------------------------------------------------

func (c *ConversationCache) insertLocked(s *ConversationState) {
	if s.ConversationID == "" && s.Conversation != nil {
		s.ConversationID = s.Conversation.ID
	}
	if s.Events == nil {
		s.Events = []Event{}
	}
	c.entries = append(c.entries, s)
	c.index[s.ConversationID] = s
}

func (c *ConversationCache) lookupForMergeLocked(state *ConversationState, op string) (*ConversationState, bool) {
	id := state.ConversationID
	if id == "" && state.Conversation != nil {
		id = state.Conversation.ID
	}
	s, ok := c.index[id]
	if !ok {
		c.log.Warn().Str("conversation", string(id)).Msgf("%s: unknown conversation", op)
		return nil, false
	}
	return s, true
}

// adoptReadStatesLocked copies read positions from a fetched state. Pending
// entries are left without metadata so Promote still announces their event.
func (c *ConversationCache) adoptReadStatesLocked(s, state *ConversationState, withSelf bool) {
	if state.Conversation == nil || s.Pending() {
		return
	}
	s.Conversation.ReadStates = append([]ReadState(nil), state.Conversation.ReadStates...)
	if withSelf {
		s.Conversation.SelfState = state.Conversation.SelfState
	}
}

// newEvents returns the fetched events not already present in cached.
// Events without an id are always kept.
func newEvents(cached, fetched []Event) []Event {
	seen := make(map[string]struct{}, len(cached))
	for _, e := range cached {
		if e.EventID != "" {
			seen[e.EventID] = struct{}{}
		}
	}
	out := make([]Event, 0, len(fetched))
	for _, e := range fetched {
		if e.EventID != "" {
			if _, dup := seen[e.EventID]; dup {
				continue
			}
			seen[e.EventID] = struct{}{}
		}
		out = append(out, e)
	}
	return out
}
