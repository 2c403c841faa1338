package hangr

import (
	"context"

	"github.com/google/uuid"
)

// ============================================================================
// Queries
// ============================================================================

// GetConversation fetches up to count events older than olderThan, with
// metadata, and merges them ahead of the cached events. A count <= 0 uses
// the configured page size.
func (m *Manager) GetConversation(id ConversationID, olderThan Timestamp, count int) {
	if count <= 0 {
		count = m.cfg.ConversationPageSize
	}
	m.exec.Post(func() {
		rpc := func(ctx context.Context) (*GetConversationResponse, error) {
			return m.remote.GetConversation(ctx, id, olderThan, count, true)
		}
		request(m, "getConversation", rpc, func(resp *GetConversationResponse) {
			state := resp.ConversationState
			if state == nil {
				m.log.Warn().Str("conversation", string(id)).Msg("getConversation: empty response")
				return
			}
			if state.ConversationID == "" {
				state.ConversationID = id
			}
			m.emit(GotConversation{Scope: scope(id), State: state.Clone()})
			m.cache.MergeFull(state)
		})
	})
}

// GetEntities serves the known entities from the cache and fetches the
// rest. Each batch is emitted as GotEntities.
func (m *Manager) GetEntities(chatIDs []string) {
	m.exec.Post(func() {
		cached, missing := m.entities.Partition(chatIDs)
		if len(cached) > 0 {
			m.log.Debug().Int("count", len(cached)).Msg("getEntities: served from cache")
			m.emit(GotEntities{Entities: cached})
		}
		if len(missing) == 0 {
			return
		}
		rpc := func(ctx context.Context) (*GetEntitiesResponse, error) {
			return m.remote.GetEntities(ctx, missing)
		}
		request(m, "getEntities", rpc, func(resp *GetEntitiesResponse) {
			m.emit(GotEntities{Entities: resp.Entities})
			m.entities.Add(resp.Entities...)
			m.metrics.CachedEntities.Set(float64(m.entities.Len()))
		})
	})
}

// GetEventsSince fetches every event newer than since and appends them to
// the cached conversations.
func (m *Manager) GetEventsSince(since Timestamp) {
	m.exec.Post(func() { m.syncSince(since, false) })
}

func (m *Manager) syncSince(since Timestamp, catchUp bool) {
	if catchUp {
		m.metrics.CatchUps.Inc()
	}
	rpc := func(ctx context.Context) (*SyncAllNewEventsResponse, error) {
		return m.remote.SyncAllNewEvents(ctx, since)
	}
	request(m, "syncAllNewEvents", rpc, func(resp *SyncAllNewEventsResponse) {
		if resp.ConversationStates == nil {
			return
		}
		for _, s := range resp.ConversationStates {
			m.cache.MergeIncremental(s)
		}
		states := cloneStates(resp.ConversationStates)
		if catchUp {
			m.emit(CaughtUp{Conversations: states})
		} else {
			m.emit(GotNewEvents{Conversations: states})
		}
	})
}

// RequestStatus replays the current session state to deliver, the way a
// freshly opened surface needs it. For a conversation surface (conv != "")
// the cached conversations are narrowed to that one.
func (m *Manager) RequestStatus(conv ConversationID, deliver UpdateHandler) {
	m.exec.Post(func() {
		switch m.state {
		case StateConnected:
		case StateLoggedOut:
			deliver(LoggedOut{})
			return
		default:
			deliver(Reconnecting{})
			return
		}
		deliver(Connected{})
		if m.selfInfo != nil {
			deliver(SelfInfoUpdate{Info: *m.selfInfo})
		}
		if !m.cache.Loaded() {
			return
		}
		if conv != "" {
			deliver(RecentConversations{Conversations: m.cache.Filter(conv)})
		} else {
			deliver(RecentConversations{Conversations: m.cache.Snapshot()})
		}
	})
}

// ============================================================================
// Commands
// ============================================================================

// MarkRead moves the local user's watermark in a conversation.
func (m *Manager) MarkRead(id ConversationID, ts Timestamp) {
	m.exec.Post(func() {
		rpc := func(ctx context.Context) (*Ack, error) {
			return m.remote.UpdateWatermark(ctx, id, ts)
		}
		request(m, "updateWatermark", rpc, func(*Ack) {
			m.cache.SetSelfRead(id, ts)
		})
	})
}

// Send sends msg to a conversation, uploading imagePath first when it is
// not empty. It returns the client-generated id of the message; the
// manager emits Sent when the remote confirms it.
func (m *Manager) Send(id ConversationID, imagePath string, msg OutgoingMessage) string {
	clientID := msg.ClientGeneratedID
	if clientID == "" {
		clientID = uuid.NewString()
	}
	segments, err := BuildSegments(msg.Parts)
	if err != nil {
		m.log.Warn().Err(err).Str("conversation", string(id)).Msg("send: bad message")
		return clientID
	}

	if imagePath == "" {
		m.exec.Post(func() { m.sendMessage(id, "", clientID, segments) })
		return clientID
	}

	m.exec.Post(func() {
		m.log.Debug().Str("path", imagePath).Msg("send: uploading image")
		ctx, cancel := context.WithTimeout(m.ctx, m.cfg.RPCTimeout)
		m.exec.Go(func() {
			defer cancel()
			imageID, err := m.remote.UploadImage(ctx, imagePath)
			m.exec.Post(func() {
				if err != nil {
					m.logRPCError("uploadImage", err)
					return
				}
				m.sendMessage(id, imageID, clientID, segments)
			})
		})
	})
	return clientID
}

func (m *Manager) sendMessage(id ConversationID, imageID, clientID string, segments []Segment) {
	m.pendingSent[clientID] = struct{}{}
	req := SendChatMessageRequest{
		ConversationID:    id,
		Segments:          segments,
		ImageID:           imageID,
		OTRStatus:         OnTheRecord,
		ClientGeneratedID: clientID,
	}
	ctx, cancel := context.WithTimeout(m.ctx, m.cfg.RPCTimeout)
	m.exec.Go(func() {
		defer cancel()
		resp, err := m.remote.SendChatMessage(ctx, req)
		if err == nil {
			err = resp.Err()
		}
		m.exec.Post(func() {
			if err != nil {
				// No echo will follow a failed send.
				delete(m.pendingSent, clientID)
				m.logRPCError("sendChatMessage", err)
				return
			}
			ev := resp.CreatedEvent
			if ev.ConversationID == "" {
				ev.ConversationID = id
			}
			m.cache.AppendExisting(id, ev)
			m.emit(Sent{Scope: scope(id), Event: ev})
		})
	})
}

// SetFocus reports whether a conversation is focused on this client.
func (m *Manager) SetFocus(id ConversationID, focused bool) {
	status := FocusUnfocused
	if focused {
		status = FocusFocused
	}
	m.exec.Post(func() {
		rpc := func(ctx context.Context) (*Ack, error) {
			return m.remote.SetFocus(ctx, id, status, m.cfg.FocusTimeout)
		}
		request(m, "setFocus", rpc, func(*Ack) {
			m.log.Debug().Str("conversation", string(id)).Bool("focused", focused).Msg("focus set")
		})
		m.throttle.Call()
	})
}

// SetTyping reports the local user's typing state in a conversation.
func (m *Manager) SetTyping(id ConversationID, status TypingStatus) {
	m.exec.Post(func() {
		rpc := func(ctx context.Context) (*Ack, error) {
			return m.remote.SetTyping(ctx, id, status)
		}
		request(m, "setTyping", rpc, nil)
		m.throttle.Call()
	})
}

// NotifyActivity signals user activity. Calls are throttled to one active
// client signal per active duration.
func (m *Manager) NotifyActivity() {
	m.throttle.Call()
}

func (m *Manager) setActive(active bool) {
	duration := m.cfg.InactiveDuration
	if active {
		duration = m.cfg.ActiveDuration
	}
	rpc := func(ctx context.Context) (*Ack, error) {
		return m.remote.SetActiveClient(ctx, active, duration)
	}
	request(m, "setActiveClient", rpc, func(*Ack) {
		m.log.Debug().Bool("active", active).Msg("active client set")
	})
}
