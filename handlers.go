package hangr

// notifications adapts the remote notification stream onto the manager's
// executor.
type notifications struct {
	m *Manager
}

func (n notifications) ConnectFailed(err error) {
	n.m.exec.Post(func() { n.m.onConnectFailed(err) })
}

func (n notifications) ChatMessage(e Event) {
	n.m.exec.Post(func() { n.m.onChatMessage(e) })
}

func (n notifications) ConversationCreated(c Conversation) {
	n.m.exec.Post(func() { n.m.onConversationCreated(&c) })
}

func (n notifications) HangoutEvent(e Event) {
	n.m.exec.Post(func() { n.m.onHangoutEvent(e) })
}

func (n notifications) Focus(f FocusNotification) {
	n.m.exec.Post(func() { n.m.emit(Focus{Scope: scope(f.ConversationID), Data: f}) })
}

func (n notifications) Presence(p PresenceNotification) {
	n.m.exec.Post(func() {
		n.m.log.Debug().
			Str("chat_id", p.Participant.ChatID).
			Bool("reachable", p.Reachable).
			Bool("available", p.Available).
			Msg("presence")
	})
}

func (n notifications) Typing(t TypingNotification) {
	n.m.exec.Post(func() { n.m.emit(Typing{Scope: scope(t.ConversationID), Data: t}) })
}

func (n notifications) Watermark(w WatermarkNotification) {
	n.m.exec.Post(func() { n.m.onWatermark(w) })
}

func (n notifications) Deleted(d DeleteNotification) {
	n.m.exec.Post(func() { n.m.onDeleted(d) })
}

// ============================================================================
// Handlers (run on the loop)
// ============================================================================

// onConnectFailed handles a dropped connection. While Connecting the drop
// belongs to the attempt in flight, whose completion is then discarded.
func (m *Manager) onConnectFailed(err error) {
	switch m.state {
	case StateConnected, StateConnecting:
		m.connectFailed(err)
	default:
		m.log.Debug().Err(err).Str("state", string(m.state)).Msg("ignoring stale connect failure")
	}
}

func (m *Manager) onChatMessage(e Event) {
	if id := e.ClientGeneratedID; id != "" {
		if _, ok := m.pendingSent[id]; ok {
			delete(m.pendingSent, id)
			m.metrics.EchoesSuppressed.Inc()
			m.log.Debug().Str("client_generated_id", id).Msg("dropping echo of sent message")
			return
		}
	}

	m.log.Debug().Str("conversation", string(e.ConversationID)).Str("event", e.EventID).Msg("chat message")
	if m.cache.Append(e.ConversationID, e) {
		m.emit(Received{Scope: scope(e.ConversationID), Event: e})
		return
	}
	// Either queued as pending until the conversation-created notification
	// promotes it, or dropped because no full sync has completed.
	m.metrics.CachedConversations.Set(float64(m.cache.Len()))
}

func (m *Manager) onConversationCreated(c *Conversation) {
	p, ok := m.cache.Promote(c)
	if !ok {
		if m.cache.Insert(c) {
			m.log.Debug().Str("conversation", string(c.ID)).Msg("new conversation")
			m.metrics.CachedConversations.Set(float64(m.cache.Len()))
		}
		return
	}
	m.emit(RecentConversations{Conversations: []*ConversationState{p.Snapshot}})
	if p.Received != nil {
		m.emit(Received{Scope: scope(c.ID), Event: *p.Received})
	}
}

func (m *Manager) onHangoutEvent(e Event) {
	m.cache.AppendExisting(e.ConversationID, e)
	m.emit(Received{Scope: scope(e.ConversationID), Event: e})
}

func (m *Manager) onWatermark(w WatermarkNotification) {
	m.emit(Watermark{Scope: scope(w.ConversationID), Data: w})
	m.cache.UpdateWatermark(w)
}

func (m *Manager) onDeleted(d DeleteNotification) {
	m.cache.RemoveEvents(d.ConversationID, d.EventIDs)
	for _, id := range d.EventIDs {
		m.emit(Delete{Scope: scope(d.ConversationID), EventID: id})
	}
}
