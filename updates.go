package hangr

import "time"

// ============================================================================
// Update Kinds
// ============================================================================

// Kind names an update variant.
type Kind string

const (
	KindConnected           Kind = "connected"
	KindReconnecting        Kind = "reconnecting"
	KindLoggedOut           Kind = "logged-out"
	KindSelfInfo            Kind = "self-info"
	KindRecentConversations Kind = "recent-conversations"
	KindGotEntities         Kind = "got-entities"
	KindGotNewEvents        Kind = "got-new-events"
	KindCaughtUp            Kind = "caught-up"
	KindGotConversation     Kind = "got-conversation"
	KindReceived            Kind = "received"
	KindSent                Kind = "sent"
	KindFocus               Kind = "focus"
	KindTyping              Kind = "typing"
	KindWatermark           Kind = "watermark"
	KindDelete              Kind = "delete"
)

// Class decides which surfaces receive an update.
type Class int

const (
	// ClassGlobal updates go to every surface.
	ClassGlobal Class = iota
	// ClassChat updates go to the main surface and the conversation's surface.
	ClassChat
	// ClassChatOnly updates go to the conversation's surface only.
	ClassChatOnly
)

// ClassOf returns the routing class of k.
func ClassOf(k Kind) Class {
	switch k {
	case KindDelete, KindFocus, KindReceived, KindSent, KindTyping, KindWatermark:
		return ClassChat
	case KindGotConversation:
		return ClassChatOnly
	default:
		return ClassGlobal
	}
}

// ============================================================================
// Update Variants
// ============================================================================

// Update is a domain notification emitted by the Manager.
type Update interface {
	Kind() Kind
}

// ConversationScoped is implemented by updates about one conversation.
type ConversationScoped interface {
	Update
	ConversationID() ConversationID
}

// Scope carries the conversation an update belongs to.
type Scope struct {
	Conversation ConversationID
}

// ConversationID implements ConversationScoped.
func (s Scope) ConversationID() ConversationID { return s.Conversation }

func scope(id ConversationID) Scope { return Scope{Conversation: id} }

// Connected reports that the session is established.
type Connected struct{}

// Reconnecting reports a scheduled retry. Delay is zero when replayed to a
// surface that asked for status while disconnected.
type Reconnecting struct {
	Delay time.Duration
}

// LoggedOut reports that automatic reconnects stopped for lack of credentials.
type LoggedOut struct {
	Reason error
}

// SelfInfoUpdate carries the local user's profile after connecting.
type SelfInfoUpdate struct {
	Info SelfInfo
}

// RecentConversations carries cached conversations after a full sync or a promotion.
type RecentConversations struct {
	Conversations []*ConversationState
}

// GotEntities answers GetEntities.
type GotEntities struct {
	Entities []Entity
}

// GotNewEvents answers GetEventsSince.
type GotNewEvents struct {
	Conversations []*ConversationState
}

// CaughtUp carries the result of the catch-up sync issued on resume.
type CaughtUp struct {
	Conversations []*ConversationState
}

// GotConversation answers GetConversation with the fetched history.
type GotConversation struct {
	Scope
	State *ConversationState
}

// Received is a live event from another participant or device.
type Received struct {
	Scope
	Event Event
}

// Sent is the server's copy of a message sent through Send.
type Sent struct {
	Scope
	Event Event
}

// Focus reports a participant focusing or leaving a conversation.
type Focus struct {
	Scope
	Data FocusNotification
}

// Typing reports a participant's typing state.
type Typing struct {
	Scope
	Data TypingNotification
}

// Watermark reports a participant's new read position.
type Watermark struct {
	Scope
	Data WatermarkNotification
}

// Delete reports one removed event.
type Delete struct {
	Scope
	EventID string
}

func (Connected) Kind() Kind           { return KindConnected }
func (Reconnecting) Kind() Kind        { return KindReconnecting }
func (LoggedOut) Kind() Kind           { return KindLoggedOut }
func (SelfInfoUpdate) Kind() Kind      { return KindSelfInfo }
func (RecentConversations) Kind() Kind { return KindRecentConversations }
func (GotEntities) Kind() Kind         { return KindGotEntities }
func (GotNewEvents) Kind() Kind        { return KindGotNewEvents }
func (CaughtUp) Kind() Kind            { return KindCaughtUp }
func (GotConversation) Kind() Kind     { return KindGotConversation }
func (Received) Kind() Kind            { return KindReceived }
func (Sent) Kind() Kind                { return KindSent }
func (Focus) Kind() Kind               { return KindFocus }
func (Typing) Kind() Kind              { return KindTyping }
func (Watermark) Kind() Kind           { return KindWatermark }
func (Delete) Kind() Kind              { return KindDelete }
