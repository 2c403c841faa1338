package hangr

import (
	"encoding/json"
	"strings"
	"time"
)

// ============================================================================
// Shared Types
// ============================================================================

// APIError is a soft error reported inside an otherwise successful response.
type APIError struct {
	Status      string `json:"status"`
	Description string `json:"errorDescription"`
}

func (e *APIError) Error() string {
	if e.Description == "" {
		return "remote: " + e.Status
	}
	return "remote: " + e.Status + ": " + e.Description
}

// ResponseHeader is carried by every RPC response.
type ResponseHeader struct {
	Status           string `json:"status,omitempty"`
	ErrorDescription string `json:"errorDescription,omitempty"`
	RequestTraceID   string `json:"requestTraceId,omitempty"`
}

// Err returns an *APIError when the header reports a soft failure.
func (h ResponseHeader) Err() error {
	if h.ErrorDescription == "" && (h.Status == "" || strings.EqualFold(h.Status, "OK")) {
		return nil
	}
	return &APIError{Status: h.Status, Description: h.ErrorDescription}
}

// ============================================================================
// Identifiers & Time
// ============================================================================

// ConversationID is the canonical id of a conversation.
type ConversationID string

// ParticipantID identifies a user on the remote service.
type ParticipantID struct {
	GaiaID string `json:"gaiaId"`
	ChatID string `json:"chatId"`
}

// Timestamp is a remote timestamp in microseconds since the Unix epoch.
type Timestamp int64

// TimestampOf converts t to a Timestamp.
func TimestampOf(t time.Time) Timestamp {
	return Timestamp(t.UnixMicro())
}

// Time converts ts back to a time.Time.
func (ts Timestamp) Time() time.Time {
	return time.UnixMicro(int64(ts))
}

// ============================================================================
// Conversation Metadata
// ============================================================================

// ReadState is a participant's read watermark in a conversation.
type ReadState struct {
	Participant         ParticipantID `json:"participantId"`
	LatestReadTimestamp Timestamp     `json:"latestReadTimestamp"`
}

// SelfConversationState is the local user's view of a conversation.
type SelfConversationState struct {
	SelfReadState     ReadState `json:"selfReadState"`
	Status            string    `json:"status,omitempty"`
	NotificationLevel string    `json:"notificationLevel,omitempty"`
	ActiveTimestamp   Timestamp `json:"activeTimestamp,omitempty"`
}

// ParticipantData describes a conversation member.
type ParticipantData struct {
	ID           ParticipantID `json:"id"`
	FallbackName string        `json:"fallbackName,omitempty"`
}

// Conversation is the metadata of a conversation.
type Conversation struct {
	ID           ConversationID        `json:"id"`
	Type         string                `json:"type,omitempty"`
	Name         string                `json:"name,omitempty"`
	Participants []ParticipantData     `json:"participantData,omitempty"`
	ReadStates   []ReadState           `json:"readState,omitempty"`
	SelfState    SelfConversationState `json:"selfConversationState"`
	OTRStatus    OffTheRecordStatus    `json:"otrStatus,omitempty"`
}

// Clone returns a copy that shares no slices with c.
func (c *Conversation) Clone() *Conversation {
	if c == nil {
		return nil
	}
	out := *c
	out.Participants = append([]ParticipantData(nil), c.Participants...)
	out.ReadStates = append([]ReadState(nil), c.ReadStates...)
	return &out
}

// ============================================================================
// Events
// ============================================================================

// EventCategory tags the kind of an Event.
type EventCategory string

const (
	CategoryChatMessage EventCategory = "chat-message"
	CategoryHangout     EventCategory = "hangout"
	CategoryMembership  EventCategory = "membership"
	CategoryRename      EventCategory = "rename"
)

// Event is a single entry in a conversation's history. Events are treated as
// immutable once they reach the cache.
type Event struct {
	ConversationID    ConversationID  `json:"conversationId"`
	EventID           string          `json:"eventId,omitempty"`
	SenderID          ParticipantID   `json:"senderId"`
	Timestamp         Timestamp       `json:"timestamp"`
	Category          EventCategory   `json:"category"`
	ClientGeneratedID string          `json:"clientGeneratedId,omitempty"`
	Message           *ChatMessage    `json:"chatMessage,omitempty"`
	Raw               json.RawMessage `json:"raw,omitempty"`
}

// ChatMessage is the content of a chat-message event.
type ChatMessage struct {
	Segments    []Segment    `json:"segments,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

// Attachment is an embedded item such as an uploaded image.
type Attachment struct {
	ImageID string `json:"imageId,omitempty"`
	URL     string `json:"url,omitempty"`
}

// SegmentType is the type of a message segment.
type SegmentType string

const (
	SegmentText      SegmentType = "TEXT"
	SegmentLineBreak SegmentType = "LINE_BREAK"
	SegmentLink      SegmentType = "LINK"
)

// Segment is one formatted run of message text.
type Segment struct {
	Type       SegmentType `json:"type"`
	Text       string      `json:"text,omitempty"`
	LinkTarget string      `json:"linkTarget,omitempty"`
}

// ConversationState is one cache entry: metadata plus the cached events.
// A nil Conversation marks a pending entry created from live traffic.
type ConversationState struct {
	ConversationID ConversationID `json:"conversationId"`
	Conversation   *Conversation  `json:"conversation,omitempty"`
	Events         []Event        `json:"event"`
}

// Pending reports whether the entry has no metadata yet.
func (s *ConversationState) Pending() bool {
	return s.Conversation == nil
}

// Clone returns a deep copy of s.
func (s *ConversationState) Clone() *ConversationState {
	if s == nil {
		return nil
	}
	return &ConversationState{
		ConversationID: s.ConversationID,
		Conversation:   s.Conversation.Clone(),
		Events:         append([]Event(nil), s.Events...),
	}
}

func cloneStates(states []*ConversationState) []*ConversationState {
	out := make([]*ConversationState, 0, len(states))
	for _, s := range states {
		out = append(out, s.Clone())
	}
	return out
}

// ============================================================================
// Entities
// ============================================================================

// EntityProperties holds the display attributes of a user.
type EntityProperties struct {
	DisplayName string   `json:"displayName,omitempty"`
	FirstName   string   `json:"firstName,omitempty"`
	PhotoURL    string   `json:"photoUrl,omitempty"`
	Emails      []string `json:"email,omitempty"`
}

// Entity is a user known to the remote service.
type Entity struct {
	ID         ParticipantID    `json:"id"`
	Properties EntityProperties `json:"properties"`
}

// SelfInfo describes the logged-in user.
type SelfInfo struct {
	SelfEntity   Entity `json:"selfEntity"`
	IsKnownMinor bool   `json:"isKnownMinor,omitempty"`
}

// ============================================================================
// Status Enums
// ============================================================================

// FocusStatus is whether a conversation is focused on a client.
type FocusStatus string

const (
	FocusFocused   FocusStatus = "FOCUSED"
	FocusUnfocused FocusStatus = "UNFOCUSED"
)

// TypingStatus is a participant's typing state.
type TypingStatus string

const (
	TypingStarted TypingStatus = "TYPING"
	TypingPaused  TypingStatus = "PAUSED"
	TypingStopped TypingStatus = "STOPPED"
)

// ParseTypingStatus accepts "typing", "paused" or "stopped" in any case.
func ParseTypingStatus(s string) (TypingStatus, bool) {
	switch TypingStatus(strings.ToUpper(s)) {
	case TypingStarted:
		return TypingStarted, true
	case TypingPaused:
		return TypingPaused, true
	case TypingStopped:
		return TypingStopped, true
	}
	return "", false
}

// OffTheRecordStatus controls history retention for a message.
type OffTheRecordStatus string

const (
	OnTheRecord  OffTheRecordStatus = "ON_THE_RECORD"
	OffTheRecord OffTheRecordStatus = "OFF_THE_RECORD"
)

// ============================================================================
// Notification Payloads
// ============================================================================

// FocusNotification reports a focus change by a participant.
type FocusNotification struct {
	ConversationID ConversationID `json:"conversationId"`
	Participant    ParticipantID  `json:"userId"`
	Timestamp      Timestamp      `json:"timestamp"`
	Status         FocusStatus    `json:"status"`
	Device         string         `json:"device,omitempty"`
}

// TypingNotification reports a typing state change by a participant.
type TypingNotification struct {
	ConversationID ConversationID `json:"conversationId"`
	Participant    ParticipantID  `json:"userId"`
	Timestamp      Timestamp      `json:"timestamp"`
	Status         TypingStatus   `json:"status"`
}

// WatermarkNotification reports that a participant read up to a point.
type WatermarkNotification struct {
	ConversationID      ConversationID `json:"conversationId"`
	Participant         ParticipantID  `json:"participantId"`
	LatestReadTimestamp Timestamp      `json:"latestReadTimestamp"`
}

// DeleteNotification reports events removed from a conversation.
type DeleteNotification struct {
	ConversationID    ConversationID `json:"conversationId"`
	EventIDs          []string       `json:"eventIds"`
	DeletionTimestamp Timestamp      `json:"deletionTimestamp,omitempty"`
}

// PresenceNotification reports a participant's reachability.
type PresenceNotification struct {
	Participant ParticipantID `json:"participantId"`
	Reachable   bool          `json:"reachable"`
	Available   bool          `json:"available"`
}
