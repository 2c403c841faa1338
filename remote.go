package hangr

import (
	"context"
	"errors"
	"time"
)

// ErrCredentialsUnavailable is returned by Connect (or reported through
// ConnectFailed) when no usable login exists. The manager stops retrying and
// waits for an explicit Relogin.
var ErrCredentialsUnavailable = errors.New("hangr: credentials unavailable")

// CredentialProvider supplies the auth token used to open a session.
type CredentialProvider interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a CredentialProvider backed by a fixed token. An empty
// token reports ErrCredentialsUnavailable.
type StaticToken string

// Token implements CredentialProvider.
func (t StaticToken) Token(context.Context) (string, error) {
	if t == "" {
		return "", ErrCredentialsUnavailable
	}
	return string(t), nil
}

// ============================================================================
// RPC Responses
// ============================================================================

// GetSelfInfoResponse answers GetSelfInfo.
type GetSelfInfoResponse struct {
	ResponseHeader `json:"responseHeader"`
	SelfInfo
}

// GetConversationResponse carries one conversation's history page.
type GetConversationResponse struct {
	ResponseHeader    `json:"responseHeader"`
	ConversationState *ConversationState `json:"conversationState,omitempty"`
}

// GetEntitiesResponse answers GetEntities.
type GetEntitiesResponse struct {
	ResponseHeader `json:"responseHeader"`
	Entities       []Entity `json:"entities"`
}

// SyncRecentConversationsResponse carries the full sync result.
type SyncRecentConversationsResponse struct {
	ResponseHeader     `json:"responseHeader"`
	ConversationStates []*ConversationState `json:"conversationState"`
	SyncTimestamp      Timestamp            `json:"syncTimestamp,omitempty"`
}

// SyncAllNewEventsResponse carries the conversations changed since a timestamp.
type SyncAllNewEventsResponse struct {
	ResponseHeader     `json:"responseHeader"`
	ConversationStates []*ConversationState `json:"conversationState"`
	SyncTimestamp      Timestamp            `json:"syncTimestamp,omitempty"`
}

// SendChatMessageResponse carries the event the server created.
type SendChatMessageResponse struct {
	ResponseHeader `json:"responseHeader"`
	CreatedEvent   Event `json:"createdEvent"`
}

// Ack is the response of calls that return nothing but a header.
type Ack struct {
	ResponseHeader `json:"responseHeader"`
}

// SendChatMessageRequest is the payload of RemoteSession.SendChatMessage.
type SendChatMessageRequest struct {
	ConversationID    ConversationID     `json:"conversationId"`
	Segments          []Segment          `json:"segments"`
	ImageID           string             `json:"imageId,omitempty"`
	OTRStatus         OffTheRecordStatus `json:"otrStatus"`
	ClientGeneratedID string             `json:"clientGeneratedId"`
	DeliveryMedium    string             `json:"deliveryMedium,omitempty"`
	ActionType        string             `json:"actionType,omitempty"`
}

// ============================================================================
// Remote Session
// ============================================================================

// RemoteSession is the authenticated connection to the chat backend.
//
// A call either fails with a transport error or returns a non-nil response
// whose ResponseHeader may still carry a soft error. Connect reports its own
// failure through the returned error; ConnectFailed on the bound handler is
// only used for a session that drops after Connect succeeded.
type RemoteSession interface {
	Bind(h NotificationHandler)
	Connect(ctx context.Context, creds CredentialProvider) error
	Logout(ctx context.Context) error

	GetSelfInfo(ctx context.Context) (*GetSelfInfoResponse, error)
	GetConversation(ctx context.Context, id ConversationID, olderThan Timestamp, eventCount int, includeMeta bool) (*GetConversationResponse, error)
	GetEntities(ctx context.Context, chatIDs []string) (*GetEntitiesResponse, error)
	SyncRecentConversations(ctx context.Context) (*SyncRecentConversationsResponse, error)
	SyncAllNewEvents(ctx context.Context, since Timestamp) (*SyncAllNewEventsResponse, error)
	UpdateWatermark(ctx context.Context, id ConversationID, readTimestamp Timestamp) (*Ack, error)
	UploadImage(ctx context.Context, path string) (imageID string, err error)
	SendChatMessage(ctx context.Context, req SendChatMessageRequest) (*SendChatMessageResponse, error)
	SetFocus(ctx context.Context, id ConversationID, status FocusStatus, timeout time.Duration) (*Ack, error)
	SetTyping(ctx context.Context, id ConversationID, status TypingStatus) (*Ack, error)
	SetActiveClient(ctx context.Context, active bool, duration time.Duration) (*Ack, error)
}

// NotificationHandler receives the live notification stream of a
// RemoteSession. Methods may be called from any goroutine.
type NotificationHandler interface {
	ConnectFailed(err error)
	ChatMessage(e Event)
	ConversationCreated(c Conversation)
	HangoutEvent(e Event)
	Focus(n FocusNotification)
	Presence(n PresenceNotification)
	Typing(n TypingNotification)
	Watermark(n WatermarkNotification)
	Deleted(n DeleteNotification)
}
