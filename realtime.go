package hangr

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"nhooyr.io/websocket"
)

// ============================================================================
// Wire Format
// ============================================================================

// RemoteEnvelope is the wire format of every WebSocket frame.
type RemoteEnvelope struct {
	Type      string          `json:"type"`
	RequestID string          `json:"requestId,omitempty"`
	Method    string          `json:"method,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// Frame types.
const (
	frameAuth          = "auth"
	frameAuthenticated = "authenticated"
	frameAuthFailed    = "auth.failed"
	frameRequest       = "request"
	frameResponse      = "response"
	frameError         = "error"

	notifyChatMessage  = "chat_message"
	notifyConversation = "client_conversation"
	notifyHangout      = "hangout_event"
	notifyFocus        = "focus"
	notifyPresence     = "presence"
	notifyTyping       = "typing"
	notifyWatermark    = "watermark"
	notifyDelete       = "delete"
)

type remoteErrorPayload struct {
	Message string `json:"message"`
}

var errConnectionClosed = errors.New("hangr: connection closed")

// ============================================================================
// Configuration
// ============================================================================

// WSRemoteConfig configures a WSRemote.
type WSRemoteConfig struct {
	HTTPClient        *http.Client
	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration
	Logger            *zerolog.Logger
}

func (c *WSRemoteConfig) defaults() {
	if c.HTTPClient == nil {
		c.HTTPClient = http.DefaultClient
	}
	if c.HeartbeatInterval == 0 {
		c.HeartbeatInterval = 25 * time.Second
	}
	if c.HeartbeatTimeout == 0 {
		c.HeartbeatTimeout = 10 * time.Second
	}
	if c.Logger == nil {
		nop := zerolog.Nop()
		c.Logger = &nop
	}
}

// ============================================================================
// WSRemote
// ============================================================================

// WSRemote is a RemoteSession over one WebSocket. Requests are correlated to
// responses by request id; every other frame is a notification. Image
// uploads go over plain HTTP.
type WSRemote struct {
	baseURL string
	config  WSRemoteConfig
	log     zerolog.Logger

	mu               sync.Mutex
	conn             *websocket.Conn
	token            string
	handler          NotificationHandler
	cancelFn         context.CancelFunc
	intentionalClose bool

	pendingMu sync.Mutex
	pending   map[string]chan RemoteEnvelope
}

var _ RemoteSession = (*WSRemote)(nil)

// NewWSRemote creates a WSRemote for the backend at baseURL (http or https).
func NewWSRemote(baseURL string, config *WSRemoteConfig) *WSRemote {
	var cfg WSRemoteConfig
	if config != nil {
		cfg = *config
	}
	cfg.defaults()
	return &WSRemote{
		baseURL: strings.TrimRight(baseURL, "/"),
		config:  cfg,
		log:     cfg.Logger.With().Str("component", "ws-remote").Logger(),
		pending: make(map[string]chan RemoteEnvelope),
	}
}

// Bind implements RemoteSession.
func (w *WSRemote) Bind(h NotificationHandler) {
	w.mu.Lock()
	w.handler = h
	w.mu.Unlock()
}

// Connect implements RemoteSession.
func (w *WSRemote) Connect(ctx context.Context, creds CredentialProvider) error {
	token, err := creds.Token(ctx)
	if err != nil {
		return err
	}
	if token == "" {
		return ErrCredentialsUnavailable
	}

	w.disconnect("reconnect")

	wsURL := strings.Replace(w.baseURL, "https://", "wss://", 1)
	wsURL = strings.Replace(wsURL, "http://", "ws://", 1)
	conn, _, err := websocket.Dial(ctx, wsURL+"/ws", &websocket.DialOptions{HTTPClient: w.config.HTTPClient})
	if err != nil {
		return fmt.Errorf("websocket dial: %w", err)
	}

	if err := writeEnvelope(ctx, conn, RemoteEnvelope{Type: frameAuth, Payload: mustJSON(map[string]string{"token": token})}); err != nil {
		conn.Close(websocket.StatusNormalClosure, "")
		return fmt.Errorf("send auth: %w", err)
	}

	_, data, err := conn.Read(ctx)
	if err != nil {
		conn.Close(websocket.StatusNormalClosure, "")
		return fmt.Errorf("read auth reply: %w", err)
	}
	var env RemoteEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		conn.Close(websocket.StatusNormalClosure, "")
		return fmt.Errorf("decode auth reply: %w", err)
	}
	switch env.Type {
	case frameAuthenticated:
	case frameAuthFailed:
		conn.Close(websocket.StatusNormalClosure, "")
		var p remoteErrorPayload
		_ = json.Unmarshal(env.Payload, &p)
		return fmt.Errorf("%w: %s", ErrCredentialsUnavailable, p.Message)
	default:
		conn.Close(websocket.StatusNormalClosure, "")
		return fmt.Errorf("expected %q, got %q", frameAuthenticated, env.Type)
	}

	connCtx, cancel := context.WithCancel(context.Background())
	w.mu.Lock()
	w.conn = conn
	w.token = token
	w.cancelFn = cancel
	w.intentionalClose = false
	w.mu.Unlock()

	go w.readLoop(connCtx, conn)
	go w.heartbeatLoop(connCtx)
	return nil
}

// Disconnect closes the WebSocket without reporting a failure.
func (w *WSRemote) Disconnect() error {
	return w.disconnect("client disconnect")
}

func (w *WSRemote) disconnect(reason string) error {
	w.mu.Lock()
	w.intentionalClose = true
	cancel := w.cancelFn
	w.cancelFn = nil
	conn := w.conn
	w.conn = nil
	w.mu.Unlock()

	w.clearPending()
	var err error
	if conn != nil {
		err = conn.Close(websocket.StatusNormalClosure, reason)
	}
	if cancel != nil {
		cancel()
	}
	return err
}

// Logout implements RemoteSession.
func (w *WSRemote) Logout(ctx context.Context) error {
	var ack Ack
	err := w.call(ctx, "logout", nil, &ack)
	if err == nil {
		err = ack.Err()
	}
	w.Disconnect()
	return err
}

// ============================================================================
// RPCs
// ============================================================================

// GetSelfInfo fetches the local user's profile.
func (w *WSRemote) GetSelfInfo(ctx context.Context) (*GetSelfInfoResponse, error) {
	var resp GetSelfInfoResponse
	return &resp, w.call(ctx, "getSelfInfo", nil, &resp)
}

// GetConversation fetches up to eventCount events older than olderThan.
func (w *WSRemote) GetConversation(ctx context.Context, id ConversationID, olderThan Timestamp, eventCount int, includeMeta bool) (*GetConversationResponse, error) {
	var resp GetConversationResponse
	return &resp, w.call(ctx, "getConversation", map[string]any{
		"conversationId": id,
		"olderThan":      olderThan,
		"eventCount":     eventCount,
		"includeMeta":    includeMeta,
	}, &resp)
}

// GetEntities looks up users by chat id.
func (w *WSRemote) GetEntities(ctx context.Context, chatIDs []string) (*GetEntitiesResponse, error) {
	var resp GetEntitiesResponse
	return &resp, w.call(ctx, "getEntityById", map[string]any{"chatIds": chatIDs}, &resp)
}

// SyncRecentConversations fetches the recent conversation list.
func (w *WSRemote) SyncRecentConversations(ctx context.Context) (*SyncRecentConversationsResponse, error) {
	var resp SyncRecentConversationsResponse
	return &resp, w.call(ctx, "syncRecentConversations", nil, &resp)
}

// SyncAllNewEvents fetches every event newer than since.
func (w *WSRemote) SyncAllNewEvents(ctx context.Context, since Timestamp) (*SyncAllNewEventsResponse, error) {
	var resp SyncAllNewEventsResponse
	return &resp, w.call(ctx, "syncAllNewEvents", map[string]any{"lastSyncTimestamp": since}, &resp)
}

// UpdateWatermark moves the local user's read position.
func (w *WSRemote) UpdateWatermark(ctx context.Context, id ConversationID, readTimestamp Timestamp) (*Ack, error) {
	var resp Ack
	return &resp, w.call(ctx, "updateWatermark", map[string]any{
		"conversationId":    id,
		"lastReadTimestamp": readTimestamp,
	}, &resp)
}

// SendChatMessage posts a message.
func (w *WSRemote) SendChatMessage(ctx context.Context, req SendChatMessageRequest) (*SendChatMessageResponse, error) {
	var resp SendChatMessageResponse
	return &resp, w.call(ctx, "sendChatMessage", req, &resp)
}

// SetFocus reports whether a conversation is focused.
func (w *WSRemote) SetFocus(ctx context.Context, id ConversationID, status FocusStatus, timeout time.Duration) (*Ack, error) {
	var resp Ack
	return &resp, w.call(ctx, "setFocus", map[string]any{
		"conversationId": id,
		"type":           status,
		"timeoutSecs":    int(timeout / time.Second),
	}, &resp)
}

// SetTyping reports the local user's typing state.
func (w *WSRemote) SetTyping(ctx context.Context, id ConversationID, status TypingStatus) (*Ack, error) {
	var resp Ack
	return &resp, w.call(ctx, "setTyping", map[string]any{
		"conversationId": id,
		"type":           status,
	}, &resp)
}

// SetActiveClient marks this client as the one receiving notifications.
func (w *WSRemote) SetActiveClient(ctx context.Context, active bool, duration time.Duration) (*Ack, error) {
	var resp Ack
	return &resp, w.call(ctx, "setActiveClient", map[string]any{
		"isActive":    active,
		"timeoutSecs": int(duration / time.Second),
	}, &resp)
}

// UploadImage implements RemoteSession.
func (w *WSRemote) UploadImage(ctx context.Context, path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read image: %w", err)
	}
	mime := mimetype.Detect(data)
	if !strings.HasPrefix(mime.String(), "image/") {
		return "", fmt.Errorf("upload %s: not an image (%s)", filepath.Base(path), mime.String())
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, filepath.Base(path)))
	header.Set("Content-Type", mime.String())
	part, err := mw.CreatePart(header)
	if err != nil {
		return "", fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return "", fmt.Errorf("failed to write file data: %w", err)
	}
	_ = mw.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.baseURL+"/upload", &buf)
	if err != nil {
		return "", fmt.Errorf("failed to create upload request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w.mu.Lock()
	token := w.token
	w.mu.Unlock()
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := w.config.HTTPClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("upload failed: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read upload response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("upload failed (%d): %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var out struct {
		ResponseHeader `json:"responseHeader"`
		ImageID        string `json:"imageId"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("failed to decode upload response: %w", err)
	}
	if err := out.Err(); err != nil {
		return "", err
	}
	if out.ImageID == "" {
		return "", errors.New("upload response has no image id")
	}
	return out.ImageID, nil
}

// ============================================================================
// Request Correlation
// ============================================================================

func (w *WSRemote) call(ctx context.Context, method string, params any, out any) error {
	w.mu.Lock()
	conn := w.conn
	w.mu.Unlock()
	if conn == nil {
		return errConnectionClosed
	}

	env := RemoteEnvelope{Type: frameRequest, RequestID: uuid.NewString(), Method: method}
	if params != nil {
		payload, err := json.Marshal(params)
		if err != nil {
			return fmt.Errorf("%s: encode params: %w", method, err)
		}
		env.Payload = payload
	}

	ch := make(chan RemoteEnvelope, 1)
	w.pendingMu.Lock()
	w.pending[env.RequestID] = ch
	w.pendingMu.Unlock()

	if err := writeEnvelope(ctx, conn, env); err != nil {
		w.dropPending(env.RequestID)
		return fmt.Errorf("%s: %w", method, err)
	}

	select {
	case reply, ok := <-ch:
		if !ok {
			return fmt.Errorf("%s: %w", method, errConnectionClosed)
		}
		if reply.Type == frameError {
			var p remoteErrorPayload
			_ = json.Unmarshal(reply.Payload, &p)
			return fmt.Errorf("%s: %s", method, p.Message)
		}
		if out == nil || len(reply.Payload) == 0 {
			return nil
		}
		if err := json.Unmarshal(reply.Payload, out); err != nil {
			return fmt.Errorf("%s: decode response: %w", method, err)
		}
		return nil
	case <-ctx.Done():
		w.dropPending(env.RequestID)
		return ctx.Err()
	}
}

func (w *WSRemote) dropPending(id string) {
	w.pendingMu.Lock()
	delete(w.pending, id)
	w.pendingMu.Unlock()
}

func (w *WSRemote) resolve(env RemoteEnvelope) bool {
	w.pendingMu.Lock()
	ch, ok := w.pending[env.RequestID]
	if ok {
		delete(w.pending, env.RequestID)
	}
	w.pendingMu.Unlock()
	if ok {
		ch <- env
	}
	return ok
}

func (w *WSRemote) clearPending() {
	w.pendingMu.Lock()
	for k, ch := range w.pending {
		close(ch)
		delete(w.pending, k)
	}
	w.pendingMu.Unlock()
}

// ============================================================================
// Loops
// ============================================================================

func (w *WSRemote) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			w.mu.Lock()
			intentional := w.intentionalClose || w.conn != conn
			if !intentional {
				w.conn = nil
			}
			h := w.handler
			w.mu.Unlock()
			if intentional {
				return
			}
			w.clearPending()
			w.log.Warn().Err(err).Msg("connection lost")
			if h != nil {
				h.ConnectFailed(fmt.Errorf("websocket read: %w", err))
			}
			return
		}

		var env RemoteEnvelope
		if err := json.Unmarshal(data, &env); err != nil {
			w.log.Debug().Err(err).Msg("ignoring malformed frame")
			continue
		}
		if env.Type == frameResponse || env.Type == frameError {
			if env.RequestID != "" && w.resolve(env) {
				continue
			}
			if env.Type == frameError {
				w.log.Warn().RawJSON("payload", env.Payload).Msg("server error")
			}
			continue
		}
		w.notify(env)
	}
}

func (w *WSRemote) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(w.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, w.config.HeartbeatTimeout)
			err := w.call(pingCtx, "ping", nil, nil)
			cancel()
			if err == nil {
				continue
			}
			if ctx.Err() != nil {
				return
			}
			w.mu.Lock()
			conn := w.conn
			w.mu.Unlock()
			if conn != nil {
				conn.Close(websocket.StatusGoingAway, "heartbeat timeout")
			}
			return
		}
	}
}

func (w *WSRemote) notify(env RemoteEnvelope) {
	w.mu.Lock()
	h := w.handler
	w.mu.Unlock()
	if h == nil {
		return
	}

	var err error
	switch env.Type {
	case notifyChatMessage, notifyHangout:
		var e Event
		if err = json.Unmarshal(env.Payload, &e); err == nil {
			if env.Type == notifyChatMessage {
				h.ChatMessage(e)
			} else {
				h.HangoutEvent(e)
			}
		}
	case notifyConversation:
		var c Conversation
		if err = json.Unmarshal(env.Payload, &c); err == nil {
			h.ConversationCreated(c)
		}
	case notifyFocus:
		var n FocusNotification
		if err = json.Unmarshal(env.Payload, &n); err == nil {
			h.Focus(n)
		}
	case notifyPresence:
		var n PresenceNotification
		if n, err = ParsePresencePacket(env.Payload); err == nil {
			h.Presence(n)
		}
	case notifyTyping:
		var n TypingNotification
		if err = json.Unmarshal(env.Payload, &n); err == nil {
			h.Typing(n)
		}
	case notifyWatermark:
		var n WatermarkNotification
		if err = json.Unmarshal(env.Payload, &n); err == nil {
			h.Watermark(n)
		}
	case notifyDelete:
		var n DeleteNotification
		if err = json.Unmarshal(env.Payload, &n); err == nil {
			h.Deleted(n)
		}
	default:
		w.log.Debug().Str("type", env.Type).Msg("unhandled notification")
	}
	if err != nil {
		w.log.Warn().Err(err).Str("type", env.Type).Msg("bad notification payload")
	}
}

// ParsePresencePacket decodes the nested-array presence notification
// [[[[gaiaID, chatID], [reachable, available]]]].
func ParsePresencePacket(raw json.RawMessage) (PresenceNotification, error) {
	var packet [][][]json.RawMessage
	if err := json.Unmarshal(raw, &packet); err != nil {
		return PresenceNotification{}, fmt.Errorf("presence: %w", err)
	}
	if len(packet) == 0 || len(packet[0]) == 0 || len(packet[0][0]) < 2 {
		return PresenceNotification{}, errors.New("presence: short packet")
	}
	content := packet[0][0]

	var ids []string
	if err := json.Unmarshal(content[0], &ids); err != nil || len(ids) < 2 {
		return PresenceNotification{}, fmt.Errorf("presence: bad participant id %s", content[0])
	}
	var flags []int
	if err := json.Unmarshal(content[1], &flags); err != nil || len(flags) < 2 {
		return PresenceNotification{}, fmt.Errorf("presence: bad flags %s", content[1])
	}
	return PresenceNotification{
		Participant: ParticipantID{GaiaID: ids[0], ChatID: ids[1]},
		Reachable:   flags[0] != 0,
		Available:   flags[1] != 0,
	}, nil
}

func writeEnvelope(ctx context.Context, conn *websocket.Conn, env RemoteEnvelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, data)
}

func mustJSON(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return data
}
