package ws

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"echo-civic-assistant/backend/ai"
	"echo-civic-assistant/backend/internal/assistant"
	"echo-civic-assistant/backend/internal/models"
	"echo-civic-assistant/backend/internal/service"
	apperrors "echo-civic-assistant/backend/pkg/errors"
	"echo-civic-assistant/backend/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer; images and audio clips arrive inline
	maxMessageSize = 8 * 1024 * 1024

	// Time allowed for one speech round trip
	speechTimeout = 30 * time.Second

	// Inbound frames waiting for the client's handler
	frameQueueSize = 32
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // origin is enforced by the CORS middleware and the JWT
	},
	HandshakeTimeout: 10 * time.Second,
	ReadBufferSize:   1024,
	WriteBufferSize:  1024,
}

// Message is an outbound frame
type Message struct {
	Type    string      `json:"type"`
	Content interface{} `json:"content,omitempty"`
}

// frame is an inbound frame; content is decoded per type
type frame struct {
	Type    string          `json:"type"`
	Content json.RawMessage `json:"content"`
}

// SessionProvider hands out the per-user assistant sessions
type SessionProvider interface {
	Get(ctx context.Context, userID string) (*service.Session, error)
}

// Client is one websocket connection bound to a user's session
type Client struct {
	ID     string
	UserID string
	Conn   *websocket.Conn
	Hub    *Hub

	mu     sync.Mutex
	send   chan []byte
	closed bool
	sess   *service.Session
	unsub  func()
}

type Hub struct {
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	sessions   SessionProvider
	speech     *ai.SpeechClient
	log        *logger.Logger
	mu         sync.RWMutex
}

// NewHub creates a hub. speech may be nil, in which case audio and speak
// frames are answered with an error.
func NewHub(sessions SessionProvider, speech *ai.SpeechClient, log *logger.Logger) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		sessions:   sessions,
		speech:     speech,
		log:        log,
	}
}

// Run serves registrations until ctx is cancelled, then drops every client
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				delete(h.clients, client)
				client.close()
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			h.log.Debug("Client registered", "client_id", client.ID, "user_id", client.UserID)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				client.close()
				h.log.Debug("Client unregistered", "client_id", client.ID)
			}
			h.mu.Unlock()
		}
	}
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// broadcastUser sends a frame to every connection of a user
func (h *Hub) broadcastUser(userID, messageType string, content interface{}) {
	data, err := json.Marshal(Message{Type: messageType, Content: content})
	if err != nil {
		h.log.Error("Error marshaling message", "type", messageType, "error", err.Error())
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients {
		if client.UserID != userID {
			continue
		}
		if !client.enqueue(data) {
			h.log.Warn("Dropping frame for blocked client", "client_id", client.ID, "type", messageType)
		}
	}
}

// listener turns store updates into frames for the user's connections
func (h *Hub) listener(userID string) func(assistant.Update) {
	return func(u assistant.Update) {
		switch u.Kind {
		case assistant.UpdateMessage:
			h.broadcastUser(userID, "message", u.Message)
		case assistant.UpdateTyping:
			h.broadcastUser(userID, "typing", map[string]interface{}{
				"is_typing": true,
				"id":        u.Message.ID,
			})
		case assistant.UpdateTypingCleared:
			h.broadcastUser(userID, "typing", map[string]interface{}{
				"is_typing": false,
			})
		case assistant.UpdateReset:
			h.broadcastUser(userID, "chat_history", map[string]interface{}{
				"messages": u.Messages,
			})
		}
	}
}

// session returns the client's live session, rebinding when the previous
// one was evicted
func (c *Client) session() (*service.Session, error) {
	sess, err := c.Hub.sessions.Get(context.Background(), c.UserID)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	current := c.sess
	c.mu.Unlock()
	if current != sess {
		c.bind(sess)
		c.sendMessage("chat_history", map[string]interface{}{
			"messages": sess.Assistant.Messages(),
		})
	}
	return sess, nil
}

// bind subscribes the client to the session's updates and events
func (c *Client) bind(sess *service.Session) {
	sess.Assistant.OnUpdate(c.Hub.listener(c.UserID))
	events, unsub := sess.Events.Subscribe(32)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		unsub()
		return
	}
	prev := c.unsub
	c.sess = sess
	c.unsub = unsub
	c.mu.Unlock()
	if prev != nil {
		prev()
	}

	go func() {
		for e := range events {
			c.sendMessage("event", e)
		}
	}()
}

func (c *Client) enqueue(data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

func (c *Client) close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	unsub := c.unsub
	c.unsub = nil
	c.mu.Unlock()

	if unsub != nil {
		unsub()
	}
}

func (c *Client) leave() {
	select {
	case c.Hub.unregister <- c:
	case <-c.Hub.done:
		c.close()
	}
}

func (c *Client) ReadPump() {
	defer func() {
		c.leave()
		c.Conn.Close()
		c.Hub.log.Debug("ReadPump ended", "client_id", c.ID)
	}()

	c.Conn.SetReadLimit(maxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	frames := make(chan frame, frameQueueSize)
	defer close(frames)
	go c.processFrames(frames)

	for {
		_, messageData, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.Hub.log.Warn("Websocket read failed", "client_id", c.ID, "error", err.Error())
			}
			break
		}

		var message frame
		if err := json.Unmarshal(messageData, &message); err != nil {
			c.Hub.log.Warn("Error unmarshaling message", "client_id", c.ID, "error", err.Error())
			c.sendErrorMessage("Malformed message")
			continue
		}

		frames <- message
	}
}

// processFrames handles a client's frames one at a time in arrival order.
// Composer frames depend on the ones before them.
func (c *Client) processFrames(frames <-chan frame) {
	for message := range frames {
		c.handleMessage(message)
	}
}

func (c *Client) handleMessage(message frame) {
	if message.Type == "ping" {
		c.sendMessage("pong", nil)
		return
	}

	sess, err := c.session()
	if err != nil {
		c.Hub.log.Warn("No session for client", "client_id", c.ID, "error", err.Error())
		c.sendErrorMessage("Session unavailable")
		return
	}

	switch message.Type {
	case "chat":
		c.handleChat(sess, message.Content)
	case "input":
		var content struct {
			Text string `json:"text"`
		}
		if c.decode(message.Content, &content) {
			sess.Assistant.Input().SetText(content.Text)
		}
	case "key":
		c.handleKey(sess, message.Content)
	case "image":
		c.handleImage(sess, message.Content)
	case "clear_image":
		sess.Assistant.Input().ClearImage()
	case "audio":
		go c.handleAudio(sess, message.Content)
	case "speak":
		go c.handleSpeak(sess, message.Content)
	case "settings":
		c.handleSettings(sess, message.Content)
	case "location":
		var content struct {
			Latitude  float64 `json:"latitude"`
			Longitude float64 `json:"longitude"`
		}
		if !c.decode(message.Content, &content) {
			return
		}
		if err := sess.Geo.Update(content.Latitude, content.Longitude); err != nil {
			c.sendWarning("Location rejected: " + err.Error())
		}
	case "reset":
		var content struct {
			Confirm bool `json:"confirm"`
		}
		if c.decode(message.Content, &content) && content.Confirm {
			sess.Assistant.Reset()
		}
	case "history":
		c.sendMessage("chat_history", map[string]interface{}{
			"messages": sess.Assistant.Messages(),
		})
	default:
		c.Hub.log.Warn("Unknown message type", "client_id", c.ID, "type", message.Type)
	}
}

func (c *Client) handleChat(sess *service.Session, raw json.RawMessage) {
	var content struct {
		Text  string             `json:"text"`
		Image *models.Attachment `json:"image"`
	}
	if !c.decode(raw, &content) {
		return
	}

	c.runTurn(sess.Assistant.StartSubmitText(sess.Context(), content.Text, content.Image))
}

func (c *Client) handleKey(sess *service.Session, raw json.RawMessage) {
	var content struct {
		Key   string `json:"key"`
		Shift bool   `json:"shift"`
	}
	if !c.decode(raw, &content) {
		return
	}

	c.runTurn(sess.Assistant.StartKeyPress(sess.Context(), content.Key, content.Shift))
}

// runTurn waits for the model off the frame loop. Later frames are handled
// while the request is in flight and further submits are dropped as busy.
func (c *Client) runTurn(turn assistant.Turn, err error) {
	if err != nil || turn == nil {
		c.reportSubmit(err)
		return
	}
	go func() {
		_, err := turn()
		c.reportSubmit(err)
	}()
}

// reportSubmit surfaces submit outcomes the conversation itself does not show
func (c *Client) reportSubmit(err error) {
	switch {
	case err == nil:
	case errors.Is(err, assistant.ErrNotAnImage):
		c.sendWarning(assistant.NotAnImageWarning)
	case errors.Is(err, assistant.ErrBusy), errors.Is(err, assistant.ErrNothingToSend):
		c.Hub.log.Debug("Submit ignored", "client_id", c.ID, "reason", err.Error())
	default:
		c.Hub.log.Error("Submit failed", "client_id", c.ID, "error", err.Error())
		c.sendErrorMessage("Failed to send message")
	}
}

func (c *Client) handleImage(sess *service.Session, raw json.RawMessage) {
	var content models.Attachment
	if !c.decode(raw, &content) {
		return
	}
	if _, err := sess.Assistant.Input().StageEncodedImage(content.Data, content.MimeType); err != nil {
		c.sendWarning(assistant.NotAnImageWarning)
	}
}

func (c *Client) handleAudio(sess *service.Session, raw json.RawMessage) {
	var content struct {
		Data     json.RawMessage `json:"data"`
		Filename string          `json:"filename"`
	}
	if !c.decode(raw, &content) {
		return
	}
	if c.Hub.speech == nil {
		c.sendErrorMessage(assistant.ErrSpeechUnavailable.Error())
		return
	}

	audioData, err := decodeAudio(content.Data)
	if err != nil {
		c.Hub.log.Warn("Unsupported audio data", "client_id", c.ID, "error", err.Error())
		c.sendErrorMessage("Unsupported audio data format")
		return
	}

	ctx, cancel := context.WithTimeout(sess.Context(), speechTimeout)
	defer cancel()

	recognizer := ai.ClipRecognizer{Client: c.Hub.speech, Audio: audioData, Filename: content.Filename}
	text, err := sess.Assistant.Listen(ctx, recognizer)
	if err != nil {
		c.Hub.log.Error("Error converting speech to text", "client_id", c.ID, "error", err.Error())
		c.sendErrorMessage("Failed to process speech")
		return
	}

	c.sendMessage("speech_text", map[string]interface{}{
		"text": text,
	})
}

// decodeAudio accepts base64 or a plain array of byte values
func decodeAudio(raw json.RawMessage) ([]byte, error) {
	var encoded string
	if err := json.Unmarshal(raw, &encoded); err == nil {
		return base64.StdEncoding.DecodeString(encoded)
	}

	var values []int
	if err := json.Unmarshal(raw, &values); err != nil {
		return nil, err
	}
	out := make([]byte, len(values))
	for i, v := range values {
		out[i] = byte(v)
	}
	return out, nil
}

func (c *Client) handleSpeak(sess *service.Session, raw json.RawMessage) {
	var content struct {
		MessageID int64 `json:"messageId"`
	}
	if !c.decode(raw, &content) {
		return
	}
	if c.Hub.speech == nil {
		c.sendErrorMessage(assistant.ErrSpeechUnavailable.Error())
		return
	}

	ctx, cancel := context.WithTimeout(sess.Context(), speechTimeout)
	defer cancel()

	speaker := ai.AudioSpeaker{
		Client: c.Hub.speech,
		Sink: func(audio []byte) {
			c.sendMessage("audio", map[string]interface{}{
				"data":      base64.StdEncoding.EncodeToString(audio),
				"messageId": content.MessageID,
			})
		},
	}
	if err := sess.Assistant.Speak(ctx, speaker, content.MessageID); err != nil {
		c.Hub.log.Warn("Error generating speech", "client_id", c.ID, "error", err.Error())
		c.sendErrorMessage("Failed to generate speech")
	}
}

func (c *Client) handleSettings(sess *service.Session, raw json.RawMessage) {
	var content struct {
		Model     *string `json:"model"`
		UseSearch *bool   `json:"useSearch"`
		UseMaps   *bool   `json:"useMaps"`
	}
	if !c.decode(raw, &content) {
		return
	}

	settings := sess.Assistant.Settings()
	if content.Model != nil {
		if err := settings.SetModel(*content.Model); err != nil {
			c.sendWarning("Unknown model: " + *content.Model)
		}
	}
	if content.UseSearch != nil {
		settings.SetSearch(*content.UseSearch)
	}
	if content.UseMaps != nil {
		settings.SetMaps(*content.UseMaps)
	}
	c.sendMessage("settings", settings.Snapshot())
}

func (c *Client) decode(raw json.RawMessage, v interface{}) bool {
	if len(raw) == 0 {
		raw = json.RawMessage("{}")
	}
	if err := json.Unmarshal(raw, v); err != nil {
		c.Hub.log.Warn("Error unmarshaling content", "client_id", c.ID, "error", err.Error())
		c.sendErrorMessage("Malformed message")
		return false
	}
	return true
}

func (c *Client) sendMessage(messageType string, content interface{}) {
	data, err := json.Marshal(Message{Type: messageType, Content: content})
	if err != nil {
		c.Hub.log.Error("Error marshaling message", "type", messageType, "error", err.Error())
		return
	}
	if !c.enqueue(data) {
		c.Hub.log.Debug("Frame not delivered", "client_id", c.ID, "type", messageType)
	}
}

func (c *Client) sendWarning(text string) {
	c.sendMessage("warning", map[string]string{
		"message": text,
	})
}

func (c *Client) sendErrorMessage(errorText string) {
	c.sendMessage("error", map[string]string{
		"message": errorText,
	})
}

func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

			// Send any queued messages as separate frames
			n := len(c.send)
			for i := 0; i < n; i++ {
				extra, ok := <-c.send
				if !ok {
					c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
					return
				}
				if err := c.Conn.WriteMessage(websocket.TextMessage, extra); err != nil {
					return
				}
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// ServeWs upgrades an authenticated request and attaches it to the user's
// session. JWTAuthMiddleware must run first.
func ServeWs(hub *Hub, c *gin.Context) {
	userID := c.GetString("userID")
	if userID == "" {
		_ = c.Error(apperrors.NewUnauthorizedError("AUTH_REQUIRED", "Authentication required"))
		return
	}

	sess, err := hub.sessions.Get(c.Request.Context(), userID)
	if err != nil {
		hub.log.Error("Failed to open session", "user_id", userID, "error", err.Error())
		_ = c.Error(apperrors.NewServiceUnavailableError("SESSION_UNAVAILABLE", "Assistant session unavailable"))
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		hub.log.Warn("Error upgrading connection", "error", err.Error())
		return
	}
	conn.EnableWriteCompression(true)

	client := &Client{
		ID:     uuid.New().String(),
		UserID: userID,
		Conn:   conn,
		Hub:    hub,
		send:   make(chan []byte, 256),
	}
	client.bind(sess)
	client.sendMessage("chat_history", map[string]interface{}{
		"messages": sess.Assistant.Messages(),
	})

	select {
	case hub.register <- client:
	case <-hub.done:
		conn.Close()
		client.close()
		return
	}
	hub.log.Info("Websocket connection established", "client_id", client.ID, "user_id", userID, "session_id", sess.ID)

	go client.WritePump()
	go client.ReadPump()
}
