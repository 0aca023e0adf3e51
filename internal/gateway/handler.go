// Package gateway accepts client connections, resolves their session
// identity, binds students to their conversation's turn controller, and
// routes events between the transport and the turn engine. Only I/O and
// role-based phrasing live here; turn semantics belong to internal/turn.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"tutorhub/internal/turn"
	"tutorhub/pkg/interfaces"
	"tutorhub/pkg/types"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// Origin checks belong to the fronting proxy in deployment.
		return true
	},
	HandshakeTimeout: 10 * time.Second,
}

const (
	// sessionCookieName is where the external identity flow leaves the
	// session token when it is not passed as a query parameter.
	sessionCookieName = "tutorhub_session"

	authTimeout  = 10 * time.Second
	readTimeout  = 60 * time.Second
	pingInterval = 30 * time.Second
	pingDeadline = 10 * time.Second
)

// client is the per-connection context, built once at connect time:
// the transport handle, the resolved identity, and (for students with
// an active topic) the bound turn controller.
type client struct {
	conn       *Connection
	identity   *types.Identity
	controller *turn.Controller
}

// Handler manages connection lifecycle and event routing.
type Handler struct {
	resolver interfaces.SessionResolver
	store    interfaces.ConversationStore
	turns    *turn.Registry
	rooms    *Rooms
	limiter  *RateLimiter
}

// NewHandler creates a gateway handler.
func NewHandler(
	resolver interfaces.SessionResolver,
	store interfaces.ConversationStore,
	turns *turn.Registry,
	messagesPerMinute int,
) *Handler {
	return &Handler{
		resolver: resolver,
		store:    store,
		turns:    turns,
		rooms:    NewRooms(),
		limiter:  NewRateLimiter(messagesPerMinute),
	}
}

// Rooms exposes the room registry, mainly for tests and stats.
func (h *Handler) Rooms() *Rooms {
	return h.rooms
}

// HandleSocket upgrades the connection, authenticates it, and runs its
// read loop until disconnect. Auth failures emit one auth_error event
// and force-close immediately; no partial connection state is retained.
func (h *Handler) HandleSocket(w http.ResponseWriter, r *http.Request) {
	wsConn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("gateway: websocket upgrade failed: %v", err)
		return
	}
	conn := NewConnection(wsConn)

	ctx, cancel := context.WithTimeout(context.Background(), authTimeout)
	defer cancel()

	identity, err := h.resolver.Resolve(ctx, sessionToken(r))
	if err != nil {
		_ = conn.WriteJSON(types.NewAuthErrorEvent(authFailureMessage(err)))
		// Give the writer goroutine a moment to flush before closing.
		time.Sleep(50 * time.Millisecond)
		_ = conn.Close()
		log.Printf("gateway: rejected connection: %v", err)
		return
	}

	cl := &client{conn: conn, identity: identity}
	log.Printf("gateway: client connected: email=%s role=%s", identity.Email, identity.Role)

	h.sendWelcome(ctx, cl)

	if identity.Role == types.RoleStudent {
		controller, err := h.turns.Attach(ctx, identity)
		switch {
		case err == nil:
			cl.controller = controller
		case errors.Is(err, interfaces.ErrNoActiveTopic):
			// Welcome already told the student there is no topic yet;
			// message events will answer with NoActiveConversation.
		default:
			log.Printf("gateway: failed to attach controller for %s: %v", identity.Email, err)
			_ = conn.WriteJSON(types.NewErrorEvent(CodeNoActiveConversation,
				"Could not open your conversation - please reconnect"))
		}
	}

	h.readLoop(cl)
}

// readLoop pumps inbound events until the socket errors or closes, with
// the teacher-standard ping/pong heartbeat. Disconnect releases room
// memberships and detaches the controller; the controller itself is
// retained by the registry for fast reconnects.
func (h *Handler) readLoop(cl *client) {
	defer func() {
		for _, room := range h.rooms.LeaveAll(cl.conn) {
			h.rooms.Broadcast(room, nil, types.NewStatusEvent(
				fmt.Sprintf("%s (%s) has left the room.", cl.identity.DisplayName, cl.identity.Role)))
		}
		if cl.controller != nil {
			h.turns.Detach(cl.controller.ConversationID())
		}
		_ = cl.conn.Close()
		log.Printf("gateway: client disconnected: email=%s", cl.identity.Email)
	}()

	if err := cl.conn.conn.SetReadDeadline(time.Now().Add(readTimeout)); err != nil {
		return
	}
	cl.conn.conn.SetPongHandler(func(string) error {
		return cl.conn.conn.SetReadDeadline(time.Now().Add(readTimeout))
	})

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	go func() {
		for {
			select {
			case <-ticker.C:
				if err := cl.conn.conn.WriteControl(websocket.PingMessage, []byte{},
					time.Now().Add(pingDeadline)); err != nil {
					return
				}
			case <-cl.conn.ctx.Done():
				return
			}
		}
	}()

	for {
		_, data, err := cl.conn.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("gateway: read error for %s: %v", cl.identity.Email, err)
			}
			return
		}

		var event types.ClientEvent
		if err := json.Unmarshal(data, &event); err != nil {
			_ = cl.conn.WriteJSON(types.NewErrorEvent(CodeBadEvent, "Malformed event"))
			continue
		}
		h.dispatch(cl, event)
	}
}

// dispatch routes one inbound event. Nothing here may panic past the
// boundary: one client's failure must never reach another conversation.
func (h *Handler) dispatch(cl *client, event types.ClientEvent) {
	switch event.Type {
	case types.EventJoin:
		h.handleJoin(cl, event.Room)
	case types.EventLeave:
		h.handleLeave(cl, event.Room)
	case types.EventMessage:
		h.handleMessage(cl, event.Text)
	default:
		_ = cl.conn.WriteJSON(types.NewErrorEvent(CodeBadEvent,
			fmt.Sprintf("Unknown event type %q", event.Type)))
	}
}

func (h *Handler) handleJoin(cl *client, room string) {
	if err := types.ValidateRoomName(room); err != nil {
		_ = cl.conn.WriteJSON(types.NewErrorEvent(CodeBadEvent, err.Error()))
		return
	}
	h.rooms.Join(room, cl.conn)
	h.rooms.Broadcast(room, cl.conn, types.NewStatusEvent(
		fmt.Sprintf("%s (%s) has joined the room.", cl.identity.DisplayName, cl.identity.Role)))
	log.Printf("gateway: %s joined room %s", cl.identity.Email, room)
}

func (h *Handler) handleLeave(cl *client, room string) {
	if err := types.ValidateRoomName(room); err != nil {
		_ = cl.conn.WriteJSON(types.NewErrorEvent(CodeBadEvent, err.Error()))
		return
	}
	h.rooms.Leave(room, cl.conn)
	h.rooms.Broadcast(room, cl.conn, types.NewStatusEvent(
		fmt.Sprintf("%s (%s) has left the room.", cl.identity.DisplayName, cl.identity.Role)))
	log.Printf("gateway: %s left room %s", cl.identity.Email, room)
}

// handleMessage forwards one message to the bound turn controller. The
// enqueue happens here, on the read-loop goroutine, so turns enter the
// controller's queue in the order the socket delivered them; only the
// wait for the reply runs on its own goroutine, keeping the loop free
// to pump the next event.
func (h *Handler) handleMessage(cl *client, text string) {
	if err := types.ValidateMessageText(text); err != nil {
		_ = cl.conn.WriteJSON(types.NewErrorEvent(CodeBadEvent, err.Error()))
		return
	}
	if !h.limiter.Allow(cl.identity.Email) {
		_ = cl.conn.WriteJSON(types.NewErrorEvent(CodeRateLimited,
			"Slow down - too many messages this minute"))
		return
	}
	if cl.controller == nil {
		_ = cl.conn.WriteJSON(types.NewErrorEvent(CodeNoActiveConversation,
			"No active conversation - reconnect once your teacher sets a topic"))
		return
	}

	_ = cl.conn.WriteJSON(types.NewStatusEvent("Assistant is thinking..."))

	resultCh, err := cl.controller.Enqueue(text)
	if err != nil {
		log.Printf("gateway: turn refused for %s: %v", cl.identity.Email, err)
		_ = cl.conn.WriteJSON(types.NewErrorEvent(CodeTurnFailed, "Error processing your request"))
		return
	}

	go func() {
		// The connection context bounds only this wait; a disconnect
		// abandons the reply but the turn itself completes and persists.
		select {
		case res := <-resultCh:
			if res.Err != nil {
				log.Printf("gateway: turn failed for %s: %v", cl.identity.Email, res.Err)
				_ = cl.conn.WriteJSON(types.NewErrorEvent(CodeTurnFailed, "Error processing your request"))
				return
			}
			_ = cl.conn.WriteJSON(types.NewResponseEvent(res.Reply))
		case <-cl.conn.ctx.Done():
		}
	}()
}

// sendWelcome emits the role-specific connect notification. Students
// hear the standing topic, if any; teachers get a plain acknowledgment.
func (h *Handler) sendWelcome(ctx context.Context, cl *client) {
	if cl.identity.Role == types.RoleTeacher {
		_ = cl.conn.WriteJSON(types.NewStatusEvent(
			fmt.Sprintf("Welcome, %s! You are connected as a teacher.", cl.identity.DisplayName)))
		return
	}

	topic, _, err := h.store.ActiveTopic(ctx)
	switch {
	case err == nil:
		_ = cl.conn.WriteJSON(types.NewStatusEvent(
			fmt.Sprintf("Welcome, %s! Your teacher has set the topic to be: %s", cl.identity.DisplayName, topic)))
	case errors.Is(err, interfaces.ErrNoActiveTopic):
		_ = cl.conn.WriteJSON(types.NewStatusEvent(
			fmt.Sprintf("Welcome, %s! No topic has been set by your teacher yet.", cl.identity.DisplayName)))
	default:
		log.Printf("gateway: topic lookup failed for %s: %v", cl.identity.Email, err)
		_ = cl.conn.WriteJSON(types.NewStatusEvent(
			fmt.Sprintf("Welcome, %s! The current topic could not be looked up - please reconnect.", cl.identity.DisplayName)))
	}
}

// sessionToken pulls the opaque session token from the handshake:
// query parameter first, then the session cookie.
func sessionToken(r *http.Request) string {
	if token := r.URL.Query().Get("token"); token != "" {
		return token
	}
	if cookie, err := r.Cookie(sessionCookieName); err == nil {
		return cookie.Value
	}
	return ""
}

// authFailureMessage phrases an auth failure for the client without
// leaking which part of the lookup failed beyond what it needs.
func authFailureMessage(err error) string {
	switch {
	case errors.Is(err, interfaces.ErrUnauthenticated):
		return "Not authenticated - please log in first"
	case errors.Is(err, interfaces.ErrUnknownIdentity):
		return "User not found - please log in again"
	default:
		return "Authentication error - please try again"
	}
}
