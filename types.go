package chatkit

import (
	"encoding/json"
	"fmt"
	"time"
)

// ============================================================================
// Shared Types
// ============================================================================

// APIError represents an error returned by the chat API.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return e.Message
	}
	return e.Code + ": " + e.Message
}

// ============================================================================
// Data Model
// ============================================================================

// User is a chat participant.
//
// Online status is intentionally not a field: it is looked up from the
// session's presence tracker, never stored on the user record.
type User struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email,omitempty"`
}

// Message is a single chat message. Messages are immutable once confirmed
// by the server; a message only exists client-side after the server has
// assigned it an ID.
type Message struct {
	ID        int64     `json:"id"`
	ChatID    int64     `json:"chatId"`
	SenderID  int64     `json:"senderId"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
	Read      bool      `json:"read"`
}

// Chat is a conversation summary as held in the chat store.
type Chat struct {
	ID           int64    `json:"id"`
	Name         string   `json:"name"`
	IsGroup      bool     `json:"isGroup"`
	Participants []User   `json:"participants"`
	LastMessage  *Message `json:"lastMessage,omitempty"`
	UnreadCount  int      `json:"unreadCount"`
}

// DisplayName returns the name shown for the chat. Group chats carry their
// own name; one-to-one chats are named after the other participant.
func (c *Chat) DisplayName(selfID int64) string {
	if c.IsGroup || c.Name != "" {
		return c.Name
	}
	for _, p := range c.Participants {
		if p.ID != selfID {
			return p.Username
		}
	}
	return fmt.Sprintf("chat %d", c.ID)
}

// HasParticipant reports whether the given user is a member of the chat.
func (c *Chat) HasParticipant(userID int64) bool {
	for _, p := range c.Participants {
		if p.ID == userID {
			return true
		}
	}
	return false
}

// ============================================================================
// Channel Wire Format
// ============================================================================

// Client-to-server command types.
const (
	CommandHeartbeat = "heartbeat"
	CommandMessage   = "message"
	CommandMarkRead  = "mark_read"
	CommandTyping    = "typing"
)

// Server-to-client event types.
const (
	EventMessage      = "message"
	EventStatus       = "status"
	EventOnlineUsers  = "online_users"
	EventChatCreated  = "chat_created"
	EventUserTyping   = "user_typing"
	EventHeartbeatAck = "heartbeat_ack"
)

// ClientCommand is a structured outbound channel message.
type ClientCommand struct {
	Type      string `json:"type"`
	ChatID    int64  `json:"chatId,omitempty"`
	Content   string `json:"content,omitempty"`
	RequestID string `json:"requestId,omitempty"`
}

// eventEnvelope carries only the discriminator; payload fields are decoded
// per-type after the tag has been validated.
type eventEnvelope struct {
	Type string `json:"type"`
}

// MessageEvent is the payload of an EventMessage event.
type MessageEvent struct {
	Message Message `json:"message"`
}

// StatusEvent is the payload of an EventStatus event (single-user
// presence change).
type StatusEvent struct {
	UserID   int64 `json:"userId"`
	IsOnline bool  `json:"isOnline"`
}

// OnlineUser is one entry of an EventOnlineUsers event. Servers emit
// either bare numeric ids or {user_id, username} objects; both decode.
type OnlineUser struct {
	UserID   int64  `json:"user_id"`
	Username string `json:"username,omitempty"`
}

func (u *OnlineUser) UnmarshalJSON(data []byte) error {
	var id int64
	if err := json.Unmarshal(data, &id); err == nil {
		u.UserID = id
		u.Username = ""
		return nil
	}
	type alias OnlineUser
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	if a.UserID == 0 {
		// Some servers use camelCase here.
		var camel struct {
			UserID int64 `json:"userId"`
		}
		if err := json.Unmarshal(data, &camel); err == nil {
			a.UserID = camel.UserID
		}
	}
	*u = OnlineUser(a)
	return nil
}

// OnlineUsersEvent is the payload of an EventOnlineUsers event (full
// presence snapshot).
type OnlineUsersEvent struct {
	Users []OnlineUser `json:"users"`
}

// TypingEvent is the payload of an EventUserTyping event.
type TypingEvent struct {
	ChatID int64 `json:"chatId"`
	UserID int64 `json:"userId"`
}
