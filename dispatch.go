package chatkit

import (
	"encoding/json"
	"log"
)

// dispatcher turns raw inbound channel payloads into typed events and
// routes each to the matching store mutation through the session's
// mutation queue. The type discriminator is validated before the payload
// is trusted; anything malformed or unrecognized is logged and dropped,
// never fatal.
type dispatcher struct {
	session *Session
	logger  *log.Logger
}

func (d *dispatcher) Dispatch(raw []byte) {
	var env eventEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		d.logger.Printf("chatkit: dropping malformed event payload: %v", err)
		return
	}

	switch env.Type {
	case EventMessage:
		var ev MessageEvent
		if err := json.Unmarshal(raw, &ev); err != nil || ev.Message.ID == 0 || ev.Message.ChatID == 0 {
			d.logger.Printf("chatkit: dropping %s event with invalid payload", env.Type)
			return
		}
		d.session.post(func() { d.session.applyNewMessage(ev.Message) })

	case EventStatus:
		var ev StatusEvent
		if err := json.Unmarshal(raw, &ev); err != nil || ev.UserID == 0 {
			d.logger.Printf("chatkit: dropping %s event with invalid payload", env.Type)
			return
		}
		d.session.post(func() { d.session.applyStatus(ev.UserID, ev.IsOnline) })

	case EventOnlineUsers:
		var ev OnlineUsersEvent
		if err := json.Unmarshal(raw, &ev); err != nil {
			d.logger.Printf("chatkit: dropping %s event with invalid payload", env.Type)
			return
		}
		ids := make([]int64, 0, len(ev.Users))
		for _, u := range ev.Users {
			if u.UserID != 0 {
				ids = append(ids, u.UserID)
			}
		}
		d.session.post(func() { d.session.applyOnlineUsers(ids) })

	case EventChatCreated:
		// The event carries no body; refetch the chat list.
		d.session.RefreshChats()

	case EventUserTyping:
		var ev TypingEvent
		if err := json.Unmarshal(raw, &ev); err != nil || ev.ChatID == 0 || ev.UserID == 0 {
			d.logger.Printf("chatkit: dropping %s event with invalid payload", env.Type)
			return
		}
		d.session.post(func() { d.session.applyTyping(ev.ChatID, ev.UserID) })

	case EventHeartbeatAck:
		// Keep-alive acknowledged; no state to update.

	default:
		d.logger.Printf("chatkit: dropping unknown event type %q", env.Type)
	}
}
