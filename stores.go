package chatkit

import (
	"sort"
	"sync"
	"time"
)

// DefaultGroupGap is the sender-grouping window for message display.
const DefaultGroupGap = 5 * time.Minute

// ============================================================================
// ChatStore
// ============================================================================

// ChatStore is the in-memory mapping of chat id to chat summary. Every
// mutation installs a fresh map and fresh values for the touched chats,
// so snapshots taken by readers are never mutated underneath them.
type ChatStore struct {
	mu    sync.RWMutex
	chats map[int64]*Chat
}

func NewChatStore() *ChatStore {
	return &ChatStore{chats: make(map[int64]*Chat)}
}

// ReplaceAll installs a full refetch result, discarding all prior entries.
func (s *ChatStore) ReplaceAll(chats []Chat) {
	next := make(map[int64]*Chat, len(chats))
	for i := range chats {
		c := chats[i]
		next[c.ID] = &c
	}
	s.mu.Lock()
	s.chats = next
	s.mu.Unlock()
}

// Upsert inserts or replaces a single chat summary.
func (s *ChatStore) Upsert(chat Chat) {
	s.mu.Lock()
	next := s.cloneLocked()
	next[chat.ID] = &chat
	s.chats = next
	s.mu.Unlock()
}

// Get returns a copy of the chat summary, if present.
func (s *ChatStore) Get(chatID int64) (Chat, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.chats[chatID]
	if !ok {
		return Chat{}, false
	}
	return *c, true
}

// PatchLastMessage updates the most-recent-message pointer of a chat.
// Unknown chat ids are ignored.
func (s *ChatStore) PatchLastMessage(chatID int64, msg Message) {
	s.patch(chatID, func(c *Chat) {
		m := msg
		c.LastMessage = &m
	})
}

// IncrementUnread bumps a chat's unread counter by one.
func (s *ChatStore) IncrementUnread(chatID int64) {
	s.patch(chatID, func(c *Chat) {
		c.UnreadCount++
	})
}

// ClearUnread zeroes a chat's unread counter.
func (s *ChatStore) ClearUnread(chatID int64) {
	s.patch(chatID, func(c *Chat) {
		c.UnreadCount = 0
	})
}

// SetParticipantOnline installs fresh values for every chat containing
// the given participant. The online flag itself lives in the presence
// tracker; this fan-out exists so that consumers relying on
// reference-identity change detection observe the presence change.
func (s *ChatStore) SetParticipantOnline(userID int64, isOnline bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := s.cloneLocked()
	changed := false
	for id, c := range next {
		if c.HasParticipant(userID) {
			fresh := *c
			next[id] = &fresh
			changed = true
		}
	}
	if changed {
		s.chats = next
	}
}

// Chats returns a snapshot of all chats, most recent activity first.
func (s *ChatStore) Chats() []Chat {
	s.mu.RLock()
	out := make([]Chat, 0, len(s.chats))
	for _, c := range s.chats {
		out = append(out, *c)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		ti, tj := chatActivity(&out[i]), chatActivity(&out[j])
		if !ti.Equal(tj) {
			return ti.After(tj)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// UnreadTotal returns the sum of unread counters across all chats.
func (s *ChatStore) UnreadTotal() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	total := 0
	for _, c := range s.chats {
		total += c.UnreadCount
	}
	return total
}

// Len returns the number of chats held.
func (s *ChatStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.chats)
}

// Clear discards all entries, e.g. on logout.
func (s *ChatStore) Clear() {
	s.mu.Lock()
	s.chats = make(map[int64]*Chat)
	s.mu.Unlock()
}

func (s *ChatStore) patch(chatID int64, fn func(*Chat)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	old, ok := s.chats[chatID]
	if !ok {
		return
	}
	next := s.cloneLocked()
	fresh := *old
	fn(&fresh)
	next[chatID] = &fresh
	s.chats = next
}

func (s *ChatStore) cloneLocked() map[int64]*Chat {
	next := make(map[int64]*Chat, len(s.chats))
	for id, c := range s.chats {
		next[id] = c
	}
	return next
}

func chatActivity(c *Chat) time.Time {
	if c.LastMessage != nil {
		return c.LastMessage.CreatedAt
	}
	return time.Time{}
}

// ============================================================================
// MessageStore
// ============================================================================

// MessageStore holds the ordered message sequence for the single
// currently selected chat. Ordering is by creation time, ties broken by
// id, regardless of the order pages arrive in.
type MessageStore struct {
	mu   sync.RWMutex
	msgs []Message
}

func NewMessageStore() *MessageStore {
	return &MessageStore{}
}

// SetPage applies one page of history. The first page replaces the store
// content; subsequent (older) pages are merged in front while the overall
// ordering is preserved.
func (s *MessageStore) SetPage(msgs []Message, firstPage bool) {
	page := make([]Message, len(msgs))
	copy(page, msgs)

	s.mu.Lock()
	defer s.mu.Unlock()
	if firstPage {
		s.msgs = sortMessages(page)
		return
	}
	merged := append(page, s.msgs...)
	s.msgs = sortMessages(merged)
}

// Append adds a single live message at the end.
func (s *MessageStore) Append(msg Message) {
	s.mu.Lock()
	s.msgs = append(s.msgs, msg)
	s.mu.Unlock()
}

// Reset clears the store, e.g. on chat switch.
func (s *MessageStore) Reset() {
	s.mu.Lock()
	s.msgs = nil
	s.mu.Unlock()
}

// Messages returns a snapshot of the held sequence.
func (s *MessageStore) Messages() []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Message, len(s.msgs))
	copy(out, s.msgs)
	return out
}

// Len returns the number of messages held.
func (s *MessageStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.msgs)
}

// MessageGroup is a run of consecutive messages from one sender, used
// for display. Grouping is a read-time projection, never stored.
type MessageGroup struct {
	SenderID int64
	Messages []Message
}

// Grouped projects the sequence into sender runs: consecutive messages
// from the same sender within gap of each other share a group. A
// non-positive gap uses DefaultGroupGap.
func (s *MessageStore) Grouped(gap time.Duration) []MessageGroup {
	if gap <= 0 {
		gap = DefaultGroupGap
	}
	msgs := s.Messages()

	var groups []MessageGroup
	for _, m := range msgs {
		n := len(groups)
		if n > 0 {
			last := &groups[n-1]
			prev := last.Messages[len(last.Messages)-1]
			if prev.SenderID == m.SenderID && m.CreatedAt.Sub(prev.CreatedAt) <= gap {
				last.Messages = append(last.Messages, m)
				continue
			}
		}
		groups = append(groups, MessageGroup{SenderID: m.SenderID, Messages: []Message{m}})
	}
	return groups
}

func sortMessages(msgs []Message) []Message {
	sort.SliceStable(msgs, func(i, j int) bool {
		if !msgs[i].CreatedAt.Equal(msgs[j].CreatedAt) {
			return msgs[i].CreatedAt.Before(msgs[j].CreatedAt)
		}
		return msgs[i].ID < msgs[j].ID
	})
	return msgs
}

// ============================================================================
// PresenceTracker
// ============================================================================

// PresenceTracker is the set of currently-online user ids. Absence from
// the set is the offline signal; there is no explicit offline flag.
type PresenceTracker struct {
	mu     sync.RWMutex
	online map[int64]struct{}
}

func NewPresenceTracker() *PresenceTracker {
	return &PresenceTracker{online: make(map[int64]struct{})}
}

// SetOnline adds a user to the online set.
func (p *PresenceTracker) SetOnline(userID int64) {
	p.mu.Lock()
	p.online[userID] = struct{}{}
	p.mu.Unlock()
}

// SetOffline removes a user from the online set. Removing an absent user
// is a no-op.
func (p *PresenceTracker) SetOffline(userID int64) {
	p.mu.Lock()
	delete(p.online, userID)
	p.mu.Unlock()
}

// ReplaceAll installs a full presence snapshot.
func (p *PresenceTracker) ReplaceAll(userIDs []int64) {
	next := make(map[int64]struct{}, len(userIDs))
	for _, id := range userIDs {
		next[id] = struct{}{}
	}
	p.mu.Lock()
	p.online = next
	p.mu.Unlock()
}

// IsOnline reports whether the user is in the online set.
func (p *PresenceTracker) IsOnline(userID int64) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.online[userID]
	return ok
}

// OnlineUsers returns the online set as a sorted slice.
func (p *PresenceTracker) OnlineUsers() []int64 {
	p.mu.RLock()
	out := make([]int64, 0, len(p.online))
	for id := range p.online {
		out = append(out, id)
	}
	p.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Clear empties the online set.
func (p *PresenceTracker) Clear() {
	p.mu.Lock()
	p.online = make(map[int64]struct{})
	p.mu.Unlock()
}

// ============================================================================
// TypingTracker
// ============================================================================

// TypingTracker records transient typing activity per chat. Entries age
// out implicitly: a user counts as typing only while their last indicator
// is within the caller's window.
type TypingTracker struct {
	mu     sync.RWMutex
	byChat map[int64]map[int64]time.Time
	now    func() time.Time
}

func NewTypingTracker() *TypingTracker {
	return &TypingTracker{
		byChat: make(map[int64]map[int64]time.Time),
		now:    time.Now,
	}
}

// Mark records a typing indicator for the user in the chat.
func (t *TypingTracker) Mark(chatID, userID int64) {
	t.mu.Lock()
	users := t.byChat[chatID]
	if users == nil {
		users = make(map[int64]time.Time)
		t.byChat[chatID] = users
	}
	users[userID] = t.now()
	t.mu.Unlock()
}

// TypingUsers returns the users whose last typing indicator in the chat
// is within the given window, sorted by id.
func (t *TypingTracker) TypingUsers(chatID int64, within time.Duration) []int64 {
	cutoff := t.now().Add(-within)
	t.mu.RLock()
	var out []int64
	for id, at := range t.byChat[chatID] {
		if at.After(cutoff) {
			out = append(out, id)
		}
	}
	t.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Clear discards all typing state.
func (t *TypingTracker) Clear() {
	t.mu.Lock()
	t.byChat = make(map[int64]map[int64]time.Time)
	t.mu.Unlock()
}
