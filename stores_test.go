package chatkit

import (
	"testing"
	"time"
)

// ============================================================================
// Test Helpers
// ============================================================================

var testEpoch = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

func makeTestChat(id int64, participants ...int64) Chat {
	users := make([]User, 0, len(participants))
	for _, p := range participants {
		users = append(users, User{ID: p, Username: "user" + string(rune('a'+p%26))})
	}
	return Chat{ID: id, Participants: users}
}

func makeTestMessage(id, chatID, senderID int64, at time.Time) Message {
	return Message{ID: id, ChatID: chatID, SenderID: senderID, Content: "m", CreatedAt: at}
}

// ============================================================================
// ChatStore
// ============================================================================

func TestChatStoreUnreadCounters(t *testing.T) {
	s := NewChatStore()
	s.ReplaceAll([]Chat{makeTestChat(1, 10, 11), makeTestChat(2, 10, 12)})

	t.Run("increment touches only the target chat", func(t *testing.T) {
		s.IncrementUnread(1)
		s.IncrementUnread(1)
		c1, _ := s.Get(1)
		c2, _ := s.Get(2)
		if c1.UnreadCount != 2 {
			t.Fatalf("chat 1 unread = %d, want 2", c1.UnreadCount)
		}
		if c2.UnreadCount != 0 {
			t.Fatalf("chat 2 unread = %d, want 0", c2.UnreadCount)
		}
	})

	t.Run("clear zeroes only the target chat", func(t *testing.T) {
		s.IncrementUnread(2)
		s.ClearUnread(1)
		c1, _ := s.Get(1)
		c2, _ := s.Get(2)
		if c1.UnreadCount != 0 {
			t.Fatalf("chat 1 unread = %d, want 0", c1.UnreadCount)
		}
		if c2.UnreadCount != 1 {
			t.Fatalf("chat 2 unread = %d, want 1", c2.UnreadCount)
		}
	})

	t.Run("unknown chat id is ignored", func(t *testing.T) {
		s.IncrementUnread(999)
		s.ClearUnread(999)
		if s.Len() != 2 {
			t.Fatalf("len = %d, want 2", s.Len())
		}
	})

	t.Run("unread total sums all chats", func(t *testing.T) {
		if got := s.UnreadTotal(); got != 1 {
			t.Fatalf("UnreadTotal = %d, want 1", got)
		}
	})
}

func TestChatStorePatchLastMessage(t *testing.T) {
	s := NewChatStore()
	s.ReplaceAll([]Chat{makeTestChat(1, 10)})

	msg := makeTestMessage(100, 1, 10, testEpoch)
	s.PatchLastMessage(1, msg)

	c, ok := s.Get(1)
	if !ok || c.LastMessage == nil {
		t.Fatal("expected last message to be set")
	}
	if c.LastMessage.ID != 100 {
		t.Fatalf("last message id = %d, want 100", c.LastMessage.ID)
	}

	// Unknown chats are ignored.
	s.PatchLastMessage(999, msg)
	if s.Len() != 1 {
		t.Fatalf("len = %d, want 1", s.Len())
	}
}

func TestChatStoreOrdering(t *testing.T) {
	s := NewChatStore()
	a := makeTestChat(1, 10)
	a.LastMessage = &Message{ID: 1, CreatedAt: testEpoch}
	b := makeTestChat(2, 10)
	b.LastMessage = &Message{ID: 2, CreatedAt: testEpoch.Add(time.Minute)}
	c := makeTestChat(3, 10) // no messages yet

	s.ReplaceAll([]Chat{a, b, c})

	got := s.Chats()
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	if got[0].ID != 2 || got[1].ID != 1 || got[2].ID != 3 {
		t.Fatalf("order = [%d %d %d], want [2 1 3]", got[0].ID, got[1].ID, got[2].ID)
	}

	t.Run("ties break by id", func(t *testing.T) {
		d := makeTestChat(4, 10)
		d.LastMessage = &Message{ID: 3, CreatedAt: testEpoch}
		s.Upsert(d)
		got := s.Chats()
		if got[1].ID != 1 || got[2].ID != 4 {
			t.Fatalf("tie order = [%d %d], want [1 4]", got[1].ID, got[2].ID)
		}
	})
}

func TestChatStoreSnapshotIsolation(t *testing.T) {
	s := NewChatStore()
	s.ReplaceAll([]Chat{makeTestChat(1, 10)})

	before, _ := s.Get(1)
	list := s.Chats()

	s.IncrementUnread(1)
	s.PatchLastMessage(1, makeTestMessage(5, 1, 10, testEpoch))

	if before.UnreadCount != 0 || before.LastMessage != nil {
		t.Fatal("earlier Get snapshot was mutated")
	}
	if list[0].UnreadCount != 0 || list[0].LastMessage != nil {
		t.Fatal("earlier Chats snapshot was mutated")
	}
}

func TestChatStoreSetParticipantOnline(t *testing.T) {
	s := NewChatStore()
	s.ReplaceAll([]Chat{makeTestChat(1, 10, 11), makeTestChat(2, 12)})

	// The flag itself lives in the presence tracker; here we only care
	// that the store stays intact and unknown users change nothing.
	s.SetParticipantOnline(10, true)
	s.SetParticipantOnline(999, true)

	if s.Len() != 2 {
		t.Fatalf("len = %d, want 2", s.Len())
	}
	c, ok := s.Get(1)
	if !ok || !c.HasParticipant(10) {
		t.Fatal("chat 1 lost participant 10")
	}
}

// ============================================================================
// MessageStore
// ============================================================================

func TestMessageStorePagination(t *testing.T) {
	s := NewMessageStore()

	newer := []Message{
		makeTestMessage(3, 1, 10, testEpoch.Add(2*time.Minute)),
		makeTestMessage(4, 1, 10, testEpoch.Add(3*time.Minute)),
	}
	older := []Message{
		makeTestMessage(2, 1, 10, testEpoch.Add(time.Minute)),
		makeTestMessage(1, 1, 10, testEpoch),
	}

	t.Run("first page replaces and sorts", func(t *testing.T) {
		s.SetPage([]Message{newer[1], newer[0]}, true)
		got := s.Messages()
		if len(got) != 2 || got[0].ID != 3 || got[1].ID != 4 {
			t.Fatalf("got ids %v, want [3 4]", messageIDs(got))
		}
	})

	t.Run("older page merges in front", func(t *testing.T) {
		s.SetPage(older, false)
		got := s.Messages()
		want := []int64{1, 2, 3, 4}
		for i, id := range want {
			if got[i].ID != id {
				t.Fatalf("got ids %v, want %v", messageIDs(got), want)
			}
		}
	})

	t.Run("first page after reset replaces everything", func(t *testing.T) {
		s.SetPage(newer, true)
		if s.Len() != 2 {
			t.Fatalf("len = %d, want 2", s.Len())
		}
	})
}

func TestMessageStoreSortTieBreak(t *testing.T) {
	s := NewMessageStore()
	s.SetPage([]Message{
		makeTestMessage(7, 1, 10, testEpoch),
		makeTestMessage(5, 1, 10, testEpoch),
		makeTestMessage(6, 1, 10, testEpoch),
	}, true)

	got := messageIDs(s.Messages())
	if got[0] != 5 || got[1] != 6 || got[2] != 7 {
		t.Fatalf("tie order = %v, want [5 6 7]", got)
	}
}

func TestMessageStoreAppendAndReset(t *testing.T) {
	s := NewMessageStore()
	s.SetPage([]Message{makeTestMessage(1, 1, 10, testEpoch)}, true)
	s.Append(makeTestMessage(2, 1, 11, testEpoch.Add(time.Second)))

	if s.Len() != 2 {
		t.Fatalf("len = %d, want 2", s.Len())
	}

	s.Reset()
	if s.Len() != 0 {
		t.Fatalf("len after reset = %d, want 0", s.Len())
	}
}

func TestMessageStoreGrouped(t *testing.T) {
	s := NewMessageStore()
	s.SetPage([]Message{
		makeTestMessage(1, 1, 10, testEpoch),
		makeTestMessage(2, 1, 10, testEpoch.Add(time.Minute)),
		makeTestMessage(3, 1, 11, testEpoch.Add(2*time.Minute)),
		makeTestMessage(4, 1, 11, testEpoch.Add(20*time.Minute)), // beyond gap
		makeTestMessage(5, 1, 10, testEpoch.Add(21*time.Minute)),
	}, true)

	groups := s.Grouped(DefaultGroupGap)
	if len(groups) != 4 {
		t.Fatalf("groups = %d, want 4", len(groups))
	}
	if groups[0].SenderID != 10 || len(groups[0].Messages) != 2 {
		t.Fatalf("group 0 = sender %d with %d messages, want sender 10 with 2", groups[0].SenderID, len(groups[0].Messages))
	}
	if groups[1].SenderID != 11 || len(groups[1].Messages) != 1 {
		t.Fatal("expected sender switch to start a new group")
	}
	if groups[2].SenderID != 11 {
		t.Fatal("expected time gap to split groups of the same sender")
	}
}

func messageIDs(msgs []Message) []int64 {
	ids := make([]int64, len(msgs))
	for i, m := range msgs {
		ids[i] = m.ID
	}
	return ids
}

// ============================================================================
// PresenceTracker
// ============================================================================

func TestPresenceTracker(t *testing.T) {
	p := NewPresenceTracker()

	t.Run("online and offline", func(t *testing.T) {
		p.SetOnline(1)
		p.SetOnline(2)
		if !p.IsOnline(1) || !p.IsOnline(2) {
			t.Fatal("expected users 1 and 2 online")
		}
		p.SetOffline(1)
		if p.IsOnline(1) {
			t.Fatal("user 1 should be offline")
		}
	})

	t.Run("offline for absent user is a no-op", func(t *testing.T) {
		p.SetOffline(999)
		if p.IsOnline(999) {
			t.Fatal("user 999 should be offline")
		}
	})

	t.Run("replace installs full snapshot", func(t *testing.T) {
		p.ReplaceAll([]int64{5, 3, 4})
		if p.IsOnline(2) {
			t.Fatal("user 2 should be gone after replace")
		}
		got := p.OnlineUsers()
		if len(got) != 3 || got[0] != 3 || got[1] != 4 || got[2] != 5 {
			t.Fatalf("online users = %v, want [3 4 5]", got)
		}
	})

	t.Run("clear empties the set", func(t *testing.T) {
		p.Clear()
		if len(p.OnlineUsers()) != 0 {
			t.Fatal("expected empty set after clear")
		}
	})
}

// ============================================================================
// TypingTracker
// ============================================================================

func TestTypingTracker(t *testing.T) {
	now := testEpoch
	tr := NewTypingTracker()
	tr.now = func() time.Time { return now }

	tr.Mark(1, 10)
	tr.Mark(1, 11)
	tr.Mark(2, 12)

	got := tr.TypingUsers(1, 3*time.Second)
	if len(got) != 2 || got[0] != 10 || got[1] != 11 {
		t.Fatalf("typing in chat 1 = %v, want [10 11]", got)
	}

	// Indicators age out of the window.
	now = now.Add(5 * time.Second)
	if len(tr.TypingUsers(1, 3*time.Second)) != 0 {
		t.Fatal("expected indicators to expire")
	}

	// A fresh mark revives the user.
	tr.Mark(1, 10)
	if got := tr.TypingUsers(1, 3*time.Second); len(got) != 1 || got[0] != 10 {
		t.Fatalf("typing after re-mark = %v, want [10]", got)
	}
}

// ============================================================================
// Chat helpers
// ============================================================================

func TestChatDisplayName(t *testing.T) {
	t.Run("group uses its own name", func(t *testing.T) {
		c := Chat{ID: 1, Name: "team", IsGroup: true}
		if got := c.DisplayName(10); got != "team" {
			t.Fatalf("got %q, want %q", got, "team")
		}
	})

	t.Run("direct chat names the other participant", func(t *testing.T) {
		c := Chat{ID: 1, Participants: []User{{ID: 10, Username: "me"}, {ID: 11, Username: "alice"}}}
		if got := c.DisplayName(10); got != "alice" {
			t.Fatalf("got %q, want %q", got, "alice")
		}
	})

	t.Run("falls back to the chat id", func(t *testing.T) {
		c := Chat{ID: 7, Participants: []User{{ID: 10, Username: "me"}}}
		if got := c.DisplayName(10); got != "chat 7" {
			t.Fatalf("got %q, want %q", got, "chat 7")
		}
	})
}
