package chatkit

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// ============================================================================
// Client options
// ============================================================================

func TestNewClientDefaults(t *testing.T) {
	c := NewClient("tok")
	if c.BaseURL() != DefaultBaseURL {
		t.Fatalf("base url = %q, want %q", c.BaseURL(), DefaultBaseURL)
	}
	if c.httpClient.Timeout != DefaultTimeout {
		t.Fatalf("timeout = %v, want %v", c.httpClient.Timeout, DefaultTimeout)
	}
}

func TestWithBaseURLTrimsTrailingSlash(t *testing.T) {
	c := NewClient("tok", WithBaseURL("http://example.com/"))
	if c.BaseURL() != "http://example.com" {
		t.Fatalf("base url = %q", c.BaseURL())
	}
}

// ============================================================================
// Chats
// ============================================================================

func TestClientChats(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chats" || r.Method != "GET" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("authorization = %q", got)
		}
		io.WriteString(w, `[{"id":42,"name":"","isGroup":false,"participants":[{"id":1,"username":"alice"}],"unreadCount":3}]`)
	}))
	defer srv.Close()

	c := NewClient("tok", WithBaseURL(srv.URL))
	chats, err := c.Chats(context.Background())
	if err != nil {
		t.Fatalf("Chats: %v", err)
	}
	if len(chats) != 1 || chats[0].ID != 42 || chats[0].UnreadCount != 3 {
		t.Fatalf("chats = %+v", chats)
	}
}

// ============================================================================
// ChatMessages
// ============================================================================

func TestClientChatMessages(t *testing.T) {
	var gotPage string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chats/42/messages" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		gotPage = r.URL.Query().Get("page")
		io.WriteString(w, `[{"id":1,"chatId":42,"senderId":7,"content":"hi","createdAt":"2026-01-01T12:00:00Z"}]`)
	}))
	defer srv.Close()

	c := NewClient("tok", WithBaseURL(srv.URL))

	t.Run("passes page", func(t *testing.T) {
		msgs, err := c.ChatMessages(context.Background(), 42, 3)
		if err != nil {
			t.Fatalf("ChatMessages: %v", err)
		}
		if gotPage != "3" {
			t.Fatalf("page param = %q, want %q", gotPage, "3")
		}
		if len(msgs) != 1 || msgs[0].SenderID != 7 {
			t.Fatalf("messages = %+v", msgs)
		}
	})

	t.Run("clamps page to 1", func(t *testing.T) {
		if _, err := c.ChatMessages(context.Background(), 42, 0); err != nil {
			t.Fatalf("ChatMessages: %v", err)
		}
		if gotPage != "1" {
			t.Fatalf("page param = %q, want %q", gotPage, "1")
		}
	})
}

// ============================================================================
// CreateChat
// ============================================================================

func TestClientCreateChat(t *testing.T) {
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chats" || r.Method != "POST" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		gotBody = nil
		json.NewDecoder(r.Body).Decode(&gotBody)
		io.WriteString(w, `{"id":99,"name":"team","isGroup":true,"participants":[]}`)
	}))
	defer srv.Close()

	c := NewClient("tok", WithBaseURL(srv.URL))

	t.Run("group payload", func(t *testing.T) {
		chat, err := c.CreateChat(context.Background(), "team", true, []int64{2, 3})
		if err != nil {
			t.Fatalf("CreateChat: %v", err)
		}
		if chat.ID != 99 {
			t.Fatalf("chat id = %d", chat.ID)
		}
		if gotBody["isGroup"] != true || gotBody["name"] != "team" {
			t.Fatalf("payload = %v", gotBody)
		}
		ids, _ := gotBody["participantIds"].([]any)
		if len(ids) != 2 {
			t.Fatalf("participantIds = %v", gotBody["participantIds"])
		}
	})

	t.Run("empty name omitted", func(t *testing.T) {
		if _, err := c.CreateChat(context.Background(), "", false, []int64{2}); err != nil {
			t.Fatalf("CreateChat: %v", err)
		}
		if _, present := gotBody["name"]; present {
			t.Fatal("empty name must not be sent")
		}
	})

	t.Run("requires participants", func(t *testing.T) {
		_, err := c.CreateChat(context.Background(), "x", false, nil)
		var apiErr *APIError
		if !errors.As(err, &apiErr) || apiErr.Code != "INVALID_INPUT" {
			t.Fatalf("err = %v, want INVALID_INPUT", err)
		}
	})
}

// ============================================================================
// SearchUsers
// ============================================================================

func TestClientSearchUsers(t *testing.T) {
	var gotQuery, gotLimit string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query().Get("query")
		gotLimit = r.URL.Query().Get("limit")
		io.WriteString(w, `[{"id":5,"username":"alice","email":"a@example.com"}]`)
	}))
	defer srv.Close()

	c := NewClient("tok", WithBaseURL(srv.URL))

	t.Run("forwards query and limit", func(t *testing.T) {
		users, err := c.SearchUsers(context.Background(), "ali", 25)
		if err != nil {
			t.Fatalf("SearchUsers: %v", err)
		}
		if gotQuery != "ali" || gotLimit != "25" {
			t.Fatalf("query=%q limit=%q", gotQuery, gotLimit)
		}
		if len(users) != 1 || users[0].Username != "alice" {
			t.Fatalf("users = %+v", users)
		}
	})

	t.Run("defaults the limit", func(t *testing.T) {
		if _, err := c.SearchUsers(context.Background(), "ali", 0); err != nil {
			t.Fatalf("SearchUsers: %v", err)
		}
		if gotLimit != "10" {
			t.Fatalf("limit = %q, want %q", gotLimit, "10")
		}
	})

	t.Run("clamps long queries", func(t *testing.T) {
		if _, err := c.SearchUsers(context.Background(), strings.Repeat("x", 80), 0); err != nil {
			t.Fatalf("SearchUsers: %v", err)
		}
		if len(gotQuery) != MaxSearchQueryLen {
			t.Fatalf("query length = %d, want %d", len(gotQuery), MaxSearchQueryLen)
		}
	})

	t.Run("blank query short-circuits", func(t *testing.T) {
		users, err := c.SearchUsers(context.Background(), "   ", 0)
		if err != nil || users != nil {
			t.Fatalf("got (%v, %v), want (nil, nil)", users, err)
		}
	})
}

// ============================================================================
// Error handling
// ============================================================================

func TestClientAPIErrors(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		body        string
		wantCode    string
		wantMessage string
	}{
		{"detail body", 404, `{"detail":"Chat not found"}`, "HTTP_404", "Chat not found"},
		{"code and message body", 403, `{"code":"FORBIDDEN","message":"not a participant"}`, "FORBIDDEN", "not a participant"},
		{"opaque body", 500, `boom`, "HTTP_500", "Internal Server Error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				io.WriteString(w, tt.body)
			}))
			defer srv.Close()

			c := NewClient("tok", WithBaseURL(srv.URL))
			_, err := c.Chats(context.Background())

			var apiErr *APIError
			if !errors.As(err, &apiErr) {
				t.Fatalf("err = %v, want *APIError", err)
			}
			if apiErr.Code != tt.wantCode || apiErr.Message != tt.wantMessage {
				t.Fatalf("got %q/%q, want %q/%q", apiErr.Code, apiErr.Message, tt.wantCode, tt.wantMessage)
			}
		})
	}
}

func TestAPIErrorString(t *testing.T) {
	e := &APIError{Code: "FORBIDDEN", Message: "no"}
	if e.Error() != "FORBIDDEN: no" {
		t.Fatalf("got %q", e.Error())
	}
	e = &APIError{Message: "bare"}
	if e.Error() != "bare" {
		t.Fatalf("got %q", e.Error())
	}
}
