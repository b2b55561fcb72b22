package chatkit

import (
	"context"
	"errors"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const sendTimeout = 10 * time.Second

// SessionOptions configures a realtime session.
type SessionOptions struct {
	// BaseURL is the API base; defaults to DefaultBaseURL.
	BaseURL string
	// Token is the session credential, required. It authenticates both
	// REST requests and the channel.
	Token string
	// HTTPClient, if set, is used for REST requests. The channel
	// handshake always uses its own client without a timeout.
	HTTPClient *http.Client
	Logger     *log.Logger
	// Notifier receives user-facing notices for failed operations. A
	// default one is created when nil.
	Notifier *Notifier

	HeartbeatInterval time.Duration
	ReconnectDelay    time.Duration
	// GroupGap is the sender-grouping window for GroupedMessages.
	GroupGap time.Duration

	// OnMessage, if set, is invoked for every accepted new-message event
	// (any chat), after the stores have been updated.
	OnMessage func(Message)
	// OnReconnecting is forwarded to the connection manager.
	OnReconnecting func(attempt int, delay time.Duration)
}

// Session is the public surface consumed by views: current chat
// selection, chat/message/presence snapshots, and the send/create/select
// operations. It owns the connection manager and all stores.
//
// All store mutations are serialized through a single queue drained by
// one goroutine, so no mutation ever runs nested inside another and
// readers never observe a partially-updated record. Events are applied
// strictly in channel delivery order.
type Session struct {
	client   *Client
	conn     *Conn
	disp     *dispatcher
	logger   *log.Logger
	notifier *Notifier

	// send writes a command to the channel; replaced in tests.
	send func(ctx context.Context, cmd *ClientCommand) error

	chats    *ChatStore
	messages *MessageStore
	presence *PresenceTracker
	typing   *TypingTracker

	selfID    int64
	groupGap  time.Duration
	onMessage func(Message)

	mu         sync.Mutex
	current    int64
	page       int
	histCancel context.CancelFunc
	started    bool
	ctx        context.Context
	cancel     context.CancelFunc

	queue chan func()
	done  chan struct{}

	subMu  sync.Mutex
	subs   map[int]chan struct{}
	nextID int
}

// NewSession creates a session. Call Start to connect; the session is
// single-use — after Stop it cannot be restarted.
func NewSession(opts *SessionOptions) (*Session, error) {
	if opts == nil || opts.Token == "" {
		return nil, errors.New("chatkit: session token is required")
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	notifier := opts.Notifier
	if notifier == nil {
		notifier = NewNotifier()
	}

	clientOpts := []ClientOption{WithLogger(logger)}
	if opts.BaseURL != "" {
		clientOpts = append(clientOpts, WithBaseURL(opts.BaseURL))
	}
	if opts.HTTPClient != nil {
		clientOpts = append(clientOpts, WithHTTPClient(opts.HTTPClient))
	}
	client := NewClient(opts.Token, clientOpts...)

	s := &Session{
		client:    client,
		logger:    logger,
		notifier:  notifier,
		chats:     NewChatStore(),
		messages:  NewMessageStore(),
		presence:  NewPresenceTracker(),
		typing:    NewTypingTracker(),
		groupGap:  opts.GroupGap,
		onMessage: opts.OnMessage,
		queue:     make(chan func(), 256),
		done:      make(chan struct{}),
		subs:      make(map[int]chan struct{}),
	}
	s.disp = &dispatcher{session: s, logger: logger}

	if claims, err := TokenClaims(opts.Token); err == nil {
		s.selfID = claims.UserID
	} else {
		logger.Printf("chatkit: token claims unreadable: %v", err)
	}

	s.conn = NewConn(&ConnConfig{
		BaseURL:           client.BaseURL(),
		Token:             opts.Token,
		HeartbeatInterval: opts.HeartbeatInterval,
		ReconnectDelay:    opts.ReconnectDelay,
		Logger:            logger,
		OnEvent:           s.disp.Dispatch,
		OnReconnecting:    opts.OnReconnecting,
	})
	s.send = s.conn.Send

	return s, nil
}

// Start opens the channel and triggers the initial chat-list fetch. A
// dial failure is returned for visibility, but the session stays live and
// keeps reconnecting until Stop.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = true
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()

	go s.run()

	err := s.conn.Connect(s.ctx)
	s.RefreshChats()
	return err
}

// Stop tears the session down: the channel is closed, in-flight fetches
// are aborted, and all stores are cleared, as on logout.
func (s *Session) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	if s.histCancel != nil {
		s.histCancel()
		s.histCancel = nil
	}
	cancel := s.cancel
	s.current = 0
	s.page = 0
	s.mu.Unlock()

	cancel()
	s.conn.Close()
	close(s.done)

	s.chats.Clear()
	s.messages.Reset()
	s.presence.Clear()
	s.typing.Clear()
	s.notifySubs()
}

// ============================================================================
// Mutation queue
// ============================================================================

func (s *Session) run() {
	for {
		select {
		case <-s.done:
			return
		case fn := <-s.queue:
			fn()
			s.notifySubs()
		}
	}
}

// post enqueues a store mutation for the next free turn. Posting after
// Stop drops the mutation.
func (s *Session) post(fn func()) {
	select {
	case <-s.done:
	case s.queue <- fn:
	}
}

// ============================================================================
// Facade operations
// ============================================================================

// SelectChat makes chatID the current chat: the message store is cleared,
// a first page of history is fetched, and a nonzero unread count is
// zeroed optimistically alongside a mark-read command. Unknown chat ids
// are ignored.
func (s *Session) SelectChat(chatID int64) {
	if _, ok := s.chats.Get(chatID); !ok {
		return
	}

	s.mu.Lock()
	if s.histCancel != nil {
		// Last request wins: abort the outstanding history fetch.
		s.histCancel()
		s.histCancel = nil
	}
	s.mu.Unlock()

	s.post(func() {
		s.mu.Lock()
		s.current = chatID
		s.page = 1
		s.mu.Unlock()

		s.messages.Reset()

		if c, ok := s.chats.Get(chatID); ok && c.UnreadCount > 0 {
			s.chats.ClearUnread(chatID)
			// The write happens off the mutation queue so a stalled
			// socket cannot hold up event processing.
			go s.sendCommand(&ClientCommand{Type: CommandMarkRead, ChatID: chatID})
		}
	})
	s.fetchHistory(chatID, 1)
}

// SendMessage transmits the content to the current chat over the channel.
// It is a silent no-op when no chat is selected, the content is blank, or
// the channel is not open. The message appears in the message store only
// once the server's event comes back; there is no local echo.
func (s *Session) SendMessage(content string) {
	content = strings.TrimSpace(content)
	if content == "" {
		return
	}
	s.mu.Lock()
	chatID := s.current
	s.mu.Unlock()
	if chatID == 0 {
		return
	}
	s.sendCommand(&ClientCommand{
		Type:      CommandMessage,
		ChatID:    chatID,
		Content:   content,
		RequestID: uuid.NewString(),
	})
}

// SendTyping emits a typing indicator for the current chat. No-op
// without a selection or an open channel.
func (s *Session) SendTyping() {
	s.mu.Lock()
	chatID := s.current
	s.mu.Unlock()
	if chatID == 0 {
		return
	}
	s.sendCommand(&ClientCommand{Type: CommandTyping, ChatID: chatID})
}

// CreateChat creates a chat over REST and, on success, inserts and
// selects it.
func (s *Session) CreateChat(ctx context.Context, name string, participantIDs []int64) (Chat, error) {
	isGroup := len(participantIDs) > 1
	chat, err := s.client.CreateChat(ctx, name, isGroup, participantIDs)
	if err != nil {
		s.logger.Printf("chatkit: create chat: %v", err)
		s.notifier.Publish(Notice{Level: NoticeError, Text: "failed to create chat"})
		return Chat{}, err
	}

	s.post(func() {
		s.chats.Upsert(*chat)
		s.mu.Lock()
		s.current = chat.ID
		s.page = 1
		s.mu.Unlock()
		s.messages.Reset()
	})
	s.fetchHistory(chat.ID, 1)
	return *chat, nil
}

// RefreshChats refetches the full chat list asynchronously and replaces
// the chat store wholesale when the response lands.
func (s *Session) RefreshChats() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	ctx := s.ctx
	s.mu.Unlock()

	go func() {
		chats, err := s.client.Chats(ctx)
		if err != nil {
			if ctx.Err() == nil {
				s.logger.Printf("chatkit: fetch chats: %v", err)
				s.notifier.Publish(Notice{Level: NoticeError, Text: "failed to load chats"})
			}
			return
		}
		s.post(func() {
			s.chats.ReplaceAll(chats)
			s.mu.Lock()
			cur := s.current
			s.mu.Unlock()
			if cur != 0 {
				// The selected chat's unread count is zero by invariant,
				// even when the snapshot predates a mark-read.
				s.chats.ClearUnread(cur)
			}
		})
	}()
}

// LoadOlderMessages fetches the next (older) history page for the
// current chat. No-op without a selection.
func (s *Session) LoadOlderMessages() {
	s.mu.Lock()
	chatID := s.current
	if chatID == 0 {
		s.mu.Unlock()
		return
	}
	s.page++
	page := s.page
	if s.histCancel != nil {
		s.histCancel()
		s.histCancel = nil
	}
	s.mu.Unlock()

	s.fetchHistory(chatID, page)
}

// SearchUsers is a direct, non-debounced search. Interactive consumers
// should use a Searcher instead.
func (s *Session) SearchUsers(ctx context.Context, query string, limit int) ([]User, error) {
	return s.client.SearchUsers(ctx, query, limit)
}

// ============================================================================
// Snapshots
// ============================================================================

// Chats returns the chat list, most recent activity first.
func (s *Session) Chats() []Chat { return s.chats.Chats() }

// CurrentChat returns the selected chat summary, if any.
func (s *Session) CurrentChat() (Chat, bool) {
	s.mu.Lock()
	cur := s.current
	s.mu.Unlock()
	if cur == 0 {
		return Chat{}, false
	}
	return s.chats.Get(cur)
}

// CurrentChatID returns the selected chat id, zero when none.
func (s *Session) CurrentChatID() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Messages returns the current chat's loaded message sequence.
func (s *Session) Messages() []Message { return s.messages.Messages() }

// GroupedMessages returns the current chat's messages projected into
// consecutive-sender groups for display.
func (s *Session) GroupedMessages() []MessageGroup {
	return s.messages.Grouped(s.groupGap)
}

// OnlineUsers returns the ids of currently-online users.
func (s *Session) OnlineUsers() []int64 { return s.presence.OnlineUsers() }

// IsOnline reports whether a user is currently online.
func (s *Session) IsOnline(userID int64) bool { return s.presence.IsOnline(userID) }

// TypingUsers returns users typing in the current chat within the window.
func (s *Session) TypingUsers(within time.Duration) []int64 {
	s.mu.Lock()
	cur := s.current
	s.mu.Unlock()
	if cur == 0 {
		return nil
	}
	return s.typing.TypingUsers(cur, within)
}

// UnreadTotal returns the summed unread count across all chats.
func (s *Session) UnreadTotal() int { return s.chats.UnreadTotal() }

// State returns the connection manager state.
func (s *Session) State() ConnState { return s.conn.State() }

// SelfID returns the authenticated user's id as decoded from the token,
// zero when the token carries none.
func (s *Session) SelfID() int64 { return s.selfID }

// Notifier returns the session's notice stream.
func (s *Session) Notifier() *Notifier { return s.notifier }

// Subscribe registers for coalesced change signals: the channel receives
// (at least) one value after any store mutation. The cancel func must be
// called when the consumer goes away.
func (s *Session) Subscribe() (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)
	s.subMu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = ch
	s.subMu.Unlock()
	return ch, func() {
		s.subMu.Lock()
		delete(s.subs, id)
		s.subMu.Unlock()
	}
}

func (s *Session) notifySubs() {
	s.subMu.Lock()
	for _, ch := range s.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
	s.subMu.Unlock()
}

// ============================================================================
// Event mutations (run on the queue goroutine only)
// ============================================================================

func (s *Session) applyNewMessage(msg Message) {
	s.mu.Lock()
	cur := s.current
	s.mu.Unlock()

	if _, ok := s.chats.Get(msg.ChatID); ok {
		s.chats.PatchLastMessage(msg.ChatID, msg)
		if msg.ChatID != cur {
			s.chats.IncrementUnread(msg.ChatID)
		}
	} else {
		// Message for a chat we have not seen yet; the summary will
		// arrive with the refetch.
		s.RefreshChats()
	}

	if msg.ChatID == cur {
		s.messages.Append(msg)
	}

	if s.onMessage != nil {
		s.onMessage(msg)
	}
}

func (s *Session) applyStatus(userID int64, isOnline bool) {
	if isOnline {
		s.presence.SetOnline(userID)
	} else {
		s.presence.SetOffline(userID)
	}
	s.chats.SetParticipantOnline(userID, isOnline)
}

func (s *Session) applyOnlineUsers(userIDs []int64) {
	s.presence.ReplaceAll(userIDs)
}

func (s *Session) applyTyping(chatID, userID int64) {
	s.typing.Mark(chatID, userID)
}

// ============================================================================
// Internals
// ============================================================================

func (s *Session) sendCommand(cmd *ClientCommand) {
	s.mu.Lock()
	base := s.ctx
	s.mu.Unlock()
	if base == nil {
		base = context.Background()
	}
	ctx, cancel := context.WithTimeout(base, sendTimeout)
	defer cancel()

	if err := s.send(ctx, cmd); err != nil {
		if errors.Is(err, ErrNotOpen) {
			s.logger.Printf("chatkit: dropping %s command, channel not open", cmd.Type)
			return
		}
		s.logger.Printf("chatkit: send %s: %v", cmd.Type, err)
	}
}

// fetchHistory fetches one page for chatID and applies it if the chat is
// still selected when the response lands. The result re-enters through
// the mutation queue; it never mutates stores from the fetch goroutine.
func (s *Session) fetchHistory(chatID int64, page int) {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	if s.histCancel != nil {
		s.histCancel()
	}
	ctx, cancel := context.WithCancel(s.ctx)
	s.histCancel = cancel
	s.mu.Unlock()

	go func() {
		msgs, err := s.client.ChatMessages(ctx, chatID, page)
		if err != nil {
			if ctx.Err() == nil {
				s.logger.Printf("chatkit: fetch history chat=%d page=%d: %v", chatID, page, err)
				s.notifier.Publish(Notice{Level: NoticeError, Text: "failed to load messages"})
			}
			return
		}
		s.post(func() {
			s.mu.Lock()
			cur := s.current
			s.mu.Unlock()
			if cur != chatID {
				return
			}
			s.messages.SetPage(msgs, page == 1)
		})
	}()
}
