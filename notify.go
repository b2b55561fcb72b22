package chatkit

import "sync"

// NoticeLevel classifies a transient user-facing notice.
type NoticeLevel string

const (
	NoticeInfo  NoticeLevel = "info"
	NoticeError NoticeLevel = "error"
)

// Notice is a transient notification, e.g. a failed fetch surfaced to the
// user. Notices carry no state; they are fire-and-forget.
type Notice struct {
	Level NoticeLevel
	Text  string
}

const noticeBuffer = 16

// Notifier is an observable store for transient notices. It replaces
// shared global toast state: the owner constructs one, injects it where
// needed, and consumers subscribe with an explicit unsubscribe lifecycle.
type Notifier struct {
	mu     sync.Mutex
	subs   map[int]chan Notice
	nextID int
}

func NewNotifier() *Notifier {
	return &Notifier{subs: make(map[int]chan Notice)}
}

// Publish delivers a notice to all subscribers. Delivery never blocks: a
// subscriber that has fallen behind loses its oldest buffered notice.
func (n *Notifier) Publish(notice Notice) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, ch := range n.subs {
		for {
			select {
			case ch <- notice:
			default:
				// Buffer full: drop the oldest and retry.
				select {
				case <-ch:
				default:
				}
				continue
			}
			break
		}
	}
}

// Subscribe registers a consumer. The returned cancel func must be called
// when the consumer goes away; the channel is closed at that point.
func (n *Notifier) Subscribe() (<-chan Notice, func()) {
	ch := make(chan Notice, noticeBuffer)
	n.mu.Lock()
	id := n.nextID
	n.nextID++
	n.subs[id] = ch
	n.mu.Unlock()

	cancel := func() {
		n.mu.Lock()
		if _, ok := n.subs[id]; ok {
			delete(n.subs, id)
			close(ch)
		}
		n.mu.Unlock()
	}
	return ch, cancel
}

// SubscriberCount returns the number of active subscribers.
func (n *Notifier) SubscriberCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.subs)
}
