package httpserver

import (
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/event"

	"github.com/ruteri/identity-verification-dapp/orchestrator"
)

const defaultNotificationLogSize = 16

// NotificationLog keeps the most recent orchestrator notifications so that
// polling clients can show them until they expire.
type NotificationLog struct {
	mu    sync.Mutex
	items []orchestrator.Notification
	size  int
	now   func() time.Time

	sub  event.Subscription
	done chan struct{}
}

// NewNotificationLog subscribes to o and starts collecting.
func NewNotificationLog(o *orchestrator.Orchestrator, size int) *NotificationLog {
	ch := make(chan orchestrator.Notification, size)
	l := &NotificationLog{
		size: size,
		now:  time.Now,
		sub:  o.SubscribeNotifications(ch),
		done: make(chan struct{}),
	}
	go l.loop(ch)
	return l
}

func (l *NotificationLog) loop(ch <-chan orchestrator.Notification) {
	defer close(l.done)
	for {
		select {
		case n := <-ch:
			l.add(n)
		case <-l.sub.Err():
			return
		}
	}
}

func (l *NotificationLog) add(n orchestrator.Notification) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.items = append(l.items, n)
	if len(l.items) > l.size {
		l.items = l.items[len(l.items)-l.size:]
	}
}

// Visible returns the notifications that have not expired yet, oldest first.
func (l *NotificationLog) Visible() []orchestrator.Notification {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	visible := make([]orchestrator.Notification, 0, len(l.items))
	for _, n := range l.items {
		if n.Time.Add(n.Duration).After(now) {
			visible = append(visible, n)
		}
	}
	return visible
}

func (l *NotificationLog) Close() {
	l.sub.Unsubscribe()
	<-l.done
}
