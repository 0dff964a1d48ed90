package orchestrator

import (
	"time"

	"github.com/ethereum/go-ethereum/event"
)

// NotificationKind is the severity of a notification.
type NotificationKind string

const (
	NotificationSuccess NotificationKind = "success"
	NotificationError   NotificationKind = "error"
	NotificationInfo    NotificationKind = "info"
)

// Notification is a transient message for the user. Duration says how long
// a front-end should keep it visible.
type Notification struct {
	Kind     NotificationKind `json:"kind"`
	Message  string           `json:"message"`
	Duration time.Duration    `json:"duration"`
	Time     time.Time        `json:"time"`
}

// SubscribeNotifications delivers every notification to ch. Delivery is
// synchronous, so subscribers must keep ch drained.
func (o *Orchestrator) SubscribeNotifications(ch chan<- Notification) event.Subscription {
	return o.notifications.Subscribe(ch)
}

func (o *Orchestrator) notify(kind NotificationKind, message string) {
	o.notifications.Send(Notification{
		Kind:     kind,
		Message:  message,
		Duration: o.cfg.NotificationDuration,
		Time:     time.Now(),
	})
}
