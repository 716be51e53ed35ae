package event

import "encoding/json"

// ToastLevel grades a user-visible notice.
type ToastLevel string

const (
	ToastInfo  ToastLevel = "info"
	ToastError ToastLevel = "error"
)

// Toast is the payload carried by TypeToast events.
type Toast struct {
	Level   ToastLevel `json:"level"`
	Message string     `json:"message"`
}

// PublishToast publishes a toast notice on the hub. A nil publisher is a
// no-op so callers never need to guard.
func PublishToast(p Publisher, level ToastLevel, message string) {
	if p == nil || message == "" {
		return
	}
	payload, err := json.Marshal(Toast{Level: level, Message: message})
	if err != nil {
		return
	}
	p.Publish(Event{Type: TypeToast, Data: payload})
}
