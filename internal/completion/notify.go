package completion

import "sync"

type Level string

const (
	LevelError   Level = "error"
	LevelLoading Level = "loading"
)

// Notifier surfaces transient messages to the user.
type Notifier interface {
	Error(message string)
	// Loading shows a message until the returned func is called.
	Loading(message string) (dismiss func())
}

type Notification struct {
	Level     Level  `json:"level"`
	Message   string `json:"message"`
	Dismissed bool   `json:"dismissed,omitempty"`
}

// Recorder collects notifications so they can be returned with a response.
type Recorder struct {
	mu            sync.Mutex
	notifications []Notification
}

func (r *Recorder) Error(message string) {
	r.mu.Lock()
	r.notifications = append(r.notifications, Notification{Level: LevelError, Message: message})
	r.mu.Unlock()
}

func (r *Recorder) Loading(message string) func() {
	r.mu.Lock()
	idx := len(r.notifications)
	r.notifications = append(r.notifications, Notification{Level: LevelLoading, Message: message})
	r.mu.Unlock()
	return func() {
		r.mu.Lock()
		r.notifications[idx].Dismissed = true
		r.mu.Unlock()
	}
}

func (r *Recorder) Notifications() []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Notification(nil), r.notifications...)
}
