// Package notice carries short user-facing status messages from backends to
// whichever host is talking to the user.
package notice

import (
	"log/slog"
	"sync"
)

// Kind classifies a notice.
type Kind string

const (
	Status  Kind = "status"
	Warning Kind = "warning"
	Error   Kind = "error"
)

// Notice is a single user-facing message.
type Notice struct {
	Kind Kind   `json:"kind"`
	Text string `json:"text"`
}

// Notifier receives notices.
type Notifier interface {
	Notify(n Notice)
}

// Queue collects notices until they are drained.
type Queue struct {
	mu      sync.Mutex
	notices []Notice
}

// NewQueue creates an empty Queue.
func NewQueue() *Queue {
	return &Queue{}
}

// Notify appends n.
func (q *Queue) Notify(n Notice) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.notices = append(q.notices, n)
}

// Drain returns the queued notices and empties the queue.
func (q *Queue) Drain() []Notice {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.notices
	q.notices = nil
	return out
}

// LogNotifier forwards notices to a slog logger. Used where there is no
// interactive user, such as the SMTP listener.
type LogNotifier struct {
	Logger *slog.Logger
}

// Notify logs n at a level matching its kind.
func (l LogNotifier) Notify(n Notice) {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	switch n.Kind {
	case Error:
		logger.Error(n.Text, "notice", string(n.Kind))
	case Warning:
		logger.Warn(n.Text, "notice", string(n.Kind))
	default:
		logger.Info(n.Text, "notice", string(n.Kind))
	}
}
