package panel

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Level is the severity of a notification.
type Level string

const (
	LevelSuccess Level = "success"
	LevelError   Level = "error"
	LevelWarning Level = "warning"
	LevelInfo    Level = "info"
)

// Notifier receives every user-facing outcome.
type Notifier interface {
	Notify(level Level, message string)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(level Level, message string)

func (f NotifierFunc) Notify(level Level, message string) { f(level, message) }

// Toast timing.
const (
	ToastVisible = 3 * time.Second
	ToastFade    = 300 * time.Millisecond
)

// Phase is where a toast is in its lifetime.
type Phase string

const (
	PhaseVisible Phase = "visible"
	PhaseFading  Phase = "fading"
	PhaseExpired Phase = "expired"
)

type Toast struct {
	ID        string    `json:"id"`
	Level     Level     `json:"level"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

func (t Toast) Phase(now time.Time) Phase {
	age := now.Sub(t.CreatedAt)
	switch {
	case age < ToastVisible:
		return PhaseVisible
	case age < ToastVisible+ToastFade:
		return PhaseFading
	default:
		return PhaseExpired
	}
}

// Toasts is an in-memory Notifier that keeps auto-expiring notifications
// for a UI to show.
type Toasts struct {
	mu    sync.Mutex
	items []Toast
	now   func() time.Time
}

func NewToasts() *Toasts { return &Toasts{now: time.Now} }

func (t *Toasts) Notify(level Level, message string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.items = append(t.items, Toast{
		ID:        uuid.NewString(),
		Level:     level,
		Message:   message,
		CreatedAt: t.now(),
	})
}

// Active returns the toasts that are visible or fading, oldest first, and
// forgets the expired ones.
func (t *Toasts) Active() []Toast {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	kept := t.items[:0]
	for _, it := range t.items {
		if it.Phase(now) != PhaseExpired {
			kept = append(kept, it)
		}
	}
	t.items = kept
	return append([]Toast(nil), kept...)
}

// Dismiss removes a toast before it expires.
func (t *Toasts) Dismiss(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, it := range t.items {
		if it.ID == id {
			t.items = append(t.items[:i], t.items[i+1:]...)
			return true
		}
	}
	return false
}
