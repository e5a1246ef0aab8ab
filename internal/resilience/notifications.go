package resilience

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"pulseboard/internal/domain"
)

// Notification queue defaults.
const (
	DefaultCapacity        = 5
	DefaultNotificationTTL = 5 * time.Second
)

// Center is the capacity-bounded, self-expiring notification queue.
// Expiry is evaluated lazily on every operation instead of keeping one timer
// per entry, so an idle center costs nothing.
type Center struct {
	mu       sync.Mutex
	items    []timedNotification
	capacity int
	ttl      time.Duration
	now      func() time.Time
}

type timedNotification struct {
	notification domain.Notification
	deadline     time.Time
}

// NewCenter creates a notification center. Non-positive capacity or TTL fall
// back to the defaults.
func NewCenter(capacity int, ttl time.Duration) *Center {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if ttl <= 0 {
		ttl = DefaultNotificationTTL
	}
	return &Center{
		capacity: capacity,
		ttl:      ttl,
		now:      time.Now,
	}
}

// Push appends a notification, evicting the oldest entry at capacity.
func (c *Center) Push(message string, severity domain.Severity) domain.Notification {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	c.pruneLocked(now)

	n := domain.Notification{
		ID:        uuid.NewString(),
		Message:   message,
		Severity:  severity,
		Timestamp: now.UnixMilli(),
	}

	if len(c.items) >= c.capacity {
		c.items = c.items[1:]
	}
	c.items = append(c.items, timedNotification{notification: n, deadline: now.Add(c.ttl)})
	return n
}

// List returns live notifications, newest last.
func (c *Center) List() []domain.Notification {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.pruneLocked(c.now())

	out := make([]domain.Notification, len(c.items))
	for i, it := range c.items {
		out[i] = it.notification
	}
	return out
}

// Dismiss removes a notification by id. Dismissing an already-removed or
// already-expired id is a no-op.
func (c *Center) Dismiss(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.pruneLocked(c.now())

	for i, it := range c.items {
		if it.notification.ID == id {
			c.items = append(c.items[:i], c.items[i+1:]...)
			return
		}
	}
}

// Clear removes all notifications.
func (c *Center) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items = nil
}

func (c *Center) pruneLocked(now time.Time) {
	live := c.items[:0]
	for _, it := range c.items {
		if it.deadline.After(now) {
			live = append(live, it)
		}
	}
	c.items = live
}
