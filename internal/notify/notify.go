// Package notify gates and delivers user-visible alerts. The
// dispatcher owns the per-(account, kind) cooldown policy; delivery
// itself goes through the injected Channel.
package notify

import (
	"sync"
	"time"

	"github.com/quotawatch/quotawatch/internal/logger"
	"github.com/quotawatch/quotawatch/internal/models"
)

// DefaultCooldown is the minimum gap between two alerts of the same
// kind for the same account.
const DefaultCooldown = 30 * time.Minute

// Channel delivers a notification to the user. The identifier is
// stable per (account, kind) so the system notification center
// replaces rather than stacks repeats.
type Channel interface {
	Deliver(title, body, identifier string) error
}

// cooldownKey identifies one alert family for one account. Keyed by
// the stable account id, never the display name.
type cooldownKey struct {
	accountID string
	kind      models.AlertKind
}

// Dispatcher is the rate-limited alert gate, shared by all sessions.
type Dispatcher struct {
	mu       sync.Mutex
	lastSent map[cooldownKey]time.Time
	channel  Channel
	cooldown time.Duration
	now      func() time.Time
}

// NewDispatcher creates a dispatcher delivering through channel. A
// non-positive cooldown selects the default.
func NewDispatcher(channel Channel, cooldown time.Duration) *Dispatcher {
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	return &Dispatcher{
		lastSent: make(map[cooldownKey]time.Time),
		channel:  channel,
		cooldown: cooldown,
		now:      time.Now,
	}
}

// TrySend delivers the alert unless one of the same kind for the same
// account went out within the cooldown interval. Returns true when a
// notification was actually sent.
func (d *Dispatcher) TrySend(accountID string, kind models.AlertKind, title, body string) bool {
	key := cooldownKey{accountID: accountID, kind: kind}

	d.mu.Lock()
	now := d.now()
	if last, ok := d.lastSent[key]; ok && now.Sub(last) < d.cooldown {
		d.mu.Unlock()
		return false
	}
	d.lastSent[key] = now
	d.mu.Unlock()

	if err := d.channel.Deliver(title, body, identifier(accountID, kind)); err != nil {
		logger.Error("notification delivery failed",
			"account", accountID, "kind", kind, "error", err)
	}
	return true
}

// Reset clears every cooldown for an account so a fresh problem after
// removal or re-authentication alerts immediately.
func (d *Dispatcher) Reset(accountID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for key := range d.lastSent {
		if key.accountID == accountID {
			delete(d.lastSent, key)
		}
	}
}

// identifier derives the system-level notification id from the
// cooldown key.
func identifier(accountID string, kind models.AlertKind) string {
	return "quotawatch." + accountID + "." + string(kind)
}
