package notify

import "github.com/gen2brain/beeep"

// Desktop delivers alerts through the OS notification system.
type Desktop struct{}

// NewDesktop returns the desktop notification channel.
func NewDesktop() *Desktop {
	return &Desktop{}
}

// Deliver implements Channel. beeep has no identifier concept, so the
// id is folded into nothing here; channels that support replacement
// (e.g. a future notification-center backend) use it.
func (d *Desktop) Deliver(title, body, _ string) error {
	return beeep.Notify(title, body, "")
}
