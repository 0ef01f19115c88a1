// Package host forwards finished records to the chat mini-app the widget
// may be embedded in.
package host

import (
	"context"

	"github.com/ukydev/fleet-service-tracker/internal/models"
)

// Notifier is the host's "submit and close" capability.
type Notifier interface {
	// NotifyCreated hands a newly created record to the host.
	NotifyCreated(ctx context.Context, rec models.VehicleRecord) error
	// Close asks the host to close the embedded view.
	Close() error
}

// Nop is used when the widget is not running inside a host.
type Nop struct{}

func (Nop) NotifyCreated(context.Context, models.VehicleRecord) error { return nil }
func (Nop) Close() error { return nil }
