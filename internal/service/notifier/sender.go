package notifier

import (
	"context"

	"github.com/oshokin/guardian-engine/internal/domain/alert"
	"github.com/oshokin/guardian-engine/internal/logger"
)

// LogSender is a development stand-in for the external channel senders.
// It records the delivery in the log and reports success.
type LogSender struct{}

// Send logs the would-be delivery and succeeds.
func (LogSender) Send(
	ctx context.Context,
	channel alert.Channel,
	contact alert.EmergencyContact,
	payload Payload,
) error {
	logger.InfoKV(ctx, "Notification delivered (log sender)",
		"channel", string(channel),
		"contact_id", contact.ID,
		"phone", contact.PhoneNumber,
		"session_id", payload.SessionID,
		"location_link", payload.LocationLink,
	)

	return nil
}
