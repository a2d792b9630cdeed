package alert

import "time"

// Channel is a delivery route for notifying a contact.
type Channel string

const (
	// ChannelPush is a push-notification delivery route.
	ChannelPush Channel = "push"
	// ChannelSMS is an SMS-equivalent delivery route.
	ChannelSMS Channel = "sms"
)

// AttemptStatus is the delivery status of one (contact, channel) record.
type AttemptStatus string

const (
	// AttemptPending means delivery has not produced an outcome yet.
	AttemptPending AttemptStatus = "pending"
	// AttemptSent means a send succeeded; the contact counts as reached.
	AttemptSent AttemptStatus = "sent"
	// AttemptFailed means the last send failed and a retry is scheduled.
	AttemptFailed AttemptStatus = "failed"
	// AttemptExhausted means all retries failed; the record never retries again.
	AttemptExhausted AttemptStatus = "exhausted"
)

// NotificationAttempt is the evolving delivery record for one contact on one
// channel. The contact notifier is the only writer.
type NotificationAttempt struct {
	// ContactID links the record to a contact in the session snapshot.
	ContactID string
	// Channel is the delivery route this record tracks.
	Channel Channel
	// AttemptNumber is the count of sends issued so far.
	AttemptNumber int
	// Status is the current delivery status.
	Status AttemptStatus
	// NextRetryAt is when the next send is due, nil when none is scheduled.
	NextRetryAt *time.Time
	// UpdatedAt is when the record last changed.
	UpdatedAt time.Time
}

// Clone returns a deep copy of the attempt.
func (a *NotificationAttempt) Clone() *NotificationAttempt {
	if a == nil {
		return nil
	}

	cloned := *a

	if a.NextRetryAt != nil {
		next := *a.NextRetryAt
		cloned.NextRetryAt = &next
	}

	return &cloned
}

// Terminal reports whether the record can never change again.
func (a *NotificationAttempt) Terminal() bool {
	return a.Status == AttemptSent || a.Status == AttemptExhausted
}
