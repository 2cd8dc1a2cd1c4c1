package queue

import "errors"

var (
	// ErrNotFound is returned when a queue item does not exist.
	ErrNotFound = errors.New("queue item not found")

	// ErrSuppressedRecipient is returned by Enqueue when the recipient is
	// on the suppression list. The item is never created.
	ErrSuppressedRecipient = errors.New("recipient is suppressed")

	// ErrUnsubscribedRecipient is returned by Enqueue when the recipient
	// has unsubscribed from the target list.
	ErrUnsubscribedRecipient = errors.New("recipient is unsubscribed")

	// ErrInvalidTransition is returned when an operation is not legal for
	// the item's current status, e.g. cancelling an item a worker is
	// actively processing or retrying one that already succeeded.
	ErrInvalidTransition = errors.New("invalid status transition")
)
