package businessflow

import "errors"

// Sentinel errors surfaced by the delivery flows
var (
	ErrDeliveryNotFound   = errors.New("managed delivery not found")
	ErrAccountNotFound    = errors.New("account not found")
	ErrInvalidTransition  = errors.New("invalid delivery status transition")
	ErrDeliveryTerminal   = errors.New("managed delivery is in a terminal status")
	ErrMissingOrder       = errors.New("managed delivery has no external order")
	ErrDeliveryNotPending = errors.New("managed delivery is not pending launch")
)

// IsDeliveryNotFound checks if the error indicates a missing delivery
func IsDeliveryNotFound(err error) bool {
	return errors.Is(err, ErrDeliveryNotFound)
}

// IsAccountNotFound checks if the error indicates a missing account
func IsAccountNotFound(err error) bool {
	return errors.Is(err, ErrAccountNotFound)
}

// IsInvalidTransition checks if the error indicates an illegal status change
func IsInvalidTransition(err error) bool {
	return errors.Is(err, ErrInvalidTransition)
}

// IsDeliveryTerminal checks if the error indicates a completed/failed delivery
func IsDeliveryTerminal(err error) bool {
	return errors.Is(err, ErrDeliveryTerminal)
}

// IsDeliveryNotPending checks if the error indicates a launch on a non-pending delivery
func IsDeliveryNotPending(err error) bool {
	return errors.Is(err, ErrDeliveryNotPending)
}
