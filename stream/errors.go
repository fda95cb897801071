package stream

import (
	"errors"
	"fmt"
)

var (
	// ErrNoStreamSubscribed is returned by Next when nothing is subscribed.
	ErrNoStreamSubscribed = errors.New("no stream subscribed")
	// ErrClosed is returned by every operation after Close.
	ErrClosed = errors.New("multiplexer closed")
	// ErrInvalidSubscription wraps every Subscription.Validate failure.
	ErrInvalidSubscription = errors.New("invalid subscription")
)

// ConnectionError reports that a subscription could not be opened.
type ConnectionError struct {
	Subscription Subscription
	URL          string
	Err          error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connect %s: %v", e.Subscription, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// DecodeError reports a frame that did not match the schema of its
// subscription. The subscription itself stays registered.
type DecodeError struct {
	Subscription Subscription
	Payload      []byte
	Err          error
}

const maxPayloadInError = 256

func (e *DecodeError) Error() string {
	payload := e.Payload
	if len(payload) > maxPayloadInError {
		payload = payload[:maxPayloadInError]
	}
	return fmt.Sprintf("decode %s: %v (payload %q)", e.Subscription, e.Err, payload)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// DisconnectError is returned once when a registered subscription's
// connection ends. Err is nil when the server closed it cleanly.
type DisconnectError struct {
	Subscription Subscription
	Err          error
}

func (e *DisconnectError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s disconnected", e.Subscription)
	}
	return fmt.Sprintf("%s disconnected: %v", e.Subscription, e.Err)
}

func (e *DisconnectError) Unwrap() error { return e.Err }
