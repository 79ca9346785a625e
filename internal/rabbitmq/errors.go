package rabbitmq

import (
	"errors"
	"strings"

	amqp "github.com/rabbitmq/amqp091-go"
)

// BrokerRejection describes why the broker refused a channel operation.
type BrokerRejection int

const (
	// NotRejected means the error did not come from a broker reply code
	// that blames the request itself (connectivity, closed channel, I/O).
	NotRejected BrokerRejection = iota
	// QueueNotFound is a 404 naming a queue
	QueueNotFound
	// ExchangeNotFound is a 404 naming an exchange
	ExchangeNotFound
	// PreconditionFailed is a 406, e.g. an inequivalent redeclare
	PreconditionFailed
	// AccessRefused is a 403
	AccessRefused
)

// ClassifyRejection inspects an error returned by a channel operation.
func ClassifyRejection(err error) BrokerRejection {
	var amqpErr *amqp.Error
	if !errors.As(err, &amqpErr) {
		return NotRejected
	}

	switch amqpErr.Code {
	case amqp.NotFound:
		reason := strings.ToLower(amqpErr.Reason)
		switch {
		case strings.Contains(reason, "no queue"):
			return QueueNotFound
		case strings.Contains(reason, "no exchange"):
			return ExchangeNotFound
		}
		// Unqualified 404s come from passive declares and queue binds
		return QueueNotFound
	case amqp.PreconditionFailed:
		return PreconditionFailed
	case amqp.AccessRefused:
		return AccessRefused
	}

	return NotRejected
}

// IsChannelClosed reports whether err means the channel or connection is gone.
func IsChannelClosed(err error) bool {
	if errors.Is(err, amqp.ErrClosed) {
		return true
	}
	var amqpErr *amqp.Error
	if errors.As(err, &amqpErr) {
		return amqpErr.Code == amqp.ChannelError || amqpErr.Code == amqp.ConnectionForced
	}
	return false
}

// SanitizeURL removes the password from a connection URL
func SanitizeURL(url string) string {
	uri, err := amqp.ParseURI(url)
	if err != nil {
		return "***"
	}
	if uri.Password != "" {
		uri.Password = "***"
	}
	return uri.String()
}
