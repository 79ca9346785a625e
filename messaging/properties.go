package messaging

import (
	"strconv"
	"time"

	"github.com/samber/lo"
	amqp "github.com/rabbitmq/amqp091-go"
)

// PropertyMutator transforms publish properties. Mutators are applied
// left to right; later mutators see the result of earlier ones.
type PropertyMutator func(amqp.Publishing) amqp.Publishing

// ApplyProperties applies mutators to a copy of base in order
func ApplyProperties(base amqp.Publishing, mutators ...PropertyMutator) amqp.Publishing {
	properties := clonePublishing(base)
	for _, mutate := range mutators {
		if mutate == nil {
			continue
		}
		properties = mutate(properties)
	}
	return properties
}

// clonePublishing copies p so that mutating the copy's headers leaves p untouched
func clonePublishing(p amqp.Publishing) amqp.Publishing {
	if p.Headers != nil {
		p.Headers = amqp.Table(lo.Assign(map[string]interface{}(p.Headers)))
	}
	return p
}

// WithContentType sets the MIME content type
func WithContentType(contentType string) PropertyMutator {
	return func(p amqp.Publishing) amqp.Publishing {
		p.ContentType = contentType
		return p
	}
}

// WithContentEncoding sets the MIME content encoding
func WithContentEncoding(encoding string) PropertyMutator {
	return func(p amqp.Publishing) amqp.Publishing {
		p.ContentEncoding = encoding
		return p
	}
}

// Persistent marks messages to be written to disk by durable queues
func Persistent() PropertyMutator {
	return func(p amqp.Publishing) amqp.Publishing {
		p.DeliveryMode = amqp.Persistent
		return p
	}
}

// Transient marks messages as not persisted
func Transient() PropertyMutator {
	return func(p amqp.Publishing) amqp.Publishing {
		p.DeliveryMode = amqp.Transient
		return p
	}
}

// WithPriority sets the message priority (0-9)
func WithPriority(priority uint8) PropertyMutator {
	return func(p amqp.Publishing) amqp.Publishing {
		p.Priority = priority
		return p
	}
}

// WithExpiration sets the per-message TTL
func WithExpiration(ttl time.Duration) PropertyMutator {
	return func(p amqp.Publishing) amqp.Publishing {
		p.Expiration = strconv.FormatInt(ttl.Milliseconds(), 10)
		return p
	}
}

// WithHeader sets a single header
func WithHeader(key string, value interface{}) PropertyMutator {
	return func(p amqp.Publishing) amqp.Publishing {
		p = clonePublishing(p)
		if p.Headers == nil {
			p.Headers = amqp.Table{}
		}
		p.Headers[key] = value
		return p
	}
}

// WithAppID sets the creating application id
func WithAppID(appID string) PropertyMutator {
	return func(p amqp.Publishing) amqp.Publishing {
		p.AppId = appID
		return p
	}
}

// WithType sets the message type name
func WithType(messageType string) PropertyMutator {
	return func(p amqp.Publishing) amqp.Publishing {
		p.Type = messageType
		return p
	}
}

// WithReplyTo sets the reply-to address
func WithReplyTo(replyTo string) PropertyMutator {
	return func(p amqp.Publishing) amqp.Publishing {
		p.ReplyTo = replyTo
		return p
	}
}

// WithCorrelationID sets the correlation id
func WithCorrelationID(correlationID string) PropertyMutator {
	return func(p amqp.Publishing) amqp.Publishing {
		p.CorrelationId = correlationID
		return p
	}
}

// WithMessageID sets the message id. Without it every publish gets a
// fresh UUID.
func WithMessageID(messageID string) PropertyMutator {
	return func(p amqp.Publishing) amqp.Publishing {
		p.MessageId = messageID
		return p
	}
}

// WithUserID sets the user id validated by the broker
func WithUserID(userID string) PropertyMutator {
	return func(p amqp.Publishing) amqp.Publishing {
		p.UserId = userID
		return p
	}
}
