package burrow

import (
	"fmt"

	"github.com/glimte/burrow/config"
	"github.com/glimte/burrow/messaging"
	"github.com/glimte/burrow/serialization"
)

// NewClientFromConfig creates a client for cfg.URL with the configured
// exchanges and bindings registered.
func NewClientFromConfig(cfg *config.Config, options ...ClientOption) (*Client, error) {
	if cfg.ConnectTimeout > 0 {
		options = append([]ClientOption{WithConnectTimeout(cfg.ConnectTimeout)}, options...)
	}

	client, err := NewClient(cfg.URL, options...)
	if err != nil {
		return nil, err
	}

	if err := cfg.ApplyTopology(client.registry); err != nil {
		return nil, err
	}
	return client, nil
}

// AddConfiguredProducer registers the producer named name in cfg for T.
// T is registered under that name in the client's type registry.
func AddConfiguredProducer[T any](c *Client, cfg *config.Config, name string) error {
	p, ok := cfg.Producer(name)
	if !ok {
		return fmt.Errorf("no producer named %s in config", name)
	}
	if err := serialization.Register[T](c.types, name); err != nil {
		return err
	}
	return AddProducer[T](c, p.Exchange, p.Queue, p.Options()...)
}

// AddConfiguredConsumer registers the consumer named name in cfg for T
func AddConfiguredConsumer[T any](c *Client, cfg *config.Config, name string, resolve messaging.HandlerFactory[T]) error {
	cons, ok := cfg.Consumer(name)
	if !ok {
		return fmt.Errorf("no consumer named %s in config", name)
	}
	return AddConsumer(c, cons.Queue, resolve, ConsumerOptions(cons)...)
}

// ConsumerOptions converts a configured consumer into consumer options
func ConsumerOptions(cons config.Consumer) []ConsumerOption {
	options := []ConsumerOption{WithConsumerName(cons.Name)}
	if cons.AutoAck {
		options = append(options, AutoAck())
	}
	if cons.Multiple {
		options = append(options, AckMultiple())
	}
	if cons.Requeue {
		options = append(options, Requeue())
	}
	if cons.Exclusive {
		options = append(options, Exclusive())
	}
	if cons.PrefetchCount > 0 {
		options = append(options, WithPrefetchCount(cons.PrefetchCount))
	}
	if cons.Tag != "" {
		options = append(options, WithConsumerTag(cons.Tag))
	}
	return options
}
