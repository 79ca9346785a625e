package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/glimte/burrow/config"
	"github.com/glimte/burrow/topology"
	amqp "github.com/rabbitmq/amqp091-go"
)

func registryFor(cfg *config.Config) (*topology.Registry, error) {
	registry := topology.NewRegistry()
	if err := cfg.ApplyTopology(registry); err != nil {
		return nil, err
	}
	registry.Freeze()
	return registry, nil
}

func queueBinding(p config.Producer) topology.QueueBinding {
	var args amqp.Table
	if len(p.Arguments) > 0 {
		args = amqp.Table(p.Arguments)
	}
	return topology.QueueBinding{
		Exchange:   p.Exchange,
		Queue:      p.Queue,
		RoutingKey: p.RoutingKey,
		Mandatory:  p.Mandatory,
		Arguments:  args,
	}
}

// apply declares every configured exchange, then binds each producer queue
// to its exchange.
func apply(ctx context.Context, cfg *config.Config, ch topology.Channel, logger *slog.Logger) error {
	registry, err := registryFor(cfg)
	if err != nil {
		return err
	}
	declarer := topology.NewDeclarer(registry, topology.WithDeclarerLogger(logger))

	declared := make(map[string]*topology.Exchange, len(cfg.Exchanges))
	for _, name := range registry.Names() {
		exchange, err := declarer.Declare(ctx, ch, name)
		if err != nil {
			return err
		}
		declared[name] = exchange
	}

	for _, p := range cfg.Producers {
		if p.Queue == "" {
			continue
		}
		if err := declarer.BindQueue(ctx, ch, queueBinding(p), declared[p.Exchange]); err != nil {
			return fmt.Errorf("producer %s: %w", p.Name, err)
		}
	}
	return nil
}

// plan describes the commands apply issues, in order
func plan(cfg *config.Config) ([]string, error) {
	registry, err := registryFor(cfg)
	if err != nil {
		return nil, err
	}

	var steps []string
	for _, name := range registry.Names() {
		exchange, _ := registry.Lookup(name)
		steps = append(steps, fmt.Sprintf("declare exchange %s (%s, durable=%t)", exchange.Name(), exchange.Kind(), exchange.IsDurable()))
		for _, b := range exchange.Bindings() {
			steps = append(steps, fmt.Sprintf("bind exchange %s -> %s key=%q", exchange.Name(), b.Destination, b.Key()))
		}
	}

	for _, p := range cfg.Producers {
		if p.Queue == "" {
			continue
		}
		qb := queueBinding(p)
		if qb.Mandatory {
			steps = append(steps, fmt.Sprintf("check queue %s exists", qb.Queue))
		}
		steps = append(steps, fmt.Sprintf("bind queue %s -> %s key=%q", qb.Exchange, qb.Queue, qb.Key()))
	}
	return steps, nil
}
