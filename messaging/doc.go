// Package messaging publishes and consumes typed payloads over RabbitMQ.
//
// Producers are registered per payload type and built lazily by a
// ProducerFactory. Building a producer opens a dedicated channel, declares
// the producer's exchange and its bindings, binds the producer's queue and
// optionally switches the channel into confirm mode. The result is cached,
// so topology is declared once and never on the publish path.
//
// Consumers hand every delivery to a Dispatcher, which decodes the body,
// resolves a handler inside a per-delivery Scope and acknowledges the
// delivery. The ack decision is made by Decide:
//
//   - autoAck: nothing is sent
//   - success: ack
//   - failure: nack, requeued only when requeue is set and the delivery
//     was not already redelivered
//
// Example usage:
//
//	factory := messaging.NewProducerFactory(conn, registry)
//	_, err := messaging.AddProducer[OrderPlaced](factory, "orders", "orders.q",
//		messaging.WaitForConfirms(),
//		messaging.WithProperties(messaging.Persistent()),
//	)
//
//	producer, err := messaging.GetProducer[OrderPlaced](ctx, factory)
//	err = producer.Publish(ctx, OrderPlaced{ID: 1})
//
//	dispatcher := messaging.NewDispatcher(
//		messaging.HandleFunc(func(ctx context.Context, o OrderPlaced) error {
//			return nil
//		}),
//		messaging.ConsumerConfig{Requeue: true},
//	)
package messaging
