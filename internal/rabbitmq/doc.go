// Package rabbitmq provides the RabbitMQ plumbing burrow builds on.
//
// This package includes:
//   - ConnectionManager: dials the broker and opens dedicated channels
//   - Channel: the subset of *amqp.Channel burrow drives
//   - Consumer: runs basic.consume on its own channel and hands deliveries
//     to a handler one at a time
//   - AMQP error helpers used to classify broker rejections
//
// Reconnection is not handled here: a closed connection surfaces as a
// transport error to the caller.
package rabbitmq
