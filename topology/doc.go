// Package topology describes exchanges and their bindings and declares
// them on a channel.
//
// A Registry is filled at startup and frozen when the first producer is
// built. The Declarer only touches exchanges that are registered: an
// unregistered name is assumed to be the default exchange or one declared
// out-of-band, and no command is sent for it.
//
//	registry := topology.NewRegistry()
//	orders, _ := registry.AddExchange(topology.KindTopic, "orders", topology.Durable())
//	_ = orders.BindTo("orders.audit", topology.WithRoutingKey("audit"))
package topology
