// Package interceptors wraps typed handlers with cross-cutting behaviour.
//
// An interceptor sees every payload before the handler does and decides
// whether and how to call it. The error the chain returns is what the
// dispatcher acknowledges on: nil acks, anything else nacks.
//
// Example usage:
//
//	chain := interceptors.NewChain[OrderPlaced](logger).
//		Add(interceptors.NewLoggingInterceptor[OrderPlaced](logger)).
//		Add(interceptors.NewTimeoutInterceptor[OrderPlaced](30 * time.Second)).
//		Add(interceptors.NewValidationInterceptor(validateOrder))
//
//	burrow.AddConsumer(client, "orders.q", chain.Wrap(messaging.HandleFunc(handleOrder)))
package interceptors
