// Package contracts defines the types shared by every burrow component:
// the error kinds raised while building producers and dispatching
// deliveries, and the Handler contract consumers implement.
//
// Error kinds:
//   - ConfigurationError: topology or registration is wrong; fatal at startup
//   - TransportError: the broker or channel failed an operation; retryable
//   - ProcessingError: a delivery could not be deserialized or handled
package contracts
