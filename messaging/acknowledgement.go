package messaging

// ConsumerConfig governs how deliveries are acknowledged. It is set once
// at registration and read on every delivery.
type ConsumerConfig struct {
	AutoAck  bool // Broker acks on delivery; the dispatcher never acks or nacks
	Multiple bool // Ack or nack every outstanding delivery up to this tag
	Requeue  bool // Requeue failed deliveries that were not redelivered
}

// AckAction is what the dispatcher does with a delivery
type AckAction int

const (
	AckNone AckAction = iota
	AckPositive
	AckNegative
)

func (a AckAction) String() string {
	switch a {
	case AckPositive:
		return "ack"
	case AckNegative:
		return "nack"
	default:
		return "none"
	}
}

// Acknowledgement is the outcome of one dispatch cycle
type Acknowledgement struct {
	Action   AckAction
	Multiple bool
	Requeue  bool
}

// Decide turns a handler result into an acknowledgement. A redelivered
// message is never requeued again, whatever cfg says, so a poison message
// is seen at most twice.
func Decide(result error, redelivered bool, cfg ConsumerConfig) Acknowledgement {
	if cfg.AutoAck {
		return Acknowledgement{Action: AckNone}
	}
	if result == nil {
		return Acknowledgement{Action: AckPositive, Multiple: cfg.Multiple}
	}
	return Acknowledgement{
		Action:   AckNegative,
		Multiple: cfg.Multiple,
		Requeue:  cfg.Requeue && !redelivered,
	}
}
