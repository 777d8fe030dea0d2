package metrics

import "time"

// Recorder counts vending events and observes operation latency.
// Implementations must be safe for concurrent use.
type Recorder interface {
	IncCounter(name string, labels map[string]string)
	ObserveLatency(name string, duration time.Duration, labels map[string]string)
}

// Event and operation names recorded by the engine.
const (
	EventObservationSeen = "observation_seen"
	EventVendCompleted   = "vend_completed"
	EventVendFailed      = "vend_failed"
	EventVendAbandoned   = "vend_abandoned"

	OpPoll = "poll"
	OpVend = "vend"
)
