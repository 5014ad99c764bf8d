package domain

import "time"

// RiskSeverity grades a risk alert.
type RiskSeverity string

const (
	RiskSeverityWarning  RiskSeverity = "warning"
	RiskSeverityCritical RiskSeverity = "critical"
)

// RiskAlert is an operator- or monitor-originated alert that must preempt all
// other event processing.
type RiskAlert struct {
	Severity RiskSeverity
	Source   string
	Message  string
	At       time.Time
}

// EventClass discriminates the Event union consumed by the router. The
// numeric order is the routing priority, highest first.
type EventClass int

const (
	EventRisk EventClass = iota
	EventFill
	EventPrice
	EventHeartbeat
)

// String returns the class name used in logs.
func (c EventClass) String() string {
	switch c {
	case EventRisk:
		return "risk"
	case EventFill:
		return "fill"
	case EventPrice:
		return "price"
	case EventHeartbeat:
		return "heartbeat"
	}
	return "unknown"
}

// Event is the tagged union the router emits downstream. Exactly one payload
// field is set, selected by Class; heartbeat events carry only a timestamp.
type Event struct {
	Class EventClass
	Risk  *RiskAlert
	Fill  *OrderUpdate
	Price *PriceTick
	At    time.Time
}
