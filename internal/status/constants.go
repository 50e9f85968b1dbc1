// internal/status/constants.go
package status

// Health codes. Values are stable: they are exported as a metric.

// HealthUnknown represents an unknown or boot state.
const HealthUnknown uint16 = 0

// HealthOK represents a healthy link with every task succeeding.
const HealthOK uint16 = 1

// HealthError represents a lost link or a failing task.
const HealthError uint16 = 2

// HealthStale represents a live link with no fresh data yet.
const HealthStale uint16 = 3

// HealthDisabled represents a link taken down on purpose.
const HealthDisabled uint16 = 4

// MaxSecondsInError is where SecondsInError saturates.
const MaxSecondsInError = 65535

// ErrorCodeGeneric is reported for errors that carry no device code.
const ErrorCodeGeneric uint16 = 1

// HealthName renders a health code for logs.
func HealthName(h uint16) string {
	switch h {
	case HealthUnknown:
		return "unknown"
	case HealthOK:
		return "ok"
	case HealthError:
		return "error"
	case HealthStale:
		return "stale"
	case HealthDisabled:
		return "disabled"
	default:
		return "invalid"
	}
}
