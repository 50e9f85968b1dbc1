// internal/notify/panic.go
package notify

import (
	"fmt"
	"runtime/debug"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// LogPanic returns an OnPanic hook that logs the recovered value with a
// correlation id and the handler's stack.
func LogPanic(logger zerolog.Logger, feed string) func(recovered any) {
	return func(r any) {
		logger.Error().
			Str("correlation_id", uuid.NewString()).
			Str("feed", feed).
			Str("panic", fmt.Sprintf("%v", r)).
			Bytes("stack", debug.Stack()).
			Msg("subscriber panic")
	}
}
