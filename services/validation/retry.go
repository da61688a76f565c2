package validation

import "strings"

// retryableMarkers are lowercase fragments of error messages that point at
// infrastructure trouble rather than a bad transfer.
var retryableMarkers = []string{
	"timeout",
	"network",
	"connection",
	"rate limit",
	"api key",
	"service unavailable",
	"internal server error",
}

// IsRetryable reports whether msg looks like a transient failure.
func IsRetryable(msg string) bool {
	msg = strings.ToLower(msg)
	for _, m := range retryableMarkers {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}
