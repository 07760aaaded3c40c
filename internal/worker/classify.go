package worker

import (
	"strings"

	"github.com/odavlstudio/insight/internal/protocol"
)

// ClassifyCode maps a detector failure to a protocol error code by best-effort
// substring matching on the error text. The matching rules are an observable
// contract consumers already depend on; keep this function pure so the
// heuristic can be swapped without touching the executor loop.
func ClassifyCode(err error) protocol.Code {
	msg := err.Error()
	lower := strings.ToLower(msg)

	switch {
	case strings.Contains(lower, "timeout"):
		return protocol.CodeTimeout
	case strings.Contains(msg, "EISDIR"), strings.Contains(lower, "illegal operation on a directory"):
		return protocol.CodeEISDIR
	case containsAny(lower, "out of memory", "heap"):
		return protocol.CodeOOM
	default:
		return protocol.CodeDetectorError
	}
}

func containsAny(s string, substrings ...string) bool {
	for _, sub := range substrings {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
