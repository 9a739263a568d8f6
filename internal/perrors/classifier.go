package perrors

import (
	"context"
	"errors"
	"net"
	"strings"
)

// Classify maps a low-level transport error onto the tagged Error kind
// that best describes it, so adapters don't each reimplement the same
// net/context sniffing. Mirrors the teacher's error_classifier.go
// decision order: context errors first, then net.Error, then string
// sniffing as a last resort for drivers that don't wrap well.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}

	var pe *Error
	if errors.As(err, &pe) {
		return pe
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return Wrap(CodeTimeout, "operation deadline exceeded", err)
	case errors.Is(err, context.Canceled):
		return Wrap(CodeUnavailable, "operation canceled", err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return Wrap(CodeTimeout, "network timeout", err)
		}
		return Wrap(CodeUnavailable, "network error", err)
	}

	if isTransientNetworkError(err) {
		return Wrap(CodeUnavailable, "transient network error", err)
	}

	return Wrap(CodeInternal, "unclassified error", err)
}

// isTransientNetworkError catches driver errors (pgx, redis, http
// clients) that don't implement net.Error but carry recognizable
// substrings, the same heuristic the teacher's classifier falls back to.
func isTransientNetworkError(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, substr := range []string{
		"connection refused",
		"connection reset",
		"broken pipe",
		"no such host",
		"eof",
		"i/o timeout",
		"too many connections",
	} {
		if strings.Contains(msg, substr) {
			return true
		}
	}
	return false
}
