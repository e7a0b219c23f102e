package errors

import (
	"context"
	"errors"
	"strings"
)

// Class is the orchestrator's two-way split of provider failures.
type Class int

const (
	// ClassTransient failures justify trying the next provider in the
	// fallback chain.
	ClassTransient Class = iota
	// ClassFatal failures abort the whole chain: another vendor would fail
	// the same way, or retrying wastes budget.
	ClassFatal
)

func (c Class) String() string {
	if c == ClassTransient {
		return "transient"
	}
	return "fatal"
}

// transientMarkers is the single place the transient heuristic lives.
// Matching is a case-insensitive substring scan of the error text because
// provider SDKs do not agree on error shapes. Authentication markers are
// deliberately listed: a bad key on one vendor should not stop a fallback
// vendor whose key is valid (this masks misconfiguration; kept on purpose).
var transientMarkers = []string{
	"connection reset",
	"connection refused",
	"no such host",
	"broken pipe",
	"eof",
	"timeout",
	"timed out",
	"deadline exceeded",
	"rate limit",
	"too many requests",
	"quota",
	"overloaded",
	"service unavailable",
	"temporarily unavailable",
	"bad gateway",
	"gateway timeout",
	"internal server error",
	"server error",
	"unauthorized",
	"authentication",
	"invalid api key",
	"api key",
}

// Classify maps a failure to transient or fatal. Anything not recognized as
// transient is fatal: malformed requests and content-policy rejections must
// not ride the fallback chain.
func Classify(err error) Class {
	if err == nil {
		return ClassTransient
	}

	var malformed *MalformedResponseError
	if errors.As(err, &malformed) {
		return ClassFatal
	}

	// A skipped provider consumes its slot; the rest of the chain still
	// deserves a try.
	var unavail *UnavailableError
	if errors.As(err, &unavail) {
		return ClassTransient
	}

	// Adapter-mapped errors carry explicit retry semantics.
	var perr *ProviderError
	if errors.As(err, &perr) {
		if perr.Retryable || perr.Type == TypeAuthentication {
			return ClassTransient
		}
		// Fall through: some gateways wrap transient upstream text in a
		// non-retryable envelope.
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return ClassTransient
	}

	msg := strings.ToLower(err.Error())
	for _, marker := range transientMarkers {
		if strings.Contains(msg, marker) {
			return ClassTransient
		}
	}

	return ClassFatal
}
