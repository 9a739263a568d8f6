package retry

import (
	"github.com/personalpipeline/personal-pipeline/internal/perrors"
)

// TaggedErrorChecker retries only the perrors.Error kinds that represent
// transient conditions (Unavailable, Timeout, RateLimited, Overloaded).
// Permanent kinds (Config, Auth, NotFound, Validation) are not retried —
// retrying them would just waste the adapter's failure budget and trip
// its circuit breaker sooner than necessary.
type TaggedErrorChecker struct{}

func (TaggedErrorChecker) IsRetryable(err error) bool {
	classified := perrors.Classify(err)
	switch classified.Code {
	case perrors.CodeUnavailable, perrors.CodeTimeout, perrors.CodeRateLimited, perrors.CodeOverloaded:
		return true
	default:
		return false
	}
}
