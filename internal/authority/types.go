package authority

import "time"

// Result classifies a validation attempt.
type Result string

const (
	ResultSuccess       Result = "SUCCESS"
	ResultInvalidFormat Result = "INVALID_FORMAT"
	ResultNotFound      Result = "NOT_FOUND"
	ResultRateLimited   Result = "RATE_LIMITED"
	ResultSystemError   Result = "SYSTEM_ERROR"
)

// Validation is the outcome of validating a claimed game username.
type Validation struct {
	Result    Result
	Original  string // as typed, prefix included
	Canonical string // authority's canonical spelling when known, else normalized input
	Bridged   bool   // submitted through a compatibility layer (prefix stripped)
	Prefix    string // the stripped prefix, empty when not bridged
	CheckedAt time.Time
}

// Profile is the authority's record for an existing username.
type Profile struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Errors
var ErrThrottle = errf("authority call throttled")

type staticErr string

func (e staticErr) Error() string { return string(e) }
func errf(s string) error         { return staticErr(s) }
