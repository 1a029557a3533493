package estimate

import "fmt"

// ConfigurationError reports an incompatible or invalid option
// combination. Raised before any sampling, never silently reinterpreted.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return "configuration error: " + e.Reason
}

func configErrf(format string, args ...any) error {
	return &ConfigurationError{Reason: fmt.Sprintf(format, args...)}
}

// DataError reports a malformed input series, naming the offending
// row or date.
type DataError struct {
	Err error
}

func (e *DataError) Error() string {
	return "data error: " + e.Err.Error()
}

func (e *DataError) Unwrap() error { return e.Err }

// SamplingFailure reports that the posterior sampling engine produced no
// usable draws: a hard failure for the call, never fabricated into a
// degenerate result.
type SamplingFailure struct {
	Err error
}

func (e *SamplingFailure) Error() string {
	return "sampling failure: " + e.Err.Error()
}

func (e *SamplingFailure) Unwrap() error { return e.Err }
