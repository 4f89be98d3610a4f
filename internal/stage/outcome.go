package stage

import (
	"hitscribe/internal/artifacts"
	"hitscribe/internal/jobs"
	"hitscribe/internal/services"
)

// Outcome is the result of one stage execution: either Success or Failure.
type Outcome interface {
	outcome()
}

// Success carries the artifacts a stage produced and the record fields it
// wants written. Skipped is set when existing output was reused.
type Success struct {
	Artifacts []artifacts.Locator
	Fields    jobs.Patch
	Skipped   bool
}

// Failure describes a stage error. Reason is the user-facing cause.
type Failure struct {
	Stage     string
	Reason    string
	Retryable bool
	Err       error
}

func (Success) outcome() {}
func (Failure) outcome() {}

// Fail classifies err into a Failure for stage.
func Fail(stage string, err error) Failure {
	return Failure{
		Stage:     stage,
		Reason:    services.Cause(err),
		Retryable: services.Retryable(err),
		Err:       err,
	}
}

// Error implements error so failures can be logged directly.
func (f Failure) Error() string {
	if f.Reason == "" && f.Err != nil {
		return f.Err.Error()
	}
	return f.Reason
}

// Unwrap exposes the underlying error.
func (f Failure) Unwrap() error { return f.Err }
