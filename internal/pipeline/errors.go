package pipeline

import (
	"errors"
	"fmt"

	"github.com/hadesus/analyzerforCP/internal/model"
)

// ErrEmptyDocument is returned when a document has no extractable text.
var ErrEmptyDocument = errors.New("document empty")

// StageError is a failure confined to one pipeline stage.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

func (e *StageError) Degradation() model.Degradation {
	return model.Degradation{Stage: e.Stage, Reason: e.Err.Error()}
}

// recovered runs fn and converts a panic into a StageError.
func recovered(stage string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &StageError{Stage: stage, Err: fmt.Errorf("panic: %v", r)}
		}
	}()
	if err := fn(); err != nil {
		return &StageError{Stage: stage, Err: err}
	}
	return nil
}
