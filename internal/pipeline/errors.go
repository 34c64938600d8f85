package pipeline

import "fmt"

// Stage names, also used as metric and log labels.
const (
	StageLoad     = "load"
	StageFeatures = "features"
	StageLabel    = "label"
	StageBalance  = "balance"
	StageEvaluate = "evaluate"
)

// StageError wraps the component error that stopped a run. Group is set when
// the failure is tied to one (period, instrument) group.
type StageError struct {
	Stage string
	Group string
	Err   error
}

func (e *StageError) Error() string {
	if e.Group != "" {
		return fmt.Sprintf("%s [%s]: %v", e.Stage, e.Group, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }
