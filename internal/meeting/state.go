package meeting

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/teemow/studygroup/internal/instrumentation"
	"github.com/teemow/studygroup/internal/logging"
)

// State is a stage of the create-meeting workflow.
type State int

const (
	StateIdle State = iota
	StateAwaitingCredential
	StateCreatingEvent
	StatePersistingRecord
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingCredential:
		return "awaiting_credential"
	case StateCreatingEvent:
		return "creating_event"
	case StatePersistingRecord:
		return "persisting_record"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// run tracks one create-meeting attempt through its stages.
type run struct {
	state  State
	span   trace.Span
	logger logging.Logger
}

func (r *run) enter(next State) {
	r.logger.Debug("meeting workflow transition", "from", r.state.String(), "to", next.String())
	instrumentation.AddSpanEvent(r.span, "transition", attribute.String(instrumentation.SpanAttrStage, next.String()))
	r.state = next
}

// fail moves the run to StateFailed and wraps err with the stage it failed in.
func (r *run) fail(err error) error {
	stage := r.state
	r.enter(StateFailed)
	return &StageError{Stage: stage, Err: err}
}
