package submission

import (
	"fmt"
	"sync"

	"github.com/felixgeelhaar/statekit"
)

// Stage is the pipeline's coarse progress
type Stage string

// Stage constants double as statekit state IDs.
const (
	StageIdle      = "idle"
	StagePreparing = "preparing"
	StageUploading = "uploading"
	StageAnalyzing = "analyzing"
	StageSuccess   = "success"
	StageError     = "error"
)

const (
	eventSubmit   = "submit"
	eventPrepared = "prepared"
	eventUploaded = "uploaded"
	eventAnalyzed = "analyzed"
	eventFail     = "fail"
	eventRestart  = "restart"
)

type stageContext struct{}

// stageMachine wraps the statekit interpreter. The interpreter is not
// documented as safe for concurrent use, so every access holds mu.
type stageMachine struct {
	mu          sync.Mutex
	interpreter *statekit.Interpreter[stageContext]
}

func newStageMachine() (*stageMachine, error) {
	builder := statekit.NewMachine[stageContext]("submission-pipeline").
		WithInitial(statekit.StateID(StageIdle)).
		WithContext(stageContext{})

	builder.State(StageIdle).
		On(eventSubmit).Target(StagePreparing).
		Done()

	builder.State(StagePreparing).
		On(eventPrepared).Target(StageUploading).
		On(eventFail).Target(StageError).
		Done()

	builder.State(StageUploading).
		On(eventUploaded).Target(StageAnalyzing).
		On(eventFail).Target(StageError).
		Done()

	builder.State(StageAnalyzing).
		On(eventAnalyzed).Target(StageSuccess).
		On(eventFail).Target(StageError).
		Done()

	builder.State(StageSuccess).
		On(eventRestart).Target(StageIdle).
		Done()

	builder.State(StageError).
		On(eventRestart).Target(StageIdle).
		Done()

	machine, err := builder.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build submission state machine: %w", err)
	}

	interpreter := statekit.NewInterpreter(machine)
	interpreter.Start()

	return &stageMachine{interpreter: interpreter}, nil
}

// fire sends event and reports an error if the stage did not change
func (m *stageMachine) fire(event string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	before := m.current()
	m.interpreter.Send(statekit.Event{Type: statekit.EventType(event)})
	if after := m.current(); after != before {
		return nil
	}
	return fmt.Errorf("event %q is not allowed in stage %q", event, before)
}

// restart returns a finished pipeline to idle; idle stays idle
func (m *stageMachine) restart() {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.current() {
	case StageSuccess, StageError:
		m.interpreter.Send(statekit.Event{Type: statekit.EventType(eventRestart)})
	}
}

func (m *stageMachine) Current() Stage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current()
}

func (m *stageMachine) current() Stage {
	return Stage(m.interpreter.State().Value)
}
