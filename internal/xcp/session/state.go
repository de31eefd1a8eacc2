package session

import (
	"context"
	"errors"

	"github.com/looplab/fsm"
)

// State is the coarse session state.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnected    State = "connected"
	StateRun          State = "run"
	StateStop         State = "stop"
	StateError        State = "error"
)

func (s State) String() string { return string(s) }

// State machine events.
const (
	evConnected  = "connected"
	evStart      = "start"
	evStop       = "stop"
	evDisconnect = "disconnect"
	evFail       = "fail"
	evReset      = "reset"
)

func stateNames(states ...State) []string {
	out := make([]string, len(states))
	for i, s := range states {
		out[i] = string(s)
	}
	return out
}

// newStateMachine builds the transition table:
//
//	disconnected --connected--> connected
//	connected|stop --start--> run
//	run|connected --stop--> stop
//	any --disconnect--> disconnected
//	any --fail--> error
//	error --reset--> disconnected
func newStateMachine(onEnter func(from, to State, reason string)) *fsm.FSM {
	all := stateNames(StateDisconnected, StateConnected, StateRun, StateStop, StateError)
	return fsm.NewFSM(
		string(StateDisconnected),
		fsm.Events{
			{Name: evConnected, Src: stateNames(StateDisconnected), Dst: string(StateConnected)},
			{Name: evStart, Src: stateNames(StateConnected, StateStop), Dst: string(StateRun)},
			{Name: evStop, Src: stateNames(StateRun, StateConnected), Dst: string(StateStop)},
			{Name: evDisconnect, Src: all, Dst: string(StateDisconnected)},
			{Name: evFail, Src: all, Dst: string(StateError)},
			{Name: evReset, Src: stateNames(StateError), Dst: string(StateDisconnected)},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				var reason string
				if len(e.Args) > 0 {
					if s, ok := e.Args[0].(string); ok {
						reason = s
					}
				}
				onEnter(State(e.Src), State(e.Dst), reason)
			},
		},
	)
}

// fire triggers an event. Re-entering the current state is not an error.
func fire(ctx context.Context, m *fsm.FSM, event, reason string) error {
	err := m.Event(ctx, event, reason)
	var noTransition fsm.NoTransitionError
	if errors.As(err, &noTransition) {
		return nil
	}
	return err
}
