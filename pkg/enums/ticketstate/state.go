package ticketstate

import (
	"strings"
)

type State struct {
	Name string
}

func (s State) Code() string {
	return s.Name
}

func (s State) Label() string {
	parts := strings.Split(s.Name, "_")
	for i := range parts {
		if len(parts[i]) > 0 {
			parts[i] = strings.ToUpper(parts[i][:1]) + parts[i][1:]
		}
	}
	return strings.Join(parts, " ")
}

// Terminal reports whether the state ends a service (completed or skipped).
func (s State) Terminal() bool {
	return s == States.Completed || s == States.Skipped
}

type Enum struct {
	Waiting   State
	InService State
	Completed State
	Skipped   State
}

var States = Enum{
	Waiting:   State{Name: "waiting"},
	InService: State{Name: "in_service"},
	Completed: State{Name: "completed"},
	Skipped:   State{Name: "skipped"},
}

var All = []State{
	States.Waiting,
	States.InService,
	States.Completed,
	States.Skipped,
}

// transitions lists every permitted edge. Completed and Skipped go back to
// Waiting only through undo.
var transitions = map[string][]string{
	States.Waiting.Name:   {States.InService.Name},
	States.InService.Name: {States.Completed.Name, States.Skipped.Name},
	States.Completed.Name: {States.Waiting.Name},
	States.Skipped.Name:   {States.Waiting.Name},
}

// ByName returns the state for a given name, or nil if not found
func ByName(name string) *State {
	for _, s := range All {
		if s.Name == name {
			return &s
		}
	}
	return nil
}

// CanTransition reports whether the lifecycle allows moving from one state to another.
func CanTransition(from, to string) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
