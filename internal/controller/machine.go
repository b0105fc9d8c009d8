package controller

import "fmt"

type State string

type Event string

// Table maps a state and an event to the following state.
type Table map[State]map[Event]State

// Next fails for any pair the table does not list.
func (t Table) Next(s State, e Event) (State, error) {
	next, ok := t[s][e]
	if !ok {
		return s, fmt.Errorf("no transition from %s on %s", s, e)
	}
	return next, nil
}

// Discovery states and events.
const (
	Sampling   State = "sampling"
	Settling   State = "settling"
	Recovering State = "recovering"
	Found      State = "found"
	Failed     State = "failed"

	Sampled      Event = "sampled"
	SampleFailed Event = "sample-failed"
	Complete     Event = "complete"
	Settled      Event = "settled"
	Recovered    Event = "recovered"
	NoCandidate  Event = "no-candidate"
)

// DiscoveryTable drives a single counter discovery attempt. One failed read
// fails the attempt.
var DiscoveryTable = Table{
	Sampling: {
		Sampled:      Sampling,
		SampleFailed: Failed,
		Complete:     Settling,
	},
	Settling: {
		Settled: Recovering,
	},
	Recovering: {
		Recovered:   Found,
		NoCandidate: Failed,
	},
}

// Sync states and events.
const (
	Discovering State = "discovering"
	Planning    State = "planning"
	Armed       State = "armed"
	Verifying   State = "verifying"
	Retrying    State = "retrying"
	Done        State = "done"

	Discovered         Event = "discovered"
	DiscoveryFailed    Event = "discovery-failed"
	DiscoveryExhausted Event = "discovery-exhausted"
	Planned            Event = "planned"
	NoPlan             Event = "no-plan"
	Fired              Event = "fired"
	Matched            Event = "matched"
	Mismatched         Event = "mismatched"
	ResetDone          Event = "reset"
)

// SyncTable is the outer loop around discovery.
var SyncTable = Table{
	Discovering: {
		Discovered:         Planning,
		DiscoveryFailed:    Discovering,
		DiscoveryExhausted: Retrying,
	},
	Planning: {
		Planned: Armed,
		NoPlan:  Retrying,
	},
	Armed: {
		Fired: Verifying,
	},
	Verifying: {
		Matched:    Done,
		Mismatched: Retrying,
	},
	Retrying: {
		ResetDone: Discovering,
	},
}
