// sim/simulator.go
package sim

import (
	"container/heap"
	"fmt"

	"github.com/sirupsen/logrus"
)

// EventQueue implements heap.Interface and orders events by timestamp, with
// phase and insertion order breaking ties so same-instant execution is
// deterministic: arrivals, then completions, then dispatch.
type EventQueue []*scheduledEvent

// scheduledEvent pairs an event with its insertion sequence number.
type scheduledEvent struct {
	ev  Event
	seq int64
}

func (eq EventQueue) Len() int { return len(eq) }

func (eq EventQueue) Less(i, j int) bool {
	a, b := eq[i], eq[j]
	if a.ev.Timestamp() != b.ev.Timestamp() {
		return a.ev.Timestamp() < b.ev.Timestamp()
	}
	if a.ev.phase() != b.ev.phase() {
		return a.ev.phase() < b.ev.phase()
	}
	return a.seq < b.seq
}

func (eq EventQueue) Swap(i, j int) { eq[i], eq[j] = eq[j], eq[i] }

func (eq *EventQueue) Push(x any) {
	*eq = append(*eq, x.(*scheduledEvent))
}

func (eq *EventQueue) Pop() any {
	old := *eq
	n := len(old)
	item := old[n-1]
	*eq = old[0 : n-1]
	return item
}

// Results holds the raw output of one simulation run.
type Results struct {
	Completed  int
	Events     []CompletionEvent
	HorizonMin float64
}

// Simulator is the core object that holds simulation time, system state and
// the event loop. The capacity pool (Servers identical treatment slots) is
// the single contended resource; it is owned by one Simulator for the
// duration of one run.
type Simulator struct {
	Clock      float64
	HorizonMin float64
	Servers    int

	Policy    TriagePolicy
	Telemetry *TelemetryWriter

	Events    []CompletionEvent
	Completed int

	eventQueue      EventQueue
	waiting         *TriageQueue
	freeServers     int
	dispatchPending bool
	seq             int64
	eventSeq        int64
	runErr          error
}

// NewSimulator creates a simulator with a fixed pool of servers and the
// given triage policy. Telemetry may be nil.
func NewSimulator(servers int, policy TriagePolicy, telemetry *TelemetryWriter) (*Simulator, error) {
	if servers < 1 {
		return nil, fmt.Errorf("server count must be at least 1, got %d", servers)
	}
	if policy == nil {
		return nil, fmt.Errorf("triage policy must not be nil")
	}
	return &Simulator{
		Servers:     servers,
		Policy:      policy,
		Telemetry:   telemetry,
		eventQueue:  make(EventQueue, 0),
		waiting:     NewTriageQueue(),
		freeServers: servers,
	}, nil
}

// Schedule pushes an event onto the simulator's event queue.
func (sim *Simulator) Schedule(ev Event) {
	sim.eventSeq++
	heap.Push(&sim.eventQueue, &scheduledEvent{ev: ev, seq: sim.eventSeq})
}

// requestDispatch schedules a dispatch pass at the given time unless one is
// already pending.
func (sim *Simulator) requestDispatch(now float64) {
	if sim.dispatchPending {
		return
	}
	sim.dispatchPending = true
	sim.Schedule(&DispatchEvent{time: now})
}

// nextSeq returns the next arrival sequence number for stable tie-breaking.
func (sim *Simulator) nextSeq() int64 {
	sim.seq++
	return sim.seq
}

// fail records a defect detected inside event execution; the run loop stops
// and surfaces it.
func (sim *Simulator) fail(err error) {
	if sim.runErr == nil {
		sim.runErr = err
	}
}

// Run executes the simulation over the encounter batch. The effective
// horizon is the maximum of the conservative computed bound and the
// externally supplied horizonMin (0 means no external horizon). After the
// loop, completion totality is verified: finishing with unserved patients is
// a horizon-computation defect, not a warning.
func (sim *Simulator) Run(encounters []*Encounter, horizonMin float64) (*Results, error) {
	if len(encounters) == 0 {
		return nil, ErrNoEncounters
	}
	for _, enc := range encounters {
		if err := enc.Validate(); err != nil {
			return nil, fmt.Errorf("invalid encounter: %w", err)
		}
	}

	computed := ComputeHorizon(encounters, sim.Servers, DefaultMaxServiceCapMin, DefaultHorizonSlackMin)
	sim.HorizonMin = max(computed, horizonMin)
	logrus.Infof("starting run: %d encounters, %d servers, horizon %.1f min",
		len(encounters), sim.Servers, sim.HorizonMin)

	for _, enc := range encounters {
		sim.Schedule(&ArrivalEvent{time: enc.ArrivalMin, Encounter: enc})
	}

	for len(sim.eventQueue) > 0 && sim.runErr == nil {
		item := heap.Pop(&sim.eventQueue).(*scheduledEvent)
		if item.ev.Timestamp() > sim.HorizonMin {
			break
		}
		sim.Clock = item.ev.Timestamp()
		item.ev.Execute(sim)
	}
	if sim.runErr != nil {
		return nil, sim.runErr
	}
	logrus.Infof("[%8.1f min] run ended: %d/%d completed", sim.Clock, sim.Completed, len(encounters))

	if sim.Completed < len(encounters) {
		return nil, &HorizonDefectError{
			Completed:  sim.Completed,
			Total:      len(encounters),
			HorizonMin: sim.HorizonMin,
		}
	}

	return &Results{
		Completed:  sim.Completed,
		Events:     sim.Events,
		HorizonMin: sim.HorizonMin,
	}, nil
}
