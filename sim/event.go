package sim

import "github.com/sirupsen/logrus"

// Event defines the interface for all simulation events. Each event has a
// Timestamp (simulated minutes) and an Execute method that advances
// simulation state when invoked. The unexported phase method orders events
// that share a timestamp: all arrivals at time t are enqueued before
// completions free their servers, and dispatch runs last, so a free slot
// always goes to the most urgent of everyone waiting at t.
type Event interface {
	Timestamp() float64
	Execute(*Simulator)
	phase() int
}

const (
	phaseArrival = iota
	phaseCompletion
	phaseDispatch
)

// ArrivalEvent represents a patient arriving at the department. Priority is
// always resolved here, at arrival time, by the active triage policy — not
// at load time — so behavior is uniform across policies and any pre-assigned
// priority on the encounter is ignored.
type ArrivalEvent struct {
	time      float64
	Encounter *Encounter
}

func (e *ArrivalEvent) Timestamp() float64 { return e.time }
func (e *ArrivalEvent) phase() int         { return phaseArrival }

// Execute triages the patient and places them on the waiting list, then
// makes sure a dispatch pass runs at this timestamp.
func (e *ArrivalEvent) Execute(sim *Simulator) {
	logrus.Debugf("[%8.1f min] arrival: %s", e.time, e.Encounter.PatientID)

	priority, dec := sim.Policy.AssignPriority(e.Encounter)
	sim.Telemetry.Record(dec)

	info, err := sim.Policy.PriorityInfo(priority)
	if err != nil {
		// The policy contract guarantees a valid priority; reaching this
		// is a defect, and the run fails rather than dropping the patient.
		sim.fail(err)
		return
	}

	serviceMin := e.Encounter.ServiceMin
	if est, ok := sim.Policy.EstimateServiceMin(e.Encounter, priority); ok && est > 0 {
		serviceMin = est
	}

	sim.waiting.Push(&waitingPatient{
		enc:        e.Encounter,
		priority:   priority,
		info:       info,
		serviceMin: serviceMin,
		arrivalMin: e.time,
		seq:        sim.nextSeq(),
	})
	sim.requestDispatch(e.time)
}

// ServiceCompleteEvent fires when a patient's service duration has elapsed.
type ServiceCompleteEvent struct {
	time    float64
	patient *waitingPatient
}

func (e *ServiceCompleteEvent) Timestamp() float64 { return e.time }
func (e *ServiceCompleteEvent) phase() int         { return phaseCompletion }

// Execute emits the patient's completion event, releases the server, and
// triggers a dispatch pass for the freed slot.
func (e *ServiceCompleteEvent) Execute(sim *Simulator) {
	w := e.patient
	serviceStart := e.time - w.serviceMin
	logrus.Debugf("[%8.1f min] completed: %s (P%d, waited %.1f)",
		e.time, w.enc.PatientID, w.priority, serviceStart-w.arrivalMin)

	sim.Events = append(sim.Events, CompletionEvent{
		PatientID:  w.enc.PatientID,
		Priority:   w.priority,
		ArrivalMin: w.arrivalMin,
		WaitMin:    serviceStart - w.arrivalMin,
		ServiceMin: w.serviceMin,
		MaxWaitMin: w.info.MaxWaitMin,
	})
	sim.Completed++
	sim.freeServers++
	sim.requestDispatch(e.time)
}

// DispatchEvent assigns free servers to waiting patients in priority order.
// At most one dispatch is pending at a time; it executes after every other
// event sharing its timestamp.
type DispatchEvent struct {
	time float64
}

func (e *DispatchEvent) Timestamp() float64 { return e.time }
func (e *DispatchEvent) phase() int         { return phaseDispatch }

func (e *DispatchEvent) Execute(sim *Simulator) {
	sim.dispatchPending = false
	for sim.freeServers > 0 {
		w := sim.waiting.Pop()
		if w == nil {
			return
		}
		sim.freeServers--
		logrus.Debugf("[%8.1f min] service start: %s (P%d, %.1f min)",
			e.time, w.enc.PatientID, w.priority, w.serviceMin)
		// Once started, a service runs to completion uninterrupted.
		sim.Schedule(&ServiceCompleteEvent{time: e.time + w.serviceMin, patient: w})
	}
}
