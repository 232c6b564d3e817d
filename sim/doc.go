// Package sim implements a discrete-event simulation of patient flow through
// an emergency-department queue with a fixed pool of treatment servers.
//
// Patients arrive over logical time, receive a triage priority from a
// pluggable policy (rule-based or model-backed), wait for a free server in
// priority order, and emit one completion event when served. The metrics
// aggregator turns the completion events into breach-rate and wait-time
// percentile reports.
package sim
