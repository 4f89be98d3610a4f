// Package taskqueue moves stage tasks between the API, the coordinator and
// worker lanes.
//
// Delivery is at least once. A task stays pending until acknowledged; a
// pending task idle longer than the visibility timeout is handed to another
// consumer. Each task carries a delivery counter, and a delivery beyond the
// configured maximum is flagged Exhausted so the caller can fail the job
// instead of retrying forever. Revocation marks a handle in a set and
// broadcasts it so in-flight work can be cancelled.
package taskqueue
