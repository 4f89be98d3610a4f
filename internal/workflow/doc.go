// Package workflow runs the worker side of the pipeline: per-lane consumer
// pools that pull stage tasks from the task queue, hand them to the
// coordinator, and acknowledge them once handled.
//
// Tasks whose handling fails for infrastructure reasons are left
// unacknowledged so the queue redelivers them after its visibility timeout.
// Revoked tasks are cancelled mid-flight: the manager listens for
// revocation broadcasts and also re-checks in-flight handles periodically,
// since broadcasts are not durable.
package workflow
