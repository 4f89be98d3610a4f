// Package notifications posts job summaries to client-supplied webhook URLs
// once a job reaches a terminal status.
//
// Delivery is best effort: each notification gets one retry, and failures
// are logged without touching the job record.
package notifications
