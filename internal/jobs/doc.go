// Package jobs is the durable job record store.
//
// Records live in SQLite (modernc.org/sqlite) for single-host deployments or
// PostgreSQL (pgx) when API and workers run on separate machines. There is no
// caching layer: every read and write goes to the database so a second
// process observes updates immediately. Status changes are validated against
// the forward-only lifecycle, and Transition offers a compare-and-set on
// status that the pipeline uses to enter and leave stages safely under
// duplicate task delivery.
package jobs
