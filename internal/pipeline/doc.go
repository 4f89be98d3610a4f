// Package pipeline coordinates the staged audio-to-notation job lifecycle.
//
// A job moves queued → processing → separating → predicting → transcribing →
// completed, or to failed from any active status. Each transition is driven
// by one task on the task queue. The Coordinator handles a task by claiming
// the stage with a conditional record update, running the stage through its
// collaborators, writing artifacts, committing results, and only then
// enqueuing the next stage. Stages skip work whose output artifact already
// exists, so redelivered tasks are safe to run again.
package pipeline
