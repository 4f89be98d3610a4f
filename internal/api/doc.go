// Package api exposes the job lifecycle over HTTP under /api/v1.
//
// Handlers are thin: they validate the request, consult admission control,
// persist the upload and the job record, and hand the job to the pipeline
// coordinator. Everything after dispatch happens on workers.
package api
