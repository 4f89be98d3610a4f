// Package stage defines the explicit result type returned by pipeline stages
// and the readiness record reported by their collaborators.
package stage
