// Package inference talks to the model service that performs drum source
// isolation and hit prediction.
//
// The service keeps its models resident; Warm asks it to load them so the
// first heavy task does not pay the load cost.
package inference
