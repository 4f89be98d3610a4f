// Command hitscribe runs the drum transcription service: the HTTP API, the
// stage workers, the retention sweeper, and operator utilities for
// inspecting jobs and configuration.
package main
