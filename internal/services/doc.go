// Package services defines shared utilities consumed by the pipeline stages
// and the external tool integrations beneath it.
//
// Key responsibilities:
//   - Context helpers that stamp job IDs, stage names, lanes, and correlation
//     identifiers for logging.
//   - Structured error markers plus the Wrap helper that lets the coordinator
//     decide whether a failed stage attempt is worth retrying.
//
// Subpackages wrap the concrete collaborators: ytdlp (remote fetch), inference
// (model service for separation and prediction), and engrave (secondary score
// rendering).
package services
