// Package artifacts stores per-job byte blobs (source audio, isolated stems,
// hit lists, notation) under a flat job namespace.
//
// Two variants exist: Local writes beneath a directory on the shared
// filesystem; Object writes to an S3-compatible bucket (MinIO or AWS) and
// mirrors into a local directory so external tools always get a real path.
package artifacts
