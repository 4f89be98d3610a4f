// Package ffprobe wraps the ffprobe and ffmpeg binaries for audio metadata
// and loudness inspection.
package ffprobe
