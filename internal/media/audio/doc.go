// Package audio validates source audio before it enters the pipeline.
//
// Metadata comes from ffprobe and loudness from ffmpeg's volumedetect filter;
// both live in internal/media/ffprobe.
package audio
