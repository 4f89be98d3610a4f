// Package notation holds the drum hit list format shared by prediction and
// transcription, and renders hit lists as MusicXML.
package notation
