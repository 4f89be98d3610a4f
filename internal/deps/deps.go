// Package deps reports whether the external tools hitscribe shells out to
// are installed.
package deps

import (
	"fmt"
	"os/exec"
	"strings"

	"hitscribe/internal/config"
)

// Requirement names one external binary.
type Requirement struct {
	Name        string
	Command     string
	Description string
	Optional    bool
}

// Status reports the availability of a requirement.
type Status struct {
	Requirement
	Available bool
	Detail    string
}

// Requirements lists the binaries workers need for the configured tools.
// Export binaries are optional: a missing one only drops the PDF download.
func Requirements(tools config.Tools) []Requirement {
	reqs := []Requirement{
		{Name: "ffprobe", Command: tools.FFprobeBinary, Description: "Reads audio metadata during ingest"},
		{Name: "ffmpeg", Command: tools.FFmpegBinary, Description: "Measures loudness during ingest"},
		{Name: "yt-dlp", Command: tools.YTDLPBinary, Description: "Downloads audio for fetch jobs"},
	}
	switch tools.PDFBackend {
	case config.PDFBackendLilypond:
		reqs = append(reqs,
			Requirement{Name: "musicxml2ly", Command: tools.MusicXML2LyBinary, Description: "Converts MusicXML for LilyPond", Optional: true},
			Requirement{Name: "lilypond", Command: tools.LilypondBinary, Description: "Engraves the PDF score", Optional: true},
		)
	case config.PDFBackendMuseScore:
		reqs = append(reqs,
			Requirement{Name: "musescore", Command: tools.MuseScoreBinary, Description: "Engraves the PDF score", Optional: true},
		)
	}
	return reqs
}

// CheckBinaries resolves each requirement on PATH.
func CheckBinaries(requirements []Requirement) []Status {
	results := make([]Status, 0, len(requirements))
	for _, req := range requirements {
		req.Command = strings.TrimSpace(req.Command)
		req.Description = strings.TrimSpace(req.Description)
		status := Status{Requirement: req}
		switch {
		case req.Command == "":
			status.Detail = "command not configured"
		default:
			if _, err := exec.LookPath(req.Command); err != nil {
				status.Detail = fmt.Sprintf("binary %q not found", req.Command)
			} else {
				status.Available = true
			}
		}
		results = append(results, status)
	}
	return results
}

// Missing returns the unavailable required entries.
func Missing(statuses []Status) []Status {
	var out []Status
	for _, s := range statuses {
		if !s.Available && !s.Optional {
			out = append(out, s)
		}
	}
	return out
}
