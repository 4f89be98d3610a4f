package ffprobe

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ErrNoVolume reports that ffmpeg printed no mean_volume line.
var ErrNoVolume = errors.New("volumedetect produced no mean volume")

// MeanVolume runs ffmpeg's volumedetect filter and returns the mean level in dBFS.
func MeanVolume(ctx context.Context, binary, path string) (float64, error) {
	binary = strings.TrimSpace(binary)
	if binary == "" {
		binary = "ffmpeg"
	}
	cmd := commandContext(ctx, binary, "-hide_banner", "-nostats", "-i", path, "-af", "volumedetect", "-vn", "-sn", "-dn", "-f", "null", "-")
	output, err := cmd.CombinedOutput()
	if err != nil {
		return 0, fmt.Errorf("ffmpeg volumedetect: %w: %s", err, lastLine(output))
	}
	return ParseMeanVolume(output)
}

// ParseMeanVolume extracts the mean_volume value from volumedetect output.
// Digital silence is reported as -inf and returns negative infinity.
func ParseMeanVolume(output []byte) (float64, error) {
	scanner := bufio.NewScanner(bytes.NewReader(output))
	for scanner.Scan() {
		line := scanner.Text()
		idx := strings.Index(line, "mean_volume:")
		if idx < 0 {
			continue
		}
		value := strings.TrimSpace(line[idx+len("mean_volume:"):])
		value = strings.TrimSpace(strings.TrimSuffix(value, "dB"))
		if value == "-inf" {
			return math.Inf(-1), nil
		}
		db, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return 0, fmt.Errorf("parse mean volume %q: %w", value, err)
		}
		return db, nil
	}
	return 0, ErrNoVolume
}

// DBToAmplitude converts a dBFS level to a linear amplitude.
func DBToAmplitude(db float64) float64 {
	return math.Pow(10, db/20)
}

func lastLine(output []byte) string {
	lines := strings.Split(strings.TrimSpace(string(output)), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}
