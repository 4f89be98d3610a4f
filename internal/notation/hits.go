package notation

import (
	"encoding/json"
	"fmt"
	"sort"
)

// Drum labels produced by the hit predictor.
const (
	LabelKick        = "kick"
	LabelSnare       = "snare"
	LabelHiHatClosed = "hihat_closed"
	LabelRide        = "ride"
	LabelTomHigh     = "tom_high"
	LabelCrash       = "crash"
)

// Labels lists every known drum label in score order.
func Labels() []string {
	return []string{LabelCrash, LabelRide, LabelHiHatClosed, LabelTomHigh, LabelSnare, LabelKick}
}

// Hit is one detected drum onset.
type Hit struct {
	Time     float64 `json:"time"`
	Label    string  `json:"label"`
	Velocity float64 `json:"velocity,omitempty"`
}

// HitList is the persisted prediction result (hits.json).
type HitList struct {
	Tempo           float64 `json:"tempo"`
	TempoUnreliable bool    `json:"tempo_unreliable"`
	DurationSeconds float64 `json:"duration_seconds,omitempty"`
	Confidence      float64 `json:"confidence"`
	ModelVersion    string  `json:"model_version,omitempty"`
	Hits            []Hit   `json:"hits"`
}

// Summary counts hits per label.
func Summary(hits []Hit) map[string]int {
	out := make(map[string]int)
	for _, h := range hits {
		out[h.Label]++
	}
	return out
}

// SortHits orders hits by onset time, then label.
func SortHits(hits []Hit) {
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Time == hits[j].Time {
			return hits[i].Label < hits[j].Label
		}
		return hits[i].Time < hits[j].Time
	})
}

// Encode serializes a hit list.
func (l HitList) Encode() ([]byte, error) {
	if l.Hits == nil {
		l.Hits = []Hit{}
	}
	data, err := json.MarshalIndent(l, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode hit list: %w", err)
	}
	return data, nil
}

// DecodeHitList parses hits.json.
func DecodeHitList(data []byte) (HitList, error) {
	var l HitList
	if err := json.Unmarshal(data, &l); err != nil {
		return HitList{}, fmt.Errorf("decode hit list: %w", err)
	}
	return l, nil
}
