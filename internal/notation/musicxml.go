package notation

import (
	"context"
	"encoding/xml"
	"fmt"
	"math"
	"strconv"
)

const (
	divisionsPerQuarter = 4
	slotsPerMeasure     = 16
	doctype             = `<!DOCTYPE score-partwise PUBLIC "-//Recordare//DTD MusicXML 4.0 Partwise//EN" "http://www.musicxml.org/dtds/partwise.dtd">` + "\n"
)

type drumVoice struct {
	step     string
	octave   int
	notehead string
	midi     int
	name     string
}

var drumKit = map[string]drumVoice{
	LabelKick:        {step: "F", octave: 4, midi: 36, name: "Bass Drum"},
	LabelSnare:       {step: "C", octave: 5, midi: 38, name: "Snare"},
	LabelTomHigh:     {step: "E", octave: 5, midi: 50, name: "High Tom"},
	LabelHiHatClosed: {step: "G", octave: 5, notehead: "x", midi: 42, name: "Closed Hi-Hat"},
	LabelRide:        {step: "F", octave: 5, notehead: "x", midi: 51, name: "Ride Cymbal"},
	LabelCrash:       {step: "A", octave: 5, notehead: "x", midi: 49, name: "Crash Cymbal"},
}

// MusicXML renders hit lists as a single-staff percussion part in 4/4 with
// onsets quantized to sixteenth notes.
type MusicXML struct{}

// NewMusicXML returns the renderer.
func NewMusicXML() *MusicXML { return &MusicXML{} }

// Render produces a MusicXML partwise document.
func (MusicXML) Render(ctx context.Context, hits []Hit, tempo float64, title string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if tempo <= 0 || math.IsNaN(tempo) {
		return nil, fmt.Errorf("render notation: invalid tempo %v", tempo)
	}
	for _, h := range hits {
		if _, ok := drumKit[h.Label]; !ok {
			return nil, fmt.Errorf("render notation: unknown drum label %q", h.Label)
		}
	}

	slots := quantize(hits, tempo)
	measureCount := 1
	for slot := range slots {
		if m := slot/slotsPerMeasure + 1; m > measureCount {
			measureCount = m
		}
	}

	score := xmlScore{
		Version: "4.0",
		Work:    xmlWork{Title: title},
		PartList: xmlPartList{ScorePart: xmlScorePart{
			ID:       "P1",
			PartName: "Drums",
		}},
		Part: xmlPart{ID: "P1"},
	}
	for _, label := range Labels() {
		v := drumKit[label]
		score.PartList.ScorePart.Instruments = append(score.PartList.ScorePart.Instruments, xmlScoreInstrument{
			ID: instrumentID(label), Name: v.name,
		})
		score.PartList.ScorePart.MIDI = append(score.PartList.ScorePart.MIDI, xmlMIDIInstrument{
			ID: instrumentID(label), Channel: 10, Unpitched: v.midi + 1,
		})
	}

	for m := 0; m < measureCount; m++ {
		measure := xmlMeasure{Number: strconv.Itoa(m + 1)}
		if m == 0 {
			measure.Attributes = &xmlAttributes{
				Divisions: divisionsPerQuarter,
				Key:       xmlKey{Fifths: 0},
				Time:      xmlTime{Beats: 4, BeatType: 4},
				Clef:      xmlClef{Sign: "percussion", Line: 2},
			}
			bpm := int(math.Round(tempo))
			measure.Direction = &xmlDirection{
				Placement: "above",
				Type:      xmlDirectionType{Metronome: xmlMetronome{BeatUnit: "quarter", PerMinute: bpm}},
				Sound:     xmlSound{Tempo: bpm},
			}
		}
		measure.Notes = measureNotes(slots, m)
		score.Part.Measures = append(score.Part.Measures, measure)
	}

	body, err := xml.MarshalIndent(score, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("render notation: %w", err)
	}
	out := make([]byte, 0, len(xml.Header)+len(doctype)+len(body)+1)
	out = append(out, xml.Header...)
	out = append(out, doctype...)
	out = append(out, body...)
	out = append(out, '\n')
	return out, nil
}

// quantize maps each hit to its nearest sixteenth slot, deduplicating labels
// within a slot and keeping score order.
func quantize(hits []Hit, tempo float64) map[int][]string {
	sixteenth := 60.0 / tempo / 4
	seen := make(map[int]map[string]bool)
	for _, h := range hits {
		if h.Time < 0 {
			continue
		}
		slot := int(math.Round(h.Time / sixteenth))
		if seen[slot] == nil {
			seen[slot] = make(map[string]bool)
		}
		seen[slot][h.Label] = true
	}
	out := make(map[int][]string, len(seen))
	for slot, labels := range seen {
		for _, label := range Labels() {
			if labels[label] {
				out[slot] = append(out[slot], label)
			}
		}
	}
	return out
}

func measureNotes(slots map[int][]string, measure int) []xmlNote {
	var notes []xmlNote
	rest := 0
	flush := func() {
		for rest > 0 {
			d := largestPow2(rest)
			if d == slotsPerMeasure && rest == slotsPerMeasure {
				notes = append(notes, xmlNote{Rest: &xmlRest{Measure: "yes"}, Duration: d, Voice: 1})
			} else {
				notes = append(notes, xmlNote{Rest: &xmlRest{}, Duration: d, Voice: 1, Type: noteType(d)})
			}
			rest -= d
		}
	}
	base := measure * slotsPerMeasure
	for i := 0; i < slotsPerMeasure; i++ {
		labels := slots[base+i]
		if len(labels) == 0 {
			rest++
			continue
		}
		flush()
		for j, label := range labels {
			v := drumKit[label]
			note := xmlNote{
				Unpitched:  &xmlUnpitched{Step: v.step, Octave: v.octave},
				Duration:   1,
				Instrument: &xmlInstrument{ID: instrumentID(label)},
				Voice:      1,
				Type:       noteType(1),
				Stem:       "up",
			}
			if j > 0 {
				note.Chord = &struct{}{}
			}
			if v.notehead != "" {
				note.Notehead = v.notehead
			}
			notes = append(notes, note)
		}
	}
	flush()
	return notes
}

func largestPow2(n int) int {
	d := 1
	for d*2 <= n && d*2 <= slotsPerMeasure {
		d *= 2
	}
	return d
}

func noteType(duration int) string {
	switch duration {
	case 1:
		return "16th"
	case 2:
		return "eighth"
	case 4:
		return "quarter"
	case 8:
		return "half"
	default:
		return "whole"
	}
}

func instrumentID(label string) string {
	return "P1-" + label
}

type xmlScore struct {
	XMLName  xml.Name    `xml:"score-partwise"`
	Version  string      `xml:"version,attr"`
	Work     xmlWork     `xml:"work"`
	PartList xmlPartList `xml:"part-list"`
	Part     xmlPart     `xml:"part"`
}

type xmlWork struct {
	Title string `xml:"work-title"`
}

type xmlPartList struct {
	ScorePart xmlScorePart `xml:"score-part"`
}

type xmlScorePart struct {
	ID          string               `xml:"id,attr"`
	PartName    string               `xml:"part-name"`
	Instruments []xmlScoreInstrument `xml:"score-instrument"`
	MIDI        []xmlMIDIInstrument  `xml:"midi-instrument"`
}

type xmlScoreInstrument struct {
	ID   string `xml:"id,attr"`
	Name string `xml:"instrument-name"`
}

type xmlMIDIInstrument struct {
	ID        string `xml:"id,attr"`
	Channel   int    `xml:"midi-channel"`
	Unpitched int    `xml:"midi-unpitched"`
}

type xmlPart struct {
	ID       string       `xml:"id,attr"`
	Measures []xmlMeasure `xml:"measure"`
}

type xmlMeasure struct {
	Number     string         `xml:"number,attr"`
	Attributes *xmlAttributes `xml:"attributes,omitempty"`
	Direction  *xmlDirection  `xml:"direction,omitempty"`
	Notes      []xmlNote      `xml:"note"`
}

type xmlAttributes struct {
	Divisions int     `xml:"divisions"`
	Key       xmlKey  `xml:"key"`
	Time      xmlTime `xml:"time"`
	Clef      xmlClef `xml:"clef"`
}

type xmlKey struct {
	Fifths int `xml:"fifths"`
}

type xmlTime struct {
	Beats    int `xml:"beats"`
	BeatType int `xml:"beat-type"`
}

type xmlClef struct {
	Sign string `xml:"sign"`
	Line int    `xml:"line"`
}

type xmlDirection struct {
	Placement string           `xml:"placement,attr,omitempty"`
	Type      xmlDirectionType `xml:"direction-type"`
	Sound     xmlSound         `xml:"sound"`
}

type xmlDirectionType struct {
	Metronome xmlMetronome `xml:"metronome"`
}

type xmlMetronome struct {
	BeatUnit  string `xml:"beat-unit"`
	PerMinute int    `xml:"per-minute"`
}

type xmlSound struct {
	Tempo int `xml:"tempo,attr"`
}

type xmlNote struct {
	Chord      *struct{}      `xml:"chord,omitempty"`
	Unpitched  *xmlUnpitched  `xml:"unpitched,omitempty"`
	Rest       *xmlRest       `xml:"rest,omitempty"`
	Duration   int            `xml:"duration"`
	Instrument *xmlInstrument `xml:"instrument,omitempty"`
	Voice      int            `xml:"voice"`
	Type       string         `xml:"type,omitempty"`
	Stem       string         `xml:"stem,omitempty"`
	Notehead   string         `xml:"notehead,omitempty"`
}

type xmlUnpitched struct {
	Step   string `xml:"display-step"`
	Octave int    `xml:"display-octave"`
}

type xmlRest struct {
	Measure string `xml:"measure,attr,omitempty"`
}

type xmlInstrument struct {
	ID string `xml:"id,attr"`
}
