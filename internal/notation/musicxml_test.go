package notation

import (
	"context"
	"encoding/xml"
	"strings"
	"testing"
)

func TestRenderQuantizesToSixteenthGrid(t *testing.T) {
	hits := []Hit{
		{Time: 0, Label: LabelKick},
		{Time: 0.01, Label: LabelHiHatClosed},
		{Time: 0.126, Label: LabelHiHatClosed},
		{Time: 0.49, Label: LabelSnare},
		{Time: 2.0, Label: LabelKick},
	}
	doc, err := NewMusicXML().Render(context.Background(), hits, 120, "Groove")
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	text := string(doc)
	for _, want := range []string{
		"<work-title>Groove</work-title>",
		"<sign>percussion</sign>",
		"<per-minute>120</per-minute>",
		"<notehead>x</notehead>",
		"score-partwise PUBLIC",
	} {
		if !strings.Contains(text, want) {
			t.Fatalf("document missing %q", want)
		}
	}

	body := text[strings.Index(text, "<score-partwise"):]
	var score xmlScore
	if err := xml.Unmarshal([]byte(body), &score); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(score.Part.Measures) != 2 {
		t.Fatalf("measures = %d, want 2", len(score.Part.Measures))
	}
	first := score.Part.Measures[0].Notes
	if len(first) != 8 {
		t.Fatalf("first measure notes = %d, want 8", len(first))
	}
	if first[0].Instrument == nil || first[0].Instrument.ID != "P1-hihat_closed" {
		t.Fatalf("first note = %+v", first[0])
	}
	if first[1].Chord == nil || first[1].Instrument.ID != "P1-kick" {
		t.Fatalf("kick should stack on the first slot: %+v", first[1])
	}
	total := 0
	for _, m := range score.Part.Measures {
		for _, n := range m.Notes {
			if n.Chord == nil {
				total += n.Duration
			}
		}
	}
	if total != 2*slotsPerMeasure {
		t.Fatalf("total duration = %d, want %d", total, 2*slotsPerMeasure)
	}
}

func TestRenderEmptyHitsProducesRestMeasure(t *testing.T) {
	doc, err := NewMusicXML().Render(context.Background(), nil, 90, "Silence")
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if !strings.Contains(string(doc), `<rest measure="yes"></rest>`) {
		t.Fatalf("expected whole-measure rest:\n%s", doc)
	}
}

func TestRenderRejectsUnknownLabel(t *testing.T) {
	_, err := NewMusicXML().Render(context.Background(), []Hit{{Time: 0, Label: "cowbell"}}, 120, "x")
	if err == nil {
		t.Fatal("expected unknown label error")
	}
}

func TestSummaryAndHitListEncoding(t *testing.T) {
	hits := []Hit{{Time: 1, Label: LabelSnare}, {Time: 0.5, Label: LabelKick}, {Time: 1.5, Label: LabelSnare}}
	SortHits(hits)
	if hits[0].Label != LabelKick {
		t.Fatalf("hits not sorted: %+v", hits)
	}
	sum := Summary(hits)
	if sum[LabelSnare] != 2 || sum[LabelKick] != 1 {
		t.Fatalf("summary = %v", sum)
	}

	data, err := HitList{Tempo: 100}.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if !strings.Contains(string(data), `"hits": []`) {
		t.Fatalf("empty hits should encode as a list: %s", data)
	}
	decoded, err := DecodeHitList(data)
	if err != nil || decoded.Tempo != 100 {
		t.Fatalf("decode = %+v, %v", decoded, err)
	}
}
