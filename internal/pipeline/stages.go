package pipeline

import (
	"hitscribe/internal/artifacts"
	"hitscribe/internal/jobs"
	"hitscribe/internal/metrics"
	"hitscribe/internal/taskqueue"
)

// Stage names used in tasks and logs.
const (
	StageIngest     = "ingest"
	StageSeparate   = "separate"
	StagePredict    = "predict"
	StageTranscribe = "transcribe"
)

type stageSpec struct {
	name       string
	lane       taskqueue.Lane
	from       jobs.Status
	status     jobs.Status
	entry      int
	exit       int
	retries    int
	label      string
	failPrefix string
	output     string
	next       string
}

var stageTable = []stageSpec{
	{
		name: StageIngest, lane: taskqueue.LaneDefault,
		from: jobs.StatusQueued, status: jobs.StatusProcessing,
		entry: 5, exit: 15, retries: 0,
		label: metrics.LabelIngest, failPrefix: "Audio ingestion failed",
		next: StageSeparate,
	},
	{
		name: StageSeparate, lane: taskqueue.LaneHeavy,
		from: jobs.StatusProcessing, status: jobs.StatusSeparating,
		entry: 20, exit: 50, retries: 1,
		label: metrics.LabelSeparation, failPrefix: "Source isolation failed",
		output: artifacts.IsolatedFile, next: StagePredict,
	},
	{
		name: StagePredict, lane: taskqueue.LaneHeavy,
		from: jobs.StatusSeparating, status: jobs.StatusPredicting,
		entry: 55, exit: 75, retries: 1,
		label: metrics.LabelPrediction, failPrefix: "Prediction failed",
		output: artifacts.HitsFile, next: StageTranscribe,
	},
	{
		name: StageTranscribe, lane: taskqueue.LaneDefault,
		from: jobs.StatusPredicting, status: jobs.StatusTranscribing,
		entry: 80, exit: 100, retries: 0,
		label: metrics.LabelTranscription, failPrefix: "Transcription/export failed",
		output: artifacts.NotationFile,
	},
}

func lookupStage(name string) (stageSpec, bool) {
	for _, spec := range stageTable {
		if spec.name == name {
			return spec, true
		}
	}
	return stageSpec{}, false
}

// CurrentStage names the stage that runs while a job holds status, or ""
// for queued and terminal jobs.
func CurrentStage(status jobs.Status) string {
	for _, spec := range stageTable {
		if spec.status == status {
			return spec.name
		}
	}
	return ""
}

// LaneFor returns the lane a stage runs on.
func LaneFor(stage string) (taskqueue.Lane, bool) {
	spec, ok := lookupStage(stage)
	return spec.lane, ok
}
