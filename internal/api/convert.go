package api

import (
	"fmt"

	"hitscribe/internal/jobs"
	"hitscribe/internal/pipeline"
)

// FromJob converts a job record to its polling representation.
func FromJob(job *jobs.Job) JobStatusResponse {
	if job == nil {
		return JobStatusResponse{}
	}
	dto := JobStatusResponse{
		ID:            job.ID,
		Status:        string(job.Status),
		Stage:         pipeline.CurrentStage(job.Status),
		Progress:      job.Progress,
		Title:         job.Title,
		InputType:     string(job.InputType),
		ErrorMessage:  job.ErrorMessage,
		ComputeTimeMs: job.ComputeTimeMs,
		ModelVersion:  job.ModelVersion,
		Warnings:      job.Warnings,
	}
	if dto.Warnings == nil {
		dto.Warnings = []string{}
	}
	if !job.CreatedAt.IsZero() {
		dto.CreatedAt = job.CreatedAt.UTC().Format(dateTimeFormat)
	}
	if !job.UpdatedAt.IsZero() {
		dto.UpdatedAt = job.UpdatedAt.UTC().Format(dateTimeFormat)
	}
	return dto
}

// DownloadURLs lists the exported documents available for job.
func DownloadURLs(job *jobs.Job) map[string]string {
	urls := make(map[string]string, 2)
	if job.NotationPath != "" {
		urls[FormatMusicXML] = downloadPath(job.ID, FormatMusicXML)
	}
	if job.SecondaryPath != "" {
		urls[FormatPDF] = downloadPath(job.ID, FormatPDF)
	}
	return urls
}

func downloadPath(jobID, format string) string {
	return fmt.Sprintf("/api/v1/jobs/%s/download/%s", jobID, format)
}
