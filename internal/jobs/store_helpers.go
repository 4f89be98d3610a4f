package jobs

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

const jobColumns = "id, status, progress, input_type, upload_filename, fetch_url, title, user_tempo, webhook_url, source_file, detected_tempo, tempo_unreliable, duration_seconds, confidence_score, hit_summary_json, warnings_json, notation_path, secondary_path, compute_time_ms, model_version, error_message, task_handle, user_identifier, created_at, updated_at"

// timestampLayout is fixed-width so TEXT comparison orders chronologically.
const timestampLayout = "2006-01-02T15:04:05.000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	if t, err := time.Parse(timestampLayout, value); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339Nano, value)
}

func scanJob(scanner interface{ Scan(dest ...any) error }) (*Job, error) {
	var (
		job             Job
		status          string
		inputType       string
		uploadFilename  sql.NullString
		fetchURL        sql.NullString
		userTempo       sql.NullInt64
		webhookURL      sql.NullString
		sourceFile      sql.NullString
		detectedTempo   sql.NullFloat64
		tempoUnreliable sql.NullInt64
		duration        sql.NullFloat64
		confidence      sql.NullFloat64
		hitSummary      sql.NullString
		warnings        sql.NullString
		notationPath    sql.NullString
		secondaryPath   sql.NullString
		computeTime     sql.NullInt64
		modelVersion    sql.NullString
		errorMessage    sql.NullString
		taskHandle      sql.NullString
		createdRaw      string
		updatedRaw      string
	)

	if err := scanner.Scan(
		&job.ID,
		&status,
		&job.Progress,
		&inputType,
		&uploadFilename,
		&fetchURL,
		&job.Title,
		&userTempo,
		&webhookURL,
		&sourceFile,
		&detectedTempo,
		&tempoUnreliable,
		&duration,
		&confidence,
		&hitSummary,
		&warnings,
		&notationPath,
		&secondaryPath,
		&computeTime,
		&modelVersion,
		&errorMessage,
		&taskHandle,
		&job.UserIdentifier,
		&createdRaw,
		&updatedRaw,
	); err != nil {
		return nil, err
	}

	job.Status = Status(status)
	job.InputType = InputType(inputType)
	job.UploadFilename = uploadFilename.String
	job.FetchURL = fetchURL.String
	job.WebhookURL = webhookURL.String
	job.SourceFile = sourceFile.String
	job.TempoUnreliable = tempoUnreliable.Int64 != 0
	job.NotationPath = notationPath.String
	job.SecondaryPath = secondaryPath.String
	job.ModelVersion = modelVersion.String
	job.ErrorMessage = errorMessage.String
	job.TaskHandle = taskHandle.String
	if userTempo.Valid {
		v := int(userTempo.Int64)
		job.UserTempo = &v
	}
	if detectedTempo.Valid {
		job.DetectedTempo = &detectedTempo.Float64
	}
	if duration.Valid {
		job.DurationSeconds = &duration.Float64
	}
	if confidence.Valid {
		job.ConfidenceScore = &confidence.Float64
	}
	if computeTime.Valid {
		job.ComputeTimeMs = &computeTime.Int64
	}
	if hitSummary.Valid && hitSummary.String != "" {
		if err := json.Unmarshal([]byte(hitSummary.String), &job.HitSummary); err != nil {
			return nil, fmt.Errorf("decode hit summary for %s: %w", job.ID, err)
		}
	}
	if warnings.Valid && warnings.String != "" {
		if err := json.Unmarshal([]byte(warnings.String), &job.Warnings); err != nil {
			return nil, fmt.Errorf("decode warnings for %s: %w", job.ID, err)
		}
	}
	if created, err := parseTimeString(createdRaw); err == nil {
		job.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw); err == nil {
		job.UpdatedAt = updated
	}
	return &job, nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullableInt(value *int) any {
	if value == nil {
		return nil
	}
	return int64(*value)
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}

func encodeJSON(value any) (any, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func makePlaceholders(count int) string {
	if count <= 0 {
		return ""
	}
	placeholders := make([]byte, 0, count*2)
	for i := 0; i < count; i++ {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
	}
	return string(placeholders)
}

func statusArgs(statuses []Status) []any {
	args := make([]any, len(statuses))
	for i, status := range statuses {
		args[i] = string(status)
	}
	return args
}

// assignments converts a patch into SET clauses. Progress only ever moves up.
func (p Patch) assignments(now time.Time) ([]string, []any, error) {
	var (
		sets []string
		args []any
	)
	add := func(clause string, values ...any) {
		sets = append(sets, clause)
		args = append(args, values...)
	}
	if p.Status != nil {
		add("status = ?", string(*p.Status))
	}
	if p.Progress != nil {
		add("progress = CASE WHEN ? > progress THEN ? ELSE progress END", *p.Progress, *p.Progress)
	}
	if p.SourceFile != nil {
		add("source_file = ?", nullableString(*p.SourceFile))
	}
	if p.DetectedTempo != nil {
		add("detected_tempo = ?", *p.DetectedTempo)
	}
	if p.TempoUnreliable != nil {
		add("tempo_unreliable = ?", boolToInt(*p.TempoUnreliable))
	}
	if p.DurationSeconds != nil {
		add("duration_seconds = ?", *p.DurationSeconds)
	}
	if p.ConfidenceScore != nil {
		add("confidence_score = ?", *p.ConfidenceScore)
	}
	if p.HitSummary != nil {
		encoded, err := encodeJSON(p.HitSummary)
		if err != nil {
			return nil, nil, fmt.Errorf("encode hit summary: %w", err)
		}
		add("hit_summary_json = ?", encoded)
	}
	if p.Warnings != nil {
		encoded, err := encodeJSON(p.Warnings)
		if err != nil {
			return nil, nil, fmt.Errorf("encode warnings: %w", err)
		}
		add("warnings_json = ?", encoded)
	}
	if p.NotationPath != nil {
		add("notation_path = ?", nullableString(*p.NotationPath))
	}
	if p.SecondaryPath != nil {
		add("secondary_path = ?", nullableString(*p.SecondaryPath))
	}
	if p.ComputeTimeMs != nil {
		add("compute_time_ms = ?", *p.ComputeTimeMs)
	}
	if p.ModelVersion != nil {
		add("model_version = ?", nullableString(*p.ModelVersion))
	}
	if p.ErrorMessage != nil {
		add("error_message = ?", nullableString(*p.ErrorMessage))
	}
	if p.TaskHandle != nil {
		add("task_handle = ?", nullableString(*p.TaskHandle))
	}
	add("updated_at = ?", formatTime(now))
	return sets, args, nil
}

// validate enforces that error_message is set exactly when the job fails.
func (p Patch) validate() error {
	failing := p.Status != nil && *p.Status == StatusFailed
	hasMessage := p.ErrorMessage != nil && *p.ErrorMessage != ""
	switch {
	case failing && !hasMessage:
		return errors.New("failed status requires an error message")
	case hasMessage && !failing:
		return errors.New("error message may only be set with failed status")
	case p.Progress != nil && (*p.Progress < 0 || *p.Progress > 100):
		return fmt.Errorf("progress %d out of range", *p.Progress)
	}
	return nil
}
