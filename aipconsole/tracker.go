package aipconsole

import (
	"time"

	"github.com/bitrise-io/aip-console-steputils/aipconsole/network"
	"github.com/bitrise-io/aip-console-steputils/aipconsole/source"
	stepanalytics "github.com/bitrise-io/aip-console-steputils/analytics"
	"github.com/bitrise-io/go-utils/v2/analytics"
	"github.com/bitrise-io/go-utils/v2/env"
	"github.com/bitrise-io/go-utils/v2/log"
)

type stepTracker struct {
	tracker analytics.Tracker
	logger  log.Logger
}

func newStepTracker(stepId string, envRepo env.Repository, logger log.Logger, factory stepanalytics.TrackerFactory) stepTracker {
	return stepTracker{
		tracker: stepanalytics.NewStepTracker(stepId, envRepo, logger, factory),
		logger:  logger,
	}
}

func (t *stepTracker) logSourceResolved(resolveTime time.Duration, artifact source.Artifact) {
	properties := analytics.Properties{
		"resolve_time_s":     resolveTime.Truncate(time.Second).Seconds(),
		"archive_size_bytes": artifact.Size,
		"is_temporary":       artifact.Temporary,
	}
	t.tracker.Enqueue("step_aip_console_source_resolved", properties)
}

func (t *stepTracker) logArchiveUploaded(uploadTime time.Duration, result network.UploadResult) {
	properties := analytics.Properties{
		"upload_time_s":        uploadTime.Truncate(time.Second).Seconds(),
		"upload_size_bytes":    result.FileSize,
		"chunk_count":          result.Details.Stats.FinishedChunks,
		"extraction_requested": result.ExtractionRequested,
		"extracted":            result.Extracted,
		"extraction_polls":     result.Details.Extraction.Polls,
	}
	t.tracker.Enqueue("step_aip_console_archive_uploaded", properties)
}

func (t *stepTracker) logUploadFailed(phase string) {
	t.tracker.Enqueue("step_aip_console_upload_failed", analytics.Properties{"phase": phase})
}

func (t *stepTracker) wait() {
	t.tracker.Wait()
}
