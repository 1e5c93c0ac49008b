package analytics

import (
	"github.com/bitrise-io/go-utils/v2/analytics"
	"github.com/bitrise-io/go-utils/v2/env"
	"github.com/bitrise-io/go-utils/v2/log"
)

// TrackerFactory creates a tracker that attaches properties to every event.
type TrackerFactory func(log.Logger, ...analytics.Properties) analytics.Tracker

const (
	StepExecutionIDEnvKey = "BITRISE_STEP_EXECUTION_ID"
	StepExecutionID       = "step_execution_id"
)

// StepProperties are the build level properties shared by every event of a step.
func StepProperties(stepID string, repository env.Repository) analytics.Properties {
	p := analytics.Properties{
		"step_id":     stepID,
		"build_slug":  repository.Get("BITRISE_BUILD_SLUG"),
		"app_slug":    repository.Get("BITRISE_APP_SLUG"),
		"workflow":    repository.Get("BITRISE_TRIGGERED_WORKFLOW_ID"),
		"is_pr_build": repository.Get("IS_PR") == "true",
	}
	if stepExecutionID := repository.Get(StepExecutionIDEnvKey); stepExecutionID != "" {
		p[StepExecutionID] = stepExecutionID
	}
	return p
}

// NewStepTracker ...
func NewStepTracker(stepID string, repository env.Repository, logger log.Logger, trackerFactory TrackerFactory) analytics.Tracker {
	p := StepProperties(stepID, repository)
	if _, ok := p[StepExecutionID]; !ok {
		logger.Debugf("No step execution ID found, events are not correlated with the step run")
	}
	return trackerFactory(logger, p)
}

// NewDefaultStepTracker ...
func NewDefaultStepTracker(stepID string, repository env.Repository, logger log.Logger) analytics.Tracker {
	return NewStepTracker(stepID, repository, logger, analytics.NewDefaultTracker)
}
