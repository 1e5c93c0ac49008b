package aipconsole

import (
	"context"
	"fmt"
	"sync"

	"github.com/bitrise-io/aip-console-steputils/aipconsole/network"
	"github.com/bitrise-io/aip-console-steputils/aipconsole/source"
	"github.com/bitrise-io/go-utils/v2/analytics"
	"github.com/bitrise-io/go-utils/v2/log"
)

type fakeEnvRepo struct {
	envVars map[string]string
}

func (repo fakeEnvRepo) Get(key string) string {
	value, ok := repo.envVars[key]
	if ok {
		return value
	} else {
		return ""
	}
}

func (repo fakeEnvRepo) Set(key, value string) error {
	repo.envVars[key] = value
	return nil
}

func (repo fakeEnvRepo) Unset(key string) error {
	repo.envVars[key] = ""
	return nil
}

func (repo fakeEnvRepo) List() []string {
	envs := []string{}
	for k, v := range repo.envVars {
		envs = append(envs, fmt.Sprintf("%s=%s", k, v))
	}
	return envs
}

type fakeResolver struct {
	artifact source.Artifact
	err      error
	location string
	excludes []string
}

func (r *fakeResolver) Resolve(_ context.Context, location string, excludes []string) (source.Artifact, error) {
	r.location = location
	r.excludes = excludes
	if r.err != nil {
		return source.Artifact{}, r.err
	}
	return r.artifact, nil
}

type fakeUploader struct {
	result network.UploadResult
	err    error
	params []network.UploadParams
}

func (u *fakeUploader) Upload(_ context.Context, params network.UploadParams, _ log.Logger) (network.UploadResult, error) {
	u.params = append(u.params, params)
	return u.result, u.err
}

type recordingTracker struct {
	mu     sync.Mutex
	events []string
	waited bool
}

func (t *recordingTracker) Enqueue(eventName string, _ ...analytics.Properties) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.events = append(t.events, eventName)
}

func (t *recordingTracker) Wait() {
	t.waited = true
}

func (t *recordingTracker) factory(log.Logger, ...analytics.Properties) analytics.Tracker {
	return t
}

type debugLogger struct {
	log.Logger
	debugEnabled bool
}

func (l *debugLogger) EnableDebugLog(enable bool) {
	l.debugEnabled = enable
	l.Logger.EnableDebugLog(enable)
}
