//go:build integration
// +build integration

package integration

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/bitrise-io/aip-console-steputils/aipconsole/compression"
	"github.com/bitrise-io/go-utils/v2/command"
	"github.com/bitrise-io/go-utils/v2/env"
	"github.com/bitrise-io/go-utils/v2/log"
)

var logger = log.NewLogger()

func listArchiveContents(path string) ([]string, error) {
	output, err := command.NewFactory(env.NewRepository()).
		Create("tar", []string{"-tzf", path}, nil).
		RunAndReturnTrimmedCombinedOutput()

	if err != nil {
		return nil, fmt.Errorf("failed to list archive contents, out: %s, error: %w", output, err)
	}

	contentList := strings.Split(output, "\n")
	for i, content := range contentList {
		contentList[i] = strings.TrimSuffix(strings.TrimPrefix(content, "./"), "/")
	}

	return contentList, nil
}

func writeSourceTree(root string, files map[string]string) error {
	for name, content := range files {
		path := filepath.Join(root, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return err
		}
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			return err
		}
	}
	return nil
}

type fakeEnvRepo struct {
	envVars map[string]string
}

func (repo fakeEnvRepo) Get(key string) string {
	return repo.envVars[key]
}

func (repo fakeEnvRepo) Set(key, value string) error {
	repo.envVars[key] = value
	return nil
}

func (repo fakeEnvRepo) Unset(key string) error {
	delete(repo.envVars, key)
	return nil
}

func (repo fakeEnvRepo) List() []string {
	var envs []string
	for k, v := range repo.envVars {
		envs = append(envs, fmt.Sprintf("%s=%s", k, v))
	}
	return envs
}

type dependencyChecker bool

func (c dependencyChecker) CheckDependencies() bool {
	return bool(c)
}

func newArchiver(tarFound bool) *compression.Archiver {
	return compression.NewArchiver(logger, fakeEnvRepo{envVars: map[string]string{}}, dependencyChecker(tarFound))
}
