// Package nametemplate evaluates the file name an archive is announced with to AIP Console.
package nametemplate

import (
	"bytes"
	"fmt"
	"runtime"
	"strings"
	"text/template"

	"github.com/bitrise-io/go-utils/v2/env"
	"github.com/bitrise-io/go-utils/v2/log"
)

// Model ...
type Model struct {
	envRepo env.Repository
	logger  log.Logger
	os      string
	arch    string
}

// BuildContext ...
type BuildContext struct {
	Workflow    string
	Branch      string
	CommitHash  string
	BuildNumber string
}

type templateInventory struct {
	OS          string
	Arch        string
	Workflow    string
	Branch      string
	CommitHash  string
	BuildNumber string
	// FileName is the name of the resolved archive.
	FileName string
}

// NewModel ...
func NewModel(envRepo env.Repository, logger log.Logger) Model {
	return Model{
		envRepo: envRepo,
		logger:  logger,
		os:      runtime.GOOS,
		arch:    runtime.GOARCH,
	}
}

// NewBuildContext reads the build context from the CI environment.
func NewBuildContext(envRepo env.Repository) BuildContext {
	commitHash := envRepo.Get("BITRISE_GIT_COMMIT")
	if commitHash == "" {
		commitHash = envRepo.Get("GIT_CLONE_COMMIT_HASH")
	}
	return BuildContext{
		Workflow:    envRepo.Get("BITRISE_TRIGGERED_WORKFLOW_ID"),
		Branch:      envRepo.Get("BITRISE_GIT_BRANCH"),
		CommitHash:  commitHash,
		BuildNumber: envRepo.Get("BITRISE_BUILD_NUMBER"),
	}
}

// Evaluate returns the upload file name from a name template, the provided build context and the
// name of the resolved archive. An empty template keeps fileName. The result must be a bare file name.
func (m Model) Evaluate(name string, fileName string, buildContext BuildContext) (string, error) {
	if strings.TrimSpace(name) == "" {
		return fileName, nil
	}

	funcMap := template.FuncMap{
		"getenv": m.getEnvVar,
	}

	tmpl, err := template.New("").Funcs(funcMap).Parse(name)
	if err != nil {
		return "", fmt.Errorf("invalid template: %w", err)
	}

	inventory := templateInventory{
		OS:          m.os,
		Arch:        m.arch,
		Workflow:    buildContext.Workflow,
		Branch:      buildContext.Branch,
		CommitHash:  buildContext.CommitHash,
		BuildNumber: buildContext.BuildNumber,
		FileName:    fileName,
	}
	m.validateInventory(name, inventory)

	resultBuffer := bytes.Buffer{}
	if err := tmpl.Execute(&resultBuffer, inventory); err != nil {
		return "", err
	}

	result := strings.TrimSpace(resultBuffer.String())
	if err := validateFileName(result); err != nil {
		return "", err
	}
	return result, nil
}

func (m Model) getEnvVar(key string) string {
	return m.envRepo.Get(key)
}

func (m Model) validateInventory(name string, inventory templateInventory) {
	m.warnIfEmpty(name, "Workflow", inventory.Workflow)
	m.warnIfEmpty(name, "Branch", inventory.Branch)
	m.warnIfEmpty(name, "CommitHash", inventory.CommitHash)
	m.warnIfEmpty(name, "BuildNumber", inventory.BuildNumber)
}

func (m Model) warnIfEmpty(name, variable, value string) {
	if value == "" && strings.Contains(name, "."+variable) {
		m.logger.Warnf("Template variable .%s is not defined", variable)
	}
}

func validateFileName(name string) error {
	switch {
	case name == "":
		return fmt.Errorf("file name template evaluated to an empty name")
	case name == "." || name == "..":
		return fmt.Errorf("invalid file name: %s", name)
	case strings.ContainsAny(name, `/\`):
		return fmt.Errorf("file name must not contain path separators: %s", name)
	}
	return nil
}
