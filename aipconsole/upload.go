package aipconsole

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bitrise-io/aip-console-steputils/aipconsole/compression"
	"github.com/bitrise-io/aip-console-steputils/aipconsole/nametemplate"
	"github.com/bitrise-io/aip-console-steputils/aipconsole/network"
	"github.com/bitrise-io/aip-console-steputils/aipconsole/network/chunkuploader"
	"github.com/bitrise-io/aip-console-steputils/aipconsole/source"
	stepanalytics "github.com/bitrise-io/aip-console-steputils/analytics"
	"github.com/bitrise-io/aip-console-steputils/secretkeys"
	"github.com/bitrise-io/aip-console-steputils/stepconf"
	"github.com/bitrise-io/go-utils/v2/analytics"
	"github.com/bitrise-io/go-utils/v2/env"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/docker/go-units"
)

// UploadInput is the information that comes from the steps that call this shared implementation
type UploadInput struct {
	// StepId identifies the exact step. Used for logging events.
	StepId  string
	Verbose bool
	// AppGUID is the AIP Console application the source belongs to.
	AppGUID string
	// SourcePath is a local archive or folder, a file:// URL, an s3://bucket/key location or an http(s) URL.
	// Folders are compressed into a .tar.gz archive first.
	SourcePath string
	// FileName is a template for the name the archive is announced with.
	// Example: my-app-{{ .Branch }}-{{ .BuildNumber }}.zip
	// If empty, the name of the resolved archive is used.
	FileName string
	// ChunkSize in bytes. 0 means 10 MiB, values above 50 MiB are capped.
	ChunkSize int64
	// Extraction is one of auto, always and never. Empty means auto.
	Extraction string
	// Excludes are doublestar globs, relative to SourcePath, left out when a folder is compressed.
	// Example: []string{"**/node_modules", "**/*.class"}
	Excludes     []string
	PollInterval time.Duration
	// Interrupts shorten the wait between extraction polls, see network.ConsoleParams.
	Interrupts <-chan struct{}
}

// Result ...
type Result struct {
	UploadGUID string
	FileName   string
	FileSize   int64
	Extracted  bool
	// Succeeded is true when the archive was extracted, or fully uploaded if no extraction was requested.
	Succeeded bool
}

// Uploader ...
type Uploader interface {
	Upload(ctx context.Context, input UploadInput) (Result, error)
}

// SourceResolver turns a source location into an uploadable archive.
type SourceResolver interface {
	Resolve(ctx context.Context, location string, excludes []string) (source.Artifact, error)
}

type uploadConfig struct {
	Verbose      bool
	AppGUID      string
	SourcePath   string
	FileName     string
	ChunkSize    int64
	Extraction   network.ExtractionMode
	Excludes     []string
	PollInterval time.Duration
	APIBaseURL   stepconf.Secret
	APIKey       stepconf.Secret
	Username     string
	S3           s3SourceConfig
}

type uploader struct {
	envRepo        env.Repository
	logger         log.Logger
	resolver       SourceResolver
	uploader       network.Uploader
	secretKeys     secretkeys.Manager
	trackerFactory stepanalytics.TrackerFactory
}

// NewUploader creates a new step level uploader. `resolver` and `uploader` can be nil, unless you want to
// provide custom implementations.
func NewUploader(
	envRepo env.Repository,
	logger log.Logger,
	resolver SourceResolver,
	uploaderImpl network.Uploader,
) *uploader {
	if uploaderImpl == nil {
		uploaderImpl = network.DefaultUploader{}
	}
	return &uploader{
		envRepo:        envRepo,
		logger:         logger,
		resolver:       resolver,
		uploader:       uploaderImpl,
		secretKeys:     secretkeys.NewManager(),
		trackerFactory: analytics.NewDefaultTracker,
	}
}

// Upload resolves the source, uploads it to AIP Console and waits for the extraction when it is requested.
func (u *uploader) Upload(ctx context.Context, input UploadInput) (Result, error) {
	u.logger.TDebugf("Upload start")
	defer func() {
		u.logger.TDebugf("Upload done")
	}()

	config, err := u.createConfig(input)
	if err != nil {
		return Result{}, fmt.Errorf("failed to parse inputs: %w", err)
	}
	if config.Verbose {
		u.logger.EnableDebugLog(true)
	}
	u.logger.TDebugf("Config created")

	tracker := newStepTracker(input.StepId, u.envRepo, u.logger, u.trackerFactory)
	defer tracker.wait()

	u.logger.Println()
	u.logger.Infof("Resolving source %s", config.SourcePath)
	resolveStartTime := time.Now()
	artifact, err := u.sourceResolver(config).Resolve(ctx, config.SourcePath, config.Excludes)
	if err != nil {
		tracker.logUploadFailed(failedPhase(err))
		return Result{}, fmt.Errorf("failed to resolve source: %w", err)
	}
	defer func() {
		if err := artifact.Cleanup(); err != nil {
			u.logger.Warnf("Failed to remove temporary archive: %s", err)
		}
	}()
	resolveTime := time.Since(resolveStartTime).Round(time.Second)
	tracker.logSourceResolved(resolveTime, artifact)
	u.logger.Donef("Source archive ready: %s (%s)", artifact.Name, units.HumanSizeWithPrecision(float64(artifact.Size), 3))
	u.logger.Debugf("Archive path: %s", artifact.Path)

	fileName, err := u.evaluateFileName(config.FileName, artifact.Name)
	if err != nil {
		return Result{}, fmt.Errorf("failed to evaluate file name template: %w", err)
	}

	u.logger.Println()
	u.logger.Infof("Uploading archive...")
	uploadStartTime := time.Now()
	uploadResult, err := u.uploader.Upload(ctx, network.UploadParams{
		ConsoleParams: network.ConsoleParams{
			APIBaseURL:   string(config.APIBaseURL),
			APIKey:       string(config.APIKey),
			Username:     config.Username,
			ChunkSize:    config.ChunkSize,
			PollInterval: config.PollInterval,
			Extraction:   config.Extraction,
			Interrupts:   input.Interrupts,
		},
		AppGUID:     config.AppGUID,
		ArchivePath: artifact.Path,
		FileName:    fileName,
	}, u.logger)
	result := Result{
		UploadGUID: uploadResult.UploadGUID,
		FileName:   fileName,
		FileSize:   uploadResult.FileSize,
		Extracted:  uploadResult.Extracted,
		Succeeded:  uploadResult.Succeeded,
	}
	if err != nil {
		tracker.logUploadFailed(failedPhase(err))
		return result, fmt.Errorf("upload failed: %w", err)
	}
	uploadTime := time.Since(uploadStartTime).Round(time.Second)
	tracker.logArchiveUploaded(uploadTime, uploadResult)

	switch {
	case uploadResult.Extracted:
		u.logger.Donef("Archive uploaded and extracted in %s", uploadTime)
	case uploadResult.ExtractionRequested:
		u.logger.Warnf("Archive uploaded but AIP Console could not extract it, status: %s",
			uploadResult.Details.Session.RawStatus)
	case uploadResult.Succeeded:
		u.logger.Donef("Archive uploaded in %s", uploadTime)
	default:
		u.logger.Warnf("Upload did not complete, status: %s", uploadResult.Details.Session.RawStatus)
	}

	return result, nil
}

func (u *uploader) createConfig(input UploadInput) (uploadConfig, error) {
	if strings.TrimSpace(input.AppGUID) == "" {
		return uploadConfig{}, fmt.Errorf("application GUID should not be empty")
	}
	if strings.TrimSpace(input.SourcePath) == "" {
		return uploadConfig{}, fmt.Errorf("source path should not be empty")
	}
	if input.ChunkSize < 0 {
		return uploadConfig{}, fmt.Errorf("chunk size should not be negative")
	}
	if input.ChunkSize > chunkuploader.MaxChunkSize {
		u.logger.Warnf("Chunk size %s is above the maximum, using %s",
			units.BytesSize(float64(input.ChunkSize)), units.BytesSize(float64(chunkuploader.MaxChunkSize)))
	}

	extraction, err := network.ParseExtractionMode(input.Extraction)
	if err != nil {
		return uploadConfig{}, err
	}

	apiBaseURL := u.envRepo.Get(consoleURLEnvKey)
	if apiBaseURL == "" {
		return uploadConfig{}, fmt.Errorf("the secret '%s' is not defined", consoleURLEnvKey)
	}
	apiKey := u.envRepo.Get(consoleAPIKeyEnvKey)
	if apiKey == "" {
		return uploadConfig{}, fmt.Errorf("the secret '%s' is not defined", consoleAPIKeyEnvKey)
	}
	if !u.secretKeys.IsSecret(u.envRepo, consoleAPIKeyEnvKey) {
		u.logger.Warnf("%s is not registered as a secret, its value might show up in the build log", consoleAPIKeyEnvKey)
	}
	u.logger.TDebugf("Url and API key are valid")

	var excludes []string
	for _, exclude := range input.Excludes {
		if exclude = strings.TrimSpace(exclude); exclude != "" {
			excludes = append(excludes, exclude)
		}
	}

	return uploadConfig{
		Verbose:      input.Verbose,
		AppGUID:      strings.TrimSpace(input.AppGUID),
		SourcePath:   strings.TrimSpace(input.SourcePath),
		FileName:     input.FileName,
		ChunkSize:    chunkuploader.ResolveChunkSize(input.ChunkSize),
		Extraction:   extraction,
		Excludes:     excludes,
		PollInterval: input.PollInterval,
		APIBaseURL:   stepconf.Secret(apiBaseURL),
		APIKey:       stepconf.Secret(apiKey),
		Username:     u.envRepo.Get(consoleUsernameEnvKey),
		S3: s3SourceConfig{
			AccessKeyID:     stepconf.Secret(u.envRepo.Get(awsAccessKeyIDEnvKey)),
			SecretAccessKey: stepconf.Secret(u.envRepo.Get(awsSecretAccessKeyEnvKey)),
			Region:          u.envRepo.Get(awsRegionEnvKey),
		},
	}, nil
}

func (u *uploader) sourceResolver(config uploadConfig) SourceResolver {
	if u.resolver != nil {
		return u.resolver
	}

	archiver := compression.NewArchiver(
		u.logger,
		u.envRepo,
		compression.NewDependencyChecker(u.logger, u.envRepo))
	return source.NewResolver(u.logger, archiver, source.WithS3(source.S3Config{
		Region:          config.S3.Region,
		AccessKeyID:     string(config.S3.AccessKeyID),
		SecretAccessKey: string(config.S3.SecretAccessKey),
	}))
}

func (u *uploader) evaluateFileName(nameTemplate, archiveName string) (string, error) {
	if strings.TrimSpace(nameTemplate) != "" {
		u.logger.Printf("Evaluating file name template: %s", nameTemplate)
	}
	model := nametemplate.NewModel(u.envRepo, u.logger)
	fileName, err := model.Evaluate(nameTemplate, archiveName, nametemplate.NewBuildContext(u.envRepo))
	if err != nil {
		return "", err
	}
	u.logger.Donef("File name: %s", fileName)
	return fileName, nil
}

func failedPhase(err error) string {
	var uploadErr *chunkuploader.UploadError
	if errors.As(err, &uploadErr) {
		return string(uploadErr.Phase)
	}
	return "unknown"
}
