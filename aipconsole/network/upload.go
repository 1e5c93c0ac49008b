package network

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bitrise-io/aip-console-steputils/aipconsole/network/chunkuploader"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/docker/go-units"
	"github.com/google/uuid"
)

// ExtractionMode decides whether the uploaded archive is extracted on the server.
type ExtractionMode string

const (
	// ExtractionAuto follows the enablePackagePathCheck flag of the server.
	ExtractionAuto   ExtractionMode = "auto"
	ExtractionAlways ExtractionMode = "always"
	ExtractionNever  ExtractionMode = "never"
)

// ParseExtractionMode ...
func ParseExtractionMode(s string) (ExtractionMode, error) {
	switch mode := ExtractionMode(strings.ToLower(strings.TrimSpace(s))); mode {
	case "":
		return ExtractionAuto, nil
	case ExtractionAuto, ExtractionAlways, ExtractionNever:
		return mode, nil
	default:
		return "", fmt.Errorf("invalid extraction mode: %s (allowed: auto, always, never)", s)
	}
}

// ConsoleParams are the connection and upload settings shared by file and stream uploads.
type ConsoleParams struct {
	APIBaseURL string
	APIKey     string
	Username   string
	// ChunkSize in bytes, 0 means the default.
	ChunkSize int64
	// PollInterval between extraction requests, 0 means the default.
	PollInterval time.Duration
	Extraction   ExtractionMode
	// Interrupts cut the pause between extraction polls short without stopping the upload.
	Interrupts <-chan struct{}
}

// UploadParams ...
type UploadParams struct {
	ConsoleParams
	AppGUID     string
	ArchivePath string
	// FileName is announced to the server, the base name of ArchivePath when empty.
	FileName string
}

// StreamParams describe an upload from a reader of known size.
type StreamParams struct {
	ConsoleParams
	AppGUID  string
	FileName string
	FileSize int64
	Content  io.Reader
}

// UploadResult ...
type UploadResult struct {
	UploadGUID          string
	FileName            string
	FileSize            int64
	ExtractionRequested bool
	Extracted           bool
	// Succeeded is true when the archive was extracted, or fully uploaded if no extraction was requested.
	Succeeded bool
	Details   chunkuploader.Result
}

// Upload sends the archive at params.ArchivePath to the application identified by params.AppGUID.
func Upload(ctx context.Context, params UploadParams, logger log.Logger) (UploadResult, error) {
	if strings.TrimSpace(params.AppGUID) == "" {
		return UploadResult{}, chunkuploader.NewValidationError("no application GUID provided")
	}
	if params.ArchivePath == "" {
		return UploadResult{}, chunkuploader.NewValidationError("no file provided for upload")
	}
	if err := validateConsoleParams(params.ConsoleParams); err != nil {
		return UploadResult{}, err
	}

	info, err := os.Stat(params.ArchivePath)
	if os.IsNotExist(err) {
		return UploadResult{}, chunkuploader.NewValidationError("no file provided for upload: %s does not exist", params.ArchivePath)
	}
	if err != nil {
		return UploadResult{}, chunkuploader.NewSourceError(fmt.Errorf("unable to get archive size for given file %s: %w", params.ArchivePath, err))
	}
	if info.IsDir() {
		return UploadResult{}, chunkuploader.NewValidationError("%s is a directory, an archive file is expected", params.ArchivePath)
	}

	file, err := os.Open(params.ArchivePath)
	if err != nil {
		return UploadResult{}, chunkuploader.NewSourceError(fmt.Errorf("unable to read file: %w", err))
	}
	defer func(file *os.File) {
		err := file.Close()
		if err != nil {
			logger.Errorf("failed to close file: %s", err)
		}
	}(file)

	fileName := params.FileName
	if fileName == "" {
		fileName = filepath.Base(params.ArchivePath)
	}

	return UploadStream(ctx, StreamParams{
		ConsoleParams: params.ConsoleParams,
		AppGUID:       params.AppGUID,
		FileName:      fileName,
		FileSize:      info.Size(),
		Content:       bufio.NewReader(file),
	}, logger)
}

// UploadStream sends exactly params.FileSize bytes read from params.Content.
func UploadStream(ctx context.Context, params StreamParams, logger log.Logger) (UploadResult, error) {
	if strings.TrimSpace(params.AppGUID) == "" {
		return UploadResult{}, chunkuploader.NewValidationError("no application GUID provided")
	}
	if params.Content == nil {
		return UploadResult{}, chunkuploader.NewValidationError("no content provided for upload")
	}
	if err := validateConsoleParams(params.ConsoleParams); err != nil {
		return UploadResult{}, err
	}

	correlationID := uuid.NewString()
	logger.Debugf("Correlation ID: %s", correlationID)
	client := newAPIClient(
		newRetryingClient(logger),
		newSingleShotClient(logger),
		params.APIBaseURL,
		Credentials{APIKey: params.APIKey, Username: params.Username},
		correlationID,
		logger,
	)

	extract, err := resolveExtraction(ctx, client, params.Extraction, logger)
	if err != nil {
		return UploadResult{}, err
	}

	config := chunkuploader.NewConfig(params.ChunkSize)
	if params.PollInterval > 0 {
		config.PollInterval = params.PollInterval
	}
	var opts []chunkuploader.PollerOption
	if params.Interrupts != nil {
		opts = append(opts, chunkuploader.WithInterrupts(params.Interrupts))
	}
	uploader := chunkuploader.New(client, config, logger, opts...)

	logger.Infof("Uploading %s (%s) in chunks of %s", params.FileName,
		units.HumanSizeWithPrecision(float64(params.FileSize), 3),
		units.HumanSizeWithPrecision(float64(config.ChunkSize), 3))

	result, err := uploader.UploadAndExtract(ctx, chunkuploader.UploadRequest{
		AppGUID:  params.AppGUID,
		FileName: params.FileName,
		FileSize: params.FileSize,
		Extract:  extract,
	}, params.Content)

	uploadResult := UploadResult{
		UploadGUID:          result.Session.GUID,
		FileName:            params.FileName,
		FileSize:            params.FileSize,
		ExtractionRequested: result.ExtractionRequested,
		Extracted:           result.Extracted,
		Succeeded:           err == nil && result.Succeeded(),
		Details:             result,
	}
	if err != nil {
		return uploadResult, err
	}

	if result.Stats.FinishedChunks > 0 {
		logger.Debugf("Uploaded %d chunks in %s, average %s per chunk", result.Stats.FinishedChunks,
			result.Stats.TotalDuration.Round(time.Millisecond), result.Stats.Average.Round(time.Millisecond))
	}
	return uploadResult, nil
}

func resolveExtraction(ctx context.Context, client apiClient, mode ExtractionMode, logger log.Logger) (bool, error) {
	info, err := client.apiInfo(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to get AIP Console API info: %w", err)
	}
	if info.APIVersion != "" {
		logger.Debugf("AIP Console API version: %s", info.APIVersion)
	}

	switch mode {
	case ExtractionAlways:
		return true, nil
	case ExtractionNever:
		return false, nil
	default:
		return info.EnablePackagePathCheck, nil
	}
}

func validateConsoleParams(params ConsoleParams) error {
	if strings.TrimSpace(params.APIBaseURL) == "" {
		return chunkuploader.NewValidationError("AIP Console URL is empty")
	}
	if params.APIKey == "" {
		return chunkuploader.NewValidationError("AIP Console API key is empty")
	}
	if params.ChunkSize < 0 {
		return chunkuploader.NewValidationError("invalid chunk size: %d", params.ChunkSize)
	}
	if params.Extraction != "" {
		if _, err := ParseExtractionMode(string(params.Extraction)); err != nil {
			return chunkuploader.NewValidationError("%s", err)
		}
	}
	return nil
}
