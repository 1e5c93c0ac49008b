package chunkuploader

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/bitrise-io/go-utils/v2/log"
)

const cleanupTimeout = 30 * time.Second

// Uploader drives one upload session: create, sequential chunk loop with offset
// verification, cleanup on failure and the optional extraction step.
// An Uploader keeps no per-upload state and can be reused.
type Uploader struct {
	transport Transport
	config    Config
	logger    log.Logger
	poller    *Poller
}

// New creates a new Uploader with the given configuration.
func New(transport Transport, config Config, logger log.Logger, opts ...PollerOption) *Uploader {
	config = config.withDefaults()
	return &Uploader{
		transport: transport,
		config:    config,
		logger:    logger,
		poller:    NewPoller(transport, config, logger, opts...),
	}
}

// Config returns the resolved configuration.
func (u *Uploader) Config() Config {
	return u.config
}

// UploadAndExtract creates an upload session, sends content in chunks and, if requested and
// the server reports the upload as complete, polls the extraction until it finishes.
// content must yield exactly request.FileSize bytes.
func (u *Uploader) UploadAndExtract(ctx context.Context, request UploadRequest, content io.Reader) (Result, error) {
	if strings.TrimSpace(request.AppGUID) == "" {
		return Result{}, NewValidationError("no application GUID provided")
	}
	if request.FileSize < 0 {
		return Result{}, NewValidationError("invalid file size: %d", request.FileSize)
	}
	if content == nil {
		return Result{}, NewValidationError("no content provided for upload")
	}

	session, err := u.CreateSession(ctx, request.AppGUID, request.FileName, request.FileSize)
	if err != nil {
		return Result{}, err
	}

	reader := NewChunkReader(content, request.FileSize, u.config.ChunkSize)
	stats := NewStats()
	session, err = u.UploadChunks(ctx, request.AppGUID, session, reader, stats)
	if err != nil {
		return Result{Session: session, Stats: stats.Snapshot()}, err
	}

	result := Result{
		Session:        session,
		UploadComplete: session.Status.UploadComplete(),
		Chunks:         int(stats.FinishedCount()),
		Stats:          stats.Snapshot(),
	}
	u.logger.Debugf("Upload status after the last chunk: %s", session.StatusText())

	u.logger.Infof("Should extract content? %t", request.Extract)
	if !result.UploadComplete || !request.Extract {
		return result, nil
	}

	extraction, err := u.poller.Extract(ctx, request.AppGUID, session)
	result.ExtractionRequested = true
	result.Extraction = extraction
	result.Session = extraction.Session
	if err != nil {
		return result, err
	}
	result.Extracted = extraction.Extracted

	return result, nil
}

// CreateSession creates the server side upload record.
func (u *Uploader) CreateSession(ctx context.Context, appGUID, fileName string, fileSize int64) (Session, error) {
	u.logger.Infof("Creating a new upload for application")
	u.logger.Debugf("File name: %s, size: %d", fileName, fileSize)

	session, err := u.transport.CreateUpload(ctx, appGUID, CreateUploadRequest{
		FileName: fileName,
		FileSize: fileSize,
	})
	if err != nil {
		u.logger.Errorf("Error while trying to create upload: %s", err)
		return Session{}, &UploadError{Phase: PhaseCreate, Err: err}
	}
	if strings.TrimSpace(session.GUID) == "" {
		return Session{}, &UploadError{Phase: PhaseCreate, Err: ErrNoSessionID}
	}

	u.logger.Debugf("Upload GUID: %s", session.GUID)
	return session, nil
}

// UploadChunks sends the chunks of reader in order. After every chunk the offset acknowledged by
// the server must equal the number of bytes sent so far. On a transport or protocol failure the
// upload is deleted once, best effort, before the original error is returned.
func (u *Uploader) UploadChunks(ctx context.Context, appGUID string, session Session, reader *ChunkReader, stats *Stats) (Session, error) {
	progress := Progress{TotalChunks: reader.TotalChunks()}
	u.logger.Infof("Starting chunks uploads. Expected number of chunks is %d", progress.TotalChunks)

	for {
		if err := ctx.Err(); err != nil {
			return session, u.fail(ctx, appGUID, session, progress, progress.CurrentChunkIndex+1, err)
		}

		chunk, err := reader.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if errors.Is(err, ErrSourceExhausted) {
			return session, &UploadError{
				Phase:       PhaseSource,
				Chunk:       progress.CurrentChunkIndex + 1,
				TotalChunks: progress.TotalChunks,
				Err:         err,
			}
		}
		if err != nil {
			return session, u.fail(ctx, appGUID, session, progress, progress.CurrentChunkIndex+1, err)
		}

		progress.CurrentChunkIndex++
		u.logger.Infof("Uploading chunk %d of %d", progress.CurrentChunkIndex, progress.TotalChunks)
		u.logger.Debugf("Uploading a chunk of %d bytes", len(chunk))

		start := time.Now()
		updated, err := u.transport.UploadChunk(ctx, appGUID, session.GUID, chunk)
		if err != nil {
			return session, u.fail(ctx, appGUID, session, progress, progress.CurrentChunkIndex, err)
		}
		if updated.GUID == "" {
			updated.GUID = session.GUID
		}

		expected := progress.CurrentOffset + int64(len(chunk))
		if updated.CurrentOffset != expected {
			mismatch := &OffsetMismatchError{Expected: expected, Actual: updated.CurrentOffset}
			return updated, u.fail(ctx, appGUID, updated, progress, progress.CurrentChunkIndex, mismatch)
		}

		progress.CurrentOffset = expected
		session = updated
		stats.Update(time.Since(start), int64(len(chunk)))
		u.logger.Debugf("Chunk %d acknowledged, offset %d/%d [avg=%v]",
			progress.CurrentChunkIndex, progress.CurrentOffset, reader.totalSize, stats.Average().Round(time.Millisecond))
	}

	return session, nil
}

func (u *Uploader) fail(ctx context.Context, appGUID string, session Session, progress Progress, chunk int, cause error) error {
	return &UploadError{
		Phase:       PhaseChunk,
		Chunk:       chunk,
		TotalChunks: progress.TotalChunks,
		Err:         cause,
		CleanupErr:  u.cleanup(ctx, appGUID, session.GUID),
	}
}

// cleanup deletes a failed upload. Its error is only reported, never returned in place of the cause.
func (u *Uploader) cleanup(ctx context.Context, appGUID, uploadGUID string) error {
	u.logger.Infof("Error occurred during upload. Trying to delete before failing.")

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()

	if err := u.transport.DeleteUpload(ctx, appGUID, uploadGUID); err != nil {
		u.logger.Warnf("Unable to remove failed upload with GUID '%s': %s", uploadGUID, err)
		return err
	}
	return nil
}
