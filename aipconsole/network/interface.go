package network

import (
	"context"

	"github.com/bitrise-io/go-utils/v2/log"
)

// Uploader ...
type Uploader interface {
	Upload(context.Context, UploadParams, log.Logger) (UploadResult, error)
}

// DefaultUploader uploads through the AIP Console REST API.
type DefaultUploader struct{}

// Upload ...
func (DefaultUploader) Upload(ctx context.Context, params UploadParams, logger log.Logger) (UploadResult, error) {
	return Upload(ctx, params, logger)
}
