package aipconsole

import (
	"github.com/bitrise-io/aip-console-steputils/stepconf"
)

const (
	consoleURLEnvKey      = "AIP_CONSOLE_URL"
	consoleAPIKeyEnvKey   = "AIP_CONSOLE_API_KEY"
	consoleUsernameEnvKey = "AIP_CONSOLE_USERNAME"

	awsAccessKeyIDEnvKey     = "AWS_ACCESS_KEY_ID"
	awsSecretAccessKeyEnvKey = "AWS_SECRET_ACCESS_KEY"
	awsRegionEnvKey          = "AWS_REGION"
)

// Step outputs exported after an upload.
const (
	UploadGUIDOutputKey = "AIP_CONSOLE_UPLOAD_GUID"
	ExtractedOutputKey  = "AIP_CONSOLE_UPLOAD_EXTRACTED"
)

type s3SourceConfig struct {
	AccessKeyID     stepconf.Secret
	SecretAccessKey stepconf.Secret
	Region          string
}
