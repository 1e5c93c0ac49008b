package main

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/bitrise-io/aip-console-steputils/aipconsole"
	"github.com/bitrise-io/aip-console-steputils/analytics/mocks"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseChunkSize(t *testing.T) {
	tests := []struct {
		input   string
		want    int64
		wantErr bool
	}{
		{input: "", want: 0},
		{input: " 10MB ", want: 10 * 1024 * 1024},
		{input: "52428800", want: 52428800},
		{input: "512k", want: 512 * 1024},
		{input: "ten", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := parseChunkSize(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestStepConfig_UploadInput(t *testing.T) {
	config := stepConfig{
		AppGUID:    "app-guid",
		SourcePath: "./src",
		FileName:   "app-{{ .BuildNumber }}.tar.gz",
		ChunkSize:  "5MB",
		Extraction: "always",
		Excludes:   "**/target\n\n  **/node_modules  \n",
		Verbose:    true,
	}

	input, err := config.uploadInput()

	require.NoError(t, err)
	assert.Equal(t, aipconsole.UploadInput{
		StepId:     stepID,
		Verbose:    true,
		AppGUID:    "app-guid",
		SourcePath: "./src",
		FileName:   "app-{{ .BuildNumber }}.tar.gz",
		ChunkSize:  5 * 1024 * 1024,
		Extraction: "always",
		Excludes:   []string{"**/target", "**/node_modules"},
	}, input)

	config.ChunkSize = "huge"
	_, err = config.uploadInput()
	require.Error(t, err)
}

func TestExportOutputs(t *testing.T) {
	repository := new(mocks.Repository)
	repository.On("Set", aipconsole.UploadGUIDOutputKey, "upload-guid").Return(nil)
	repository.On("Set", aipconsole.ExtractedOutputKey, "true").Return(nil)

	require.NoError(t, exportOutputs(repository, aipconsole.Result{UploadGUID: "upload-guid", Extracted: true}))
	repository.AssertExpectations(t)

	empty := new(mocks.Repository)
	require.NoError(t, exportOutputs(empty, aipconsole.Result{}))
	empty.AssertNotCalled(t, "Set")
}

// console serves just enough of the AIP Console API for one upload without extraction.
type console struct {
	mu       sync.Mutex
	fileSize int64
	offset   int64
	patches  int
}

func (c *console) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	c.mu.Lock()
	defer c.mu.Unlock()

	respond := func(body interface{}) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(body)
	}
	session := func(status string) map[string]interface{} {
		return map[string]interface{}{"guid": "upload-guid", "status": status, "currentOffset": c.offset}
	}

	switch {
	case r.Method == http.MethodGet && r.URL.Path == "/api/":
		respond(map[string]interface{}{"apiVersion": "2.0", "enablePackagePathCheck": false})
	case r.Method == http.MethodPost && r.URL.Path == "/api/applications/app-guid/upload":
		var body struct {
			FileSize int64 `json:"fileSize"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		c.fileSize = body.FileSize
		respond(session("CREATED"))
	case r.Method == http.MethodPatch && r.URL.Path == "/api/applications/app-guid/upload/upload-guid":
		c.patches++
		file, _, err := r.FormFile("content")
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		n, _ := io.Copy(io.Discard, file)
		c.offset += n
		status := "CREATED"
		if c.offset >= c.fileSize {
			status = "UPLOADED"
		}
		respond(session(status))
	default:
		http.Error(w, "unexpected request", http.StatusNotFound)
	}
}

func TestUploadCommand(t *testing.T) {
	handler := &console{}
	server := httptest.NewServer(handler)
	defer server.Close()

	archivePath := filepath.Join(t.TempDir(), "app.zip")
	require.NoError(t, os.WriteFile(archivePath, []byte("0123456789"), 0644))

	app := newApp(log.NewLogger(), mapRepository{})
	var out bytes.Buffer
	app.Writer = &out

	err := app.Run([]string{"aip-console-upload", "upload",
		"--url", server.URL,
		"--api-key", "api-key",
		"--app-guid", "app-guid",
		"--source", archivePath,
		"--chunk-size", "4",
		"--extraction", "never",
	})

	require.NoError(t, err)
	assert.Equal(t, "upload-guid", strings.TrimSpace(out.String()))
	assert.Equal(t, 3, handler.patches)
	assert.Equal(t, int64(10), handler.offset)
}

func TestUploadCommand_MissingFlags(t *testing.T) {
	app := newApp(log.NewLogger(), mapRepository{})
	app.Writer = io.Discard
	app.ErrWriter = io.Discard

	err := app.Run([]string{"aip-console-upload", "upload", "--url", "http://localhost", "--api-key", "key"})

	require.Error(t, err)
}

type mapRepository map[string]string

func (r mapRepository) Get(key string) string { return r[key] }
func (r mapRepository) Set(key, value string) error {
	r[key] = value
	return nil
}
func (r mapRepository) Unset(key string) error {
	delete(r, key)
	return nil
}
func (r mapRepository) List() []string {
	var envs []string
	for k, v := range r {
		envs = append(envs, k+"="+v)
	}
	return envs
}
