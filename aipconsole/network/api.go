package network

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httputil"
	"net/textproto"
	"net/url"
	"strings"

	"github.com/bitrise-io/aip-console-steputils/aipconsole/network/chunkuploader"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/hashicorp/go-retryablehttp"
)

const (
	apiKeyHeader        = "X-API-KEY"
	correlationIDHeader = "X-Correlation-ID"
	chunkFileName       = "filechunk"
)

// APIError is returned for every non-2xx answer of AIP Console.
type APIError struct {
	Method     string
	URL        string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s %s: HTTP %d: %s", e.Method, e.URL, e.StatusCode, e.Body)
}

// Credentials authenticate the requests. With a Username the API key is sent as the
// basic auth password, otherwise in the X-API-KEY header.
type Credentials struct {
	APIKey   string
	Username string
}

type apiInfoResponse struct {
	APIVersion             string `json:"apiVersion"`
	EnablePackagePathCheck bool   `json:"enablePackagePathCheck"`
}

type chunkMetadata struct {
	ChunkSize int `json:"chunkSize"`
}

// apiClient implements chunkuploader.Transport over the AIP Console REST API.
type apiClient struct {
	// httpClient retries; used for GET and PUT.
	httpClient *retryablehttp.Client
	// mutatingClient never retries; used for POST, PATCH and the cleanup DELETE.
	mutatingClient *retryablehttp.Client
	baseURL        string
	credentials    Credentials
	correlationID  string
	logger         log.Logger
}

func newAPIClient(httpClient, mutatingClient *retryablehttp.Client, baseURL string, credentials Credentials, correlationID string, logger log.Logger) apiClient {
	return apiClient{
		httpClient:     httpClient,
		mutatingClient: mutatingClient,
		baseURL:        strings.TrimSuffix(baseURL, "/"),
		credentials:    credentials,
		correlationID:  correlationID,
		logger:         logger,
	}
}

func (c apiClient) apiInfo(ctx context.Context) (apiInfoResponse, error) {
	var response apiInfoResponse
	if err := c.doJSON(ctx, c.httpClient, http.MethodGet, "/api/", nil, &response); err != nil {
		return apiInfoResponse{}, err
	}
	return response, nil
}

// CreateUpload ...
func (c apiClient) CreateUpload(ctx context.Context, appGUID string, request chunkuploader.CreateUploadRequest) (chunkuploader.Session, error) {
	body, err := json.Marshal(request)
	if err != nil {
		return chunkuploader.Session{}, err
	}

	var session chunkuploader.Session
	if err := c.doJSON(ctx, c.mutatingClient, http.MethodPost, createUploadPath(appGUID), body, &session); err != nil {
		return chunkuploader.Session{}, err
	}
	return session, nil
}

// UploadChunk sends one chunk as a multipart PATCH request with a metadata and a content part.
func (c apiClient) UploadChunk(ctx context.Context, appGUID, uploadGUID string, chunk []byte) (chunkuploader.Session, error) {
	body, contentType, err := chunkBody(chunk)
	if err != nil {
		return chunkuploader.Session{}, fmt.Errorf("build chunk request: %w", err)
	}

	req, err := c.newRequest(ctx, http.MethodPatch, uploadPath(appGUID, uploadGUID), body)
	if err != nil {
		return chunkuploader.Session{}, err
	}
	req.Header.Set("Content-Type", contentType)
	req.ContentLength = int64(len(body))

	dump, err := httputil.DumpRequest(req.Request, false)
	if err != nil {
		c.logger.Warnf("error while dumping request: %s", err)
	}
	c.logger.Debugf("Chunk request dump: %s", string(dump))

	var session chunkuploader.Session
	if err := c.do(c.mutatingClient, req, &session); err != nil {
		return chunkuploader.Session{}, err
	}
	return session, nil
}

// DeleteUpload is sent once. A failing cleanup is reported by the caller, not retried.
func (c apiClient) DeleteUpload(ctx context.Context, appGUID, uploadGUID string) error {
	return c.doJSON(ctx, c.mutatingClient, http.MethodDelete, uploadPath(appGUID, uploadGUID), nil, nil)
}

// ExtractUpload asks the server to extract the uploaded archive and returns its current state.
func (c apiClient) ExtractUpload(ctx context.Context, appGUID, uploadGUID string) (chunkuploader.Session, error) {
	var session chunkuploader.Session
	if err := c.doJSON(ctx, c.httpClient, http.MethodPut, extractPath(appGUID, uploadGUID), nil, &session); err != nil {
		return chunkuploader.Session{}, err
	}
	return session, nil
}

func (c apiClient) doJSON(ctx context.Context, client *retryablehttp.Client, method, path string, body []byte, response interface{}) error {
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.do(client, req, response)
}

func (c apiClient) newRequest(ctx context.Context, method, path string, body []byte) (*retryablehttp.Request, error) {
	var rawBody interface{}
	if body != nil {
		rawBody = body
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, method, c.baseURL+path, rawBody)
	if err != nil {
		return nil, err
	}

	req.Header.Set("Accept", "application/json")
	if c.credentials.Username != "" {
		req.SetBasicAuth(c.credentials.Username, c.credentials.APIKey)
	} else {
		req.Header.Set(apiKeyHeader, c.credentials.APIKey)
	}
	if c.correlationID != "" {
		req.Header.Set(correlationIDHeader, c.correlationID)
	}
	return req, nil
}

func (c apiClient) do(client *retryablehttp.Client, req *retryablehttp.Request, response interface{}) error {
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer func(body io.ReadCloser) {
		err := body.Close()
		if err != nil {
			c.logger.Printf(err.Error())
		}
	}(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return unwrapError(req.Method, req.URL, resp)
	}

	if response == nil {
		return nil
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	c.logger.Debugf("%s %s response: %s", req.Method, req.URL.Path, string(data))
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, response); err != nil {
		return fmt.Errorf("decode response of %s %s: %w", req.Method, req.URL.Path, err)
	}
	return nil
}

func chunkBody(chunk []byte) ([]byte, string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	metadata, err := json.Marshal(chunkMetadata{ChunkSize: len(chunk)})
	if err != nil {
		return nil, "", err
	}
	metadataHeader := textproto.MIMEHeader{}
	metadataHeader.Set("Content-Disposition", `form-data; name="metadata"`)
	metadataHeader.Set("Content-Type", "application/json")
	part, err := writer.CreatePart(metadataHeader)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(metadata); err != nil {
		return nil, "", err
	}

	contentHeader := textproto.MIMEHeader{}
	contentHeader.Set("Content-Disposition", fmt.Sprintf(`form-data; name="content"; filename="%s"`, chunkFileName))
	contentHeader.Set("Content-Type", "application/octet-stream")
	part, err = writer.CreatePart(contentHeader)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(chunk); err != nil {
		return nil, "", err
	}

	if err := writer.Close(); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), writer.FormDataContentType(), nil
}

func unwrapError(method string, u *url.URL, resp *http.Response) error {
	errorResp, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	return &APIError{
		Method:     method,
		URL:        u.Redacted(),
		StatusCode: resp.StatusCode,
		Body:       strings.TrimSpace(string(errorResp)),
	}
}

func createUploadPath(appGUID string) string {
	return fmt.Sprintf("/api/applications/%s/upload", url.PathEscape(appGUID))
}

func uploadPath(appGUID, uploadGUID string) string {
	return fmt.Sprintf("%s/%s", createUploadPath(appGUID), url.PathEscape(uploadGUID))
}

func extractPath(appGUID, uploadGUID string) string {
	return uploadPath(appGUID, uploadGUID) + "/extract"
}
