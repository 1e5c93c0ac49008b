package network

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

// fakeConsole is an in-memory AIP Console serving the upload endpoints of one application.
type fakeConsole struct {
	t *testing.T

	mu sync.Mutex

	appGUID                string
	enablePackagePathCheck bool
	extractStatuses        []string
	failPatchAt            int
	failPatchStatus        int
	deleteStatus           int

	requests      []string
	headers       []http.Header
	created       map[string]interface{}
	chunks        [][]byte
	chunkMetadata []int
	fileSize      int64
	offset        int64
	deletes       int
	extracts      int
}

func newFakeConsole(t *testing.T) *fakeConsole {
	return &fakeConsole{t: t, appGUID: "app-guid"}
}

func (f *fakeConsole) start() *httptest.Server {
	server := httptest.NewServer(http.HandlerFunc(f.serve))
	f.t.Cleanup(server.Close)
	return server
}

func (f *fakeConsole) count(prefix string) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	n := 0
	for _, r := range f.requests {
		if strings.HasPrefix(r, prefix) {
			n++
		}
	}
	return n
}

func (f *fakeConsole) serve(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.requests = append(f.requests, r.Method+" "+r.URL.Path)
	f.headers = append(f.headers, r.Header.Clone())

	uploadRoot := fmt.Sprintf("/api/applications/%s/upload", f.appGUID)
	uploadPath := uploadRoot + "/upload-guid"

	switch {
	case r.Method == http.MethodGet && r.URL.Path == "/api/":
		f.writeJSON(w, http.StatusOK, map[string]interface{}{"apiVersion": "2.0", "enablePackagePathCheck": f.enablePackagePathCheck})
	case r.Method == http.MethodPost && r.URL.Path == uploadRoot:
		var body map[string]interface{}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		f.created = body
		if size, ok := body["fileSize"].(float64); ok {
			f.fileSize = int64(size)
		}
		f.writeJSON(w, http.StatusCreated, f.session("CREATED"))
	case r.Method == http.MethodPatch && r.URL.Path == uploadPath:
		f.receiveChunk(w, r)
	case r.Method == http.MethodDelete && r.URL.Path == uploadPath:
		f.deletes++
		status := f.deleteStatus
		if status == 0 {
			status = http.StatusNoContent
		}
		if status >= 300 {
			http.Error(w, "upload not found", status)
			return
		}
		w.WriteHeader(status)
	case r.Method == http.MethodPut && r.URL.Path == uploadPath+"/extract":
		f.extracts++
		status := "EXTRACTED"
		if len(f.extractStatuses) > 0 {
			i := f.extracts - 1
			if i >= len(f.extractStatuses) {
				i = len(f.extractStatuses) - 1
			}
			status = f.extractStatuses[i]
		}
		f.writeJSON(w, http.StatusOK, f.session(status))
	default:
		http.Error(w, "unexpected request "+r.Method+" "+r.URL.Path, http.StatusNotFound)
	}
}

func (f *fakeConsole) receiveChunk(w http.ResponseWriter, r *http.Request) {
	index := len(f.chunks) + 1
	if index == f.failPatchAt {
		f.chunks = append(f.chunks, nil)
		http.Error(w, "chunk rejected", f.failPatchStatus)
		return
	}

	reader, err := r.MultipartReader()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	var chunk []byte
	for {
		part, err := reader.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		switch part.FormName() {
		case "metadata":
			var metadata struct {
				ChunkSize int `json:"chunkSize"`
			}
			if err := json.NewDecoder(part).Decode(&metadata); err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			f.chunkMetadata = append(f.chunkMetadata, metadata.ChunkSize)
		case "content":
			if part.FileName() != "filechunk" || part.Header.Get("Content-Type") != "application/octet-stream" {
				http.Error(w, "invalid content part", http.StatusBadRequest)
				return
			}
			chunk, err = io.ReadAll(part)
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
		}
	}

	f.chunks = append(f.chunks, chunk)
	f.offset += int64(len(chunk))
	status := "CREATED"
	if f.offset >= f.fileSize {
		status = "UPLOADED"
	}
	f.writeJSON(w, http.StatusOK, f.session(status))
}

func (f *fakeConsole) session(status string) map[string]interface{} {
	return map[string]interface{}{
		"guid":          "upload-guid",
		"status":        status,
		"currentOffset": f.offset,
		"fileSize":      f.fileSize,
	}
}

func (f *fakeConsole) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		f.t.Errorf("encode response: %s", err)
	}
}
