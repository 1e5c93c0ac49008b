package chunkuploader

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"
)

var errTransport = errors.New("HTTP 500: internal server error")

type fakeTransport struct {
	mu sync.Mutex

	createErr     error
	createNoGUID  bool
	createStatus  string
	fileSize      int64
	createCalls   int
	createRequest CreateUploadRequest

	chunks [][]byte
	offset int64
	// chunkErrAt is the 1-based chunk index that fails, 0 for none.
	chunkErrAt int
	// skewAt is the 1-based chunk index whose acknowledged offset is off by one.
	skewAt int
	// chunkStatus overrides the status reported after each chunk.
	chunkStatus string

	deleteCalls int
	deleteErr   error

	extractStatuses []string
	extractErr      error
	extractErrAt    int
	extractCalls    int
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{createStatus: "CREATED"}
}

func (f *fakeTransport) CreateUpload(_ context.Context, _ string, request CreateUploadRequest) (Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.createCalls++
	f.createRequest = request
	f.fileSize = request.FileSize
	if f.createErr != nil {
		return Session{}, f.createErr
	}
	guid := "upload-guid"
	if f.createNoGUID {
		guid = ""
	}
	status := f.createStatus
	if request.FileSize == 0 {
		status = "completed"
	}
	return Session{GUID: guid, Status: ParseStatus(status), RawStatus: status}, nil
}

func (f *fakeTransport) UploadChunk(_ context.Context, _, uploadGUID string, chunk []byte) (Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	data := make([]byte, len(chunk))
	copy(data, chunk)
	f.chunks = append(f.chunks, data)
	index := len(f.chunks)

	if index == f.chunkErrAt {
		return Session{}, errTransport
	}

	f.offset += int64(len(chunk))
	offset := f.offset
	if index == f.skewAt {
		offset++
	}

	status := "CREATED"
	if f.offset >= f.fileSize {
		status = "UPLOADED"
	}
	if f.chunkStatus != "" {
		status = f.chunkStatus
	}
	return Session{GUID: uploadGUID, Status: ParseStatus(status), RawStatus: status, CurrentOffset: offset}, nil
}

func (f *fakeTransport) DeleteUpload(_ context.Context, _, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.deleteCalls++
	return f.deleteErr
}

func (f *fakeTransport) ExtractUpload(_ context.Context, _, uploadGUID string) (Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.extractCalls++
	if f.extractErr != nil && (f.extractErrAt == 0 || f.extractErrAt == f.extractCalls) {
		return Session{}, f.extractErr
	}

	status := "EXTRACTED"
	if len(f.extractStatuses) > 0 {
		i := f.extractCalls - 1
		if i >= len(f.extractStatuses) {
			i = len(f.extractStatuses) - 1
		}
		status = f.extractStatuses[i]
	}
	return Session{GUID: uploadGUID, Status: ParseStatus(status), RawStatus: status, CurrentOffset: f.offset}, nil
}

type fakeTimer struct {
	mu    sync.Mutex
	waits []time.Duration
}

func (t *fakeTimer) after(d time.Duration) <-chan time.Time {
	t.mu.Lock()
	t.waits = append(t.waits, d)
	t.mu.Unlock()

	ch := make(chan time.Time, 1)
	ch <- time.Time{}
	return ch
}

func (t *fakeTimer) count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.waits)
}

// zeroReader returns (0, nil) before every successful read.
type zeroReader struct {
	data      []byte
	pos       int
	zeroNext  bool
	zeroReads int
}

func (r *zeroReader) Read(p []byte) (int, error) {
	if r.pos >= len(r.data) {
		return 0, io.EOF
	}
	r.zeroNext = !r.zeroNext
	if r.zeroNext {
		r.zeroReads++
		return 0, nil
	}
	n := copy(p, r.data[r.pos:])
	r.pos += n
	return n, nil
}

func testData(size int) []byte {
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i % 251)
	}
	return data
}
