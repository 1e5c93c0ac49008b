// Package chunkuploader uploads a source archive to AIP Console in sequential chunks
// and drives the server side extraction of the uploaded archive.
package chunkuploader

import (
	"context"
	"encoding/json"
	"strings"
)

// Status is the lifecycle status of an upload session as reported by AIP Console.
type Status int

const (
	// StatusUnknown is any status value the client has no dedicated handling for.
	StatusUnknown Status = iota
	StatusCreated
	StatusUploaded
	StatusExtracting
	StatusExtracted
	StatusFailed
)

var statusNames = map[Status]string{
	StatusUnknown:    "UNKNOWN",
	StatusCreated:    "CREATED",
	StatusUploaded:   "UPLOADED",
	StatusExtracting: "EXTRACTING",
	StatusExtracted:  "EXTRACTED",
	StatusFailed:     "FAILED",
}

// ParseStatus normalizes a status value received from the server.
// Matching is case-insensitive and "completed" is accepted as a synonym of UPLOADED.
func ParseStatus(raw string) Status {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "CREATED":
		return StatusCreated
	case "UPLOADED", "COMPLETED":
		return StatusUploaded
	case "EXTRACTING":
		return StatusExtracting
	case "EXTRACTED":
		return StatusExtracted
	case "FAILED":
		return StatusFailed
	default:
		return StatusUnknown
	}
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return statusNames[StatusUnknown]
}

// UploadComplete reports whether the server holds every byte of the archive.
func (s Status) UploadComplete() bool {
	return s == StatusUploaded
}

// ExtractionPending reports whether extraction has not reached a terminal state yet.
func (s Status) ExtractionPending() bool {
	return s == StatusUploaded || s == StatusExtracting
}

// Session is the server side record of one upload.
type Session struct {
	GUID          string
	Status        Status
	RawStatus     string
	CurrentOffset int64
}

type sessionJSON struct {
	GUID          string `json:"guid"`
	Status        string `json:"status"`
	CurrentOffset int64  `json:"currentOffset"`
}

// UnmarshalJSON decodes the wire representation and normalizes the status.
func (s *Session) UnmarshalJSON(data []byte) error {
	var raw sessionJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	s.GUID = raw.GUID
	s.RawStatus = raw.Status
	s.Status = ParseStatus(raw.Status)
	s.CurrentOffset = raw.CurrentOffset
	return nil
}

// MarshalJSON ...
func (s Session) MarshalJSON() ([]byte, error) {
	status := s.RawStatus
	if status == "" {
		status = s.Status.String()
	}
	return json.Marshal(sessionJSON{GUID: s.GUID, Status: status, CurrentOffset: s.CurrentOffset})
}

// StatusText returns the status as received, falling back to the normalized name.
func (s Session) StatusText() string {
	if s.RawStatus != "" {
		return s.RawStatus
	}
	return s.Status.String()
}

// CreateUploadRequest is the payload of the create upload call.
type CreateUploadRequest struct {
	FileName string `json:"fileName"`
	FileSize int64  `json:"fileSize"`
}

// Transport performs the REST calls of the upload protocol.
// Any transport failure or non-success response is returned as an error.
type Transport interface {
	CreateUpload(ctx context.Context, appGUID string, request CreateUploadRequest) (Session, error)
	// UploadChunk sends one chunk as a multipart request: a `metadata` part carrying the chunk size
	// and a binary `content` part with exactly the given bytes.
	UploadChunk(ctx context.Context, appGUID, uploadGUID string, chunk []byte) (Session, error)
	DeleteUpload(ctx context.Context, appGUID, uploadGUID string) error
	ExtractUpload(ctx context.Context, appGUID, uploadGUID string) (Session, error)
}

// UploadRequest describes one archive transfer.
type UploadRequest struct {
	AppGUID  string
	FileName string
	// FileSize is the exact number of bytes the content reader yields.
	FileSize int64
	// Extract asks for server side extraction once the upload completed.
	Extract bool
}

// Progress is the client side view of a running chunk loop.
type Progress struct {
	CurrentOffset     int64
	CurrentChunkIndex int
	TotalChunks       int
}

// Result is the outcome of UploadAndExtract.
type Result struct {
	Session        Session
	UploadComplete bool
	// ExtractionRequested is true when the poller ran.
	ExtractionRequested bool
	Extracted           bool
	Extraction          ExtractionResult
	Chunks              int
	Stats               StatsSnapshot
}

// Succeeded is the boolean outcome reported to callers: extracted when extraction was requested,
// otherwise upload completion.
func (r Result) Succeeded() bool {
	if r.ExtractionRequested {
		return r.Extracted
	}
	return r.UploadComplete
}
