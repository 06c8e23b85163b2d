package upload

import (
	"io"
)

type Status string

const (
	// StatusPending is reported while chunks are still arriving. An upload
	// that is waiting is never reported as failed.
	StatusPending Status = "PENDING"
	StatusSuccess Status = "SUCCESS"
	StatusFailure Status = "FAILURE"
)

// UploadResult is what a chunk delivery reports back to the transport. ID is
// the file mapping id and is only set once the upload has been merged.
type UploadResult struct {
	ID         int    `json:"id,omitempty"`
	UploadKey  string `json:"upload_key"`
	Name       string `json:"name"`
	Size       int64  `json:"size"`
	ChunkCount int    `json:"chunk_count"`
	Status     Status `json:"status"`
	Cause      string `json:"cause,omitempty"`

	Err error `json:"-"`
}

func (r *UploadResult) fail(err error) *UploadResult {
	r.Status = StatusFailure
	r.Cause = err.Error()
	r.Err = err
	return r
}

// Delivery is one chunk as handed over by the transport.
type Delivery struct {
	UploadKey string
	ConnID    int
	Name      string
	Index     int
	Total     int
	Data      io.Reader
}
