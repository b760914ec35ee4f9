package api

import (
	"time"

	"github.com/segmentio/ksuid"
	"github.com/ssargent/bulkline/pkg/batch"
	"github.com/ssargent/bulkline/pkg/ingest"
)

// APIResponse represents a standard API response
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// OpenRequest is the body of POST /connections. A missing or zero bulk size
// falls back to the server default.
type OpenRequest struct {
	BulkSize int `json:"bulk_size"`
}

// OpenResponse carries the handle of a freshly opened connection
type OpenResponse struct {
	Handle   string `json:"handle"`
	BulkSize int    `json:"bulk_size"`
}

// FeedResponse reports how many bytes of a chunk were accepted
type FeedResponse struct {
	Handle string `json:"handle"`
	Bytes  int    `json:"bytes"`
}

// RecordResponse is one archived record
type RecordResponse struct {
	Data string    `json:"data"`
	Time time.Time `json:"time"`
}

// BatchResponse is an archived batch
type BatchResponse struct {
	ID      string           `json:"id"`
	Start   time.Time        `json:"start"`
	Records []RecordResponse `json:"records"`
}

func newBatchResponse(b batch.Batch) BatchResponse {
	resp := BatchResponse{
		ID:      b.ID.String(),
		Start:   b.Start(),
		Records: make([]RecordResponse, 0, len(b.Records)),
	}
	for _, r := range b.Records {
		resp.Records = append(resp.Records, RecordResponse{Data: string(r.Data), Time: r.Time})
	}
	return resp
}

// ServerConfig holds configuration for the API server
type ServerConfig struct {
	Addr     string
	APIKey   string // empty disables authentication
	BulkSize int    // default for OpenRequest
}

// Ingestor is the handle layer the server drives
type Ingestor interface {
	Open(bulkSize int) (ingest.Handle, error)
	Lookup(h ingest.Handle) (*ingest.Conn, bool)
	Close(h ingest.Handle)
	Stats() ingest.Stats
}

// BatchArchive serves archived batches
type BatchArchive interface {
	Get(id ksuid.KSUID) (batch.Batch, error)
	List(limit int) ([]batch.Batch, error)
}
