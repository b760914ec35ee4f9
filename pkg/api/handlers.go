package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/segmentio/ksuid"
	"github.com/ssargent/bulkline/pkg/ingest"
	"github.com/ssargent/bulkline/pkg/metrics"
	"github.com/ssargent/bulkline/pkg/storage"
	"go.uber.org/zap"
)

const (
	// maxChunkBytes bounds a single chunk request body
	maxChunkBytes = 8 << 20

	defaultListLimit = 20
)

// Server holds the API server state
type Server struct {
	ingest  Ingestor
	archive BatchArchive
	config  ServerConfig
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// NewServer creates a new API server. archive may be nil when the archive
// sink is disabled.
func NewServer(ingestor Ingestor, archive BatchArchive, config ServerConfig, logger *zap.Logger, m *metrics.Metrics) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.BulkSize < 1 {
		config.BulkSize = 1
	}
	return &Server{
		ingest:  ingestor,
		archive: archive,
		config:  config,
		logger:  logger,
		metrics: m,
	}
}

// handleHealth reports liveness
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	sendSuccess(w, map[string]string{"status": "healthy"})
}

// handleStats returns connection counters
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	sendSuccess(w, s.ingest.Stats())
}

// handleOpen opens a connection and returns its handle
func (s *Server) handleOpen(w http.ResponseWriter, r *http.Request) {
	var req OpenRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			sendError(w, "Invalid JSON in request body", http.StatusBadRequest)
			return
		}
	}
	if req.BulkSize == 0 {
		req.BulkSize = s.config.BulkSize
	}

	h, err := s.ingest.Open(req.BulkSize)
	if err != nil {
		if errors.Is(err, ingest.ErrInvalidBulkSize) {
			sendError(w, err.Error(), http.StatusBadRequest)
			return
		}
		sendError(w, fmt.Sprintf("Failed to open connection: %v", err), http.StatusInternalServerError)
		return
	}

	sendCreated(w, OpenResponse{Handle: h.String(), BulkSize: req.BulkSize})
}

// handleFeed feeds the raw request body to a connection as one chunk
func (s *Server) handleFeed(w http.ResponseWriter, r *http.Request) {
	h, ok := s.handleParam(w, r)
	if !ok {
		return
	}
	conn, ok := s.ingest.Lookup(h)
	if !ok {
		sendError(w, "Connection not found", http.StatusNotFound)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxChunkBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			sendError(w, "Chunk too large", http.StatusRequestEntityTooLarge)
			return
		}
		sendError(w, "Failed to read request body", http.StatusBadRequest)
		return
	}

	conn.Feed(body)
	sendSuccess(w, FeedResponse{Handle: h.String(), Bytes: len(body)})
}

// handleClose flushes and closes a connection
func (s *Server) handleClose(w http.ResponseWriter, r *http.Request) {
	h, ok := s.handleParam(w, r)
	if !ok {
		return
	}
	if _, ok := s.ingest.Lookup(h); !ok {
		sendError(w, "Connection not found", http.StatusNotFound)
		return
	}

	s.ingest.Close(h)
	sendSuccess(w, map[string]string{"message": "Connection closed"})
}

// handleGetBatch returns one archived batch
func (s *Server) handleGetBatch(w http.ResponseWriter, r *http.Request) {
	if s.archive == nil {
		sendError(w, "Archive is disabled", http.StatusNotFound)
		return
	}

	id, err := ksuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		sendError(w, "Invalid batch id", http.StatusBadRequest)
		return
	}

	b, err := s.archive.Get(id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			sendError(w, "Batch not found", http.StatusNotFound)
			return
		}
		s.logger.Error("archive_get_failed", zap.Stringer("batch", id), zap.Error(err))
		sendError(w, fmt.Sprintf("Failed to read batch: %v", err), http.StatusInternalServerError)
		return
	}

	sendSuccess(w, newBatchResponse(b))
}

// handleListBatches returns archived batches, oldest first
func (s *Server) handleListBatches(w http.ResponseWriter, r *http.Request) {
	if s.archive == nil {
		sendError(w, "Archive is disabled", http.StatusNotFound)
		return
	}

	limit := defaultListLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			sendError(w, "Invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}

	batches, err := s.archive.List(limit)
	if err != nil {
		s.logger.Error("archive_list_failed", zap.Error(err))
		sendError(w, fmt.Sprintf("Failed to list batches: %v", err), http.StatusInternalServerError)
		return
	}

	out := make([]BatchResponse, 0, len(batches))
	for _, b := range batches {
		out = append(out, newBatchResponse(b))
	}
	sendSuccess(w, out)
}

func (s *Server) handleParam(w http.ResponseWriter, r *http.Request) (ingest.Handle, bool) {
	h, err := ingest.ParseHandle(chi.URLParam(r, "handle"))
	if err != nil || h == ingest.InvalidHandle {
		sendError(w, "Invalid connection handle", http.StatusBadRequest)
		return ingest.InvalidHandle, false
	}
	return h, true
}
