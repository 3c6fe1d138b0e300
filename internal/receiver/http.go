package receiver

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strings"

	collogspb "go.opentelemetry.io/proto/otlp/collector/logs/v1"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"

	"github.com/fidde/groupsink/pkg/models"
)

// Log level configuration
var verboseLogging = strings.ToLower(os.Getenv("VERBOSE_LOGGING")) == "true"

// maxBodyBytes caps the accepted request body size.
const maxBodyBytes = 1 << 20

// decompressGzip decompresses gzip-encoded data
func decompressGzip(r io.Reader) (io.ReadCloser, error) {
	return gzip.NewReader(r)
}

// HTTPReceiver handles event store and OTLP logs HTTP requests.
type HTTPReceiver struct {
	ingestor *Ingestor
	server   *http.Server
}

// NewHTTPReceiver creates a new HTTP receiver.
func NewHTTPReceiver(addr string, ingestor *Ingestor) *HTTPReceiver {
	r := &HTTPReceiver{ingestor: ingestor}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/{project}/store", r.handleStore)
	mux.HandleFunc("POST /v1/logs", r.handleLogs)
	mux.HandleFunc("/health", r.handleHealth)

	r.server = &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	return r
}

// Start starts the HTTP server.
func (r *HTTPReceiver) Start() error {
	return r.server.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
func (r *HTTPReceiver) Shutdown(ctx context.Context) error {
	return r.server.Shutdown(ctx)
}

// Handler exposes the receiver's handler for tests.
func (r *HTTPReceiver) Handler() http.Handler {
	return r.server.Handler
}

// handleStore handles event submissions from SDKs.
func (r *HTTPReceiver) handleStore(w http.ResponseWriter, req *http.Request) {
	ctx := req.Context()
	project := req.PathValue("project")

	body, ok := r.readBody(w, req)
	if !ok {
		return
	}

	var event models.Event
	if err := json.Unmarshal(body, &event); err != nil {
		http.Error(w, fmt.Sprintf("Failed to parse event: %v", err), http.StatusBadRequest)
		return
	}
	event.Project = project

	result, err := r.ingestor.Ingest(ctx, &event)
	if err != nil {
		log.Printf("Ingest error: %v", err)
		http.Error(w, fmt.Sprintf("Failed to ingest event: %v", err), http.StatusInternalServerError)
		return
	}

	if verboseLogging {
		fmt.Printf("Stored event %s in group %s (new=%v)\n", result.EventID, result.GroupID, result.IsNew)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(result)
}

// handleLogs handles OTLP logs export requests.
func (r *HTTPReceiver) handleLogs(w http.ResponseWriter, req *http.Request) {
	ctx := req.Context()

	body, ok := r.readBody(w, req)
	if !ok {
		return
	}

	// Always try protobuf first (default for OTLP), then fallback to JSON
	var exportReq collogspb.ExportLogsServiceRequest
	if err := proto.Unmarshal(body, &exportReq); err != nil {
		unmarshaler := protojson.UnmarshalOptions{DiscardUnknown: true}
		if jsonErr := unmarshaler.Unmarshal(body, &exportReq); jsonErr != nil {
			log.Printf("Failed to parse logs request: protobuf error: %v, json error: %v", err, jsonErr)
			http.Error(w, fmt.Sprintf("Failed to parse request: protobuf error: %v, json error: %v", err, jsonErr), http.StatusBadRequest)
			return
		}
		if verboseLogging {
			fmt.Println("Parsed logs as JSON")
		}
	} else if verboseLogging {
		fmt.Println("Parsed logs as protobuf")
	}

	events := EventsFromLogs(&exportReq)
	var rejected int64
	for _, event := range events {
		if _, err := r.ingestor.Ingest(ctx, event); err != nil {
			log.Printf("Log ingest error: %v", err)
			rejected++
		}
	}

	if verboseLogging {
		fmt.Printf("Ingested %d events from logs (%d rejected)\n", int64(len(events))-rejected, rejected)
	}

	resp := &collogspb.ExportLogsServiceResponse{}
	if rejected > 0 {
		resp.PartialSuccess = &collogspb.ExportLogsPartialSuccess{
			RejectedLogRecords: rejected,
		}
	}
	r.writeResponse(w, resp)
}

// handleHealth handles health check requests.
func (r *HTTPReceiver) handleHealth(w http.ResponseWriter, req *http.Request) {
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// readBody reads the request body, handling gzip and the size cap.
// It writes the error response itself and reports success.
func (r *HTTPReceiver) readBody(w http.ResponseWriter, req *http.Request) ([]byte, bool) {
	defer req.Body.Close()

	var reader io.Reader = http.MaxBytesReader(w, req.Body, maxBodyBytes)
	if req.Header.Get("Content-Encoding") == "gzip" {
		gz, err := decompressGzip(reader)
		if err != nil {
			http.Error(w, fmt.Sprintf("Failed to decompress: %v", err), http.StatusBadRequest)
			return nil, false
		}
		defer gz.Close()
		reader = gz
	}

	body, err := io.ReadAll(reader)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			http.Error(w, "Request body too large", http.StatusRequestEntityTooLarge)
			return nil, false
		}
		http.Error(w, fmt.Sprintf("Failed to read body: %v", err), http.StatusBadRequest)
		return nil, false
	}
	return body, true
}

// writeResponse writes a protobuf response.
// OTLP always uses protobuf for responses.
func (r *HTTPReceiver) writeResponse(w http.ResponseWriter, resp proto.Message) {
	respBytes, err := proto.Marshal(resp)
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to marshal response: %v", err), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/x-protobuf")
	w.WriteHeader(http.StatusOK)
	w.Write(respBytes)
}
