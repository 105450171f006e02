// Package srvreg maps HTTP method/path patterns to service handlers and
// defines the request/response/transaction types the audit ledger records.
package srvreg

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/packhouse/coldstore/repository"
)

// Request represents the client's original HTTP request
type Request struct {
	Method     string            `json:"method"`
	Path       string            `json:"path"`
	Headers    map[string]string `json:"headers"`
	Body       string            `json:"body"`
	RemoteAddr string            `json:"remote_addr"`
	RequestID  string            `json:"request_id"` // Unique ID for the request
	Timestamp  time.Time         `json:"timestamp"`
}

// Response represents the computed response from a handler
type Response struct {
	StatusCode    int               `json:"status_code"`
	Headers       map[string]string `json:"headers"`
	Body          string            `json:"body"`
	Error         string            `json:"error,omitempty"`
	BodyInterface interface{}       `json:"body_interface,omitempty"`
}

// ParseBody attempts to parse the Response's Body field as JSON
// and returns the structured data or nil if parsing fails.
func (r *Response) ParseBody() interface{} {
	if r.Body == "" {
		return nil
	}

	var bodyMap map[string]interface{}
	if err := json.Unmarshal([]byte(r.Body), &bodyMap); err == nil {
		return bodyMap
	}

	var bodyArray []interface{}
	if err := json.Unmarshal([]byte(r.Body), &bodyArray); err == nil {
		return bodyArray
	}

	return nil
}

// Transaction pairs a Request with its Response. It is the unit the audit
// ledger records for every handled call.
type Transaction struct {
	Request  Request  `json:"request"`
	Response Response `json:"response"`
}

// SerializeToBytes converts the transaction to a byte array for ledger storage
func (t *Transaction) SerializeToBytes() ([]byte, error) {
	return json.Marshal(t)
}

// ServiceHandler is a function type for service handlers
type ServiceHandler func(*Request) (*Response, error)

// RouteKey is used to uniquely identify a route
type RouteKey struct {
	Method string
	Path   string
}

// ServiceRegistry manages all service handlers
type ServiceRegistry struct {
	handlers    map[RouteKey]ServiceHandler
	exactRoutes map[RouteKey]bool // Whether a route is exact or pattern-based
	mu          sync.RWMutex
	repository  *repository.Repository
	logger      *slog.Logger
}

// NewServiceRegistry creates a new service registry
func NewServiceRegistry(repository *repository.Repository, logger *slog.Logger) *ServiceRegistry {
	return &ServiceRegistry{
		handlers:    make(map[RouteKey]ServiceHandler),
		exactRoutes: make(map[RouteKey]bool),
		repository:  repository,
		logger:      logger,
	}
}

// RegisterHandler registers a new service handler
func (sr *ServiceRegistry) RegisterHandler(method, path string, isExactPath bool, handler ServiceHandler) {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	key := RouteKey{Method: strings.ToUpper(method), Path: path}
	sr.handlers[key] = handler
	sr.exactRoutes[key] = isExactPath
}

// GetHandlerForPath finds the appropriate handler for a given path and a boolean of whether or not the handler was found
func (sr *ServiceRegistry) GetHandlerForPath(method, path string) (ServiceHandler, bool) {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	// Try exact match first
	key := RouteKey{Method: strings.ToUpper(method), Path: path}
	if handler, ok := sr.handlers[key]; ok {
		if sr.exactRoutes[key] {
			return handler, true
		}
	}

	// Try pattern matching
	for routeKey, handler := range sr.handlers {
		if routeKey.Method != strings.ToUpper(method) {
			continue
		}

		// Skip exact routes in pattern matching
		if sr.exactRoutes[routeKey] {
			continue
		}

		if matchPath(routeKey.Path, path) {
			return handler, true
		}
	}

	return nil, false
}

// matchPath does simple pattern matching for routes.
// It supports patterns like "/batch/:id" matching "/batch/BATCH-123"
func matchPath(pattern, path string) bool {
	patternParts := strings.Split(pattern, "/")
	pathParts := strings.Split(path, "/")

	if len(patternParts) != len(pathParts) {
		return false
	}

	for i := range patternParts {
		if strings.HasPrefix(patternParts[i], ":") {
			// This is a parameter part, it matches anything
			continue
		}

		if patternParts[i] != pathParts[i] {
			return false
		}
	}

	return true
}

// RegisterDefaultServices sets up the cold-storage service routes.
func (sr *ServiceRegistry) RegisterDefaultServices() {
	// Intake batches
	sr.RegisterHandler("POST", "/batches", true, sr.CreateBatchHandler)
	sr.RegisterHandler("POST", "/batches/test", true, sr.CreateTestBatchHandler)
	sr.RegisterHandler("GET", "/batches/outstanding", true, sr.OutstandingBatchesHandler)
	sr.RegisterHandler("POST", "/batch/:id/progress", false, sr.UpdateProgressHandler)

	// Load operations
	sr.RegisterHandler("POST", "/loads", true, sr.RecordLoadsHandler)

	// Lot adjustments
	sr.RegisterHandler("POST", "/lot/:id/remove", false, sr.RemoveLotHandler)
	sr.RegisterHandler("POST", "/room/:roomID/repack", false, sr.RepackRoomHandler)
	sr.RegisterHandler("GET", "/room/:roomID/lots", false, sr.ListRoomLotsHandler)

	// Pallets
	sr.RegisterHandler("POST", "/pallets/manual", true, sr.CreateManualPalletHandler)
	sr.RegisterHandler("GET", "/pallets", true, sr.ListPalletsHandler)
}

// GenerateResponse executes the request and generates a response
func (req *Request) GenerateResponse(services *ServiceRegistry) (*Response, error) {
	handler, found := services.GetHandlerForPath(req.Method, req.Path)
	if !found {
		services.logger.Info("no handler registered", "method", req.Method, "path", req.Path)
		return &Response{
			StatusCode: http.StatusNotFound,
			Headers:    map[string]string{"Content-Type": "text/plain"},
			Body:       "Service not found for " + req.Method + " " + req.Path,
		}, nil
	}

	return handler(req)
}

// ConvertHTTPRequest converts an http.Request to a Request
func ConvertHTTPRequest(r *http.Request, requestID string) (*Request, error) {
	// Extract headers
	headers := make(map[string]string)
	for name, values := range r.Header {
		if len(values) > 0 {
			headers[name] = values[0]
		}
	}

	// Read body if present
	body := ""
	if r.Body != nil {
		bodyBytes, err := io.ReadAll(r.Body)
		if err != nil {
			return nil, err
		}
		body = compactJSON(string(bodyBytes))
	}

	return &Request{
		Method:     r.Method,
		Path:       r.URL.Path,
		Headers:    headers,
		Body:       body,
		RemoteAddr: r.RemoteAddr,
		RequestID:  requestID,
		Timestamp:  time.Now(),
	}, nil
}

func compactJSON(body string) string {
	var buf bytes.Buffer
	if err := json.Compact(&buf, []byte(body)); err != nil {
		// Not JSON, keep the raw text
		return strings.TrimSpace(body)
	}
	return buf.String()
}
