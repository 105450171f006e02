// Package server exposes the cold-storage services over HTTP and records
// every handled request/response pair in the audit ledger.
package server

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/packhouse/coldstore/audit"
	service_registry "github.com/packhouse/coldstore/srvreg"
)

// WebServer handles HTTP requests
type WebServer struct {
	httpAddr        string
	server          *http.Server
	logger          *slog.Logger
	startTime       time.Time
	serviceRegistry *service_registry.ServiceRegistry
	ledger          *audit.Ledger
}

// AuditRef identifies the ledger record written for a handled request.
type AuditRef struct {
	TxID         string       `json:"tx_id,omitempty"`
	Seq          uint64       `json:"seq,omitempty"`
	RequestID    string       `json:"request_id"`
	RecordedAt   time.Time    `json:"recorded_at"`
	ResponseInfo ResponseInfo `json:"response_info"`
}

// ResponseInfo contains information about the response
type ResponseInfo struct {
	StatusCode  int    `json:"status_code"`
	ContentType string `json:"content_type,omitempty"`
	BodyLength  int    `json:"body_length"`
}

// ClientResponse is the response format sent to clients
type ClientResponse struct {
	StatusCode int               `json:"-"` // Not included in JSON
	Headers    map[string]string `json:"-"` // Not included in JSON
	Body       interface{}       `json:"body"`
	Meta       AuditRef          `json:"meta"`
}

// AuditEntryView is the client-facing shape of one ledger entry.
type AuditEntryView struct {
	Seq         uint64                        `json:"seq"`
	TxID        string                        `json:"tx_id"`
	Transaction *service_registry.Transaction `json:"transaction,omitempty"`
}

// NewWebServer creates a new web server
func NewWebServer(httpPort string, logger *slog.Logger, serviceRegistry *service_registry.ServiceRegistry, ledger *audit.Ledger) *WebServer {
	mux := http.NewServeMux()

	server := &WebServer{
		httpAddr: ":" + httpPort,
		server: &http.Server{
			Addr:    ":" + httpPort,
			Handler: mux,
		},
		logger:          logger,
		startTime:       time.Now(),
		serviceRegistry: serviceRegistry,
		ledger:          ledger,
	}

	// Register routes. Everything not matched by a specific route goes
	// through the service registry.
	mux.HandleFunc("/", server.handleAPI)
	mux.HandleFunc("/debug", server.handleDebug)
	mux.HandleFunc("/audit/", server.handleAudit)

	return server
}

// Start starts the web server
func (ws *WebServer) Start() error {
	ws.logger.Info("Starting web server", "addr", ws.httpAddr)
	go func() {
		if err := ws.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			ws.logger.Error("web server error", "err", err)
		}
	}()
	return nil
}

// Shutdown gracefully shuts down the web server
func (ws *WebServer) Shutdown(ctx context.Context) error {
	ws.logger.Info("Shutting down web server")
	return ws.server.Shutdown(ctx)
}

// handleRoot shows a minimal status page
func (ws *WebServer) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		JSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "text/html")

	w.Write([]byte("<h1>Cold Storage Reconciliation Node</h1>"))
	w.Write([]byte("<p>Uptime: " + time.Since(ws.startTime).String() + "</p>"))
	w.Write([]byte(`<p>Debug info: <a href="/debug">/debug</a></p>`))
}

// handleDebug provides debugging information
func (ws *WebServer) handleDebug(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		JSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	debugInfo := map[string]interface{}{
		"http_address": ws.httpAddr,
		"started_at":   ws.startTime,
		"uptime":       time.Since(ws.startTime).String(),
	}

	// Surface the head of the ledger so operators can eyeball liveness
	recent, err := ws.ledger.Recent(1)
	if err != nil {
		debugInfo["ledger_error"] = err.Error()
	} else if len(recent) > 0 {
		debugInfo["last_ledger_seq"] = recent[0].Seq
		debugInfo["last_ledger_tx"] = recent[0].TxID
	} else {
		debugInfo["last_ledger_seq"] = 0
	}

	w.Header().Set("Content-Type", "application/json")
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(debugInfo); err != nil {
		JSONError(w, "Error encoding response: "+err.Error(), http.StatusInternalServerError)
		return
	}
}

// handleAudit serves ledger lookups: GET /audit/ lists recent entries,
// GET /audit/{txID} returns one recorded transaction.
func (ws *WebServer) handleAudit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		JSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	txID := strings.TrimPrefix(r.URL.Path, "/audit/")
	if txID == "" {
		entries, err := ws.ledger.Recent(20)
		if err != nil {
			JSONError(w, "Error reading ledger: "+err.Error(), http.StatusInternalServerError)
			return
		}

		views := make([]AuditEntryView, 0, len(entries))
		for _, entry := range entries {
			views = append(views, ws.entryView(entry))
		}

		w.Header().Set("Content-Type", "application/json")
		encoder := json.NewEncoder(w)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(views); err != nil {
			JSONError(w, "Error encoding response: "+err.Error(), http.StatusInternalServerError)
		}
		return
	}

	entry, err := ws.ledger.Get(txID)
	if err != nil {
		if errors.Is(err, audit.ErrNotFound) {
			JSONError(w, "Transaction not found", http.StatusNotFound)
			return
		}
		JSONError(w, "Error reading ledger: "+err.Error(), http.StatusInternalServerError)
		return
	}

	view := ws.entryView(*entry)
	w.Header().Set("Content-Type", "application/json")
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(view); err != nil {
		JSONError(w, "Error encoding response: "+err.Error(), http.StatusInternalServerError)
	}
}

func (ws *WebServer) entryView(entry audit.Entry) AuditEntryView {
	view := AuditEntryView{Seq: entry.Seq, TxID: entry.TxID}

	var tx service_registry.Transaction
	if err := json.Unmarshal(entry.Data, &tx); err == nil {
		tx.Response.BodyInterface = tx.Response.ParseBody()
		view.Transaction = &tx
	} else {
		ws.logger.Error("Failed to parse ledger entry", "seq", entry.Seq, "err", err)
	}

	return view
}

// handleAPI routes a request through the service registry and appends the
// request/response pair to the audit ledger before replying.
func (ws *WebServer) handleAPI(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/" {
		ws.handleRoot(w, r)
		return
	}

	requestID, err := generateRequestID()
	if err != nil {
		JSONError(w, "Internal Server Error", http.StatusInternalServerError)
		ws.logger.Error("Failed to generate request ID", "err", err)
		return
	}

	request, err := service_registry.ConvertHTTPRequest(r, requestID)
	if err != nil {
		JSONError(w, "Failed to convert request: "+err.Error(), http.StatusUnprocessableEntity)
		ws.logger.Error("Failed to convert HTTP request", "err", err)
		return
	}

	response, err := request.GenerateResponse(ws.serviceRegistry)
	if response == nil {
		JSONError(w, "Failed to generate response", http.StatusInternalServerError)
		ws.logger.Error("Handler returned no response", "path", request.Path, "err", err)
		return
	}
	if err != nil {
		// Handlers return a mapped response alongside the error; the
		// response is still what the client gets.
		ws.logger.Info("Handler rejected request",
			"path", request.Path,
			"status", response.StatusCode,
			"err", err,
		)
	}

	meta := AuditRef{
		RequestID:  requestID,
		RecordedAt: time.Now(),
		ResponseInfo: ResponseInfo{
			StatusCode:  response.StatusCode,
			ContentType: response.Headers["Content-Type"],
			BodyLength:  len(response.Body),
		},
	}

	transaction := &service_registry.Transaction{
		Request:  *request,
		Response: *response,
	}
	txBytes, serErr := transaction.SerializeToBytes()
	if serErr != nil {
		ws.logger.Error("Failed to serialize transaction", "err", serErr)
	} else {
		seq, txID, appendErr := ws.ledger.Append(txBytes)
		if appendErr != nil {
			// The database write already happened; losing the audit
			// record is logged, not surfaced as a request failure.
			ws.logger.Error("Failed to append to audit ledger", "err", appendErr)
		} else {
			meta.Seq = seq
			meta.TxID = txID
		}
	}

	apiResponse := ClientResponse{
		StatusCode: response.StatusCode,
		Headers:    response.Headers,
		Body:       response.ParseBody(),
		Meta:       meta,
	}

	for key, value := range response.Headers {
		w.Header().Set(key, value)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(response.StatusCode)
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(apiResponse); err != nil {
		ws.logger.Error("Failed to encode client response", "err", err)
	}

	ws.logger.Info("=== Req-Res Pair Result ===",
		"path", transaction.Request.Path,
		"method", transaction.Request.Method,
		"status", transaction.Response.StatusCode,
		"tx_id", meta.TxID,
	)
}

func generateRequestID() (string, error) {
	bytes := make([]byte, 16)
	_, err := rand.Read(bytes)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(bytes), nil
}

// JSONError sends a JSON formatted error response with the given status code and message
func JSONError(w http.ResponseWriter, message string, statusCode int) {
	errorResponse := struct {
		Error string `json:"error"`
	}{
		Error: message,
	}
	jsonBytes, err := json.Marshal(errorResponse)
	if err != nil {
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	// Set content type and status code
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	// Write JSON response
	w.Write(jsonBytes)
}
