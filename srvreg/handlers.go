package srvreg

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/packhouse/coldstore/repository"
	"github.com/packhouse/coldstore/repository/models"
)

var defaultHeaders = map[string]string{"Content-Type": "application/json"}

// repositoryErrorResponse maps a repository error onto the HTTP surface.
// Handlers that need extra context for a specific code handle it before
// falling back to this.
func repositoryErrorResponse(dbErr *repository.RepositoryError) (*Response, error) {
	switch dbErr.Code {
	case repository.CodeNotFound:
		return &Response{
			StatusCode: http.StatusNotFound,
			Headers:    defaultHeaders,
			Body:       fmt.Sprintf(`{"error":"%s"}`, dbErr.Message),
		}, fmt.Errorf("entity not found: %s", dbErr.Message)
	case repository.CodeConflict, repository.CodeDuplicateConversion, repository.PgErrUniqueViolation:
		return &Response{
			StatusCode: http.StatusConflict,
			Headers:    defaultHeaders,
			Body:       fmt.Sprintf(`{"error":"%s","detail":"%s"}`, dbErr.Message, dbErr.Detail),
		}, fmt.Errorf("conflict: %s", dbErr.Message)
	case repository.CodeInsufficientQuantity, repository.CodeInsufficientBoxes:
		return &Response{
			StatusCode: http.StatusUnprocessableEntity,
			Headers:    defaultHeaders,
			Body:       fmt.Sprintf(`{"error":"%s","detail":"%s"}`, dbErr.Message, dbErr.Detail),
		}, fmt.Errorf("%s: %s", strings.ToLower(dbErr.Code), dbErr.Message)
	case repository.CodeInvalidState, repository.PgErrForeignKeyViolation:
		return &Response{
			StatusCode: http.StatusBadRequest,
			Headers:    defaultHeaders,
			Body:       fmt.Sprintf(`{"error":"%s"}`, dbErr.Message),
		}, fmt.Errorf("invalid request: %s", dbErr.Message)
	default:
		return &Response{
			StatusCode: http.StatusInternalServerError,
			Headers:    defaultHeaders,
			Body:       `{"error":"Internal server error"}`,
		}, nil
	}
}

func jsonBody(v interface{}) (string, bool) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", false
	}
	return string(raw), true
}

// CreateBatchHandler stores a finalized counting record with its expected
// per-classification snapshot.
func (sr *ServiceRegistry) CreateBatchHandler(req *Request) (*Response, error) {
	var body repository.CreateBatchInput
	err := json.Unmarshal([]byte(req.Body), &body)
	if err != nil {
		sr.logger.Info("Failed to parse body", "error", err.Error())
		return &Response{
			StatusCode: http.StatusUnprocessableEntity,
			Headers:    defaultHeaders,
			Body:       fmt.Sprintf(`{"error":"Invalid body format: %s"}`, err.Error()),
		}, fmt.Errorf("invalid body format")
	}

	batch, dbErr := sr.repository.CreateIntakeBatch(body)
	if dbErr != nil {
		return repositoryErrorResponse(dbErr)
	}

	return &Response{
		StatusCode: http.StatusCreated,
		Headers:    defaultHeaders,
		Body:       fmt.Sprintf(`{"message":"Batch created","batch_id":"%s","status":"%s"}`, batch.ID, batch.Status),
	}, nil
}

// CreateTestBatchHandler seeds a deterministic batch for dashboard smoke
// tests.
func (sr *ServiceRegistry) CreateTestBatchHandler(req *Request) (*Response, error) {
	batch, dbErr := sr.repository.CreateTestBatch(req.RequestID)
	if dbErr != nil {
		return repositoryErrorResponse(dbErr)
	}

	return &Response{
		StatusCode: http.StatusCreated,
		Headers:    defaultHeaders,
		Body:       fmt.Sprintf(`{"message":"Test batch created","batch_id":"%s"}`, batch.ID),
	}, nil
}

// OutstandingBatchesHandler returns every batch that still has boxes to
// load, with the per-classification remaining view.
func (sr *ServiceRegistry) OutstandingBatchesHandler(req *Request) (*Response, error) {
	outstanding, dbErr := sr.repository.GetOutstandingBatches()
	if dbErr != nil {
		return repositoryErrorResponse(dbErr)
	}

	if outstanding == nil {
		outstanding = []repository.OutstandingBatch{}
	}

	bodyJSON, ok := jsonBody(map[string]interface{}{
		"count":   len(outstanding),
		"batches": outstanding,
	})
	if !ok {
		return &Response{
			StatusCode: http.StatusInternalServerError,
			Headers:    defaultHeaders,
			Body:       `{"error":"Failed to encode batches"}`,
		}, nil
	}

	return &Response{
		StatusCode: http.StatusOK,
		Headers:    defaultHeaders,
		Body:       bodyJSON,
	}, nil
}

type updateProgressHandlerBody struct {
	LoadedByKey     map[string]int `json:"loaded_by_key"`
	TotalLoaded     int            `json:"total_loaded"`
	ProgressPercent int            `json:"progress_percent"`
	RoomID          *string        `json:"room_id"`
}

// UpdateProgressHandler overwrites a batch's loading progress with
// client-computed totals. Kept for the legacy dashboard; RecordLoads is the
// preferred path.
func (sr *ServiceRegistry) UpdateProgressHandler(req *Request) (*Response, error) {
	var body updateProgressHandlerBody
	err := json.Unmarshal([]byte(req.Body), &body)
	if err != nil {
		sr.logger.Info("Failed to parse body", "error", err.Error())
		return &Response{
			StatusCode: http.StatusUnprocessableEntity,
			Headers:    defaultHeaders,
			Body:       fmt.Sprintf(`{"error":"Invalid body format: %s"}`, err.Error()),
		}, fmt.Errorf("invalid body format")
	}

	pathParts := strings.Split(req.Path, "/")
	if len(pathParts) != 4 {
		return &Response{
			StatusCode: http.StatusBadRequest,
			Headers:    defaultHeaders,
			Body:       `{"error":"Invalid path format"}`,
		}, fmt.Errorf("invalid path format")
	}
	batchID := pathParts[2]

	progress, dbErr := sr.repository.UpdateLoadingProgress(batchID, body.LoadedByKey, body.TotalLoaded, body.ProgressPercent, body.RoomID)
	if dbErr != nil {
		return repositoryErrorResponse(dbErr)
	}

	bodyJSON, _ := jsonBody(progress)
	return &Response{
		StatusCode: http.StatusOK,
		Headers:    defaultHeaders,
		Body:       bodyJSON,
	}, nil
}

type recordLoadsHandlerBody struct {
	OperatorID string                `json:"operator_id"`
	Items      []repository.LoadItem `json:"items"`
}

// RecordLoadsHandler applies one scanning session worth of loads. The
// response is partial-success shaped: created lots, updated batches and any
// emitted pallets alongside per-item errors.
func (sr *ServiceRegistry) RecordLoadsHandler(req *Request) (*Response, error) {
	var body recordLoadsHandlerBody
	err := json.Unmarshal([]byte(req.Body), &body)
	if err != nil {
		sr.logger.Info("Failed to parse body", "error", err.Error())
		return &Response{
			StatusCode: http.StatusUnprocessableEntity,
			Headers:    defaultHeaders,
			Body:       fmt.Sprintf(`{"error":"Invalid body format: %s"}`, err.Error()),
		}, fmt.Errorf("invalid body format")
	}

	if body.OperatorID == "" {
		return &Response{
			StatusCode: http.StatusBadRequest,
			Headers:    defaultHeaders,
			Body:       `{"error":"operator ID is required"}`,
		}, fmt.Errorf("operator ID is required")
	}

	result, dbErr := sr.repository.RecordLoads(body.OperatorID, body.Items)
	if dbErr != nil {
		return repositoryErrorResponse(dbErr)
	}

	bodyJSON, ok := jsonBody(result)
	if !ok {
		return &Response{
			StatusCode: http.StatusInternalServerError,
			Headers:    defaultHeaders,
			Body:       `{"error":"Failed to encode load result"}`,
		}, nil
	}

	return &Response{
		StatusCode: http.StatusOK,
		Headers:    defaultHeaders,
		Body:       bodyJSON,
	}, nil
}

type removeLotHandlerBody struct {
	RoomID     string `json:"room_id"`
	Quantity   int    `json:"quantity"`
	OperatorID string `json:"operator_id"`
}

// RemoveLotHandler takes boxes out of a stored lot, deleting the lot when it
// empties.
func (sr *ServiceRegistry) RemoveLotHandler(req *Request) (*Response, error) {
	var body removeLotHandlerBody
	err := json.Unmarshal([]byte(req.Body), &body)
	if err != nil {
		sr.logger.Info("Failed to parse body", "error", err.Error())
		return &Response{
			StatusCode: http.StatusUnprocessableEntity,
			Headers:    defaultHeaders,
			Body:       fmt.Sprintf(`{"error":"Invalid body format: %s"}`, err.Error()),
		}, fmt.Errorf("invalid body format")
	}

	pathParts := strings.Split(req.Path, "/")
	if len(pathParts) != 4 {
		return &Response{
			StatusCode: http.StatusBadRequest,
			Headers:    defaultHeaders,
			Body:       `{"error":"Invalid path format"}`,
		}, fmt.Errorf("invalid path format")
	}
	lotID := pathParts[2]

	if body.RoomID == "" {
		return &Response{
			StatusCode: http.StatusBadRequest,
			Headers:    defaultHeaders,
			Body:       `{"error":"room ID is required"}`,
		}, fmt.Errorf("room ID is required")
	}

	dbErr := sr.repository.RemoveLot(lotID, body.RoomID, body.Quantity, body.OperatorID)
	if dbErr != nil {
		return repositoryErrorResponse(dbErr)
	}

	return &Response{
		StatusCode: http.StatusOK,
		Headers:    defaultHeaders,
		Body:       fmt.Sprintf(`{"message":"Removed %d boxes from lot","lot_id":"%s"}`, body.Quantity, lotID),
	}, nil
}

type repackRoomHandlerBody struct {
	Removed    []repository.KeyQuantity `json:"removed"`
	Returned   []repository.KeyQuantity `json:"returned"`
	OperatorID string                   `json:"operator_id"`
}

// RepackRoomHandler records a repacking session for a room: the audit entry
// is authoritative, lot adjustments are best effort.
func (sr *ServiceRegistry) RepackRoomHandler(req *Request) (*Response, error) {
	var body repackRoomHandlerBody
	err := json.Unmarshal([]byte(req.Body), &body)
	if err != nil {
		sr.logger.Info("Failed to parse body", "error", err.Error())
		return &Response{
			StatusCode: http.StatusUnprocessableEntity,
			Headers:    defaultHeaders,
			Body:       fmt.Sprintf(`{"error":"Invalid body format: %s"}`, err.Error()),
		}, fmt.Errorf("invalid body format")
	}

	pathParts := strings.Split(req.Path, "/")
	if len(pathParts) != 4 {
		return &Response{
			StatusCode: http.StatusBadRequest,
			Headers:    defaultHeaders,
			Body:       `{"error":"Invalid path format"}`,
		}, fmt.Errorf("invalid path format")
	}
	roomID := pathParts[2]

	dbErr := sr.repository.ApplyRepacking(roomID, body.Removed, body.Returned, body.OperatorID)
	if dbErr != nil {
		return repositoryErrorResponse(dbErr)
	}

	return &Response{
		StatusCode: http.StatusOK,
		Headers:    defaultHeaders,
		Body:       fmt.Sprintf(`{"message":"Repacking recorded","room_id":"%s"}`, roomID),
	}, nil
}

// ListRoomLotsHandler returns the lots currently stored in a room.
func (sr *ServiceRegistry) ListRoomLotsHandler(req *Request) (*Response, error) {
	pathParts := strings.Split(req.Path, "/")
	if len(pathParts) != 4 {
		return &Response{
			StatusCode: http.StatusBadRequest,
			Headers:    defaultHeaders,
			Body:       `{"error":"Invalid path format"}`,
		}, fmt.Errorf("invalid path format")
	}
	roomID := pathParts[2]

	lots, dbErr := sr.repository.ListRoomLots(roomID)
	if dbErr != nil {
		return repositoryErrorResponse(dbErr)
	}

	bodyJSON, ok := jsonBody(map[string]interface{}{
		"room_id": roomID,
		"count":   len(lots),
		"lots":    lots,
	})
	if !ok {
		return &Response{
			StatusCode: http.StatusInternalServerError,
			Headers:    defaultHeaders,
			Body:       `{"error":"Failed to encode lots"}`,
		}, nil
	}

	return &Response{
		StatusCode: http.StatusOK,
		Headers:    defaultHeaders,
		Body:       bodyJSON,
	}, nil
}

type createManualPalletHandlerBody struct {
	Name           string                       `json:"name"`
	RoomID         string                       `json:"room_id"`
	Lots           []repository.ManualPalletLot `json:"lots"`
	BoxesPerPallet int                          `json:"boxes_per_pallet"`
	OperatorID     string                       `json:"operator_id"`
}

// CreateManualPalletHandler converts operator-selected lots into a mixed
// pallet.
func (sr *ServiceRegistry) CreateManualPalletHandler(req *Request) (*Response, error) {
	var body createManualPalletHandlerBody
	err := json.Unmarshal([]byte(req.Body), &body)
	if err != nil {
		sr.logger.Info("Failed to parse body", "error", err.Error())
		return &Response{
			StatusCode: http.StatusUnprocessableEntity,
			Headers:    defaultHeaders,
			Body:       fmt.Sprintf(`{"error":"Invalid body format: %s"}`, err.Error()),
		}, fmt.Errorf("invalid body format")
	}

	pallet, dbErr := sr.repository.CreateManualPallet(body.Name, body.RoomID, body.Lots, body.BoxesPerPallet, body.OperatorID)
	if dbErr != nil {
		return repositoryErrorResponse(dbErr)
	}

	return &Response{
		StatusCode: http.StatusCreated,
		Headers:    defaultHeaders,
		Body:       fmt.Sprintf(`{"message":"Pallet created","pallet_id":"%s","pallet_count":%d}`, pallet.ID, pallet.PalletCount),
	}, nil
}

// ListPalletsHandler returns all pallets, newest first.
func (sr *ServiceRegistry) ListPalletsHandler(req *Request) (*Response, error) {
	pallets, dbErr := sr.repository.ListPallets()
	if dbErr != nil {
		return repositoryErrorResponse(dbErr)
	}

	if pallets == nil {
		pallets = []models.Pallet{}
	}

	bodyJSON, ok := jsonBody(map[string]interface{}{
		"count":   len(pallets),
		"pallets": pallets,
	})
	if !ok {
		return &Response{
			StatusCode: http.StatusInternalServerError,
			Headers:    defaultHeaders,
			Body:       `{"error":"Failed to encode pallets"}`,
		}, nil
	}

	return &Response{
		StatusCode: http.StatusOK,
		Headers:    defaultHeaders,
		Body:       bodyJSON,
	}, nil
}
