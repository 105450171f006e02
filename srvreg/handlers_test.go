package srvreg

import (
	"encoding/json"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/packhouse/coldstore/repository"
)

func postRequest(path, body string) *Request {
	return &Request{
		Method:    "POST",
		Path:      path,
		Body:      body,
		RequestID: "deadbeefcafe0000",
	}
}

func TestCreateBatchHandler(t *testing.T) {
	registry, _ := newTestRegistry(t)

	resp, err := registry.CreateBatchHandler(postRequest("/batches",
		`{"customer_name":"Harbhajan Lal","village":"Rampur","expected_by_key":{"fuerte_4kg_class1_size20":100}}`))
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Contains(t, resp.Body, "batch_id")
}

func TestCreateBatchHandlerRejectsBadBody(t *testing.T) {
	registry, _ := newTestRegistry(t)

	resp, err := registry.CreateBatchHandler(postRequest("/batches", "{broken"))
	assert.Error(t, err)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	resp, err = registry.CreateBatchHandler(postRequest("/batches", `{"village":"Rampur"}`))
	assert.Error(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "missing customer name")
}

func TestCreateTestBatchHandler(t *testing.T) {
	registry, _ := newTestRegistry(t)

	resp, err := registry.CreateTestBatchHandler(postRequest("/batches/test", ""))
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Contains(t, resp.Body, "BATCH-deadbeef")
}

func TestOutstandingBatchesHandler(t *testing.T) {
	registry, _ := newTestRegistry(t)

	resp, err := registry.OutstandingBatchesHandler(&Request{Method: "GET", Path: "/batches/outstanding"})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Count   int               `json:"count"`
		Batches []json.RawMessage `json:"batches"`
	}
	require.NoError(t, json.Unmarshal([]byte(resp.Body), &body))
	assert.Zero(t, body.Count)
	assert.NotNil(t, body.Batches, "empty list encodes as [], not null")
}

func TestRecordLoadsHandlerFlow(t *testing.T) {
	registry, _ := newTestRegistry(t)

	resp, err := registry.CreateTestBatchHandler(postRequest("/batches/test", ""))
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	loadBody := `{"operator_id":"OPR-002","items":[{"key":"fuerte_4kg_class1_size20","quantity":40,"room_id":"ROOM-A","batch_id":"BATCH-deadbeef"}]}`
	resp, err = registry.RecordLoadsHandler(postRequest("/loads", loadBody))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var result struct {
		LotIDs         []string `json:"lot_ids"`
		UpdatedBatches []struct {
			BatchID         string `json:"batch_id"`
			ProgressPercent int    `json:"progress_percent"`
			Status          string `json:"status"`
		} `json:"updated_batches"`
	}
	require.NoError(t, json.Unmarshal([]byte(resp.Body), &result))
	assert.Len(t, result.LotIDs, 1)
	require.Len(t, result.UpdatedBatches, 1)
	assert.Equal(t, 40, result.UpdatedBatches[0].ProgressPercent)
	assert.Equal(t, "loading_in_progress", result.UpdatedBatches[0].Status)
}

func TestRecordLoadsHandlerRequiresOperator(t *testing.T) {
	registry, _ := newTestRegistry(t)

	resp, err := registry.RecordLoadsHandler(postRequest("/loads", `{"items":[]}`))
	assert.Error(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestUpdateProgressHandlerNotFound(t *testing.T) {
	registry, _ := newTestRegistry(t)

	resp, err := registry.UpdateProgressHandler(postRequest("/batch/BATCH-MISSING/progress",
		`{"total_loaded":10,"progress_percent":10}`))
	assert.Error(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestRemoveLotHandlerNotFound(t *testing.T) {
	registry, _ := newTestRegistry(t)

	resp, err := registry.RemoveLotHandler(postRequest("/lot/LOT-MISSING/remove",
		`{"room_id":"ROOM-A","quantity":5,"operator_id":"OPR-001"}`))
	assert.Error(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestRemoveLotHandlerRequiresRoom(t *testing.T) {
	registry, _ := newTestRegistry(t)

	resp, err := registry.RemoveLotHandler(postRequest("/lot/LOT-1/remove",
		`{"quantity":5,"operator_id":"OPR-001"}`))
	assert.Error(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestRemoveLotHandlerInsufficientQuantity(t *testing.T) {
	registry, repo := newTestRegistry(t)

	result, repoErr := repo.RecordLoads("OPR-002", []repository.LoadItem{
		{Key: "fuerte_4kg_class1_size20", Quantity: 10, RoomID: "ROOM-A"},
	})
	require.Nil(t, repoErr)
	require.Len(t, result.LotIDs, 1)

	resp, err := registry.RemoveLotHandler(postRequest(
		fmt.Sprintf("/lot/%s/remove", result.LotIDs[0]),
		`{"room_id":"ROOM-A","quantity":50,"operator_id":"OPR-001"}`))
	assert.Error(t, err)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
}

func TestCreateManualPalletHandlerConflict(t *testing.T) {
	registry, _ := newTestRegistry(t)

	body := `{"name":"mixed-1","room_id":"ROOM-A","operator_id":"OPR-001","boxes_per_pallet":288,` +
		`"lots":[{"lot_id":"LOT-1","key":"fuerte_4kg_class1_size20","quantity":288}]}`

	resp, err := registry.CreateManualPalletHandler(postRequest("/pallets/manual", body))
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	// Same classification in the same room inside the dedupe window.
	resp, err = registry.CreateManualPalletHandler(postRequest("/pallets/manual", body))
	assert.Error(t, err)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Contains(t, resp.Body, "fuerte_4kg_class1_size20")
}

func TestCreateManualPalletHandlerInsufficientBoxes(t *testing.T) {
	registry, _ := newTestRegistry(t)

	body := `{"name":"mixed-1","room_id":"ROOM-A","operator_id":"OPR-001","boxes_per_pallet":288,` +
		`"lots":[{"lot_id":"LOT-1","key":"fuerte_4kg_class1_size20","quantity":100}]}`
	resp, err := registry.CreateManualPalletHandler(postRequest("/pallets/manual", body))
	assert.Error(t, err)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
}

func TestRepackRoomHandler(t *testing.T) {
	registry, _ := newTestRegistry(t)

	resp, err := registry.RepackRoomHandler(postRequest("/room/ROOM-A/repack",
		`{"removed":[],"returned":[{"key":"fuerte_4kg_class1_size20","quantity":10}],"operator_id":"OPR-001"}`))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	lotsResp, err := registry.ListRoomLotsHandler(&Request{Method: "GET", Path: "/room/ROOM-A/lots"})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, lotsResp.StatusCode)

	var body struct {
		Count int `json:"count"`
	}
	require.NoError(t, json.Unmarshal([]byte(lotsResp.Body), &body))
	assert.Equal(t, 1, body.Count)
}

func TestListPalletsHandlerEmpty(t *testing.T) {
	registry, _ := newTestRegistry(t)

	resp, err := registry.ListPalletsHandler(&Request{Method: "GET", Path: "/pallets"})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Count   int               `json:"count"`
		Pallets []json.RawMessage `json:"pallets"`
	}
	require.NoError(t, json.Unmarshal([]byte(resp.Body), &body))
	assert.Zero(t, body.Count)
	assert.NotNil(t, body.Pallets)
}
