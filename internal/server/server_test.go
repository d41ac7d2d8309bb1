package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/spendledger/internal/errs"
	inventorydomain "github.com/smallbiznis/spendledger/internal/inventory/domain"
	"github.com/smallbiznis/spendledger/internal/ledgertest"
	"github.com/smallbiznis/spendledger/internal/observability"
	summarydomain "github.com/smallbiznis/spendledger/internal/summary/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type unavailableSummary struct {
	summarydomain.Service
}

func (unavailableSummary) GetEntitySummary(context.Context, summarydomain.SummaryRequest) (summarydomain.Summary, error) {
	return summarydomain.Summary{}, errs.ErrUnavailable
}

func newTestServer(t *testing.T, opts ...ledgertest.Option) (*gin.Engine, *ledgertest.Harness) {
	t.Helper()
	h := ledgertest.New(t, opts...)
	engine := NewEngine(observability.Config{})
	srv := NewServer(ServerParams{
		Gin:          engine,
		Log:          zap.NewNop(),
		InventorySvc: h.Inventory,
		SpendingSvc:  h.Spending,
		SnapshotSvc:  h.Snapshots,
		RelinkSvc:    h.Relink,
		ReconcileSvc: h.Reconcile,
		SummarySvc:   h.Summary,
	})
	srv.RegisterRoutes()
	return engine, h
}

func do(t *testing.T, r http.Handler, method, path string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var out map[string]any
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	}
	return w, out
}

func data(t *testing.T, body map[string]any) map[string]any {
	t.Helper()
	d, ok := body["data"].(map[string]any)
	require.True(t, ok, "missing data in %v", body)
	return d
}

func errorOf(t *testing.T, body map[string]any) map[string]any {
	t.Helper()
	e, ok := body["error"].(map[string]any)
	require.True(t, ok, "missing error in %v", body)
	return e
}

func TestCreateInventoryAndRecordSpend(t *testing.T) {
	r, _ := newTestServer(t)

	w, body := do(t, r, http.MethodPost, "/api/batches", gin.H{"name": " B1 "})
	require.Equal(t, http.StatusCreated, w.Code)
	batch := data(t, body)
	assert.Equal(t, "B1", batch["name"])
	batchID := batch["id"].(string)

	w, body = do(t, r, http.MethodPost, "/api/customers", gin.H{"name": "C1"})
	require.Equal(t, http.StatusCreated, w.Code)
	customerID := data(t, body)["id"].(string)

	w, body = do(t, r, http.MethodPost, "/api/accounts", gin.H{
		"name":        "A1",
		"batch_id":    batchID,
		"customer_id": customerID,
	})
	require.Equal(t, http.StatusCreated, w.Code)
	accountID := data(t, body)["id"].(string)

	w, body = do(t, r, http.MethodPut, "/api/accounts/"+accountID+"/spending/2024-03-01", gin.H{
		"amount":   "50",
		"currency": "usd",
	})
	require.Equal(t, http.StatusOK, w.Code)
	result := data(t, body)
	assert.Equal(t, "inserted", result["outcome"])
	assert.Equal(t, "50", result["delta"])

	w, body = do(t, r, http.MethodPut, "/api/accounts/"+accountID+"/spending/2024-03-01", gin.H{
		"amount":   "80",
		"currency": "USD",
	})
	require.Equal(t, http.StatusOK, w.Code)
	result = data(t, body)
	assert.Equal(t, "replaced", result["outcome"])
	assert.Equal(t, "30", result["delta"])

	w, body = do(t, r, http.MethodGet, "/api/accounts/"+accountID+"/spending/total", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "80", data(t, body)["total"])

	w, body = do(t, r, http.MethodGet, "/api/accounts/"+accountID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "80", data(t, body)["total_spending"])

	w, body = do(t, r, http.MethodGet, "/api/summary/customer/"+customerID+"?from=2024-03-01&to=2024-03-02", nil)
	require.Equal(t, http.StatusOK, w.Code)
	summary := data(t, body)
	assert.Equal(t, "80", summary["total"])
	assert.Len(t, summary["daily"], 2)
}

func TestRequestErrorsMapToStatus(t *testing.T) {
	r, h := newTestServer(t)
	b1 := h.Batch(t, "B1")
	a1 := h.Account(t, "A1", b1.ID, 0, 0)

	w, body := do(t, r, http.MethodGet, "/api/accounts/not-an-id", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, string(errs.KindInvalidInput), errorOf(t, body)["type"])

	w, body = do(t, r, http.MethodGet, "/api/accounts/12345", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, inventorydomain.ErrUnknownAccount.Code, errorOf(t, body)["code"])

	w, body = do(t, r, http.MethodPut, "/api/accounts/"+a1.ID.String()+"/spending/2024-03-01", gin.H{
		"amount":   "-1",
		"currency": "USD",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid_amount", errorOf(t, body)["code"])

	w, body = do(t, r, http.MethodPut, "/api/accounts/"+a1.ID.String()+"/spending/2024-03-01", gin.H{"currency": "USD"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid_amount", errorOf(t, body)["code"])

	w, body = do(t, r, http.MethodPut, "/api/accounts/"+a1.ID.String()+"/spending/yesterday", gin.H{"amount": "1"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid_date", errorOf(t, body)["code"])

	w, body = do(t, r, http.MethodPost, "/api/accounts", gin.H{"name": "A2", "batch_id": "x"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	e := errorOf(t, body)
	assert.Equal(t, "validation_error", e["code"])
	require.Len(t, e["errors"], 1)

	w, _ = do(t, r, http.MethodGet, "/api/summary/region/"+b1.ID.String(), nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestBulkRelinkPartialFailureAnswersMultiStatus(t *testing.T) {
	r, h := newTestServer(t)
	b1 := h.Batch(t, "B1")
	c1 := h.Customer(t, "C1")
	c2 := h.Customer(t, "C2")
	a1 := h.Account(t, "A1", b1.ID, 0, c1.ID)
	h.Spend(t, a1.ID, "2024-03-01", "10")
	missing := a1.ID + 1000

	w, body := do(t, r, http.MethodPost, "/api/relink/bulk", gin.H{
		"account_ids": []string{a1.ID.String(), missing.String()},
		"axis":        "customer",
		"entity_id":   c2.ID.String(),
	})
	require.Equal(t, http.StatusMultiStatus, w.Code)
	result := data(t, body)
	assert.Equal(t, float64(1), result["changed"])
	assert.Len(t, result["failures"], 1)
	assert.Equal(t, string(errs.KindPartialBatchFailure), errorOf(t, body)["type"])

	assert.Equal(t, "10", h.Counters(t, inventorydomain.EntityCustomer, c2.ID).TotalSpending.String())
}

func TestRelinkAndSnapshots(t *testing.T) {
	r, h := newTestServer(t)
	b1 := h.Batch(t, "B1")
	mi := h.InvoiceEntity(t, "MI1")
	a1 := h.Account(t, "A1", b1.ID, mi.ID, 0)
	h.Spend(t, a1.ID, "2024-03-01", "25")

	w, body := do(t, r, http.MethodPost, "/api/accounts/"+a1.ID.String()+"/relink", gin.H{"axis": "invoice"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, data(t, body)["changed"])

	w, body = do(t, r, http.MethodGet, "/api/accounts/"+a1.ID.String()+"/snapshots", nil)
	require.Equal(t, http.StatusOK, w.Code)
	snaps, ok := body["data"].([]any)
	require.True(t, ok)
	require.Len(t, snaps, 1)
	assert.Equal(t, "25", snaps[0].(map[string]any)["cumulative_amount"])

	w, _ = do(t, r, http.MethodPost, "/api/accounts/"+a1.ID.String()+"/relink", gin.H{"axis": "region"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestVerifyReportsViolationWithEntry(t *testing.T) {
	r, h := newTestServer(t)
	b1 := h.Batch(t, "B1")
	a1 := h.Account(t, "A1", b1.ID, 0, 0)
	h.Spend(t, a1.ID, "2024-03-01", "40")
	h.Corrupt(t, inventorydomain.EntityBatch, b1.ID, "4")

	w, body := do(t, r, http.MethodGet, "/api/reconcile/batch/"+b1.ID.String()+"/verify", nil)
	require.Equal(t, http.StatusConflict, w.Code)
	entry := data(t, body)
	assert.Equal(t, true, entry["violation"])
	assert.Equal(t, "40", entry["new"].(map[string]any)["total_spending"])
	assert.Equal(t, string(errs.KindConsistencyViolation), errorOf(t, body)["type"])

	w, body = do(t, r, http.MethodPost, "/api/reconcile/batch/"+b1.ID.String(), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, data(t, body)["corrected"])

	w, _ = do(t, r, http.MethodGet, "/api/reconcile/batch/"+b1.ID.String()+"/verify", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w, body = do(t, r, http.MethodPost, "/api/reconcile", gin.H{"types": []string{"batches"}})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), data(t, body)["scanned"])

	w, _ = do(t, r, http.MethodPost, "/api/reconcile", gin.H{"types": []string{"region"}})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRunReconcileJob(t *testing.T) {
	r, _ := newTestServer(t)

	w, body := do(t, r, http.MethodPost, "/api/reconcile/jobs", gin.H{"key": "recompute-1", "kind": "RECOMPUTE_ALL"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "completed", data(t, body)["status"])

	w, _ = do(t, r, http.MethodPost, "/api/reconcile/jobs", gin.H{"key": "x", "kind": "explode"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestUnavailableAnswersServiceUnavailable(t *testing.T) {
	h := ledgertest.New(t)
	engine := NewEngine(observability.Config{})
	NewServer(ServerParams{
		Gin:          engine,
		Log:          zap.NewNop(),
		InventorySvc: h.Inventory,
		SpendingSvc:  h.Spending,
		SnapshotSvc:  h.Snapshots,
		RelinkSvc:    h.Relink,
		ReconcileSvc: h.Reconcile,
		SummarySvc:   unavailableSummary{},
	}).RegisterRoutes()

	w, body := do(t, engine, http.MethodGet, "/api/summary/batch/1", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, string(errs.KindUnavailable), errorOf(t, body)["type"])
}

func TestHealth(t *testing.T) {
	r, _ := newTestServer(t)
	w, body := do(t, r, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", body["status"])
}
