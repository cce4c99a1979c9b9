package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/City-of-Helsinki/sotepe-efecte-iloq/internal/leader"
	"github.com/City-of-Helsinki/sotepe-efecte-iloq/internal/recon"
	"github.com/City-of-Helsinki/sotepe-efecte-iloq/internal/recon/processor"
	"github.com/City-of-Helsinki/sotepe-efecte-iloq/pkg/errors"
)

type fakeSyncer struct {
	toILoqCalls   int
	toEfecteCalls int
	err           error
}

func (f *fakeSyncer) SyncKeysToILoq(context.Context) (*recon.Result, error) {
	f.toILoqCalls++
	if f.err != nil {
		return nil, f.err
	}
	return &recon.Result{Direction: recon.DirectionEfecteToILoq, Stats: recon.Stats{Processed: 3}}, nil
}

func (f *fakeSyncer) SyncKeysToEfecte(context.Context) (*recon.Result, error) {
	f.toEfecteCalls++
	if f.err != nil {
		return nil, f.err
	}
	return &recon.Result{Direction: recon.DirectionILoqToEfecte}, nil
}

type fakeAuditor struct {
	records []processor.AuditRecord
}

func (f *fakeAuditor) Records(context.Context) ([]processor.AuditRecord, error) {
	return f.records, nil
}

func TestHealthz(t *testing.T) {
	srv := New(DefaultConfig(), &fakeSyncer{}, &fakeAuditor{}, leader.StaticGate(true))

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestSyncEndpoints(t *testing.T) {
	syncer := &fakeSyncer{}
	srv := New(DefaultConfig(), syncer, &fakeAuditor{}, leader.StaticGate(true))

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/sync/iloq", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, syncer.toILoqCalls)

	var result recon.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, 3, result.Stats.Processed)

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/sync/efecte", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, syncer.toEfecteCalls)
}

func TestSyncEndpoint_FailureReturns500(t *testing.T) {
	syncer := &fakeSyncer{err: errors.NewAPIError("iloq", 503, "down")}
	srv := New(DefaultConfig(), syncer, &fakeAuditor{}, leader.StaticGate(true))

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/sync/iloq", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestAuditRecords(t *testing.T) {
	auditor := &fakeAuditor{records: []processor.AuditRecord{
		{From: "efecte", To: "iloq", EntityID: "KEY-1", Message: "cannot create key"},
	}}
	srv := New(DefaultConfig(), &fakeSyncer{}, auditor, leader.StaticGate(true))

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/audit/records", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Count   int                     `json:"count"`
		Records []processor.AuditRecord `json:"records"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 1, body.Count)
	assert.Equal(t, "KEY-1", body.Records[0].EntityID)
}

func TestSyncEndpoint_NonLeaderRejected(t *testing.T) {
	syncer := &fakeSyncer{}
	srv := New(DefaultConfig(), syncer, &fakeAuditor{}, leader.StaticGate(false))

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/sync/iloq", nil))
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Zero(t, syncer.toILoqCalls)
}

func TestMethodNotAllowed(t *testing.T) {
	srv := New(DefaultConfig(), &fakeSyncer{}, &fakeAuditor{}, leader.StaticGate(true))

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/sync/iloq", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
