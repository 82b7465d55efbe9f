package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"nftmarket/pkg/config"
	"nftmarket/pkg/reconcile"
)

func memoryConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Env:                 "test",
		CORSAllowedOrigins:  []string{"*"},
		LedgerBackend:       config.LedgerMemory,
		LockBackend:         config.LockLocal,
		ContentBackend:      config.ContentLocal,
		ContentDir:          t.TempDir(),
		MaxContentBytes:     1 << 20,
		ChainBackend:        config.ChainSim,
		ChainConfirmTimeout: time.Second,
		WalletSalt:          "test",
		ReconcileInterval:   time.Minute,
		PendingMintGrace:    time.Minute,
	}
}

func TestNewApplication_MemoryBackends(t *testing.T) {
	gin.SetMode(gin.TestMode)
	a, err := newApplication(context.Background(), memoryConfig(t))
	require.NoError(t, err)
	defer a.Close()

	router := newRouter(a)

	body, _ := json.Marshal(map[string]any{"external_id": 42, "display_name": "alice"})
	req := httptest.NewRequest(http.MethodPost, "/users", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/market", nil))
	require.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/admin/report", nil))
	require.Equal(t, http.StatusServiceUnavailable, w.Code)

	rep, err := a.reconciler.RunOnce(context.Background())
	require.NoError(t, err)
	require.Zero(t, rep.Faults)
}

type brokenWriter struct{}

func (brokenWriter) Write(p []byte) (int, error) { return 0, errors.New("stdout closed") }

func TestPrintJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, printJSON(&buf, reconcile.Report{Resumed: 2, Faults: 1}))

	var got reconcile.Report
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	require.Equal(t, 2, got.Resumed)
	require.Equal(t, 1, got.Faults)

	require.ErrorContains(t, printJSON(&buf, map[string]any{"bad": make(chan int)}), "encode report")
	require.Error(t, printJSON(brokenWriter{}, reconcile.Report{}))
}
