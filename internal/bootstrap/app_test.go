package bootstrap

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"invoice-backend/internal/invoices"
	"invoice-backend/internal/shared/config"
	"invoice-backend/internal/worker"
)

func devConfig(t *testing.T) config.Config {
	t.Helper()
	dir := t.TempDir()
	return config.Config{
		Env:                  "dev",
		StagingDir:           filepath.Join(dir, "staging"),
		LocalBlobDir:         filepath.Join(dir, "blobs"),
		WorkerConcurrency:    2,
		WorkerMessageTimeout: 5 * time.Second,
		MaxContentBytes:      1 << 20,
	}
}

func TestBuildDevDefaults(t *testing.T) {
	app, err := Build(devConfig(t))
	require.NoError(t, err)
	defer app.Close()

	assert.Nil(t, app.DB)
	assert.Nil(t, app.Verifier)
	assert.IsType(t, &invoices.MemoryRepo{}, app.InvoicesRepo)
	assert.True(t, app.RunsWorkersInProcess())
	assert.Len(t, app.Workers(), 2)
}

func TestBuildRequiresDatabaseOutsideDev(t *testing.T) {
	cfg := devConfig(t)
	cfg.Env = "production"
	cfg.JWTSecret = "secret"

	_, err := Build(cfg)
	assert.Error(t, err)
}

func TestBuildRequiresSecretInProduction(t *testing.T) {
	_, err := buildVerifier(config.Config{Env: "production"})
	assert.Error(t, err)

	v, err := buildVerifier(config.Config{Env: "production", JWTSecret: "secret"})
	require.NoError(t, err)
	assert.NotNil(t, v)
}

func TestAppUploadsCreatedInvoice(t *testing.T) {
	gin.SetMode(gin.TestMode)
	app, err := Build(devConfig(t))
	require.NoError(t, err)
	defer app.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- worker.RunAll(ctx, app.Workers()...) }()
	defer func() {
		cancel()
		<-done
	}()

	body, _ := json.Marshal(map[string]string{"customerId": "c1", "content": "Hello"})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/invoices", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	app.Router.ServeHTTP(w, req)
	require.Equal(t, http.StatusCreated, w.Code)

	var created struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))

	require.Eventually(t, func() bool {
		inv, err := app.InvoicesRepo.FindByID(context.Background(), created.ID)
		return err == nil && inv.Uploaded
	}, 5*time.Second, 20*time.Millisecond)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/invoices/"+created.ID+"/download", nil)
	w = httptest.NewRecorder()
	app.Router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, bytes.HasPrefix(w.Body.Bytes(), []byte("%PDF")))
}
