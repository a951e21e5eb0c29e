package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/peerflow/matchengine/internal/config"
	"github.com/peerflow/matchengine/internal/matching"
	"github.com/peerflow/matchengine/internal/pipeline"
	"github.com/peerflow/matchengine/internal/queue"
	"github.com/peerflow/matchengine/internal/settlement"
	"github.com/peerflow/matchengine/internal/stats"
	"github.com/peerflow/matchengine/internal/store"
	"github.com/peerflow/matchengine/pkg/logger"
	"github.com/peerflow/matchengine/pkg/models"
)

type okLedger struct{}

func (okLedger) Debit(context.Context, uuid.UUID, decimal.Decimal, string) error  { return nil }
func (okLedger) Credit(context.Context, uuid.UUID, decimal.Decimal, string) error { return nil }

func newTestServer(t *testing.T, steps []pipeline.Step) *Server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	log := logger.Nop()
	pool := queue.NewPool()
	st := store.NewMemoryStore()

	cfg, err := matching.ParseConfig(config.Default().Matching)
	require.NoError(t, err)

	engine := matching.NewEngine(cfg, matching.Policy{RequeueBump: 1, RequeueBumpCap: 10}, matching.Deps{
		Pool:     pool,
		Pipeline: pipeline.NewRunner(steps, 50*time.Millisecond, log),
		Store:    st,
		Settler:  settlement.NewProcessor(st, okLedger{}, log),
		Stats:    stats.NewAggregator(pool.Depths, nil),
		Logger:   log,
	})
	t.Cleanup(engine.Close)

	return NewServer(log, engine, nil, config.Default().Server)
}

func doJSON(t *testing.T, s *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)
	return w
}

func submitBody(direction, amount string) models.SubmitRequest {
	return models.SubmitRequest{
		Direction:     direction,
		AccountID:     uuid.NewString(),
		Amount:        amount,
		PaymentMethod: "bank",
	}
}

func TestSubmitEndpoint(t *testing.T) {
	s := newTestServer(t, nil)

	w := doJSON(t, s, http.MethodPost, "/api/v1/queue", submitBody("withdrawal", "100"))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var resp struct {
		Item models.QueueItem `json:"item"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, models.ItemPending, resp.Item.Status)
	assert.NotEqual(t, uuid.Nil, resp.Item.ID)
}

func TestSubmitEndpointRejectsBadInput(t *testing.T) {
	s := newTestServer(t, nil)

	w := doJSON(t, s, http.MethodPost, "/api/v1/queue", submitBody("sideways", "100"))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, s, http.MethodPost, "/api/v1/queue", submitBody("deposit", "not-a-number"))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, s, http.MethodPost, "/api/v1/queue", submitBody("deposit", "-4"))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSubmitEndpointRiskRejected(t *testing.T) {
	// A zero max score vetoes everything.
	risk := pipeline.NewRiskStep(&pipeline.StaticSignals{Default: 50}, 0)
	s := newTestServer(t, []pipeline.Step{risk})

	w := doJSON(t, s, http.MethodPost, "/api/v1/queue", submitBody("deposit", "100"))
	require.Equal(t, http.StatusUnprocessableEntity, w.Code, w.Body.String())

	var resp struct {
		RiskScore int `json:"risk_score"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Greater(t, resp.RiskScore, 0)
}

func TestGetItemEndpoint(t *testing.T) {
	s := newTestServer(t, nil)

	w := doJSON(t, s, http.MethodPost, "/api/v1/queue", submitBody("withdrawal", "50"))
	require.Equal(t, http.StatusCreated, w.Code)
	var created struct {
		Item models.QueueItem `json:"item"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))

	w = doJSON(t, s, http.MethodGet, "/api/v1/queue/"+created.Item.ID.String(), nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, s, http.MethodGet, "/api/v1/queue/"+uuid.NewString(), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = doJSON(t, s, http.MethodGet, "/api/v1/queue/not-a-uuid", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCancelEndpoint(t *testing.T) {
	s := newTestServer(t, nil)

	w := doJSON(t, s, http.MethodPost, "/api/v1/queue", submitBody("deposit", "25"))
	require.Equal(t, http.StatusCreated, w.Code)
	var created struct {
		Item models.QueueItem `json:"item"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	path := "/api/v1/queue/" + created.Item.ID.String()

	w = doJSON(t, s, http.MethodDelete, path, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	// Cancelling again conflicts.
	w = doJSON(t, s, http.MethodDelete, path, nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = doJSON(t, s, http.MethodDelete, "/api/v1/queue/"+uuid.NewString(), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestListItemsEndpointFilters(t *testing.T) {
	s := newTestServer(t, nil)

	for i := 0; i < 3; i++ {
		w := doJSON(t, s, http.MethodPost, "/api/v1/queue", submitBody("withdrawal", fmt.Sprintf("%d", 100+i)))
		require.Equal(t, http.StatusCreated, w.Code)
	}
	w := doJSON(t, s, http.MethodPost, "/api/v1/queue", submitBody("deposit", "500"))
	require.Equal(t, http.StatusCreated, w.Code)

	w = doJSON(t, s, http.MethodGet, "/api/v1/queue?direction=withdrawal", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Items []models.QueueItem `json:"items"`
		Count int                `json:"count"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 3, resp.Count)
	for _, item := range resp.Items {
		assert.Equal(t, models.DirectionWithdrawal, item.Direction)
	}

	w = doJSON(t, s, http.MethodGet, "/api/v1/queue?min_amount=400", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Count)
}

func TestListMatchesEndpoint(t *testing.T) {
	s := newTestServer(t, nil)

	w := doJSON(t, s, http.MethodPost, "/api/v1/queue", submitBody("withdrawal", "100"))
	require.Equal(t, http.StatusCreated, w.Code)
	w = doJSON(t, s, http.MethodPost, "/api/v1/queue", submitBody("deposit", "100"))
	require.Equal(t, http.StatusCreated, w.Code)

	require.Eventually(t, func() bool {
		w := doJSON(t, s, http.MethodGet, "/api/v1/matches?status=completed", nil)
		if w.Code != http.StatusOK {
			return false
		}
		var resp struct {
			Count int `json:"count"`
		}
		if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
			return false
		}
		return resp.Count == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestStatsEndpoint(t *testing.T) {
	s := newTestServer(t, nil)

	w := doJSON(t, s, http.MethodPost, "/api/v1/queue", submitBody("withdrawal", "10"))
	require.Equal(t, http.StatusCreated, w.Code)

	w = doJSON(t, s, http.MethodGet, "/api/v1/queue/stats", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var snap models.QueueStats
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &snap))
	assert.Equal(t, int64(1), snap.Submitted)
	assert.Equal(t, int64(1), snap.PendingWithdrawals)
}

func TestHealthAndMetricsEndpoints(t *testing.T) {
	s := newTestServer(t, nil)

	w := doJSON(t, s, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, s, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}
