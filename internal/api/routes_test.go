package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"tradeexec/internal/broker"
	"tradeexec/internal/models"
	"tradeexec/internal/service"
	"tradeexec/pkg/crypto"
	"tradeexec/pkg/utils"
)

type stubStats struct{}

func (stubStats) GetExecutionStats(ctx context.Context) (*models.ExecutionStats, error) {
	return &models.ExecutionStats{Completed: 3}, nil
}

func (stubStats) GetInstanceMetrics() []broker.InstanceMetrics { return nil }

type stubSwitches struct{ state models.KillSwitchState }

func (s *stubSwitches) State() models.KillSwitchState { return s.state }

func (s *stubSwitches) Set(riskExits, trading *bool) models.KillSwitchState {
	if riskExits != nil {
		s.state.RiskExitsDisabled = *riskExits
	}
	if trading != nil {
		s.state.TradingDisabled = *trading
	}
	return s.state
}

var _ service.StatsServiceInterface = stubStats{}

func TestSetupRoutes(t *testing.T) {
	hash, err := crypto.HashToken("ops-token")
	if err != nil {
		t.Fatal(err)
	}
	streamed := false
	router := SetupRoutes(&Dependencies{
		StatsService: stubStats{},
		KillSwitches: &stubSwitches{},
		Stream:       func(w http.ResponseWriter, r *http.Request) { streamed = true },
		OpsTokenHash: hash,
		Logger:       utils.NewNopLogger(),
	})

	tests := []struct {
		name   string
		method string
		path   string
		token  string
		body   string
		want   int
	}{
		{"health is public", http.MethodGet, "/health", "", "", http.StatusOK},
		{"metrics is public", http.MethodGet, "/metrics", "", "", http.StatusOK},
		{"api requires token", http.MethodGet, "/api/v1/stats/execution", "", "", http.StatusUnauthorized},
		{"api with token", http.MethodGet, "/api/v1/stats/execution", "ops-token", "", http.StatusOK},
		{"instance metrics", http.MethodGet, "/api/v1/instances/metrics", "ops-token", "", http.StatusOK},
		{"kill switch patch", http.MethodPatch, "/api/v1/killswitch", "ops-token", `{"auto_trading_disabled":true}`, http.StatusOK},
		{"reload without manager", http.MethodPost, "/api/v1/ratelimits/reload", "ops-token", "", http.StatusServiceUnavailable},
		{"stream requires token", http.MethodGet, "/ws/stream", "", "", http.StatusUnauthorized},
		{"stream with token", http.MethodGet, "/ws/stream", "ops-token", "", http.StatusOK},
		{"unregistered service", http.MethodGet, "/api/v1/legs", "ops-token", "", http.StatusNotFound},
		{"wrong method", http.MethodDelete, "/api/v1/killswitch", "ops-token", "", http.StatusMethodNotAllowed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var req *http.Request
			if tt.body != "" {
				req = httptest.NewRequest(tt.method, tt.path, strings.NewReader(tt.body))
			} else {
				req = httptest.NewRequest(tt.method, tt.path, nil)
			}
			if tt.token != "" {
				req.Header.Set("Authorization", "Bearer "+tt.token)
			}
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)
			if w.Code != tt.want {
				t.Errorf("expected %d, got %d: %s", tt.want, w.Code, w.Body.String())
			}
		})
	}

	if !streamed {
		t.Error("stream handler was not reached")
	}
}
