package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"

	"github.com/swap2you/chakraops-sub000/internal/config"
	"github.com/swap2you/chakraops-sub000/internal/database"
	"github.com/swap2you/chakraops-sub000/internal/domain"
	"github.com/swap2you/chakraops-sub000/internal/evaluation"
	"github.com/swap2you/chakraops-sub000/internal/events"
	"github.com/swap2you/chakraops-sub000/internal/heartbeat"
	"github.com/swap2you/chakraops-sub000/internal/market_regime"
	"github.com/swap2you/chakraops-sub000/internal/modules/chains"
	"github.com/swap2you/chakraops-sub000/internal/modules/decisions"
	"github.com/swap2you/chakraops-sub000/internal/modules/freeze"
	"github.com/swap2you/chakraops-sub000/internal/modules/market_hours"
	"github.com/swap2you/chakraops-sub000/internal/modules/positions"
	"github.com/swap2you/chakraops-sub000/internal/modules/snapshots"
	"github.com/swap2you/chakraops-sub000/internal/modules/universe"
	chtesting "github.com/swap2you/chakraops-sub000/internal/testing"
)

type serverFixture struct {
	srv     *Server
	store   *decisions.Store
	regimes *market_regime.Repository
	bus     *events.Bus
}

// newServerFixture wires the full API surface over real repositories. The
// decision store is pinned to OPEN so reads resolve the latest file.
func newServerFixture(t *testing.T, uiKey string) *serverFixture {
	t.Helper()
	db, cleanup := chtesting.NewTestDB(t, "chakraops")
	t.Cleanup(cleanup)

	f := &serverFixture{}
	outDir := t.TempDir()
	dataDir := t.TempDir()
	nop := zerolog.Nop()

	store, err := decisions.NewStore(outDir, func() domain.Phase { return domain.PhaseOpen }, nop)
	require.NoError(t, err)
	f.store = store

	calendar, err := market_hours.NewCalendar()
	require.NoError(t, err)

	uniRepo := universe.NewRepository(db.Conn(), nop)
	uni := universe.NewService(uniRepo, []string{"SPY"}, nop)
	require.NoError(t, uni.Bootstrap())
	require.NoError(t, uni.Add(universe.Entry{Symbol: "AAPL", Enabled: true, Priority: 1}))

	snapRepo := snapshots.NewRepository(db.Conn(), nop)
	builder := snapshots.NewBuilder(
		snapRepo, snapshots.NewCSVSource(filepath.Join(dataDir, "snapshot_input.csv"), nop),
		uni, calendar.Location(), nil, false, nop)

	f.regimes = market_regime.NewRepository(db.Conn(), nop)
	detector := market_regime.NewDetector(snapRepo, f.regimes, []string{"SPY"}, nop)

	strategy, err := config.LoadStrategy(filepath.Join(t.TempDir(), "evaluation.yaml"))
	require.NoError(t, err)

	engine := evaluation.NewEngine(evaluation.Deps{
		Snapshots: snapRepo,
		Universe:  uni,
		Regimes:   detector,
		Provider:  chains.NewMockProvider(nil),
		Strategy:  strategy,
		Calendar:  calendar,
	}, domain.RunModeMock, nop)

	f.bus = events.NewBus(nop)
	freezeSvc := freeze.NewService(store, calendar, f.bus, nil, outDir, nop)

	srv := New(Config{
		Log:             nop,
		Cfg:             &config.Config{Port: 0, DataDir: dataDir, UIAPIKey: uiKey, DevMode: true},
		Decisions:       store,
		Engine:          engine,
		Guard:           freeze.NewGuard(nop),
		Freeze:          freezeSvc,
		FreezeState:     freeze.NewStateRepository(db.Conn(), nop),
		Calendar:        calendar,
		Universe:        uni,
		SnapshotRepo:    snapRepo,
		SnapshotBuilder: builder,
		Regimes:         detector,
		Alerts:          heartbeat.NewAlertRepository(db.Conn(), nop),
		Positions:       positions.NewService(positions.NewRepository(db.Conn(), nop), nop),
		Worker:          heartbeat.NewWorker(heartbeat.Deps{}, heartbeat.Options{}, nop),
		Bus:             f.bus,
		Databases:       map[string]*database.DB{"chakraops": db},
	})
	f.srv = srv
	return f
}

func (f *serverFixture) do(t *testing.T, method, path, body, uiKey string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	if uiKey != "" {
		req.Header.Set("x-ui-key", uiKey)
	}
	rec := httptest.NewRecorder()
	f.srv.Router().ServeHTTP(rec, req)
	return rec
}

func TestHealthEndpointSkipsAuth(t *testing.T) {
	f := newServerFixture(t, "secret")

	rec := f.do(t, http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAuthMiddleware(t *testing.T) {
	f := newServerFixture(t, "secret")

	rec := f.do(t, http.MethodGet, "/api/alerts", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/alerts", "", "wrong")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/alerts", "", "secret")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestDecisionEndpoints(t *testing.T) {
	f := newServerFixture(t, "")

	rec := f.do(t, http.MethodGet, "/api/decision/active", "", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	require.NoError(t, f.store.SetLatest(chtesting.NewArtifact("run-7", map[string]domain.Verdict{
		"AAPL": domain.VerdictEligible,
	})))

	rec = f.do(t, http.MethodGet, "/api/decision/active", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var artifact domain.DecisionArtifact
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &artifact))
	assert.Equal(t, "run-7", artifact.Metadata.RunID)

	rec = f.do(t, http.MethodGet, "/api/decision/symbol/AAPL", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var view decisions.SymbolView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.Equal(t, domain.VerdictEligible, view.Summary.Verdict)

	rec = f.do(t, http.MethodGet, "/api/decision/symbol/ZZZT", "", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/decision/history", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var history struct {
		Runs  []string `json:"runs"`
		Count int      `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &history))
	assert.Equal(t, []string{"run-7"}, history.Runs)

	rec = f.do(t, http.MethodGet, "/api/decision/history/run-7", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = f.do(t, http.MethodGet, "/api/decision/history/run-unknown", "", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSchedulerHealthEndpoint(t *testing.T) {
	f := newServerFixture(t, "")

	rec := f.do(t, http.MethodGet, "/api/scheduler/health", "", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var health heartbeat.Health
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	assert.False(t, health.IsRunning)
	assert.Zero(t, health.CycleCount)
}

func TestRegimeEndpoint(t *testing.T) {
	f := newServerFixture(t, "")

	rec := f.do(t, http.MethodGet, "/api/market/regime", "", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	require.NoError(t, f.regimes.Insert(&market_regime.Record{
		RecordedAt:      time.Now().Add(-5 * time.Minute),
		Regime:          domain.RegimeRiskOn,
		BenchmarkSymbol: "SPY",
		BenchmarkReturn: 0.004,
		SmoothedReturn:  0.003,
		Confidence:      80,
		Method:          market_regime.MethodTwoSnapshot,
	}))

	rec = f.do(t, http.MethodGet, "/api/market/regime", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var payload struct {
		Record     market_regime.Record `json:"record"`
		AgeMinutes float64              `json:"age_minutes"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	assert.Equal(t, domain.RegimeRiskOn, payload.Record.Regime)
	assert.Greater(t, payload.AgeMinutes, 4.0)
}

func TestPositionsAPI(t *testing.T) {
	f := newServerFixture(t, "")

	rec := f.do(t, http.MethodPost, "/api/positions/", `{"symbol":"aapl","strategy":"CSP","quantity":2,"credit":4.80,"contract_key":"AAPL 2026-04-17 165P"}`, "")
	require.Equal(t, http.StatusCreated, rec.Code)
	var opened positions.Position
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &opened))
	assert.Equal(t, "AAPL", opened.Symbol)

	// Validation errors map to 400.
	rec = f.do(t, http.MethodPost, "/api/positions/", `{"symbol":"AAPL","credit":-1}`, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/positions/?status=OPEN", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Count int `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Equal(t, 1, list.Count)

	rec = f.do(t, http.MethodPost, "/api/positions/"+opened.ID+"/close", "", "")
	require.Equal(t, http.StatusOK, rec.Code)

	// Closing twice is an invalid lifecycle transition.
	rec = f.do(t, http.MethodPost, "/api/positions/"+opened.ID+"/close", "", "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = f.do(t, http.MethodDelete, "/api/positions/"+opened.ID, "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = f.do(t, http.MethodDelete, "/api/positions/"+opened.ID, "", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMountedModuleRoutes(t *testing.T) {
	f := newServerFixture(t, "")

	rec := f.do(t, http.MethodGet, "/api/universe/", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "SPY")

	rec = f.do(t, http.MethodGet, "/api/market/phase?at=2026-03-03T15:00:00Z", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	// Explicit CSV build with no input file is a client error.
	rec = f.do(t, http.MethodPost, "/api/snapshots/build", `{"mode":"CSV"}`, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/freeze/state", "", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSystemHealthEndpoint(t *testing.T) {
	f := newServerFixture(t, "")

	rec := f.do(t, http.MethodGet, "/api/system/health", "", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var payload map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	assert.Contains(t, payload, "databases")
	assert.Contains(t, payload, "process")
	assert.Contains(t, payload, "scheduler")
}

func TestEventsStreamDeliversBusEvents(t *testing.T) {
	f := newServerFixture(t, "")
	ts := httptest.NewServer(f.srv.Router())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/events"
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	// Give the handler a beat to subscribe before publishing.
	require.Eventually(t, func() bool { return f.bus.SubscriberCount() > 0 }, 2*time.Second, 10*time.Millisecond)

	f.bus.Publish(&events.AlertRaisedData{
		Level:   domain.AlertInfo,
		Kind:    "new_candidate",
		Symbol:  "AAPL",
		Message: "AAPL entered the eligible set",
	})

	_, data, err := conn.Read(ctx)
	require.NoError(t, err)

	var event struct {
		Type string `json:"type"`
		Data struct {
			Symbol string `json:"symbol"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(data, &event))
	assert.Equal(t, "alert_raised", event.Type)
	assert.Equal(t, "AAPL", event.Data.Symbol)
}
