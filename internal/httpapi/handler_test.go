package httpapi

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"pkt.systems/occupd/api"
	"pkt.systems/occupd/internal/bus"
	"pkt.systems/occupd/internal/clock"
	"pkt.systems/occupd/internal/core"
	"pkt.systems/occupd/internal/lockmgr"
	"pkt.systems/occupd/internal/unitstore"
	"pkt.systems/occupd/internal/unitstore/memory"
)

type testEnv struct {
	handler *Handler
	mux     *http.ServeMux
	store   *memory.Store
	bus     *bus.Memory
	svc     *core.Service
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	clk := clock.Real{}
	store := memory.New()
	locks := lockmgr.New(lockmgr.Config{KV: lockmgr.NewMemoryKV(clk), Clock: clk})
	b := bus.NewMemory(nil)
	svc := core.New(core.Config{Store: store, Locks: locks, Bus: b, Clock: clk})
	handler := New(Config{Core: svc, Bus: b, Clock: clk, SSEHeartbeat: 50 * time.Millisecond})
	mux := http.NewServeMux()
	handler.Routes(mux)
	return &testEnv{handler: handler, mux: mux, store: store, bus: b, svc: svc}
}

func seedUnit(env *testEnv, id string, subUnits int) {
	unit := &unitstore.Unit{ID: id, Key: "key-" + id, Version: 1}
	for i := 0; i < subUnits; i++ {
		unit.SubUnits = append(unit.SubUnits, unitstore.SubUnit{
			ID:   "S" + string(rune('1'+i)),
			Kind: unitstore.KindAssemblyOnly,
		})
	}
	env.store.Put(unit)
}

func postJSON(t *testing.T, env *testEnv, path string, payload any) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	env.mux.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, dst any) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(dst); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func TestTakeEndpoint(t *testing.T) {
	env := newTestEnv(t)
	seedUnit(env, "u1", 3)

	rec := postJSON(t, env, "/v1/take", api.TakeRequest{UnitID: "u1", Worker: "anna", Operation: "assembly"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var unit api.UnitResponse
	decodeBody(t, rec, &unit)
	if unit.Occupied == nil || unit.Occupied.Holder != "anna" {
		t.Fatalf("unexpected unit response: %+v", unit)
	}
	if rec.Header().Get("X-Correlation-Id") == "" {
		t.Fatal("no correlation id header")
	}
}

func TestTakeConflict(t *testing.T) {
	env := newTestEnv(t)
	seedUnit(env, "u1", 3)

	if rec := postJSON(t, env, "/v1/take", api.TakeRequest{UnitID: "u1", Worker: "anna", Operation: "assembly"}); rec.Code != http.StatusOK {
		t.Fatalf("first take: %d", rec.Code)
	}
	rec := postJSON(t, env, "/v1/take", api.TakeRequest{UnitID: "u1", Worker: "bert", Operation: "assembly"})
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rec.Code)
	}
	var resp api.ErrorResponse
	decodeBody(t, rec, &resp)
	if resp.ErrorCode != "occupied" {
		t.Fatalf("error code = %q, want occupied", resp.ErrorCode)
	}
	if !strings.Contains(resp.Detail, "anna") {
		t.Fatalf("detail does not name the holder: %q", resp.Detail)
	}
}

func TestFinishEndpoint(t *testing.T) {
	env := newTestEnv(t)
	seedUnit(env, "u1", 2)

	if rec := postJSON(t, env, "/v1/take", api.TakeRequest{UnitID: "u1", Worker: "anna", Operation: "assembly"}); rec.Code != http.StatusOK {
		t.Fatalf("take: %d", rec.Code)
	}
	rec := postJSON(t, env, "/v1/finish", api.FinishRequest{UnitID: "u1", Worker: "anna", SubUnits: []string{"S1"}})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var resp api.FinishResponse
	decodeBody(t, rec, &resp)
	if resp.Outcome != "pause" || resp.Achieved != 1 || resp.Required != 2 {
		t.Fatalf("unexpected finish response: %+v", resp)
	}
}

func TestUnknownUnit(t *testing.T) {
	env := newTestEnv(t)
	rec := postJSON(t, env, "/v1/take", api.TakeRequest{UnitID: "nope", Worker: "anna", Operation: "assembly"})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	var resp api.ErrorResponse
	decodeBody(t, rec, &resp)
	if resp.ErrorCode != "not_found" {
		t.Fatalf("error code = %q, want not_found", resp.ErrorCode)
	}
}

func TestInvalidJSON(t *testing.T) {
	env := newTestEnv(t)
	req := httptest.NewRequest(http.MethodPost, "/v1/take", strings.NewReader("{nope"))
	rec := httptest.NewRecorder()
	env.mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	env := newTestEnv(t)
	req := httptest.NewRequest(http.MethodGet, "/v1/take", nil)
	rec := httptest.NewRecorder()
	env.mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", rec.Code)
	}
}

func TestResolveEndpoint(t *testing.T) {
	env := newTestEnv(t)
	seedUnit(env, "u1", 0)

	req := httptest.NewRequest(http.MethodGet, "/v1/resolve?key=key-u1", nil)
	rec := httptest.NewRecorder()
	env.mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var resp api.ResolveResponse
	decodeBody(t, rec, &resp)
	if resp.UnitID != "u1" {
		t.Fatalf("unit id = %q, want u1", resp.UnitID)
	}
}

func TestCorrelationIDPropagates(t *testing.T) {
	env := newTestEnv(t)
	seedUnit(env, "u1", 0)

	body, _ := json.Marshal(api.TakeRequest{UnitID: "u1", Worker: "anna", Operation: "assembly"})
	req := httptest.NewRequest(http.MethodPost, "/v1/take", bytes.NewReader(body))
	req.Header.Set("X-Correlation-Id", "corr-test-42")
	rec := httptest.NewRecorder()
	env.mux.ServeHTTP(rec, req)
	if got := rec.Header().Get("X-Correlation-Id"); got != "corr-test-42" {
		t.Fatalf("correlation id = %q, want corr-test-42", got)
	}
}

func TestEventsStream(t *testing.T) {
	env := newTestEnv(t)
	seedUnit(env, "u1", 0)
	srv := httptest.NewServer(env.mux)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/v1/events", nil)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET /v1/events: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type = %q", ct)
	}

	// The subscription is live once headers arrive; publish through a real
	// operation and expect it on the stream.
	rec := postJSON(t, env, "/v1/take", api.TakeRequest{UnitID: "u1", Worker: "anna", Operation: "assembly"})
	if rec.Code != http.StatusOK {
		t.Fatalf("take: %d", rec.Code)
	}

	scanner := bufio.NewScanner(resp.Body)
	var dataLine string
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "data: ") {
			dataLine = strings.TrimPrefix(line, "data: ")
			break
		}
	}
	if dataLine == "" {
		t.Fatalf("no event data received: %v", scanner.Err())
	}
	var event bus.Event
	if err := json.Unmarshal([]byte(dataLine), &event); err != nil {
		t.Fatalf("decode event: %v", err)
	}
	if event.Type != bus.EventTake || event.UnitID != "u1" || event.Worker != "anna" {
		t.Fatalf("unexpected event: %+v", event)
	}
}
