package trading

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"delta-core/pkg/db"
	"delta-core/pkg/delta"
)

// fakeGateway scripts gateway responses and records every call.
type fakeGateway struct {
	order    *delta.Order
	orderErr error

	positionSizes []float64 // successive GetPosition sizes; last repeats
	positionCalls int

	bracketResp  json.RawMessage
	bracketErr   error
	bracketCalls int
	bracketReqs  []delta.BracketOrderRequest

	orderReqs []delta.OrderRequest
}

func (f *fakeGateway) CreateOrder(_ context.Context, req delta.OrderRequest) (*delta.Order, error) {
	f.orderReqs = append(f.orderReqs, req)
	if f.orderErr != nil {
		return nil, f.orderErr
	}
	return f.order, nil
}

func (f *fakeGateway) GetPosition(_ context.Context, _ int) (*delta.Position, error) {
	size := 0.0
	if len(f.positionSizes) > 0 {
		i := f.positionCalls
		if i >= len(f.positionSizes) {
			i = len(f.positionSizes) - 1
		}
		size = f.positionSizes[i]
	}
	f.positionCalls++
	return &delta.Position{Size: size}, nil
}

func (f *fakeGateway) CreateBracketOrder(_ context.Context, req delta.BracketOrderRequest) (json.RawMessage, error) {
	f.bracketCalls++
	f.bracketReqs = append(f.bracketReqs, req)
	if f.bracketErr != nil {
		return nil, f.bracketErr
	}
	if f.bracketResp == nil {
		return json.RawMessage(`{"id":900}`), nil
	}
	return f.bracketResp, nil
}

func (f *fakeGateway) CancelAllOrders(_ context.Context, _ int) error { return nil }

func newTestService(gw Gateway) (*Service, *[]time.Duration) {
	sleeps := &[]time.Duration{}
	svc := NewService(nil, nil).
		WithGatewayFactory(func(Credentials) Gateway { return gw }).
		WithSleeper(func(_ context.Context, d time.Duration) error {
			*sleeps = append(*sleeps, d)
			return nil
		})
	return svc, sleeps
}

func testCreds() Credentials {
	return Credentials{APIKey: "k", APISecret: "s"}
}

func restingOrder() *delta.Order {
	return &delta.Order{ID: 4242, ProductID: 27, State: delta.OrderStateOpen}
}

func executedOrder() *delta.Order {
	fill := "100.5"
	return &delta.Order{ID: 4242, ProductID: 27, State: delta.OrderStateClosed, AverageFillPrice: &fill}
}

func TestResolveInstrumentPrecedence(t *testing.T) {
	cases := []struct {
		name    string
		params  OrderParams
		want    instrument
		wantErr string
	}{
		{"product id wins", OrderParams{ProductID: 27, ProductSymbol: "ETHUSD", Symbol: "BTC"}, instrument{ProductID: 27}, ""},
		{"product symbol normalized", OrderParams{ProductSymbol: " btcusd "}, instrument{ProductSymbol: "BTCUSD"}, ""},
		{"known symbol mapped", OrderParams{Symbol: "eth"}, instrument{ProductSymbol: "ETHUSD"}, ""},
		{"unknown symbol", OrderParams{Symbol: "DOGE"}, instrument{}, "known symbols: BTC, ETH"},
		{"nothing provided", OrderParams{}, instrument{}, "is required"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := resolveInstrument(tc.params)
			if tc.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
					t.Fatalf("expected error containing %q, got %v", tc.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.want {
				t.Errorf("got %+v, want %+v", got, tc.want)
			}
		})
	}
}

func TestUnknownSymbolMakesNoGatewayCalls(t *testing.T) {
	gw := &fakeGateway{order: restingOrder()}
	svc, _ := newTestService(gw)

	res := svc.PlaceLimitOrderAndWait(context.Background(), testCreds(), OrderParams{
		EntryPrice: 100, Size: 1, Side: "buy", Symbol: "DOGE",
	})

	if res.Success {
		t.Fatal("expected failure for unknown symbol")
	}
	if !strings.Contains(res.Error, "BTC, ETH") {
		t.Errorf("error should name known symbols, got %q", res.Error)
	}
	if len(gw.orderReqs) != 0 || gw.positionCalls != 0 || gw.bracketCalls != 0 {
		t.Errorf("expected zero gateway calls, got orders=%d positions=%d brackets=%d",
			len(gw.orderReqs), gw.positionCalls, gw.bracketCalls)
	}
}

func TestRestingOrderPollsUntilPosition(t *testing.T) {
	gw := &fakeGateway{
		order:         restingOrder(),
		positionSizes: []float64{0, 0, 0, 1},
	}
	svc, sleeps := newTestService(gw)

	res := svc.PlaceLimitOrderAndWait(context.Background(), testCreds(), OrderParams{
		EntryPrice: 100, Size: 1, Side: "buy", ProductID: 27,
		StopLossPrice: 95, TakeProfitPrice: 110,
	})

	if !res.Success {
		t.Fatalf("expected success, got error %q", res.Error)
	}
	if gw.positionCalls != 4 {
		t.Errorf("expected exactly 4 position polls, got %d", gw.positionCalls)
	}
	if gw.bracketCalls != 1 {
		t.Fatalf("expected exactly 1 bracket call, got %d", gw.bracketCalls)
	}

	req := gw.bracketReqs[0]
	if req.StopLossOrder == nil || req.StopLossOrder.StopPrice != "95" || req.StopLossOrder.LimitPrice != "95" {
		t.Errorf("unexpected stop-loss leg: %+v", req.StopLossOrder)
	}
	if req.TakeProfitOrder == nil || req.TakeProfitOrder.StopPrice != "110" || req.TakeProfitOrder.LimitPrice != "110" {
		t.Errorf("unexpected take-profit leg: %+v", req.TakeProfitOrder)
	}
	if _, ok := res.OrderData["bracket_order"]; !ok {
		t.Error("expected bracket_order in order data")
	}

	// Resting orders use the long budget (1s between polls).
	for _, d := range *sleeps {
		if d != time.Second {
			t.Errorf("expected 1s retry delay, got %v", d)
		}
	}
	if len(*sleeps) != 3 {
		t.Errorf("expected 3 sleeps between 4 polls, got %d", len(*sleeps))
	}
}

func TestPositionPollExhaustionSkipsBracket(t *testing.T) {
	gw := &fakeGateway{
		order:         restingOrder(),
		positionSizes: []float64{0},
	}
	svc, _ := newTestService(gw)

	res := svc.PlaceLimitOrderAndWait(context.Background(), testCreds(), OrderParams{
		EntryPrice: 100, Size: 1, Side: "buy", ProductID: 27,
		StopLossPrice: 95, TakeProfitPrice: 110,
	})

	if !res.Success {
		t.Fatal("entry order succeeded; exhausted bracket polling must not fail the request")
	}
	if gw.positionCalls != 60 {
		t.Errorf("expected 60 position polls, got %d", gw.positionCalls)
	}
	if gw.bracketCalls != 0 {
		t.Errorf("expected no bracket call after exhaustion, got %d", gw.bracketCalls)
	}

	errMsg, _ := res.OrderData["bracket_order_error"].(string)
	if !strings.Contains(errMsg, "not found after 60 attempts (60s)") {
		t.Errorf("unexpected bracket error: %q", errMsg)
	}
	if _, ok := res.OrderData["bracket_order"]; ok {
		t.Error("bracket_order must not be set on failure")
	}
}

func TestImmediateFillUsesShortBudget(t *testing.T) {
	gw := &fakeGateway{
		order:         executedOrder(),
		positionSizes: []float64{0},
	}
	svc, sleeps := newTestService(gw)

	svc.PlaceLimitOrderAndWait(context.Background(), testCreds(), OrderParams{
		EntryPrice: 100, Size: 1, Side: "sell", ProductID: 27,
		StopLossPrice: 105,
	})

	if gw.positionCalls != 10 {
		t.Errorf("expected 10 position polls for an executed order, got %d", gw.positionCalls)
	}
	for _, d := range *sleeps {
		if d != 500*time.Millisecond {
			t.Errorf("expected 0.5s retry delay, got %v", d)
		}
	}
}

func TestNoBracketPricesSkipsWorkflow(t *testing.T) {
	gw := &fakeGateway{order: restingOrder()}
	svc, _ := newTestService(gw)

	res := svc.PlaceLimitOrderAndWait(context.Background(), testCreds(), OrderParams{
		EntryPrice: 100, Size: 1, Side: "buy", ProductID: 27,
	})

	if !res.Success {
		t.Fatalf("expected success, got %q", res.Error)
	}
	if gw.positionCalls != 0 || gw.bracketCalls != 0 {
		t.Errorf("expected no bracket activity, got positions=%d brackets=%d", gw.positionCalls, gw.bracketCalls)
	}
	for _, key := range []string{"bracket_order", "bracket_order_error", "bracket_order_note"} {
		if _, ok := res.OrderData[key]; ok {
			t.Errorf("unexpected key %q in order data", key)
		}
	}
}

func TestSymbolOnlySkipsPositionPolling(t *testing.T) {
	gw := &fakeGateway{order: &delta.Order{ID: 7, State: delta.OrderStateOpen}}
	svc, _ := newTestService(gw)

	res := svc.PlaceLimitOrderAndWait(context.Background(), testCreds(), OrderParams{
		EntryPrice: 100, Size: 1, Side: "buy", Symbol: "BTC",
		StopLossPrice: 95,
	})

	if !res.Success {
		t.Fatalf("expected success, got %q", res.Error)
	}
	if gw.positionCalls != 0 {
		t.Errorf("no product_id available, polling should be skipped; got %d polls", gw.positionCalls)
	}
	if gw.bracketCalls != 1 {
		t.Errorf("expected direct bracket placement, got %d calls", gw.bracketCalls)
	}
	if gw.bracketReqs[0].ProductSymbol != "BTCUSD" {
		t.Errorf("expected BTCUSD bracket, got %q", gw.bracketReqs[0].ProductSymbol)
	}
}

func TestBracketRejectionIsSurfacedNotRaised(t *testing.T) {
	gw := &fakeGateway{
		order:         restingOrder(),
		positionSizes: []float64{1},
		bracketErr:    errors.New("delta: no_open_position (status 400)"),
	}
	svc, _ := newTestService(gw)

	res := svc.PlaceLimitOrderAndWait(context.Background(), testCreds(), OrderParams{
		EntryPrice: 100, Size: 1, Side: "buy", ProductID: 27,
		TakeProfitPrice: 110,
	})

	if !res.Success {
		t.Fatal("bracket rejection must not fail the entry order")
	}
	errMsg, _ := res.OrderData["bracket_order_error"].(string)
	if !strings.Contains(errMsg, "no_open_position") {
		t.Errorf("expected exchange rejection in bracket_order_error, got %q", errMsg)
	}
}

func TestEntryRejectionFailsRequest(t *testing.T) {
	gw := &fakeGateway{orderErr: errors.New("delta: insufficient_margin (status 400)")}
	svc, _ := newTestService(gw)

	res := svc.PlaceLimitOrderAndWait(context.Background(), testCreds(), OrderParams{
		EntryPrice: 100, Size: 1, Side: "buy", ProductID: 27,
		StopLossPrice: 95,
	})

	if res.Success {
		t.Fatal("expected failure when the entry order is rejected")
	}
	if !strings.Contains(res.Error, "insufficient_margin") {
		t.Errorf("unexpected error: %q", res.Error)
	}
	if gw.positionCalls != 0 || gw.bracketCalls != 0 {
		t.Error("no bracket activity may follow a rejected entry order")
	}
}

func TestAuditRecordsBracketFailureNote(t *testing.T) {
	database, err := db.New(":memory:")
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	if err := db.ApplyMigrations(database); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	store := database.Store()

	gw := &fakeGateway{
		order:         restingOrder(),
		positionSizes: []float64{0},
	}
	svc := NewService(store, nil).
		WithGatewayFactory(func(Credentials) Gateway { return gw }).
		WithSleeper(func(context.Context, time.Duration) error { return nil })

	res := svc.PlaceLimitOrderAndWait(context.Background(), testCreds(), OrderParams{
		EntryPrice: 100, Size: 1, Side: "buy", ProductID: 27,
		StopLossPrice: 95, TakeProfitPrice: 110,
	})
	if !res.Success {
		t.Fatalf("expected success, got %q", res.Error)
	}

	records, err := store.ListPlacedOrders(context.Background(), 10)
	if err != nil {
		t.Fatalf("list placed orders: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected one audit record, got %d", len(records))
	}
	rec := records[0]
	if rec.BracketStatus != "failed" {
		t.Errorf("expected bracket status failed, got %q", rec.BracketStatus)
	}
	if !strings.Contains(rec.BracketError, "not found after 60 attempts") {
		t.Errorf("bracket error not recorded: %q", rec.BracketError)
	}
	if !strings.Contains(rec.BracketNote, "protection orders did not attach") {
		t.Errorf("bracket note not recorded: %q", rec.BracketNote)
	}
}

func TestMissingCredentialsRejectedBeforeNetwork(t *testing.T) {
	gw := &fakeGateway{order: restingOrder()}
	svc, _ := newTestService(gw)

	res := svc.PlaceLimitOrderAndWait(context.Background(), Credentials{}, OrderParams{
		EntryPrice: 100, Size: 1, Side: "buy", ProductID: 27,
	})

	if res.Success || !strings.Contains(res.Error, "api key and secret") {
		t.Fatalf("expected credential validation error, got %+v", res)
	}
	if len(gw.orderReqs) != 0 {
		t.Error("expected zero gateway calls")
	}
}
