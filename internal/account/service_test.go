package account

import (
	"context"
	"testing"

	"delta-core/internal/trading"
	"delta-core/pkg/delta"
)

type fakeReader struct {
	positions []delta.MarginedPosition
	orders    []delta.Order
	fills     []delta.Fill
	after     string
	lastPage  delta.PageQuery
}

func (f *fakeReader) GetAllPositions(context.Context) ([]delta.MarginedPosition, error) {
	return f.positions, nil
}

func (f *fakeReader) GetOrderHistory(_ context.Context, page delta.PageQuery) ([]delta.Order, string, error) {
	f.lastPage = page
	return f.orders, f.after, nil
}

func (f *fakeReader) GetFills(_ context.Context, page delta.PageQuery) ([]delta.Fill, string, error) {
	f.lastPage = page
	return f.fills, f.after, nil
}

func (f *fakeReader) GetLiveOrders(context.Context) ([]delta.Order, error) {
	return f.orders, nil
}

func testService(f *fakeReader) *Service {
	return NewService().WithReaderFactory(func(trading.Credentials) Reader { return f })
}

var creds = trading.Credentials{APIKey: "k", APISecret: "s"}

func TestPnLAggregatesAcrossPositions(t *testing.T) {
	svc := testService(&fakeReader{positions: []delta.MarginedPosition{
		{ProductSymbol: "BTCUSD", RealizedPnL: "10.5", UnrealizedPnL: "-2.5"},
		{ProductSymbol: "BTCUSD", RealizedPnL: "4", UnrealizedPnL: "1"},
		{ProductSymbol: "ETHUSD", RealizedPnL: "-3", UnrealizedPnL: "0.5"},
	}})

	got, err := svc.PnL(context.Background(), creds)
	if err != nil {
		t.Fatalf("PnL failed: %v", err)
	}

	if got.TotalRealizedPnL != 11.5 || got.TotalUnrealizedPnL != -1 {
		t.Errorf("unexpected totals: %+v", got)
	}
	if got.TotalPnL != 10.5 {
		t.Errorf("total pnl mismatch: %v", got.TotalPnL)
	}
	if got.PositionCount != 3 {
		t.Errorf("position count mismatch: %d", got.PositionCount)
	}

	if len(got.BySymbol) != 2 {
		t.Fatalf("expected 2 symbols, got %d", len(got.BySymbol))
	}
	btc := got.BySymbol[0]
	if btc.Symbol != "BTCUSD" || btc.RealizedPnL != 14.5 || btc.PositionCount != 2 {
		t.Errorf("unexpected BTCUSD breakdown: %+v", btc)
	}
}

func TestPnLMalformedDecimalCountsAsZero(t *testing.T) {
	svc := testService(&fakeReader{positions: []delta.MarginedPosition{
		{ProductSymbol: "BTCUSD", RealizedPnL: "garbage", UnrealizedPnL: ""},
	}})

	got, err := svc.PnL(context.Background(), creds)
	if err != nil {
		t.Fatalf("PnL failed: %v", err)
	}
	if got.TotalPnL != 0 {
		t.Errorf("malformed values must count as zero, got %v", got.TotalPnL)
	}
}

func TestOrderHistoryClampsPageSize(t *testing.T) {
	fake := &fakeReader{orders: []delta.Order{{ID: 1}}, after: "cur-2"}
	svc := testService(fake)

	page, err := svc.OrderHistory(context.Background(), creds, 9999, "cur-1")
	if err != nil {
		t.Fatalf("OrderHistory failed: %v", err)
	}
	if fake.lastPage.PageSize != 100 || fake.lastPage.After != "cur-1" {
		t.Errorf("unexpected page query: %+v", fake.lastPage)
	}
	if page.After != "cur-2" || len(page.Orders) != 1 {
		t.Errorf("unexpected page: %+v", page)
	}
}

func TestReadsRequireCredentials(t *testing.T) {
	svc := testService(&fakeReader{})
	if _, err := svc.Positions(context.Background(), trading.Credentials{}); err == nil {
		t.Error("expected credential error for Positions")
	}
	if _, err := svc.Fills(context.Background(), trading.Credentials{APIKey: "k"}, 10, ""); err == nil {
		t.Error("expected credential error for Fills")
	}
}
