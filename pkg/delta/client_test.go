package delta

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestCreateOrderSignsRequest(t *testing.T) {
	const secret = "test-secret"
	var gotPayload string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v2/orders" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("api-key") != "test-key" {
			t.Errorf("missing api-key header")
		}
		body, _ := io.ReadAll(r.Body)
		gotPayload = string(body)

		// Recompute the expected signature from the received parts.
		msg := r.Method + r.Header.Get("timestamp") + r.URL.Path + string(body)
		mac := hmac.New(sha256.New, []byte(secret))
		mac.Write([]byte(msg))
		want := hex.EncodeToString(mac.Sum(nil))
		if got := r.Header.Get("signature"); got != want {
			t.Errorf("signature mismatch: got %s want %s", got, want)
		}

		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"success":true,"result":{"id":42,"state":"open","product_id":27}}`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "test-key", secret)
	order, err := c.CreateOrder(context.Background(), OrderRequest{
		ProductID:  27,
		Size:       1,
		Side:       SideBuy,
		OrderType:  OrderTypeLimit,
		LimitPrice: "100",
	})
	if err != nil {
		t.Fatalf("CreateOrder failed: %v", err)
	}
	if order.ID != 42 || order.State != OrderStateOpen {
		t.Errorf("unexpected order: %+v", order)
	}
	if gotPayload == "" {
		t.Error("expected a JSON payload")
	}
}

func TestSignedRequestRequiresCredentials(t *testing.T) {
	c := NewClient("http://127.0.0.1:0", "", "")
	_, err := c.GetPosition(context.Background(), 27)
	if err == nil {
		t.Fatal("expected error for missing credentials")
	}
}

func TestExchangeRejectionIsAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		io.WriteString(w, `{"success":false,"error":{"code":"insufficient_margin"}}`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "k", "s")
	_, err := c.CreateOrder(context.Background(), OrderRequest{ProductID: 1, Size: 1, Side: SideBuy, OrderType: OrderTypeLimit})
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.Code != "insufficient_margin" {
		t.Errorf("expected code insufficient_margin, got %s", apiErr.Code)
	}
}

func TestGetFillsPagination(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("page_size"); got != "50" {
			t.Errorf("expected page_size=50, got %s", got)
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"success":true,"result":[{"id":1,"product_symbol":"BTCUSD","side":"buy","size":1,"price":"100"}],"meta":{"after":"cursor-2"}}`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "k", "s")
	fills, after, err := c.GetFills(context.Background(), PageQuery{PageSize: 50})
	if err != nil {
		t.Fatalf("GetFills failed: %v", err)
	}
	if len(fills) != 1 || fills[0].ProductSymbol != "BTCUSD" {
		t.Errorf("unexpected fills: %+v", fills)
	}
	if after != "cursor-2" {
		t.Errorf("expected cursor-2, got %s", after)
	}
}

func TestGetTickerIsUnsigned(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("signature") != "" {
			t.Error("public endpoint must not be signed")
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"success":true,"result":{"symbol":"BTCUSD","close":65000.5}}`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", "")
	ticker, err := c.GetTicker(context.Background(), "BTCUSD")
	if err != nil {
		t.Fatalf("GetTicker failed: %v", err)
	}
	if ticker.Close != 65000.5 {
		t.Errorf("unexpected ticker close: %v", ticker.Close)
	}
}
