package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"

	"github.com/atmx/dutch-engine/internal/api"
	"github.com/atmx/dutch-engine/internal/auction"
	"github.com/atmx/dutch-engine/internal/custody"
	"github.com/atmx/dutch-engine/internal/model"
	"github.com/atmx/dutch-engine/internal/store"
)

const (
	escrow = "0x00000000000000000000000000000000000000e5"
	admin  = "0x00000000000000000000000000000000000000ad"
	seller = "0x00000000000000000000000000000000000000a1"
	buyer  = "0x00000000000000000000000000000000000000b0"
	asset  = "0x00000000000000000000000000000000000000f0"
)

// Bearer tokens of the test accounts.
const (
	sellerToken = "seller-token"
	buyerToken  = "buyer-token"
	adminToken  = "admin-token"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

type testEnv struct {
	ledger *custody.MemoryLedger
	clock  clockwork.FakeClock
	router chi.Router
}

// newTestEnv creates a Service over in-memory collaborators and a chi router.
func newTestEnv(t *testing.T, faucet bool) *testEnv {
	t.Helper()
	ledger := custody.NewMemoryLedger(escrow, asset)
	clock := clockwork.NewFakeClockAt(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))

	reg, err := auction.NewRegistry(store.NewMemoryStore(), ledger, ledger.Payments(),
		auction.Config{Escrow: escrow, Admins: []string{admin}},
		auction.WithClock(clock),
	)
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}

	auth, err := api.NewAuthenticator(map[string]string{
		sellerToken: seller,
		buyerToken:  buyer,
		adminToken:  admin,
	})
	if err != nil {
		t.Fatalf("new authenticator: %v", err)
	}

	svc := api.NewService(reg, ledger, faucet, api.WithAuthenticator(auth))
	r := chi.NewRouter()
	r.Route("/api/v1", svc.Routes)

	return &testEnv{ledger: ledger, clock: clock, router: r}
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	return e.doAs(t, "", method, path, body)
}

// doAs sends the request with token as its bearer credential.
func (e *testEnv) doAs(t *testing.T, token, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

// seedAuction funds the seller and lists 100 units decaying 1 -> 0.5 over an
// hour through the API.
func (e *testEnv) seedAuction(t *testing.T) model.Auction {
	t.Helper()
	tok, _ := e.ledger.Token(asset)
	tok.Mint(seller, d("100"))

	w := e.doAs(t, sellerToken, "POST", "/api/v1/assets/"+asset+"/approve", api.AmountRequest{Amount: d("100")})
	if w.Code != http.StatusOK {
		t.Fatalf("approve: expected 200, got %d: %s", w.Code, w.Body.String())
	}

	w = e.doAs(t, sellerToken, "POST", "/api/v1/auctions", api.CreateAuctionRequest{
		AssetRef:    asset,
		AssetAmount: d("100"),
		StartPrice:  d("1"),
		EndPrice:    d("0.5"),
		Duration:    3600,
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create: expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var a model.Auction
	if err := json.NewDecoder(w.Body).Decode(&a); err != nil {
		t.Fatalf("decode auction: %v", err)
	}
	return a
}

func errorBody(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]string
	json.NewDecoder(w.Body).Decode(&body)
	return body["error"]
}

// --- Auction lifecycle ---

func TestCreateAuction(t *testing.T) {
	env := newTestEnv(t, false)
	a := env.seedAuction(t)

	if a.ID != 1 {
		t.Errorf("expected id 1, got %d", a.ID)
	}
	if a.Status != model.StatusActive {
		t.Errorf("expected active, got %s", a.Status)
	}
	tok, _ := env.ledger.Token(asset)
	if !tok.Balance(escrow).Equal(d("100")) {
		t.Errorf("expected 100 in escrow, got %s", tok.Balance(escrow))
	}
}

func TestCreateAuction_InvalidParams(t *testing.T) {
	env := newTestEnv(t, false)

	w := env.doAs(t, sellerToken, "POST", "/api/v1/auctions", api.CreateAuctionRequest{
		Seller: seller, AssetRef: asset, AssetAmount: d("1"),
		StartPrice: d("0.5"), EndPrice: d("1"), Duration: 3600,
	})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", w.Code, w.Body.String())
	}
}

func TestCreateAuction_WithoutApproval(t *testing.T) {
	env := newTestEnv(t, false)
	tok, _ := env.ledger.Token(asset)
	tok.Mint(seller, d("100"))

	w := env.doAs(t, sellerToken, "POST", "/api/v1/auctions", api.CreateAuctionRequest{
		Seller: seller, AssetRef: asset, AssetAmount: d("100"),
		StartPrice: d("1"), EndPrice: d("0.5"), Duration: 3600,
	})
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d: %s", w.Code, w.Body.String())
	}
}

func TestCreateAuction_BadBody(t *testing.T) {
	env := newTestEnv(t, false)
	req := httptest.NewRequest("POST", "/api/v1/auctions", strings.NewReader("{not json"))
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestGetPrice_Decays(t *testing.T) {
	env := newTestEnv(t, false)
	env.seedAuction(t)
	env.clock.Advance(30 * time.Minute)

	w := env.do(t, "GET", "/api/v1/auctions/1/price", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp api.PriceResponse
	json.NewDecoder(w.Body).Decode(&resp)
	if !resp.Price.Equal(d("0.75")) {
		t.Errorf("expected price 0.75 halfway, got %s", resp.Price)
	}
}

func TestGetAuction_NotFoundAndBadID(t *testing.T) {
	env := newTestEnv(t, false)

	if w := env.do(t, "GET", "/api/v1/auctions/42", nil); w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
	if w := env.do(t, "GET", "/api/v1/auctions/abc", nil); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

func TestBuy(t *testing.T) {
	env := newTestEnv(t, false)
	env.seedAuction(t)
	env.ledger.Bank().Credit(buyer, d("2"))
	env.clock.Advance(30 * time.Minute)

	w := env.doAs(t, buyerToken, "POST", "/api/v1/auctions/1/buy", api.BuyRequest{Buyer: buyer, Payment: d("1")})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var s auction.Settlement
	json.NewDecoder(w.Body).Decode(&s)
	if !s.Price.Equal(d("0.75")) {
		t.Errorf("expected price 0.75, got %s", s.Price)
	}
	if !s.Refunded.Equal(d("0.25")) {
		t.Errorf("expected refund 0.25, got %s", s.Refunded)
	}

	// Second buy conflicts.
	w = env.doAs(t, buyerToken, "POST", "/api/v1/auctions/1/buy", api.BuyRequest{Buyer: buyer, Payment: d("1")})
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409 on second buy, got %d", w.Code)
	}

	// Details reflect settlement.
	w = env.do(t, "GET", "/api/v1/auctions/1", nil)
	var det model.Details
	json.NewDecoder(w.Body).Decode(&det)
	if det.IsActive || det.Buyer != buyer {
		t.Errorf("expected settled to %s, got active=%v buyer=%s", buyer, det.IsActive, det.Buyer)
	}
}

func TestBuy_InsufficientPayment(t *testing.T) {
	env := newTestEnv(t, false)
	env.seedAuction(t)
	env.ledger.Bank().Credit(buyer, d("2"))

	w := env.doAs(t, buyerToken, "POST", "/api/v1/auctions/1/buy", api.BuyRequest{Buyer: buyer, Payment: d("0.9")})
	if w.Code != http.StatusPaymentRequired {
		t.Fatalf("expected 402, got %d: %s", w.Code, w.Body.String())
	}
	if msg := errorBody(t, w); !strings.Contains(msg, "insufficient payment") {
		t.Errorf("unexpected error message %q", msg)
	}
}

func TestBuy_PaymentRejected(t *testing.T) {
	env := newTestEnv(t, false)
	env.seedAuction(t)
	env.ledger.Bank().Credit(buyer, d("2"))
	env.ledger.Bank().Reject(seller, true)

	w := env.doAs(t, buyerToken, "POST", "/api/v1/auctions/1/buy", api.BuyRequest{Buyer: buyer, Payment: d("1")})
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d: %s", w.Code, w.Body.String())
	}

	w = env.do(t, "GET", "/api/v1/auctions/1", nil)
	var det model.Details
	json.NewDecoder(w.Body).Decode(&det)
	if !det.IsActive {
		t.Error("auction should still be active after a failed settlement")
	}
}

func TestBuy_BuyerComesFromToken(t *testing.T) {
	env := newTestEnv(t, false)
	env.seedAuction(t)
	env.ledger.Bank().Credit(buyer, d("2"))

	w := env.doAs(t, buyerToken, "POST", "/api/v1/auctions/1/buy", api.BuyRequest{Payment: d("1")})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var s auction.Settlement
	json.NewDecoder(w.Body).Decode(&s)
	if s.Buyer != buyer {
		t.Errorf("expected buyer %s, got %s", buyer, s.Buyer)
	}
}

func TestMutationsRequireAuthentication(t *testing.T) {
	env := newTestEnv(t, false)
	env.seedAuction(t)
	env.ledger.Bank().Credit(buyer, d("2"))

	// No token: the body cannot name an account.
	if w := env.do(t, "POST", "/api/v1/auctions/1/buy", api.BuyRequest{Buyer: buyer, Payment: d("1")}); w.Code != http.StatusUnauthorized {
		t.Errorf("buy without token: expected 401, got %d", w.Code)
	}
	if w := env.do(t, "POST", "/api/v1/auctions/1/cancel", api.CancelRequest{Caller: seller}); w.Code != http.StatusUnauthorized {
		t.Errorf("cancel without token: expected 401, got %d", w.Code)
	}
	if w := env.do(t, "POST", "/api/v1/assets/"+asset+"/approve", api.AmountRequest{Owner: seller, Amount: d("1")}); w.Code != http.StatusUnauthorized {
		t.Errorf("approve without token: expected 401, got %d", w.Code)
	}

	// A token cannot act for another account.
	if w := env.doAs(t, sellerToken, "POST", "/api/v1/auctions/1/buy", api.BuyRequest{Buyer: buyer, Payment: d("1")}); w.Code != http.StatusForbidden {
		t.Errorf("buy as someone else: expected 403, got %d", w.Code)
	}
	if w := env.doAs(t, buyerToken, "POST", "/api/v1/auctions/1/cancel", api.CancelRequest{Caller: seller}); w.Code != http.StatusForbidden {
		t.Errorf("cancel as the seller with the buyer's token: expected 403, got %d", w.Code)
	}

	// Unknown tokens are rejected outright.
	if w := env.doAs(t, "forged", "POST", "/api/v1/auctions/1/cancel", api.CancelRequest{}); w.Code != http.StatusUnauthorized {
		t.Errorf("forged token: expected 401, got %d", w.Code)
	}

	if !env.ledger.Bank().Balance(buyer).Equal(d("2")) {
		t.Errorf("buyer funds moved: %s", env.ledger.Bank().Balance(buyer))
	}
	w := env.do(t, "GET", "/api/v1/auctions/1", nil)
	var det model.Details
	json.NewDecoder(w.Body).Decode(&det)
	if !det.IsActive {
		t.Error("auction should still be active")
	}
}

func TestFaucetModeTrustsBodyIdentity(t *testing.T) {
	env := newTestEnv(t, true)
	env.seedAuction(t)
	env.ledger.Bank().Credit(buyer, d("2"))

	if w := env.do(t, "POST", "/api/v1/auctions/1/buy", api.BuyRequest{Payment: d("1")}); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 without buyer, got %d", w.Code)
	}
	if w := env.do(t, "POST", "/api/v1/auctions/1/buy", api.BuyRequest{Buyer: buyer, Payment: d("1")}); w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
}

func TestCancel(t *testing.T) {
	env := newTestEnv(t, false)
	env.seedAuction(t)

	w := env.doAs(t, buyerToken, "POST", "/api/v1/auctions/1/cancel", api.CancelRequest{})
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for stranger, got %d", w.Code)
	}

	w = env.doAs(t, sellerToken, "POST", "/api/v1/auctions/1/cancel", api.CancelRequest{})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var det model.Details
	json.NewDecoder(w.Body).Decode(&det)
	if det.Status != model.StatusCancelled {
		t.Errorf("expected cancelled, got %s", det.Status)
	}

	w = env.do(t, "GET", "/api/v1/assets/"+asset+"/balances/"+seller, nil)
	var bal api.BalanceResponse
	json.NewDecoder(w.Body).Decode(&bal)
	if !bal.Balance.Equal(d("100")) {
		t.Errorf("expected asset returned to seller, balance %s", bal.Balance)
	}
}

func TestListAuctionsAndHistory(t *testing.T) {
	env := newTestEnv(t, false)
	env.seedAuction(t)
	env.seedAuction(t)
	env.ledger.Bank().Credit(buyer, d("5"))

	if w := env.doAs(t, buyerToken, "POST", "/api/v1/auctions/1/buy", api.BuyRequest{Buyer: buyer, Payment: d("1")}); w.Code != http.StatusOK {
		t.Fatalf("buy: %d %s", w.Code, w.Body.String())
	}

	w := env.do(t, "GET", "/api/v1/auctions?active=true", nil)
	var list []model.Details
	json.NewDecoder(w.Body).Decode(&list)
	if len(list) != 1 || list[0].ID != 2 {
		t.Fatalf("expected only auction 2 active, got %+v", list)
	}

	w = env.do(t, "GET", "/api/v1/auctions?seller="+strings.ToUpper(seller[2:]), nil)
	json.NewDecoder(w.Body).Decode(&list)
	if len(list) != 0 {
		t.Errorf("malformed seller filter should match nothing, got %d", len(list))
	}

	w = env.do(t, "GET", "/api/v1/auctions/1/history", nil)
	var entries []model.LedgerEntry
	json.NewDecoder(w.Body).Decode(&entries)
	if len(entries) != 1 || entries[0].Kind != model.LedgerSettled {
		t.Fatalf("expected one settled entry, got %+v", entries)
	}

	w = env.do(t, "GET", "/api/v1/auctions/2/history", nil)
	if strings.TrimSpace(w.Body.String()) != "[]" {
		t.Errorf("expected empty history, got %s", w.Body.String())
	}

	w = env.do(t, "GET", "/api/v1/accounts/"+buyer+"/history", nil)
	json.NewDecoder(w.Body).Decode(&entries)
	if len(entries) != 1 {
		t.Errorf("expected one entry for buyer, got %d", len(entries))
	}

	if w := env.do(t, "GET", "/api/v1/accounts/nobody/history", nil); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for malformed account, got %d", w.Code)
	}
}

// --- Custody ---

func TestFaucet(t *testing.T) {
	closed := newTestEnv(t, false)
	if w := closed.do(t, "POST", "/api/v1/accounts/"+buyer+"/credit", api.AmountRequest{Amount: d("1")}); w.Code != http.StatusForbidden {
		t.Errorf("expected 403 with faucet disabled, got %d", w.Code)
	}

	env := newTestEnv(t, true)
	w := env.do(t, "POST", "/api/v1/accounts/"+buyer+"/credit", api.AmountRequest{Amount: d("3.5")})
	if w.Code != http.StatusOK {
		t.Fatalf("credit: expected 200, got %d: %s", w.Code, w.Body.String())
	}

	w = env.do(t, "POST", "/api/v1/assets/"+asset+"/mint", api.AmountRequest{Owner: seller, Amount: d("10")})
	if w.Code != http.StatusOK {
		t.Fatalf("mint: expected 200, got %d: %s", w.Code, w.Body.String())
	}

	w = env.do(t, "GET", "/api/v1/accounts/"+buyer+"/balance", nil)
	var bal api.BalanceResponse
	json.NewDecoder(w.Body).Decode(&bal)
	if !bal.Balance.Equal(d("3.5")) {
		t.Errorf("expected native balance 3.5, got %s", bal.Balance)
	}

	unknown := "0x00000000000000000000000000000000000000f9"
	if w := env.do(t, "POST", "/api/v1/assets/"+unknown+"/mint", api.AmountRequest{Owner: seller, Amount: d("1")}); w.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown asset, got %d", w.Code)
	}
}

func TestListAssets(t *testing.T) {
	env := newTestEnv(t, false)
	w := env.do(t, "GET", "/api/v1/assets", nil)

	var body struct {
		Escrow string   `json:"escrow"`
		Assets []string `json:"assets"`
	}
	json.NewDecoder(w.Body).Decode(&body)
	if body.Escrow != escrow {
		t.Errorf("expected escrow %s, got %s", escrow, body.Escrow)
	}
	if len(body.Assets) != 1 || body.Assets[0] != asset {
		t.Errorf("expected [%s], got %v", asset, body.Assets)
	}
}

// --- WebSocket ---

func TestWSHub_BroadcastsEvents(t *testing.T) {
	hub := api.NewWSHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for hub.ClientCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("client never registered")
		}
		time.Sleep(10 * time.Millisecond)
	}

	ev := model.Event{Type: model.EventSettled, AuctionID: 3, Price: d("0.75")}
	if err := hub.Notify(context.Background(), ev); err != nil {
		t.Fatalf("notify: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got model.Event
	if err := conn.ReadJSON(&got); err != nil {
		t.Fatalf("read: %v", err)
	}
	if got.Type != model.EventSettled || got.AuctionID != 3 || !got.Price.Equal(d("0.75")) {
		t.Errorf("unexpected event %+v", got)
	}
}
