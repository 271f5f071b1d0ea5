package httpapi

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/veil-protocol/veil/internal/indexer"
	"github.com/veil-protocol/veil/pkg/types"
)

func fillKeyHex(b byte) string {
	k := make([]byte, 32)
	for i := range k {
		k[i] = b
	}
	return hex.EncodeToString(k)
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	store := indexer.NewMemStore()
	keys := indexer.Keyring{
		SpendSK:   mustHex(t, fillKeyHex(0x01)),
		ViewSK:    mustHex(t, fillKeyHex(0x02)),
		DepositSK: mustHex(t, fillKeyHex(0x03)),
	}
	engine := indexer.NewEngine(store, indexer.ModeMerkleEnabled, keys)
	return &Server{Engine: engine, TreeDepth: 4, DefaultTree: 0}
}

func mustHex(t *testing.T, s string) []byte {
	t.Helper()
	b, err := hex.DecodeString(s)
	if err != nil {
		t.Fatalf("hex decode: %v", err)
	}
	return b
}

func TestHandleRootOnEmptyTree(t *testing.T) {
	s := newTestServer(t)
	r := NewRouter(s)

	req := httptest.NewRequest(http.MethodGet, "/root", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp rootResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Root) != 64 {
		t.Fatalf("expected 64 hex chars, got %d", len(resp.Root))
	}
}

func TestHandleLeafsEmpty(t *testing.T) {
	s := newTestServer(t)
	r := NewRouter(s)

	req := httptest.NewRequest(http.MethodGet, "/leafs", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp leafsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.UTXOs) != 0 {
		t.Fatalf("expected no utxos, got %d", len(resp.UTXOs))
	}
}

func TestHandleBalancesEmpty(t *testing.T) {
	s := newTestServer(t)
	r := NewRouter(s)

	body, _ := json.Marshal(balancesRequest{TreeNumber: 0})
	req := httptest.NewRequest(http.MethodPost, "/balances", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp balancesResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Balances) != 0 {
		t.Fatalf("expected no balances, got %v", resp.Balances)
	}
}

func TestHandleDepositBuildsInstructionData(t *testing.T) {
	s := newTestServer(t)
	r := NewRouter(s)

	var tokenID types.Hash
	for i := range tokenID {
		tokenID[i] = 0xAA
	}

	body, _ := json.Marshal(depositRequest{
		TokenID:   hex.EncodeToString(tokenID.Bytes()),
		Amount:    100,
		SpendSK:   fillKeyHex(0x01),
		ViewSK:    fillKeyHex(0x02),
		DepositSK: fillKeyHex(0x03),
		Memo:      "hello",
	})
	req := httptest.NewRequest(http.MethodPost, "/deposit", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp instructionResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.InstructionData == "" {
		t.Fatalf("expected non-empty instruction_data")
	}
}

func TestHandleDepositRejectsBadHex(t *testing.T) {
	s := newTestServer(t)
	r := NewRouter(s)

	body, _ := json.Marshal(depositRequest{
		TokenID:   "not-hex",
		Amount:    100,
		SpendSK:   fillKeyHex(0x01),
		ViewSK:    fillKeyHex(0x02),
		DepositSK: fillKeyHex(0x03),
	})
	req := httptest.NewRequest(http.MethodPost, "/deposit", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}
