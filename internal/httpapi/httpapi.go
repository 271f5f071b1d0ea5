// Package httpapi implements §6's HTTP API: the foreground task that
// serves root/leafs/balances queries against the indexer engine and
// forwards deposit/transfer/withdraw requests to internal/txbuilder,
// returning the encoded instruction payload ready for the settlement
// layer. Acquisition order always goes lock-before-RPC (§5): every
// handler below only ever touches the engine's in-memory state, never
// blocking on an outbound RPC while holding the engine's lock, since
// internal/indexer.Engine itself owns that discipline.
package httpapi

import (
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/mr-tron/base58"

	"github.com/veil-protocol/veil/internal/indexer"
	"github.com/veil-protocol/veil/internal/txbuilder"
	"github.com/veil-protocol/veil/pkg/common"
	"github.com/veil-protocol/veil/pkg/types"
)

// Server wires the indexer engine into the HTTP surface. TreeDepth is
// needed to rebuild a tree from stored leaves; DefaultTree is used by
// GET /root and GET /leafs when no `tree` query param is given.
type Server struct {
	Engine      *indexer.Engine
	TreeDepth   int
	DefaultTree uint64
}

// NewRouter builds the chi router exposing §6's six endpoints.
func NewRouter(s *Server) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/root", s.handleRoot)
	r.Get("/leafs", s.handleLeafs)
	r.Post("/balances", s.handleBalances)
	r.Post("/deposit", s.handleDeposit)
	r.Post("/transfer", s.handleTransfer)
	r.Post("/withdraw", s.handleWithdraw)
	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case isErr(err, common.ErrInsufficientBalance), isErr(err, common.ErrSerialization):
		status = http.StatusBadRequest
	case isErr(err, common.ErrLeafNotFound), isErr(err, common.ErrNotFound):
		status = http.StatusNotFound
	case isErr(err, common.ErrTreeMismatch), isErr(err, common.ErrFeatureDisabled):
		status = http.StatusConflict
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func isErr(err, target error) bool {
	for err != nil {
		if err == target {
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

func treeFromQuery(r *http.Request, def uint64) uint64 {
	raw := r.URL.Query().Get("tree")
	if raw == "" {
		return def
	}
	var n uint64
	if _, err := fmt.Sscanf(raw, "%d", &n); err != nil {
		return def
	}
	return n
}

// rootResponse matches §6's `GET /root` → {root: hex-32}.
type rootResponse struct {
	Root string `json:"root"`
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	tree := treeFromQuery(r, s.DefaultTree)
	root, err := s.Engine.CurrentRoot(tree, s.TreeDepth)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rootResponse{Root: hex.EncodeToString(root.Bytes())})
}

// utxoJSON is the JSON-friendly projection of an indexer.IndexedUTXO.
type utxoJSON struct {
	TokenID string `json:"token_id"`
	Amount  uint64 `json:"amount"`
	Memo    string `json:"memo"`
}

type leafsResponse struct {
	UTXOs map[uint64]utxoJSON `json:"utxos"`
}

func (s *Server) handleLeafs(w http.ResponseWriter, r *http.Request) {
	tree := treeFromQuery(r, s.DefaultTree)
	owned, err := s.Engine.OwnedUTXOs(tree)
	if err != nil {
		writeError(w, err)
		return
	}
	out := make(map[uint64]utxoJSON, len(owned))
	for idx, u := range owned {
		out[idx] = utxoJSON{TokenID: base58.Encode(u.TokenID.Bytes()), Amount: u.Amount, Memo: u.Memo}
	}
	writeJSON(w, http.StatusOK, leafsResponse{UTXOs: out})
}

type balancesRequest struct {
	TreeNumber uint64 `json:"tree_number"`
}

type balancesResponse struct {
	Balances map[string]uint64 `json:"balances"`
}

func (s *Server) handleBalances(w http.ResponseWriter, r *http.Request) {
	var req balancesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, fmt.Errorf("%w: %v", common.ErrSerialization, err))
		return
	}
	balances, err := s.Engine.Balances(req.TreeNumber)
	if err != nil {
		writeError(w, err)
		return
	}
	out := make(map[string]uint64, len(balances))
	for tokenID, amount := range balances {
		out[base58.Encode(tokenID.Bytes())] = amount
	}
	writeJSON(w, http.StatusOK, balancesResponse{Balances: out})
}

// instructionResponse matches §6's `{instruction_data: bytes,
// insert_new_commitment: bool}`; instruction_data is base64 since that
// is JSON's conventional binary encoding.
type instructionResponse struct {
	InstructionData     string `json:"instruction_data"`
	InsertNewCommitment bool   `json:"insert_new_commitment"`
}

func decodeHexKey(s string) ([]byte, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid hex key: %v", common.ErrSerialization, err)
	}
	return b, nil
}

func decodeHexHash(s string) (types.Hash, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return types.Hash{}, fmt.Errorf("%w: invalid hex hash: %v", common.ErrSerialization, err)
	}
	return types.HashFromBytes(b), nil
}

type depositRequest struct {
	TokenID   string `json:"token_id"`
	Amount    uint64 `json:"amount"`
	SpendSK   string `json:"spend_sk"`
	ViewSK    string `json:"view_sk"`
	DepositSK string `json:"deposit_sk"`
	Memo      string `json:"memo"`
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	var req depositRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, fmt.Errorf("%w: %v", common.ErrSerialization, err))
		return
	}
	tokenID, err := decodeHexHash(req.TokenID)
	if err != nil {
		writeError(w, err)
		return
	}
	spendSK, err := decodeHexKey(req.SpendSK)
	if err != nil {
		writeError(w, err)
		return
	}
	viewSK, err := decodeHexKey(req.ViewSK)
	if err != nil {
		writeError(w, err)
		return
	}
	depositSK, err := decodeHexKey(req.DepositSK)
	if err != nil {
		writeError(w, err)
		return
	}

	payload, err := txbuilder.BuildDeposit(tokenID, req.Amount, spendSK, viewSK, depositSK, req.Memo)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, instructionResponse{InstructionData: base64.StdEncoding.EncodeToString(payload)})
}

type outputSpecJSON struct {
	ReceiverMasterPK string `json:"receiver_master_pk"`
	ReceiverViewPK   string `json:"receiver_view_pk"`
	Amount           uint64 `json:"amount"`
	Memo             string `json:"memo"`
}

type inputUTXOJSON struct {
	LeafIndex uint64 `json:"leaf_index"`
	Amount    uint64 `json:"amount"`
}

type transferRequest struct {
	TokenID    string           `json:"token_id"`
	Outputs    []outputSpecJSON `json:"outputs"`
	Inputs     []inputUTXOJSON  `json:"inputs"`
	Proof      string           `json:"proof"`
	MerkleRoot string           `json:"merkle_root"`
	TreeNumber uint64           `json:"tree_number"`
	SpendSK    string           `json:"spend_sk"`
	ViewSK     string           `json:"view_sk"`
}

func (s *Server) handleTransfer(w http.ResponseWriter, r *http.Request) {
	var req transferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, fmt.Errorf("%w: %v", common.ErrSerialization, err))
		return
	}
	tokenID, err := decodeHexHash(req.TokenID)
	if err != nil {
		writeError(w, err)
		return
	}
	merkleRoot, err := decodeHexHash(req.MerkleRoot)
	if err != nil {
		writeError(w, err)
		return
	}
	proof, err := base64.StdEncoding.DecodeString(req.Proof)
	if err != nil {
		writeError(w, fmt.Errorf("%w: invalid base64 proof: %v", common.ErrSerialization, err))
		return
	}
	spendSK, err := decodeHexKey(req.SpendSK)
	if err != nil {
		writeError(w, err)
		return
	}
	viewSK, err := decodeHexKey(req.ViewSK)
	if err != nil {
		writeError(w, err)
		return
	}

	outputs := make([]txbuilder.OutputSpec, 0, len(req.Outputs))
	for _, o := range req.Outputs {
		masterPK, err := decodeHexHash(o.ReceiverMasterPK)
		if err != nil {
			writeError(w, err)
			return
		}
		viewPKBytes, err := decodeHexKey(o.ReceiverViewPK)
		if err != nil {
			writeError(w, err)
			return
		}
		var viewPK types.PubKey
		copy(viewPK[:], viewPKBytes)
		outputs = append(outputs, txbuilder.OutputSpec{
			ReceiverMasterPK: masterPK,
			ReceiverViewPK:   viewPK,
			Amount:           o.Amount,
			Memo:             o.Memo,
		})
	}
	inputs := make([]txbuilder.InputUTXO, 0, len(req.Inputs))
	for _, in := range req.Inputs {
		inputs = append(inputs, txbuilder.InputUTXO{LeafIndex: in.LeafIndex, Amount: in.Amount})
	}

	payload, err := txbuilder.BuildTransfer(tokenID, outputs, inputs, proof, merkleRoot, req.TreeNumber, spendSK, viewSK)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, instructionResponse{InstructionData: base64.StdEncoding.EncodeToString(payload)})
}

type withdrawRequest struct {
	TokenID    string          `json:"token_id"`
	Proof      string          `json:"proof"`
	Amount     uint64          `json:"amount"`
	Inputs     []inputUTXOJSON `json:"inputs"`
	MerkleRoot string          `json:"merkle_root"`
	TreeNumber uint64          `json:"tree_number"`
	SpendSK    string          `json:"spend_sk"`
	ViewSK     string          `json:"view_sk"`
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	var req withdrawRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, fmt.Errorf("%w: %v", common.ErrSerialization, err))
		return
	}
	tokenID, err := decodeHexHash(req.TokenID)
	if err != nil {
		writeError(w, err)
		return
	}
	merkleRoot, err := decodeHexHash(req.MerkleRoot)
	if err != nil {
		writeError(w, err)
		return
	}
	proof, err := base64.StdEncoding.DecodeString(req.Proof)
	if err != nil {
		writeError(w, fmt.Errorf("%w: invalid base64 proof: %v", common.ErrSerialization, err))
		return
	}
	spendSK, err := decodeHexKey(req.SpendSK)
	if err != nil {
		writeError(w, err)
		return
	}
	viewSK, err := decodeHexKey(req.ViewSK)
	if err != nil {
		writeError(w, err)
		return
	}
	inputs := make([]txbuilder.InputUTXO, 0, len(req.Inputs))
	for _, in := range req.Inputs {
		inputs = append(inputs, txbuilder.InputUTXO{LeafIndex: in.LeafIndex, Amount: in.Amount})
	}

	payload, insertNewCommitment, err := txbuilder.BuildWithdraw(tokenID, proof, req.Amount, inputs, merkleRoot, req.TreeNumber, spendSK, viewSK)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, instructionResponse{
		InstructionData:     base64.StdEncoding.EncodeToString(payload),
		InsertNewCommitment: insertNewCommitment,
	})
}
