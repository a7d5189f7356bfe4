package handlers_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"star-notary/chain"
	"star-notary/handlers"
	"star-notary/logger"
	"star-notary/models"
	"star-notary/repository"
	"star-notary/routers"
	"star-notary/signature"
	"star-notary/validation"
)

type mockBlockRepo struct {
	mu     sync.Mutex
	blocks map[int64]*models.Block
}

func newMockBlockRepo() *mockBlockRepo {
	return &mockBlockRepo{blocks: make(map[int64]*models.Block)}
}

func cloneBlock(b *models.Block) *models.Block {
	copy := *b
	if b.Body.Star != nil {
		star := *b.Body.Star
		copy.Body.Star = &star
	}
	return &copy
}

func (m *mockBlockRepo) PutBlock(b *models.Block) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blocks[b.Height] = cloneBlock(b)
	return nil
}

func (m *mockBlockRepo) GetBlock(h int64) (*models.Block, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.blocks[h]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return cloneBlock(b), nil
}

func (m *mockBlockRepo) sortedHeights() []int64 {
	heights := make([]int64, 0, len(m.blocks))
	for h := range m.blocks {
		heights = append(heights, h)
	}
	sort.Slice(heights, func(i, j int) bool { return heights[i] < heights[j] })
	return heights
}

func (m *mockBlockRepo) LastBlock() (*models.Block, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	heights := m.sortedHeights()
	if len(heights) == 0 {
		return nil, repository.ErrNotFound
	}
	return cloneBlock(m.blocks[heights[len(heights)-1]]), nil
}

func (m *mockBlockRepo) ForEachBlock(fn func(*models.Block) bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, h := range m.sortedHeights() {
		if !fn(cloneBlock(m.blocks[h])) {
			break
		}
	}
	return nil
}

type mockValidationRepo struct {
	mu      sync.Mutex
	records map[string]models.ValidationRecord
}

func newMockValidationRepo() *mockValidationRepo {
	return &mockValidationRepo{records: make(map[string]models.ValidationRecord)}
}

func (m *mockValidationRepo) PutValidation(rec *models.ValidationRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[rec.Address] = *rec
	return nil
}

func (m *mockValidationRepo) GetValidation(address string) (*models.ValidationRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[address]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &rec, nil
}

func (m *mockValidationRepo) DeleteValidation(address string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, address)
	return nil
}

func testServer(t *testing.T) (*mux.Router, *mockValidationRepo) {
	logger.Logger = zap.NewNop()

	blockRepo := newMockBlockRepo()
	validationRepo := newMockValidationRepo()

	verifier, err := signature.NewBitcoinVerifier("mainnet")
	if err != nil {
		t.Fatalf("verifier: %v", err)
	}
	c := chain.NewBlockChain(blockRepo)
	if err := c.Initialize(); err != nil {
		t.Fatalf("initialize chain: %v", err)
	}
	registry := validation.NewRegistry(validationRepo, verifier, validation.DefaultWindow)

	handler := handlers.NewHandler(c, registry, handlers.DefaultMaxStoryBytes)
	router := mux.NewRouter()
	routers.RegisterRoutes(router, handler)
	return router, validationRepo
}

type wallet struct {
	key     *btcec.PrivateKey
	address string
}

func newWallet(t *testing.T) wallet {
	key, err := btcec.NewPrivateKey()
	if err != nil {
		t.Fatalf("key: %v", err)
	}
	addr, err := btcutil.NewAddressPubKeyHash(btcutil.Hash160(key.PubKey().SerializeCompressed()), &chaincfg.MainNetParams)
	if err != nil {
		t.Fatalf("address: %v", err)
	}
	return wallet{key: key, address: addr.EncodeAddress()}
}

func do(router *mux.Router, method, path string, body interface{}) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		data, _ := json.Marshal(body)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	res := httptest.NewRecorder()
	router.ServeHTTP(res, httptest.NewRequest(method, path, reader))
	return res
}

// authorize runs requestValidation and a correct signature for w
func authorize(t *testing.T, router *mux.Router, w wallet) {
	t.Helper()
	res := do(router, http.MethodPost, "/requestValidation", map[string]string{"address": w.address})
	if res.Code != http.StatusOK {
		t.Fatalf("requestValidation: %d %s", res.Code, res.Body.String())
	}
	var rec models.ValidationRecord
	if err := json.Unmarshal(res.Body.Bytes(), &rec); err != nil {
		t.Fatalf("decode record: %v", err)
	}

	sig, err := signature.SignMessage(w.key, rec.Message, true)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	res = do(router, http.MethodPost, "/message-signature/validate", map[string]string{
		"address":   w.address,
		"signature": sig,
	})
	if res.Code != http.StatusOK {
		t.Fatalf("validate: %d %s", res.Code, res.Body.String())
	}
	var result models.VerifyResult
	if err := json.Unmarshal(res.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if !result.RegisterStar || result.Status.SignatureState != models.SignatureValid {
		t.Fatalf("expected valid signature, got %+v", result)
	}
}

func starPayload(address, story string) map[string]interface{} {
	return map[string]interface{}{
		"address": address,
		"star": map[string]string{
			"ra":    "16h 29m 1.0s",
			"dec":   "-26° 29' 24.9",
			"story": story,
		},
	}
}

func TestRequestValidation(t *testing.T) {
	router, _ := testServer(t)
	w := newWallet(t)

	res := do(router, http.MethodPost, "/requestValidation", map[string]string{"address": w.address})
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d, body: %s", res.Code, res.Body.String())
	}
	var rec map[string]interface{}
	if err := json.Unmarshal(res.Body.Bytes(), &rec); err != nil {
		t.Fatalf("Invalid JSON response: %v", err)
	}
	if rec["walletAddress"] != w.address {
		t.Fatalf("unexpected address %v", rec["walletAddress"])
	}
	if !strings.HasSuffix(rec["message"].(string), ":starRegistry") {
		t.Fatalf("unexpected message %v", rec["message"])
	}
	if rec["validationWindow"] != float64(300) {
		t.Fatalf("expected window 300, got %v", rec["validationWindow"])
	}
	if rec["messageSignature"] != "pending" {
		t.Fatalf("expected pending, got %v", rec["messageSignature"])
	}
}

func TestRequestValidation_MissingAddress(t *testing.T) {
	router, _ := testServer(t)

	res := do(router, http.MethodPost, "/requestValidation", map[string]string{})
	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", res.Code)
	}
}

func TestValidateSignature_Unknown(t *testing.T) {
	router, _ := testServer(t)

	res := do(router, http.MethodPost, "/message-signature/validate", map[string]string{
		"address":   "1NotRequested",
		"signature": "sig",
	})
	if res.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d, body: %s", res.Code, res.Body.String())
	}
}

func TestValidateSignature_Bad(t *testing.T) {
	router, _ := testServer(t)
	w := newWallet(t)

	do(router, http.MethodPost, "/requestValidation", map[string]string{"address": w.address})
	res := do(router, http.MethodPost, "/message-signature/validate", map[string]string{
		"address":   w.address,
		"signature": "garbage",
	})
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d, body: %s", res.Code, res.Body.String())
	}
	var result models.VerifyResult
	if err := json.Unmarshal(res.Body.Bytes(), &result); err != nil {
		t.Fatalf("Invalid JSON response: %v", err)
	}
	if result.RegisterStar || result.Status.SignatureState != models.SignatureInvalid {
		t.Fatalf("expected invalid, got %+v", result)
	}

	// invalid signature cannot register a star
	res = do(router, http.MethodPost, "/block", starPayload(w.address, "nope"))
	if res.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d, body: %s", res.Code, res.Body.String())
	}
}

func TestAddStar_FullFlow(t *testing.T) {
	router, validations := testServer(t)
	w := newWallet(t)
	authorize(t, router, w)

	res := do(router, http.MethodPost, "/block", starPayload(w.address, "Found star using https://www.google.com/sky/"))
	if res.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d, body: %s", res.Code, res.Body.String())
	}
	var block models.Block
	if err := json.Unmarshal(res.Body.Bytes(), &block); err != nil {
		t.Fatalf("Invalid JSON response: %v", err)
	}
	if block.Height != 1 || block.PreviousBlockHash == "" {
		t.Fatalf("unexpected block %+v", block)
	}
	if block.Body.Star.Story != "466f756e642073746172207573696e672068747470733a2f2f7777772e676f6f676c652e636f6d2f736b792f" {
		t.Fatalf("story not hex encoded: %s", block.Body.Star.Story)
	}
	if block.Body.Star.StoryDecoded != "Found star using https://www.google.com/sky/" {
		t.Fatalf("unexpected decoded story %q", block.Body.Star.StoryDecoded)
	}
	if _, err := validations.GetValidation(w.address); err == nil {
		t.Fatalf("validation should have been consumed")
	}

	// the authorization is single use
	res = do(router, http.MethodPost, "/block", starPayload(w.address, "second"))
	if res.Code != http.StatusForbidden {
		t.Fatalf("expected 403 on reuse, got %d", res.Code)
	}

	res = do(router, http.MethodGet, "/block/1", nil)
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	var byHeight models.Block
	json.Unmarshal(res.Body.Bytes(), &byHeight)
	if byHeight.Hash != block.Hash || byHeight.Body.Star.StoryDecoded == "" {
		t.Fatalf("unexpected block by height %+v", byHeight)
	}

	res = do(router, http.MethodGet, "/stars/hash:"+block.Hash, nil)
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}

	res = do(router, http.MethodGet, "/stars/address:"+w.address, nil)
	var blocks []models.Block
	if err := json.Unmarshal(res.Body.Bytes(), &blocks); err != nil {
		t.Fatalf("Invalid JSON response: %v", err)
	}
	if len(blocks) != 1 || blocks[0].Hash != block.Hash {
		t.Fatalf("unexpected blocks by address %+v", blocks)
	}

	res = do(router, http.MethodGet, "/chain/validate", nil)
	var report map[string]interface{}
	json.Unmarshal(res.Body.Bytes(), &report)
	if report["valid"] != true {
		t.Fatalf("expected valid chain, got %v", report)
	}
}

func TestAddStar_BadPayload(t *testing.T) {
	router, _ := testServer(t)
	w := newWallet(t)
	authorize(t, router, w)

	cases := []map[string]interface{}{
		{"address": w.address},
		starPayload("", "story"),
		starPayload(w.address, ""),
		starPayload(w.address, strings.Repeat("x", handlers.DefaultMaxStoryBytes+1)),
	}
	for i, body := range cases {
		res := do(router, http.MethodPost, "/block", body)
		if res.Code != http.StatusBadRequest {
			t.Fatalf("case %d: expected 400, got %d", i, res.Code)
		}
	}
}

func TestLookups_NotFound(t *testing.T) {
	router, _ := testServer(t)

	if res := do(router, http.MethodGet, "/block/9", nil); res.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", res.Code)
	}
	if res := do(router, http.MethodGet, "/block/abc", nil); res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", res.Code)
	}
	if res := do(router, http.MethodGet, "/stars/hash:ffff", nil); res.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", res.Code)
	}

	res := do(router, http.MethodGet, "/stars/address:nobody", nil)
	if res.Code != http.StatusOK || strings.TrimSpace(res.Body.String()) != "[]" {
		t.Fatalf("expected empty list, got %d %s", res.Code, res.Body.String())
	}
}

func TestGenesisOnly(t *testing.T) {
	router, _ := testServer(t)

	res := do(router, http.MethodGet, "/chain/height", nil)
	if strings.TrimSpace(res.Body.String()) != `{"height":0}` {
		t.Fatalf("unexpected height %s", res.Body.String())
	}

	res = do(router, http.MethodGet, "/block/0", nil)
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	var genesis models.Block
	json.Unmarshal(res.Body.Bytes(), &genesis)
	if genesis.PreviousBlockHash != "" {
		t.Fatalf("genesis must not link anywhere")
	}
	if hash, _ := genesis.ComputeHash(); hash != genesis.Hash {
		t.Fatalf("genesis hash mismatch")
	}
}

func TestAddStar_ConcurrentWallets(t *testing.T) {
	router, _ := testServer(t)

	const n = 8
	wallets := make([]wallet, n)
	for i := range wallets {
		wallets[i] = newWallet(t)
		authorize(t, router, wallets[i])
	}

	var wg sync.WaitGroup
	for i := range wallets {
		wg.Add(1)
		go func(w wallet, i int) {
			defer wg.Done()
			res := do(router, http.MethodPost, "/block", starPayload(w.address, fmt.Sprintf("star %d", i)))
			if res.Code != http.StatusCreated {
				t.Errorf("expected 201, got %d", res.Code)
			}
		}(wallets[i], i)
	}
	wg.Wait()

	res := do(router, http.MethodGet, "/chain/height", nil)
	if strings.TrimSpace(res.Body.String()) != fmt.Sprintf(`{"height":%d}`, n) {
		t.Fatalf("unexpected height %s", res.Body.String())
	}
	res = do(router, http.MethodGet, "/chain/validate", nil)
	var report map[string]interface{}
	json.Unmarshal(res.Body.Bytes(), &report)
	if report["valid"] != true {
		t.Fatalf("expected valid chain, got %v", report)
	}
}

