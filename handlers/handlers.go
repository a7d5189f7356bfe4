package handlers

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"star-notary/chain"
	"star-notary/logger"
	"star-notary/models"
	"star-notary/validation"
)

const DefaultMaxStoryBytes = 500

// Handler contains the HTTP handlers for the star registry API
type Handler struct {
	Chain         *chain.BlockChain
	Registry      *validation.Registry
	MaxStoryBytes int
}

// NewHandler creates and returns a new Handler instance
func NewHandler(c *chain.BlockChain, r *validation.Registry, maxStoryBytes int) *Handler {
	if maxStoryBytes <= 0 {
		maxStoryBytes = DefaultMaxStoryBytes
	}
	return &Handler{Chain: c, Registry: r, MaxStoryBytes: maxStoryBytes}
}

type validationRequest struct {
	Address   string `json:"address"`
	Signature string `json:"signature"`
}

type starRequest struct {
	Address string       `json:"address"`
	Star    *models.Star `json:"star"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// RequestValidation hands out the challenge an address has to sign
func (h *Handler) RequestValidation(w http.ResponseWriter, r *http.Request) {
	var req validationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.Logger.Error("Failed to decode validation request", zap.Error(err))
		writeError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}
	if req.Address == "" {
		writeError(w, http.StatusBadRequest, "Address parameter missing")
		return
	}

	rec, err := h.Registry.RequestValidation(req.Address)
	if err != nil {
		logger.Logger.Error("Failed to request validation", zap.String("address", req.Address), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Internal error")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// ValidateSignature checks the signed challenge for an address
func (h *Handler) ValidateSignature(w http.ResponseWriter, r *http.Request) {
	var req validationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.Logger.Error("Failed to decode signature request", zap.Error(err))
		writeError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}
	if req.Address == "" || req.Signature == "" {
		writeError(w, http.StatusBadRequest, "Address and signature parameters required")
		return
	}

	res, err := h.Registry.VerifySignature(req.Address, req.Signature)
	if errors.Is(err, validation.ErrNotFound) {
		writeError(w, http.StatusNotFound, "No validation request for address")
		return
	}
	if err != nil {
		logger.Logger.Error("Failed to verify signature", zap.String("address", req.Address), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Internal error")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) checkStar(req *starRequest) string {
	if req.Address == "" || req.Star == nil {
		return "Address and star parameters required"
	}
	s := req.Star
	if s.RA == "" || s.Dec == "" || s.Story == "" {
		return "Star ra, dec and story are required"
	}
	if len(s.Story) > h.MaxStoryBytes {
		return "Story is longer than " + strconv.Itoa(h.MaxStoryBytes) + " bytes"
	}
	return ""
}

// AddStar registers a star for an address holding a valid signature. The
// authorization is consumed by the append.
func (h *Handler) AddStar(w http.ResponseWriter, r *http.Request) {
	var req starRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.Logger.Error("Failed to decode star", zap.Error(err))
		writeError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}
	if msg := h.checkStar(&req); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	star := *req.Star
	star.Story = hex.EncodeToString([]byte(req.Star.Story))
	star.StoryDecoded = ""

	var block *models.Block
	err := h.Registry.Redeem(req.Address, func() error {
		var err error
		block, err = h.Chain.Append(models.BlockBody{Address: req.Address, Star: &star})
		return err
	})
	switch {
	case errors.Is(err, validation.ErrNotFound), errors.Is(err, validation.ErrNotAuthorized):
		writeError(w, http.StatusForbidden, "Address has no valid signature")
		return
	case err != nil && block == nil:
		logger.Logger.Error("Failed to add star", zap.String("address", req.Address), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to add star")
		return
	case err != nil:
		// the block is on the chain even though the authorization could not be consumed
		logger.Logger.Error("Star added but validation not consumed", zap.String("address", req.Address), zap.Error(err))
	}

	logger.Logger.Info("Star registered",
		zap.String("address", req.Address), zap.Int64("height", block.Height), zap.String("hash", block.Hash))
	if err := block.DecodeStory(); err != nil {
		logger.Logger.Warn("Failed to decode story", zap.Error(err))
	}
	writeJSON(w, http.StatusCreated, block)
}

// GetStarByHash handles GET /stars/hash:{hash}
func (h *Handler) GetStarByHash(w http.ResponseWriter, r *http.Request) {
	block, err := h.Chain.GetByHash(mux.Vars(r)["hash"])
	if errors.Is(err, chain.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Block does not exist")
		return
	}
	if err != nil {
		logger.Logger.Error("Failed to look up block by hash", zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, block)
}

// GetStarsByAddress handles GET /stars/address:{address}
func (h *Handler) GetStarsByAddress(w http.ResponseWriter, r *http.Request) {
	blocks, err := h.Chain.GetByAddress(mux.Vars(r)["address"])
	if err != nil {
		logger.Logger.Error("Failed to look up blocks by address", zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, blocks)
}

// GetBlockByHeight handles GET /block/{height}
func (h *Handler) GetBlockByHeight(w http.ResponseWriter, r *http.Request) {
	height, err := strconv.ParseInt(mux.Vars(r)["height"], 10, 64)
	if err != nil || height < 0 {
		writeError(w, http.StatusBadRequest, "Height must be a non-negative integer")
		return
	}

	block, err := h.Chain.GetByHeight(height)
	if errors.Is(err, chain.ErrNotFound) {
		writeError(w, http.StatusNotFound, "No such block exists")
		return
	}
	if err != nil {
		logger.Logger.Error("Failed to get block", zap.Int64("height", height), zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if err := block.DecodeStory(); err != nil {
		logger.Logger.Warn("Failed to decode story", zap.Int64("height", height), zap.Error(err))
	}
	writeJSON(w, http.StatusOK, block)
}

// GetHeight returns the current chain height
func (h *Handler) GetHeight(w http.ResponseWriter, r *http.Request) {
	height, err := h.Chain.Height()
	if err != nil {
		logger.Logger.Error("Failed to read height", zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"height": height})
}

// ValidateChain reports blocks whose hash or link does not check out
func (h *Handler) ValidateChain(w http.ResponseWriter, r *http.Request) {
	bad, err := h.Chain.ValidateChain()
	if err != nil {
		logger.Logger.Error("Failed to validate chain", zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"valid":  len(bad) == 0,
		"errors": bad,
	})
}
