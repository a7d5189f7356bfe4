package routers

import (
	"star-notary/handlers"

	"github.com/gorilla/mux"
)

// RegisterRoutes sets up all the HTTP routes for the star registry
func RegisterRoutes(r *mux.Router, h *handlers.Handler) {

	// Issues (or returns the live) challenge for a wallet address
	r.HandleFunc("/requestValidation", h.RequestValidation).Methods("POST")

	// Verifies the signed challenge
	r.HandleFunc("/message-signature/validate", h.ValidateSignature).Methods("POST")

	// Registers a star, consuming the address's validation
	r.HandleFunc("/block", h.AddStar).Methods("POST")

	// Star lookups
	r.HandleFunc("/block/{height}", h.GetBlockByHeight).Methods("GET")
	r.HandleFunc("/stars/hash:{hash}", h.GetStarByHash).Methods("GET")
	r.HandleFunc("/stars/address:{address}", h.GetStarsByAddress).Methods("GET")

	// Chain state
	r.HandleFunc("/chain/height", h.GetHeight).Methods("GET")
	r.HandleFunc("/chain/validate", h.ValidateChain).Methods("GET")
}
