// Package httpapi exposes the admin and user routes over JSON/HTTP and hands
// websocket upgrades to the gateway.
package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/eshcamp/esh/internal/board"
	"github.com/eshcamp/esh/internal/events"
	"github.com/eshcamp/esh/internal/gateway"
	"github.com/eshcamp/esh/internal/ledger"
	"github.com/eshcamp/esh/internal/models"
	"github.com/eshcamp/esh/internal/timer"
	"github.com/eshcamp/esh/internal/wallet"
)

// API bundles the route handlers and their collaborators.
type API struct {
	store       ledger.Store
	wallet      *wallet.Service
	timer       *timer.Timer
	board       *board.Board
	ws          *gateway.Handler
	broadcaster events.Broadcaster
	auth        *Authenticator
	frontendURL string
}

// New wires the API.
func New(
	store ledger.Store,
	walletSvc *wallet.Service,
	countdown *timer.Timer,
	pinboard *board.Board,
	ws *gateway.Handler,
	broadcaster events.Broadcaster,
	auth *Authenticator,
	frontendURL string,
) *API {
	return &API{
		store:       store,
		wallet:      walletSvc,
		timer:       countdown,
		board:       pinboard,
		ws:          ws,
		broadcaster: broadcaster,
		auth:        auth,
		frontendURL: frontendURL,
	}
}

// Routes returns the request mux.
func (api *API) Routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /admin/timer", api.adminRequired(api.handleTimer))
	mux.HandleFunc("POST /admin/create_qr", api.adminRequired(api.handleCreateQR))
	mux.HandleFunc("GET /admin/qr/{user_id}", api.adminRequired(api.handleGetQR))
	mux.HandleFunc("POST /admin/pin", api.adminRequired(api.handlePin))
	mux.HandleFunc("DELETE /admin/pin", api.adminRequired(api.handleUnpin))
	mux.HandleFunc("POST /admin/update_balance", api.adminRequired(api.handleUpdateBalance))
	mux.HandleFunc("DELETE /admin/user/{user_id}", api.adminRequired(api.handleDeleteUser))

	mux.HandleFunc("POST /user/login", api.authRequired(api.handleLogin))
	mux.HandleFunc("GET /user/status", api.authRequired(api.handleStatus))
	mux.HandleFunc("POST /user/chat", api.authRequired(api.handleChat))
	mux.HandleFunc("POST /user/transfer", api.authRequired(api.handleTransfer))
	mux.HandleFunc("GET /users", api.authRequired(api.handleUsers))

	mux.HandleFunc("GET /ws", api.ws.ServeWS)

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	return mux
}

func (api *API) handleTimer(w http.ResponseWriter, r *http.Request, user *models.User) {
	var req struct {
		Action          string `json:"action"`
		DurationSeconds int64  `json:"duration_seconds"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	var state events.TimerSnapshot
	switch req.Action {
	case "start":
		state = api.timer.Start(req.DurationSeconds)
	case "pause":
		state = api.timer.TogglePause()
	case "reset":
		state = api.timer.Reset()
	default:
		writeError(w, http.StatusBadRequest, "Invalid action")
		return
	}
	respondJSON(w, http.StatusOK, state)
}

func (api *API) handleCreateQR(w http.ResponseWriter, r *http.Request, user *models.User) {
	minted, err := api.wallet.Mint(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("mint failed")
		writeError(w, http.StatusInternalServerError, "Failed to create user")
		return
	}

	qr, err := qrDataURL(api.frontendURL, minted.UserKey)
	if err != nil {
		log.Error().Err(err).Msg("qr generation failed")
		writeError(w, http.StatusInternalServerError, "Failed to generate QR code")
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{
		"user_id":   minted.UserID,
		"user_key":  minted.UserKey,
		"qr_base64": qr,
	})
}

func (api *API) handleGetQR(w http.ResponseWriter, r *http.Request, user *models.User) {
	target, err := api.store.GetUserByID(r.Context(), r.PathValue("user_id"))
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			writeError(w, http.StatusNotFound, "User not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "Database error")
		return
	}

	qr, err := qrDataURL(api.frontendURL, target.UserKey)
	if err != nil {
		log.Error().Err(err).Msg("qr generation failed")
		writeError(w, http.StatusInternalServerError, "Failed to generate QR code")
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{
		"user_id":   target.UserID,
		"qr_base64": qr,
	})
}

func (api *API) handlePin(w http.ResponseWriter, r *http.Request, user *models.User) {
	var req struct {
		Message string `json:"message"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	api.board.Pin(req.Message)
	respondJSON(w, http.StatusOK, map[string]bool{"pinned": true})
}

func (api *API) handleUnpin(w http.ResponseWriter, r *http.Request, user *models.User) {
	api.board.Unpin()
	respondJSON(w, http.StatusOK, map[string]bool{"removed": true})
}

func (api *API) handleUpdateBalance(w http.ResponseWriter, r *http.Request, user *models.User) {
	var req struct {
		UserID string `json:"user_id"`
		Change int64  `json:"change"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	newBalance, err := api.wallet.Adjust(r.Context(), req.UserID, req.Change)
	if err != nil {
		if errors.Is(err, wallet.ErrNotFound) {
			writeError(w, http.StatusNotFound, "User not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "Database error")
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"user_id":     req.UserID,
		"new_balance": newBalance,
	})
}

func (api *API) handleDeleteUser(w http.ResponseWriter, r *http.Request, user *models.User) {
	err := api.wallet.Delete(r.Context(), r.PathValue("user_id"))
	switch {
	case err == nil:
		respondJSON(w, http.StatusOK, map[string]bool{"deleted": true})
	case errors.Is(err, wallet.ErrProtectedUser):
		writeError(w, http.StatusForbidden, "Cannot delete an admin user.")
	case errors.Is(err, wallet.ErrNotFound):
		writeError(w, http.StatusNotFound, "User not found or could not be deleted.")
	default:
		writeError(w, http.StatusInternalServerError, "Database error")
	}
}

func (api *API) handleLogin(w http.ResponseWriter, r *http.Request, user *models.User) {
	var req struct {
		Username string `json:"username"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Username == "" {
		writeError(w, http.StatusBadRequest, "Username cannot be empty")
		return
	}

	if err := api.wallet.SetUsername(r.Context(), user.UserID, req.Username); err != nil {
		switch {
		case errors.Is(err, wallet.ErrUsernameTaken):
			writeError(w, http.StatusConflict, "Username is already taken")
		case errors.Is(err, wallet.ErrNotFound):
			writeError(w, http.StatusNotFound, "User not found")
		default:
			writeError(w, http.StatusInternalServerError, "Database error")
		}
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"user_id":  user.UserID,
		"username": req.Username,
		"esh":      user.Esh,
	})
}

func (api *API) handleStatus(w http.ResponseWriter, r *http.Request, user *models.User) {
	respondJSON(w, http.StatusOK, map[string]any{
		"username": user.Username,
		"esh":      user.Esh,
		"is_admin": user.IsAdmin,
		"user_id":  user.UserID,
	})
}

func (api *API) handleChat(w http.ResponseWriter, r *http.Request, user *models.User) {
	var req struct {
		Message string `json:"message"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if user.Username == nil {
		writeError(w, http.StatusForbidden, "User must set a username to chat")
		return
	}

	api.broadcaster.Broadcast(events.NewMessage(*user.Username, req.Message, user.IsAdmin))
	respondJSON(w, http.StatusOK, map[string]bool{"sent": true})
}

func (api *API) handleTransfer(w http.ResponseWriter, r *http.Request, user *models.User) {
	var req struct {
		ToUserID string `json:"to_user_id"`
		Amount   int64  `json:"amount"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	fromBalance, toBalance, err := api.wallet.Transfer(r.Context(), user.UserID, req.ToUserID, req.Amount)
	if err != nil {
		switch {
		case errors.Is(err, wallet.ErrInvalidAmount):
			writeError(w, http.StatusBadRequest, "Invalid amount")
		case errors.Is(err, wallet.ErrInsufficientFunds):
			writeError(w, http.StatusBadRequest, "Insufficient funds")
		case errors.Is(err, wallet.ErrNotFound):
			writeError(w, http.StatusNotFound, "Recipient not found")
		default:
			writeError(w, http.StatusInternalServerError, "Database error")
		}
		return
	}

	respondJSON(w, http.StatusOK, map[string]int64{
		"from_balance": fromBalance,
		"to_balance":   toBalance,
	})
}

func (api *API) handleUsers(w http.ResponseWriter, r *http.Request, user *models.User) {
	users, err := api.store.ListUsers(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Database error")
		return
	}

	type peer struct {
		UserID   string `json:"user_id"`
		Username string `json:"username"`
		IsAdmin  bool   `json:"is_admin"`
	}
	peers := []peer{}
	for _, u := range users {
		if u.Username == nil || u.UserID == user.UserID {
			continue
		}
		peers = append(peers, peer{UserID: u.UserID, Username: *u.Username, IsAdmin: u.IsAdmin})
	}
	respondJSON(w, http.StatusOK, peers)
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return false
	}
	return true
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}
