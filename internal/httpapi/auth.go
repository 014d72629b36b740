package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/eshcamp/esh/internal/ledger"
	"github.com/eshcamp/esh/internal/models"
)

// Authenticator resolves X-User-Key credentials. Store failures get a small
// fixed number of retries with a fixed delay; this only absorbs the startup
// race with the database coming up, not a general retry policy. An unknown
// key fails immediately.
type Authenticator struct {
	store    ledger.Store
	clock    clockwork.Clock
	attempts int
	delay    time.Duration
}

// NewAuthenticator uses 3 attempts with a 500ms delay.
func NewAuthenticator(store ledger.Store, clock clockwork.Clock) *Authenticator {
	return &Authenticator{
		store:    store,
		clock:    clock,
		attempts: 3,
		delay:    500 * time.Millisecond,
	}
}

// errStoreUnavailable marks an exhausted credential lookup.
var errStoreUnavailable = errors.New("store unavailable")

// ResolveKey looks the credential up, retrying transient store errors.
func (a *Authenticator) ResolveKey(ctx context.Context, userKey string) (*models.User, error) {
	var lastErr error
	for attempt := 1; attempt <= a.attempts; attempt++ {
		user, err := a.store.GetUserByKey(ctx, userKey)
		if err == nil {
			return user, nil
		}
		if errors.Is(err, ledger.ErrNotFound) {
			return nil, err
		}
		lastErr = err
		log.Error().Err(err).Int("attempt", attempt).Msg("credential lookup failed")
		if attempt < a.attempts {
			a.clock.Sleep(a.delay)
		}
	}
	return nil, errors.Join(errStoreUnavailable, lastErr)
}

// authedHandler receives the resolved caller alongside the request.
type authedHandler func(w http.ResponseWriter, r *http.Request, user *models.User)

// authRequired rejects requests without a valid X-User-Key header.
func (api *API) authRequired(next authedHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userKey := r.Header.Get("X-User-Key")
		if userKey == "" {
			writeError(w, http.StatusUnauthorized, "Missing X-User-Key header")
			return
		}

		user, err := api.auth.ResolveKey(r.Context(), userKey)
		if err != nil {
			if errors.Is(err, ledger.ErrNotFound) {
				writeError(w, http.StatusUnauthorized, "Invalid user key")
				return
			}
			writeError(w, http.StatusInternalServerError, "Database connection failed")
			return
		}
		next(w, r, user)
	}
}

// adminRequired additionally requires the admin flag.
func (api *API) adminRequired(next authedHandler) http.HandlerFunc {
	return api.authRequired(func(w http.ResponseWriter, r *http.Request, user *models.User) {
		if !user.IsAdmin {
			writeError(w, http.StatusForbidden, "Admin access required")
			return
		}
		next(w, r, user)
	})
}
