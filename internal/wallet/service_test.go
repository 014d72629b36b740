package wallet_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eshcamp/esh/internal/events"
	"github.com/eshcamp/esh/internal/ledger"
	"github.com/eshcamp/esh/internal/models"
	"github.com/eshcamp/esh/internal/wallet"
)

type captureBroadcaster struct {
	mu     sync.Mutex
	events []events.Event
}

func (c *captureBroadcaster) Broadcast(ev events.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
}

func (c *captureBroadcaster) coinsUpdates() []events.CoinsUpdate {
	c.mu.Lock()
	defer c.mu.Unlock()
	var updates []events.CoinsUpdate
	for _, ev := range c.events {
		if cu, ok := ev.(events.CoinsUpdate); ok {
			updates = append(updates, cu)
		}
	}
	return updates
}

func (c *captureBroadcaster) lastLeaderboard() (events.Leaderboard, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := len(c.events) - 1; i >= 0; i-- {
		if lb, ok := c.events[i].(events.Leaderboard); ok {
			return lb, true
		}
	}
	return events.Leaderboard{}, false
}

func (c *captureBroadcaster) lastType() events.Type {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.events) == 0 {
		return ""
	}
	return c.events[len(c.events)-1].EventType()
}

func seedUser(store *ledger.MemoryStore, id, name string, esh int64) {
	var username *string
	if name != "" {
		n := name
		username = &n
	}
	store.Seed(models.User{
		UserID:   id,
		UserKey:  "key-" + id,
		Username: username,
		Esh:      esh,
	})
}

func newTestService() (*wallet.Service, *ledger.MemoryStore, *captureBroadcaster) {
	store := ledger.NewMemoryStore()
	bc := &captureBroadcaster{}
	return wallet.NewService(store, bc), store, bc
}

func balanceOf(t *testing.T, store *ledger.MemoryStore, id string) int64 {
	t.Helper()
	u, err := store.GetUserByID(context.Background(), id)
	require.NoError(t, err)
	return u.Esh
}

func TestMintCreatesFundedAccount(t *testing.T) {
	svc, store, bc := newTestService()
	ctx := context.Background()

	minted, err := svc.Mint(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, minted.UserID)
	require.NotEmpty(t, minted.UserKey)
	assert.Equal(t, wallet.StartingBalance, minted.Esh)
	assert.False(t, minted.IsAdmin)

	stored, err := store.GetUserByKey(ctx, minted.UserKey)
	require.NoError(t, err)
	assert.Equal(t, minted.UserID, stored.UserID)

	assert.Equal(t, events.TypeUsersUpdate, bc.lastType())
}

func TestTransferEndToEnd(t *testing.T) {
	svc, store, bc := newTestService()
	ctx := context.Background()
	seedUser(store, "a", "alice", 100)
	seedUser(store, "b", "bob", 100)

	fromBalance, toBalance, err := svc.Transfer(ctx, "a", "b", 30)
	require.NoError(t, err)
	assert.EqualValues(t, 70, fromBalance)
	assert.EqualValues(t, 130, toBalance)

	updates := bc.coinsUpdates()
	require.Len(t, updates, 2)
	assert.Equal(t, events.CoinsUpdate{Type: events.TypeCoinsUpdate, UserID: "a", Esh: 70}, updates[0])
	assert.Equal(t, events.CoinsUpdate{Type: events.TypeCoinsUpdate, UserID: "b", Esh: 130}, updates[1])

	lb, ok := bc.lastLeaderboard()
	require.True(t, ok)
	require.Len(t, lb.Users, 2)
	assert.Equal(t, "b", lb.Users[0].UserID)
	assert.Equal(t, "a", lb.Users[1].UserID)
}

func TestTransferValidation(t *testing.T) {
	svc, store, _ := newTestService()
	ctx := context.Background()
	seedUser(store, "a", "alice", 100)
	seedUser(store, "b", "bob", 100)

	tests := []struct {
		name    string
		from    string
		to      string
		amount  int64
		wantErr error
	}{
		{"zero amount", "a", "b", 0, wallet.ErrInvalidAmount},
		{"negative amount", "a", "b", -5, wallet.ErrInvalidAmount},
		{"self transfer", "a", "a", 10, wallet.ErrInvalidAmount},
		{"insufficient funds", "a", "b", 101, wallet.ErrInsufficientFunds},
		{"unknown sender", "nobody", "b", 10, wallet.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := svc.Transfer(ctx, tt.from, tt.to, tt.amount)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	// Nothing moved.
	assert.EqualValues(t, 100, balanceOf(t, store, "a"))
	assert.EqualValues(t, 100, balanceOf(t, store, "b"))
}

func TestTransferToMissingRecipientRollsBack(t *testing.T) {
	svc, store, bc := newTestService()
	ctx := context.Background()
	seedUser(store, "a", "alice", 100)

	_, _, err := svc.Transfer(ctx, "a", "ghost", 10)
	assert.ErrorIs(t, err, wallet.ErrNotFound)

	// The debit rolled back with the failed credit.
	assert.EqualValues(t, 100, balanceOf(t, store, "a"))
	assert.Empty(t, bc.coinsUpdates())
}

func TestTransferConservesTotalBalance(t *testing.T) {
	svc, store, _ := newTestService()
	ctx := context.Background()
	seedUser(store, "a", "alice", 100)
	seedUser(store, "b", "bob", 100)
	seedUser(store, "c", "carol", 100)

	moves := []struct {
		from, to string
		amount   int64
	}{
		{"a", "b", 40}, {"b", "c", 90}, {"c", "a", 15}, {"b", "a", 50}, {"a", "c", 5},
	}
	for _, m := range moves {
		_, _, err := svc.Transfer(ctx, m.from, m.to, m.amount)
		require.NoError(t, err)
	}

	total := balanceOf(t, store, "a") + balanceOf(t, store, "b") + balanceOf(t, store, "c")
	assert.EqualValues(t, 300, total)
}

func TestConcurrentTransfersCannotOverdraw(t *testing.T) {
	svc, store, _ := newTestService()
	ctx := context.Background()
	seedUser(store, "sender", "sam", 100)
	seedUser(store, "recipient", "rita", 0)

	const workers = 10
	const amount = 30

	var wg sync.WaitGroup
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _, errs[i] = svc.Transfer(ctx, "sender", "recipient", amount)
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
		} else {
			assert.ErrorIs(t, err, wallet.ErrInsufficientFunds)
		}
	}

	// At most three 30-esh debits fit into a 100-esh balance.
	assert.LessOrEqual(t, succeeded, 3)
	senderBalance := balanceOf(t, store, "sender")
	assert.GreaterOrEqual(t, senderBalance, int64(0))
	assert.EqualValues(t, 100-int64(succeeded)*amount, senderBalance)
	assert.EqualValues(t, int64(succeeded)*amount, balanceOf(t, store, "recipient"))
}

func TestAdjustAllowsNegativeBalance(t *testing.T) {
	svc, store, bc := newTestService()
	ctx := context.Background()
	seedUser(store, "a", "alice", 100)

	newBalance, err := svc.Adjust(ctx, "a", -250)
	require.NoError(t, err)
	assert.EqualValues(t, -150, newBalance)
	assert.EqualValues(t, -150, balanceOf(t, store, "a"))

	updates := bc.coinsUpdates()
	require.Len(t, updates, 1)
	assert.EqualValues(t, -150, updates[0].Esh)
}

func TestAdjustUnknownUser(t *testing.T) {
	svc, _, bc := newTestService()

	_, err := svc.Adjust(context.Background(), "ghost", 10)
	assert.ErrorIs(t, err, wallet.ErrNotFound)
	assert.Empty(t, bc.coinsUpdates())
}

func TestSetUsernameUniquenessIsCaseInsensitive(t *testing.T) {
	svc, store, _ := newTestService()
	ctx := context.Background()
	seedUser(store, "x", "", 100)
	seedUser(store, "y", "Alice", 100)

	err := svc.SetUsername(ctx, "x", "alice")
	assert.ErrorIs(t, err, wallet.ErrUsernameTaken)

	u, err := store.GetUserByID(ctx, "x")
	require.NoError(t, err)
	assert.Nil(t, u.Username)

	require.NoError(t, svc.SetUsername(ctx, "x", "xavier"))
	u, err = store.GetUserByID(ctx, "x")
	require.NoError(t, err)
	require.NotNil(t, u.Username)
	assert.Equal(t, "xavier", *u.Username)
}

func TestSetUsernameAllowsReclaimingOwnName(t *testing.T) {
	svc, store, _ := newTestService()
	ctx := context.Background()
	seedUser(store, "x", "Alice", 100)

	assert.NoError(t, svc.SetUsername(ctx, "x", "alice"))
	u, err := store.GetUserByID(ctx, "x")
	require.NoError(t, err)
	assert.Equal(t, "alice", *u.Username)
}

func TestDeleteRefusesAdmins(t *testing.T) {
	svc, store, _ := newTestService()
	ctx := context.Background()
	store.Seed(models.User{UserID: "boss", UserKey: "key-boss", IsAdmin: true, Esh: 10000})
	seedUser(store, "a", "alice", 100)

	assert.ErrorIs(t, svc.Delete(ctx, "boss"), wallet.ErrProtectedUser)
	assert.ErrorIs(t, svc.Delete(ctx, "ghost"), wallet.ErrNotFound)

	require.NoError(t, svc.Delete(ctx, "a"))
	_, err := store.GetUserByID(ctx, "a")
	assert.ErrorIs(t, err, ledger.ErrNotFound)
}
