package ledger

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/eshcamp/esh/internal/models"
)

// MemoryStore is an in-memory Store used by tests and local development. It
// reproduces the row-level exclusivity contract: BalanceForUpdate takes a
// per-row mutex that is held until the transaction commits or rolls back, so
// concurrent read-modify-write cycles on the same user serialize exactly as
// they would under SELECT ... FOR UPDATE. Lock waits are bounded; a
// transaction that cannot acquire a row within rowLockWait fails with
// ErrDeadlock instead of blocking forever.
type MemoryStore struct {
	mu    sync.RWMutex
	rows  map[string]*memRow // by user_id
	byKey map[string]string  // user_key -> user_id
}

type memRow struct {
	mu   sync.Mutex // the row lock; held for the lifetime of a locking tx
	user models.User
}

// NewMemoryStore returns an empty in-memory ledger.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rows:  make(map[string]*memRow),
		byKey: make(map[string]string),
	}
}

// Seed inserts a user directly, bypassing transactions. Test helper.
func (s *MemoryStore) Seed(user models.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[user.UserID] = &memRow{user: user}
	s.byKey[user.UserKey] = user.UserID
}

func (s *MemoryStore) GetUserByKey(ctx context.Context, userKey string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byKey[userKey]
	if !ok {
		return nil, ErrNotFound
	}
	u := s.rows[id].user
	return &u, nil
}

func (s *MemoryStore) GetUserByID(ctx context.Context, userID string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	row, ok := s.rows[userID]
	if !ok {
		return nil, ErrNotFound
	}
	u := row.user
	return &u, nil
}

func (s *MemoryStore) ListUsers(ctx context.Context) ([]models.User, error) {
	s.mu.RLock()
	users := make([]models.User, 0, len(s.rows))
	for _, row := range s.rows {
		users = append(users, row.user)
	}
	s.mu.RUnlock()

	// ORDER BY username, NULLs last.
	sort.Slice(users, func(i, j int) bool {
		a, b := users[i].Username, users[j].Username
		switch {
		case a == nil:
			return false
		case b == nil:
			return true
		default:
			return *a < *b
		}
	})
	return users, nil
}

func (s *MemoryStore) Leaderboard(ctx context.Context, limit int) ([]models.User, error) {
	s.mu.RLock()
	users := make([]models.User, 0, len(s.rows))
	for _, row := range s.rows {
		if row.user.Username != nil {
			users = append(users, row.user)
		}
	}
	s.mu.RUnlock()

	sort.Slice(users, func(i, j int) bool {
		if users[i].Esh != users[j].Esh {
			return users[i].Esh > users[j].Esh
		}
		return *users[i].Username < *users[j].Username
	})
	if len(users) > limit {
		users = users[:limit]
	}
	return users, nil
}

func (s *MemoryStore) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	tx := &memTx{
		s:      s,
		locked: make(map[string]*memRow),
		staged: make(map[string]*models.User),
		gone:   make(map[string]bool),
	}
	if err := fn(tx); err != nil {
		tx.rollback()
		return err
	}
	tx.commit()
	return nil
}

// memTx stages writes against locked row copies; nothing is visible to other
// readers until commit, and rollback simply discards the staged copies.
type memTx struct {
	s       *MemoryStore
	locked  map[string]*memRow
	staged  map[string]*models.User
	created []models.User
	gone    map[string]bool
}

// rowLockWait bounds how long a transaction waits for another transaction's
// row lock. Transactions acquiring rows in opposing order can never both
// proceed; giving up rolls this one back, which releases its locks and
// unblocks the other side.
const rowLockWait = 500 * time.Millisecond

func lockRow(row *memRow) bool {
	deadline := time.Now().Add(rowLockWait)
	for !row.mu.TryLock() {
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(time.Millisecond)
	}
	return true
}

// forUpdate locks the row and returns the transaction's staged copy.
func (t *memTx) forUpdate(userID string) (*models.User, error) {
	if u, ok := t.staged[userID]; ok {
		if t.gone[userID] {
			return nil, ErrNotFound
		}
		return u, nil
	}

	t.s.mu.RLock()
	row, ok := t.s.rows[userID]
	t.s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}

	if !lockRow(row) {
		return nil, ErrDeadlock
	}

	// The row may have been deleted while we waited for its lock.
	t.s.mu.RLock()
	live := t.s.rows[userID] == row
	var u models.User
	if live {
		u = row.user
	}
	t.s.mu.RUnlock()
	if !live {
		row.mu.Unlock()
		return nil, ErrNotFound
	}

	t.locked[userID] = row
	t.staged[userID] = &u
	return t.staged[userID], nil
}

func (t *memTx) CreateUser(ctx context.Context, user models.User) error {
	t.created = append(t.created, user)
	return nil
}

func (t *memTx) BalanceForUpdate(ctx context.Context, userID string) (int64, error) {
	u, err := t.forUpdate(userID)
	if err != nil {
		return 0, err
	}
	return u.Esh, nil
}

func (t *memTx) AddBalance(ctx context.Context, userID string, delta int64) (int64, error) {
	u, err := t.forUpdate(userID)
	if err != nil {
		return 0, err
	}
	u.Esh += delta
	return u.Esh, nil
}

func (t *memTx) UsernameTaken(ctx context.Context, username, excludeUserID string) (bool, error) {
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	for id, row := range t.s.rows {
		if id == excludeUserID || t.gone[id] {
			continue
		}
		name := row.user.Username
		if staged, ok := t.staged[id]; ok {
			name = staged.Username
		}
		if name != nil && strings.EqualFold(*name, username) {
			return true, nil
		}
	}
	return false, nil
}

func (t *memTx) SetUsername(ctx context.Context, userID, username string) error {
	u, err := t.forUpdate(userID)
	if err != nil {
		return err
	}
	name := username
	u.Username = &name
	return nil
}

func (t *memTx) DeleteUser(ctx context.Context, userID string) error {
	if _, err := t.forUpdate(userID); err != nil {
		return err
	}
	t.gone[userID] = true
	return nil
}

func (t *memTx) commit() {
	t.s.mu.Lock()
	for id, u := range t.staged {
		if t.gone[id] {
			delete(t.s.byKey, u.UserKey)
			delete(t.s.rows, id)
			continue
		}
		if row, ok := t.s.rows[id]; ok {
			row.user = *u
		}
	}
	for _, u := range t.created {
		t.s.rows[u.UserID] = &memRow{user: u}
		t.s.byKey[u.UserKey] = u.UserID
	}
	t.s.mu.Unlock()
	t.release()
}

func (t *memTx) rollback() {
	t.release()
}

func (t *memTx) release() {
	for _, row := range t.locked {
		row.mu.Unlock()
	}
	t.locked = nil
}
