package engine

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/curve25519"

	"github.com/keyfission/realm-backend/interfaces"
	"github.com/keyfission/realm-backend/oprf"
	"github.com/keyfission/realm-backend/storage"
)

const (
	testTenant = interfaces.TenantName("demo")
	testUser   = interfaces.UserID("u1")
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func setupEngine(t *testing.T) (*Engine, *storage.MemoryBackend) {
	t.Helper()
	realm, err := interfaces.NewRealmIDFromHex("29237d86b521e338686006682ddc4531")
	require.NoError(t, err)
	store := storage.NewMemoryBackend(realm, testLogger())
	return New(store, testLogger()), store
}

func blindedElement() []byte {
	return append([]byte(nil), curve25519.Basepoint...)
}

func register(t *testing.T, e *Engine, limit uint32) *RegisterResult {
	t.Helper()
	result, err := e.Register(context.Background(), testTenant, testUser,
		blindedElement(), interfaces.LockoutPolicy{GuessLimit: limit}, []byte("ciphertext"))
	require.NoError(t, err)
	return result
}

func TestRegisterFirstGeneration(t *testing.T) {
	e, _ := setupEngine(t)

	result := register(t, e, 3)
	assert.Equal(t, uint64(1), result.Generation, "generation starts at 1")
	assert.Len(t, result.BlindedResult, oprf.ElementSize)

	status, err := e.GetStatus(context.Background(), testTenant, testUser)
	require.NoError(t, err)
	assert.True(t, status.Registered)
	assert.Equal(t, uint64(1), status.Generation)
	assert.Equal(t, uint32(0), status.GuessCount)
	assert.Equal(t, uint32(3), status.GuessLimit)
	assert.False(t, status.Locked)
}

func TestReRegisterResetsBudgetAndAdvancesGeneration(t *testing.T) {
	e, _ := setupEngine(t)
	ctx := context.Background()

	register(t, e, 2)
	_, err := e.Recover(ctx, testTenant, testUser, 1, blindedElement())
	require.NoError(t, err)

	result := register(t, e, 5)
	assert.Equal(t, uint64(2), result.Generation, "generation strictly increases")

	status, err := e.GetStatus(ctx, testTenant, testUser)
	require.NoError(t, err)
	assert.Equal(t, uint32(0), status.GuessCount, "re-registration resets the budget")
	assert.Equal(t, uint32(5), status.GuessLimit)
	assert.False(t, status.Locked)
}

func TestRecoverConsumesGuessesAndLocks(t *testing.T) {
	e, _ := setupEngine(t)
	ctx := context.Background()

	register(t, e, 2)

	first, err := e.Recover(ctx, testTenant, testUser, 1, blindedElement())
	require.NoError(t, err)
	assert.Equal(t, uint32(1), first.GuessCount)
	assert.Equal(t, uint32(2), first.GuessLimit)
	assert.Len(t, first.BlindedResult, oprf.ElementSize)

	second, err := e.Recover(ctx, testTenant, testUser, 1, blindedElement())
	require.NoError(t, err)
	assert.Equal(t, uint32(2), second.GuessCount)
	assert.Equal(t, first.BlindedResult, second.BlindedResult,
		"same generation evaluates the same key, including on the locking call")

	_, err = e.Recover(ctx, testTenant, testUser, 1, blindedElement())
	assert.ErrorIs(t, err, interfaces.ErrLockedOut)

	status, err := e.GetStatus(ctx, testTenant, testUser)
	require.NoError(t, err)
	assert.True(t, status.Locked)
	assert.Equal(t, uint32(2), status.GuessCount, "rejected attempts advance nothing")
}

func TestLockZeroesSecretMaterial(t *testing.T) {
	e, store := setupEngine(t)
	ctx := context.Background()

	register(t, e, 1)
	_, err := e.Recover(ctx, testTenant, testUser, 1, blindedElement())
	require.NoError(t, err)

	record, _, err := store.LoadRecord(ctx, testTenant, testUser)
	require.NoError(t, err)
	assert.Equal(t, interfaces.RecordStateLocked, record.State)
	assert.Empty(t, record.OprfPrivateKey)
	assert.Empty(t, record.EncryptedShare)
	assert.Equal(t, uint64(1), record.Generation, "counters survive for deterministic failures")
}

func TestRegisterWhileLockedIsPermitted(t *testing.T) {
	e, _ := setupEngine(t)
	ctx := context.Background()

	register(t, e, 1)
	_, err := e.Recover(ctx, testTenant, testUser, 1, blindedElement())
	require.NoError(t, err)

	result := register(t, e, 2)
	assert.Equal(t, uint64(2), result.Generation)

	recovered, err := e.Recover(ctx, testTenant, testUser, 2, blindedElement())
	require.NoError(t, err)
	assert.Equal(t, uint32(1), recovered.GuessCount)
}

func TestRecoverStaleGeneration(t *testing.T) {
	e, _ := setupEngine(t)
	ctx := context.Background()

	register(t, e, 2)
	register(t, e, 2)

	_, err := e.Recover(ctx, testTenant, testUser, 1, blindedElement())
	assert.ErrorIs(t, err, interfaces.ErrStaleGeneration)

	_, err = e.Recover(ctx, testTenant, testUser, 3, blindedElement())
	assert.ErrorIs(t, err, interfaces.ErrStaleGeneration)

	status, err := e.GetStatus(ctx, testTenant, testUser)
	require.NoError(t, err)
	assert.Equal(t, uint32(0), status.GuessCount, "stale attempts never touch the budget")
}

func TestRecoverStaleGenerationBeatsLockout(t *testing.T) {
	e, _ := setupEngine(t)
	ctx := context.Background()

	register(t, e, 1)
	_, err := e.Recover(ctx, testTenant, testUser, 1, blindedElement())
	require.NoError(t, err)
	register(t, e, 1)
	_, err = e.Recover(ctx, testTenant, testUser, 2, blindedElement())
	require.NoError(t, err)

	// The record at generation 2 is locked, but a generation-1 attempt must
	// see staleness, not the current record's lock state.
	_, err = e.Recover(ctx, testTenant, testUser, 1, blindedElement())
	assert.ErrorIs(t, err, interfaces.ErrStaleGeneration)
}

func TestRecoverNotRegistered(t *testing.T) {
	e, _ := setupEngine(t)

	_, err := e.Recover(context.Background(), testTenant, testUser, 1, blindedElement())
	assert.ErrorIs(t, err, interfaces.ErrNotRegistered)
}

func TestGuessLimitZeroLocksImmediately(t *testing.T) {
	e, _ := setupEngine(t)
	ctx := context.Background()

	register(t, e, 0)

	status, err := e.GetStatus(ctx, testTenant, testUser)
	require.NoError(t, err)
	assert.True(t, status.Locked)

	_, err = e.Recover(ctx, testTenant, testUser, 1, blindedElement())
	assert.ErrorIs(t, err, interfaces.ErrLockedOut)

	status, err = e.GetStatus(ctx, testTenant, testUser)
	require.NoError(t, err)
	assert.Equal(t, uint32(0), status.GuessCount, "nothing was consumed")
}

func TestDeleteIsIdempotent(t *testing.T) {
	e, _ := setupEngine(t)
	ctx := context.Background()

	require.NoError(t, e.Delete(ctx, testTenant, testUser), "deleting an absent record succeeds")

	register(t, e, 2)
	require.NoError(t, e.Delete(ctx, testTenant, testUser))

	status, err := e.GetStatus(ctx, testTenant, testUser)
	require.NoError(t, err)
	assert.False(t, status.Registered)
	assert.Equal(t, uint64(0), status.Generation)

	_, err = e.Recover(ctx, testTenant, testUser, 1, blindedElement())
	assert.ErrorIs(t, err, interfaces.ErrNotRegistered)
}

func TestFullBudgetRoundTrip(t *testing.T) {
	e, _ := setupEngine(t)
	ctx := context.Background()

	const limit = 4
	register(t, e, limit)

	for i := 1; i < limit; i++ {
		result, err := e.Recover(ctx, testTenant, testUser, 1, blindedElement())
		require.NoError(t, err)
		assert.Equal(t, uint32(i), result.GuessCount)
	}

	// One attempt remains; it succeeds and locks.
	result, err := e.Recover(ctx, testTenant, testUser, 1, blindedElement())
	require.NoError(t, err)
	assert.Equal(t, uint32(limit), result.GuessCount)

	_, err = e.Recover(ctx, testTenant, testUser, 1, blindedElement())
	assert.ErrorIs(t, err, interfaces.ErrLockedOut)

	status, err := e.GetStatus(ctx, testTenant, testUser)
	require.NoError(t, err)
	assert.Equal(t, uint32(limit), status.GuessCount, "the counter never advances past the limit")
}

func TestPayloadValidation(t *testing.T) {
	e, _ := setupEngine(t)
	ctx := context.Background()

	_, err := e.Register(ctx, testTenant, testUser, []byte("short"), interfaces.LockoutPolicy{GuessLimit: 2}, []byte("c"))
	assert.ErrorIs(t, err, interfaces.ErrInvalidPayload)

	register(t, e, 2)
	_, err = e.Recover(ctx, testTenant, testUser, 1, []byte("short"))
	assert.ErrorIs(t, err, interfaces.ErrInvalidPayload)

	status, err := e.GetStatus(ctx, testTenant, testUser)
	require.NoError(t, err)
	assert.Equal(t, uint32(0), status.GuessCount, "rejected payloads consume nothing")
}

// flakyStore injects CAS conflicts before delegating to the real backend.
type flakyStore struct {
	interfaces.SecretStore
	conflicts int
}

func (s *flakyStore) CompareAndSwapRecord(ctx context.Context, tenant interfaces.TenantName, user interfaces.UserID, expected interfaces.RecordVersion, record *interfaces.UserRecord) error {
	if s.conflicts > 0 {
		s.conflicts--
		return interfaces.ErrRecordConflict
	}
	return s.SecretStore.CompareAndSwapRecord(ctx, tenant, user, expected, record)
}

// hookStore runs a callback once, right before the next CAS commit, to
// interleave competing writes at the worst possible moment.
type hookStore struct {
	interfaces.SecretStore
	beforeCommit func()
}

func (s *hookStore) CompareAndSwapRecord(ctx context.Context, tenant interfaces.TenantName, user interfaces.UserID, expected interfaces.RecordVersion, record *interfaces.UserRecord) error {
	if s.beforeCommit != nil {
		fn := s.beforeCommit
		s.beforeCommit = nil
		fn()
	}
	return s.SecretStore.CompareAndSwapRecord(ctx, tenant, user, expected, record)
}

func TestDeleteDuringRecoverDoesNotClobberReRegistration(t *testing.T) {
	_, backend := setupEngine(t)
	ctx := context.Background()

	hooked := &hookStore{SecretStore: backend}
	e := New(hooked, testLogger())
	direct := New(backend, testLogger())

	register(t, e, 3)

	// Between Recover's read and its commit, the record is deleted and the
	// user registers again. The recover's write was prepared against the old
	// record; committing it would resurrect the old share over the new one.
	var reRegistered *RegisterResult
	hooked.beforeCommit = func() {
		require.NoError(t, direct.Delete(ctx, testTenant, testUser))
		result, err := direct.Register(ctx, testTenant, testUser,
			blindedElement(), interfaces.LockoutPolicy{GuessLimit: 3}, []byte("new-share"))
		require.NoError(t, err)
		reRegistered = result
	}

	recovered, err := e.Recover(ctx, testTenant, testUser, 1, blindedElement())
	require.NoError(t, err)

	// The stale commit lost; the retry charged the fresh registration and
	// evaluated its key.
	assert.Equal(t, reRegistered.BlindedResult, recovered.BlindedResult)
	assert.Equal(t, uint32(1), recovered.GuessCount)

	record, _, err := backend.LoadRecord(ctx, testTenant, testUser)
	require.NoError(t, err)
	assert.Equal(t, []byte("new-share"), record.EncryptedShare)
	assert.Equal(t, uint64(1), record.Generation)
	assert.Equal(t, uint32(1), record.GuessCount)
}

func TestConflictsAreRetried(t *testing.T) {
	_, backend := setupEngine(t)
	e := New(&flakyStore{SecretStore: backend, conflicts: 2}, testLogger())

	result, err := e.Register(context.Background(), testTenant, testUser,
		blindedElement(), interfaces.LockoutPolicy{GuessLimit: 2}, []byte("c"))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), result.Generation)
}

func TestUnresolvedContentionSurfacesUnavailable(t *testing.T) {
	_, backend := setupEngine(t)
	e := New(&flakyStore{SecretStore: backend, conflicts: 1000}, testLogger())

	_, err := e.Register(context.Background(), testTenant, testUser,
		blindedElement(), interfaces.LockoutPolicy{GuessLimit: 2}, []byte("c"))
	assert.ErrorIs(t, err, interfaces.ErrStoreUnavailable)
}
