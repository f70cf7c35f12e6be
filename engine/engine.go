// Package engine implements the guess-limited OPRF state machine. It owns
// the user record lifecycle end to end: it is the only component permitted
// to read or write a user's secret share, and every mutation goes through a
// bounded optimistic-concurrency loop against the secret store's
// compare-and-swap so concurrent requests for the same user serialize their
// guess increments.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/keyfission/realm-backend/interfaces"
	"github.com/keyfission/realm-backend/metrics"
	"github.com/keyfission/realm-backend/oprf"
)

// maxCommitAttempts bounds the read-compute-commit retries under contention.
// Past the bound the operation surfaces as store unavailability, which the
// caller can retry safely: no guess is charged unless its commit landed.
const maxCommitAttempts = 4

// Engine is the per-realm registration/recovery protocol engine.
type Engine struct {
	store interfaces.SecretStore
	log   *slog.Logger
}

// New creates an engine over the given secret store.
func New(store interfaces.SecretStore, log *slog.Logger) *Engine {
	return &Engine{store: store, log: log}
}

// RegisterResult acknowledges a registration.
type RegisterResult struct {
	// Generation is the new record generation.
	Generation uint64

	// BlindedResult is the evaluation of the registration's blinded input
	// under the freshly generated key, so the client can complete its key
	// schedule in the same round trip. Registration consumes no guess.
	BlindedResult []byte
}

// RecoverResult carries a blinded evaluation for one charged guess.
type RecoverResult struct {
	BlindedResult []byte
	GuessCount    uint32
	GuessLimit    uint32
}

// Status is the read-only view of a record.
type Status struct {
	// Registered is false when no record exists (generation 0).
	Registered bool
	Generation uint64
	GuessCount uint32
	GuessLimit uint32
	Locked     bool
}

// Register creates or overwrites the user's record. It is always permitted:
// re-registration is the unlock path for an exhausted generation. The guess
// count resets, the generation strictly increases, and a fresh OPRF key is
// generated; nothing of the previous generation survives.
func (e *Engine) Register(ctx context.Context, tenant interfaces.TenantName, user interfaces.UserID, blindedInput []byte, policy interfaces.LockoutPolicy, encryptedShare []byte) (*RegisterResult, error) {
	if len(blindedInput) != oprf.ElementSize {
		return nil, fmt.Errorf("%w: blinded input must be %d bytes", interfaces.ErrInvalidPayload, oprf.ElementSize)
	}

	for attempt := 0; attempt < maxCommitAttempts; attempt++ {
		version, generation, err := e.currentVersion(ctx, tenant, user)
		if err != nil {
			return nil, err
		}

		key, err := oprf.GenerateKey()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", interfaces.ErrStoreUnavailable, err)
		}

		// Unlike Recover there is no charging constraint here, so the input
		// is evaluated before the commit: a degenerate curve point rejects
		// the registration without leaving a half-registered record.
		blindedResult, err := oprf.Evaluate(key, blindedInput)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", interfaces.ErrInvalidPayload, err)
		}

		record := &interfaces.UserRecord{
			Generation:     generation + 1,
			OprfPrivateKey: key,
			EncryptedShare: append([]byte(nil), encryptedShare...),
			GuessCount:     0,
			GuessLimit:     policy.GuessLimit,
			Policy:         policy,
			State:          interfaces.RecordStateRegistered,
		}

		if err := e.store.CompareAndSwapRecord(ctx, tenant, user, version, record); err != nil {
			if errors.Is(err, interfaces.ErrRecordConflict) {
				metrics.StoreConflicts.Inc()
				continue
			}
			return nil, storeFailure(err)
		}

		e.log.Info("Registered user record",
			slog.String("tenant", tenant.String()),
			slog.Uint64("generation", record.Generation),
			slog.Uint64("guessLimit", uint64(record.GuessLimit)))

		return &RegisterResult{Generation: record.Generation, BlindedResult: blindedResult}, nil
	}

	return nil, fmt.Errorf("%w: register contention not resolved after %d attempts", interfaces.ErrStoreUnavailable, maxCommitAttempts)
}

// Recover charges one guess against the record and returns the blinded
// evaluation of the guess. The increment is committed before any
// cryptographic output exists, so a client that aborts the connection has
// still spent the guess. When the increment exhausts the budget the record
// transitions to locked atomically with this commit, and its key material is
// zeroed; the returned evaluation is computed from the pre-transition key.
func (e *Engine) Recover(ctx context.Context, tenant interfaces.TenantName, user interfaces.UserID, generation uint64, blindedGuess []byte) (*RecoverResult, error) {
	if len(blindedGuess) != oprf.ElementSize {
		return nil, fmt.Errorf("%w: blinded guess must be %d bytes", interfaces.ErrInvalidPayload, oprf.ElementSize)
	}

	for attempt := 0; attempt < maxCommitAttempts; attempt++ {
		current, version, err := e.store.LoadRecord(ctx, tenant, user)
		if errors.Is(err, interfaces.ErrRecordAbsent) {
			return nil, interfaces.ErrNotRegistered
		}
		if err != nil {
			return nil, storeFailure(err)
		}

		// Generation is checked before the budget: a stale attempt must not
		// learn anything about the current record, including whether it is
		// locked.
		if generation != current.Generation {
			return nil, fmt.Errorf("%w: attempt for generation %d, record at %d", interfaces.ErrStaleGeneration, generation, current.Generation)
		}

		if current.Locked() {
			return nil, interfaces.ErrLockedOut
		}

		evaluationKey := append([]byte(nil), current.OprfPrivateKey...)

		next := current.Clone()
		next.GuessCount++
		lockedNow := next.GuessCount >= next.GuessLimit
		if lockedNow {
			next.State = interfaces.RecordStateLocked
			// The generation is terminal; the secrets serve no further
			// purpose and are not kept around.
			next.OprfPrivateKey = nil
			next.EncryptedShare = nil
		}

		if err := e.store.CompareAndSwapRecord(ctx, tenant, user, version, next); err != nil {
			if errors.Is(err, interfaces.ErrRecordConflict) {
				metrics.StoreConflicts.Inc()
				continue
			}
			return nil, storeFailure(err)
		}

		metrics.GuessesConsumed.Inc()
		if lockedNow {
			metrics.LockoutsTotal.Inc()
			e.log.Info("Record generation locked",
				slog.String("tenant", tenant.String()),
				slog.Uint64("generation", next.Generation))
		}

		blindedResult, err := oprf.Evaluate(evaluationKey, blindedGuess)
		if err != nil {
			// The guess was committed above; a degenerate curve point is the
			// client's own doing and is not refunded.
			return nil, fmt.Errorf("%w: %v", interfaces.ErrInvalidPayload, err)
		}

		return &RecoverResult{
			BlindedResult: blindedResult,
			GuessCount:    next.GuessCount,
			GuessLimit:    next.GuessLimit,
		}, nil
	}

	return nil, fmt.Errorf("%w: recover contention not resolved after %d attempts", interfaces.ErrStoreUnavailable, maxCommitAttempts)
}

// Delete erases the user's record entirely, all generations included.
// Deleting an absent record succeeds.
func (e *Engine) Delete(ctx context.Context, tenant interfaces.TenantName, user interfaces.UserID) error {
	if err := e.store.DeleteRecord(ctx, tenant, user); err != nil {
		return storeFailure(err)
	}
	e.log.Info("Deleted user record", slog.String("tenant", tenant.String()))
	return nil
}

// GetStatus reports the record state without mutating anything or consuming
// a guess.
func (e *Engine) GetStatus(ctx context.Context, tenant interfaces.TenantName, user interfaces.UserID) (*Status, error) {
	record, _, err := e.store.LoadRecord(ctx, tenant, user)
	if errors.Is(err, interfaces.ErrRecordAbsent) {
		return &Status{}, nil
	}
	if err != nil {
		return nil, storeFailure(err)
	}

	return &Status{
		Registered: true,
		Generation: record.Generation,
		GuessCount: record.GuessCount,
		GuessLimit: record.GuessLimit,
		Locked:     record.Locked(),
	}, nil
}

// currentVersion resolves the version token and generation for a register
// commit. An absent record still carries a token: the store keeps the token
// chain alive across deletions, so creating over a deleted record serializes
// against any write still in flight from before the delete.
func (e *Engine) currentVersion(ctx context.Context, tenant interfaces.TenantName, user interfaces.UserID) (interfaces.RecordVersion, uint64, error) {
	record, version, err := e.store.LoadRecord(ctx, tenant, user)
	switch {
	case errors.Is(err, interfaces.ErrRecordAbsent):
		return version, 0, nil
	case err != nil:
		return 0, 0, storeFailure(err)
	default:
		return version, record.Generation, nil
	}
}

// storeFailure normalizes backend errors onto ErrStoreUnavailable while
// keeping already-typed errors intact.
func storeFailure(err error) error {
	if errors.Is(err, interfaces.ErrStoreUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %v", interfaces.ErrStoreUnavailable, err)
}
