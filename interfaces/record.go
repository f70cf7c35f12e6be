package interfaces

// RecordState is the lifecycle state persisted with a user record.
type RecordState string

const (
	// RecordStateRegistered means the current generation still accepts
	// recovery attempts (subject to the guess budget).
	RecordStateRegistered RecordState = "registered"

	// RecordStateLocked means the guess budget of the current generation is
	// exhausted. The state is terminal for the generation: it is represented
	// rather than deleted so repeated recovery attempts keep failing
	// deterministically instead of being reinterpreted as "never registered".
	RecordStateLocked RecordState = "locked"
)

// LockoutPolicy carries the lockout parameters chosen by the client at
// registration time. The policy is immutable within a generation.
type LockoutPolicy struct {
	// GuessLimit is the number of recovery attempts permitted before the
	// generation locks. A limit of 0 produces a registration-only record:
	// the first recovery attempt fails locked-out without consuming anything.
	GuessLimit uint32 `json:"guess_limit"`
}

// UserRecord is the durable per-(realm, tenant, user) state owned exclusively
// by the engine. The store persists it verbatim and applies no business logic.
type UserRecord struct {
	// Generation starts at 1 on first registration (0 is reserved for "never
	// registered") and strictly increases on every successful re-registration.
	Generation uint64 `json:"generation"`

	// OprfPrivateKey is the server-held curve25519 scalar evaluated against
	// blinded guesses. It never leaves the realm and is zeroed on lockout.
	OprfPrivateKey []byte `json:"oprf_private_key"`

	// EncryptedShare is the client's secret share ciphertext. The realm never
	// holds the plaintext; only a key derived from a correct PIN evaluation
	// decrypts it client-side.
	EncryptedShare []byte `json:"encrypted_share"`

	// GuessCount is the number of recovery attempts consumed in the current
	// generation. Mutated only by Recover.
	GuessCount uint32 `json:"guess_count"`

	// GuessLimit is the budget after which the generation locks permanently.
	GuessLimit uint32 `json:"guess_limit"`

	// Policy is the registration-time lockout policy.
	Policy LockoutPolicy `json:"policy"`

	// State tracks the registered/locked lifecycle.
	State RecordState `json:"state"`
}

// Clone returns a deep copy. Stores must never hand out aliased byte slices.
func (r *UserRecord) Clone() *UserRecord {
	if r == nil {
		return nil
	}
	cp := *r
	cp.OprfPrivateKey = append([]byte(nil), r.OprfPrivateKey...)
	cp.EncryptedShare = append([]byte(nil), r.EncryptedShare...)
	return &cp
}

// Locked reports whether the record accepts no further recovery attempts.
// A record whose count already meets its limit is locked even if no explicit
// transition was persisted (the GuessLimit == 0 case).
func (r *UserRecord) Locked() bool {
	return r.State == RecordStateLocked || r.GuessCount >= r.GuessLimit
}
