package service

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

const defaultLeaseTTL = 5 * time.Minute

// ErrCaseBusy indicates another pipeline run or correction-apply operation
// holds the case lease.
var ErrCaseBusy = errors.New("another operation is in flight for this case")

// CaseLease serializes operations per case: exactly one pipeline run or
// correction apply may be in flight for a caseID at any time. Leases carry
// a TTL so a crashed holder does not wedge the case forever.
type CaseLease struct {
	mu     sync.Mutex
	ttl    time.Duration
	leases map[uuid.UUID]time.Time // caseID -> expiry
	now    func() time.Time
}

// NewCaseLease creates a lease registry with the given TTL (default 5m)
func NewCaseLease(ttl time.Duration) *CaseLease {
	if ttl <= 0 {
		ttl = defaultLeaseTTL
	}
	return &CaseLease{
		ttl:    ttl,
		leases: make(map[uuid.UUID]time.Time),
		now:    time.Now,
	}
}

// Acquire takes the lease for a case. Returns ErrCaseBusy if a non-expired
// lease is held by someone else; an expired lease is reacquirable.
func (l *CaseLease) Acquire(caseID uuid.UUID) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if expiry, held := l.leases[caseID]; held && l.now().Before(expiry) {
		return ErrCaseBusy
	}

	l.leases[caseID] = l.now().Add(l.ttl)
	return nil
}

// Release frees the lease for a case
func (l *CaseLease) Release(caseID uuid.UUID) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.leases, caseID)
}
