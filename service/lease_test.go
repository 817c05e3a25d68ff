package service

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCaseLeaseMutualExclusion(t *testing.T) {
	lease := NewCaseLease(time.Minute)
	caseID := uuid.New()
	other := uuid.New()

	require.NoError(t, lease.Acquire(caseID))
	assert.ErrorIs(t, lease.Acquire(caseID), ErrCaseBusy)
	assert.NoError(t, lease.Acquire(other), "different cases never contend")

	lease.Release(caseID)
	assert.NoError(t, lease.Acquire(caseID))
}

func TestCaseLeaseExpiryReacquirable(t *testing.T) {
	lease := NewCaseLease(5 * time.Minute)
	caseID := uuid.New()

	current := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)
	lease.now = func() time.Time { return current }

	require.NoError(t, lease.Acquire(caseID))
	assert.ErrorIs(t, lease.Acquire(caseID), ErrCaseBusy)

	// A holder that crashed never releases; the TTL frees the case.
	current = current.Add(5*time.Minute + time.Second)
	assert.NoError(t, lease.Acquire(caseID))
}

func TestCaseLeaseDefaultTTL(t *testing.T) {
	lease := NewCaseLease(0)
	assert.Equal(t, 5*time.Minute, lease.ttl)
}
