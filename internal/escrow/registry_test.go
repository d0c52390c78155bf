package escrow_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/phaselock/escrowd/internal/escrow"
)

func TestOperationalStatus(t *testing.T) {
	svc, _, _, sink := newTestService(t)
	ctx := context.Background()

	active, err := svc.OperationalStatus(ctx)
	if err != nil {
		t.Fatalf("OperationalStatus: %v", err)
	}
	assert.True(t, active, "protocol starts operational")

	err = svc.SetOperationalStatus(ctx, provider, false)
	assert.ErrorIs(t, err, escrow.ErrAccessDenied)

	if err := svc.SetOperationalStatus(ctx, governanceID, false); err != nil {
		t.Fatalf("SetOperationalStatus: %v", err)
	}
	active, err = svc.OperationalStatus(ctx)
	if err != nil {
		t.Fatalf("OperationalStatus: %v", err)
	}
	assert.False(t, active)
	assert.Contains(t, sink.events, "protocol.status")

	// The flag gates nothing: allocations still open while inactive.
	if _, err := svc.CreateAllocation(ctx, provider, beneficiary, 100, []uint64{1}); err != nil {
		t.Fatalf("CreateAllocation while inactive: %v", err)
	}
}

func TestEntityVerification(t *testing.T) {
	svc, _, _, sink := newTestService(t)
	ctx := context.Background()

	verified, err := svc.IsEntityVerified(ctx, "stranger")
	if err != nil {
		t.Fatalf("IsEntityVerified: %v", err)
	}
	assert.False(t, verified, "unknown entities default to unverified")

	err = svc.SetEntityVerified(ctx, provider, "partner-1", true)
	assert.ErrorIs(t, err, escrow.ErrAccessDenied)

	err = svc.SetEntityVerified(ctx, governanceID, "", true)
	assert.ErrorIs(t, err, escrow.ErrParameterInvalid)

	if err := svc.SetEntityVerified(ctx, governanceID, "partner-1", true); err != nil {
		t.Fatalf("SetEntityVerified: %v", err)
	}
	verified, err = svc.IsEntityVerified(ctx, "partner-1")
	if err != nil {
		t.Fatalf("IsEntityVerified: %v", err)
	}
	assert.True(t, verified)
	assert.Contains(t, sink.events, "entity.verified")

	if err := svc.SetEntityVerified(ctx, governanceID, "partner-1", false); err != nil {
		t.Fatalf("SetEntityVerified revoke: %v", err)
	}
	verified, _ = svc.IsEntityVerified(ctx, "partner-1")
	assert.False(t, verified)
}
