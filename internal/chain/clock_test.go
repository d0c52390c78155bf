package chain

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTickingDerivesHeightFromElapsedTime(t *testing.T) {
	clock, err := NewTicking(time.Now().UTC().Add(-25*time.Minute), 10*time.Minute)
	if err != nil {
		t.Fatalf("NewTicking: %v", err)
	}
	h, err := clock.Current(context.Background())
	if err != nil {
		t.Fatalf("Current: %v", err)
	}
	assert.Equal(t, uint64(2), h)
}

func TestTickingBeforeGenesisIsZero(t *testing.T) {
	clock, err := NewTicking(time.Now().UTC().Add(time.Hour), time.Minute)
	if err != nil {
		t.Fatalf("NewTicking: %v", err)
	}
	h, err := clock.Current(context.Background())
	if err != nil {
		t.Fatalf("Current: %v", err)
	}
	assert.Equal(t, uint64(0), h)
}

func TestTickingValidation(t *testing.T) {
	_, err := NewTicking(time.Now(), 0)
	assert.Error(t, err)

	_, err = NewTicking(time.Time{}, time.Minute)
	assert.Error(t, err)
}

func TestManualClock(t *testing.T) {
	m := NewManual(10)
	ctx := context.Background()

	h, _ := m.Current(ctx)
	assert.Equal(t, uint64(10), h)

	assert.Equal(t, uint64(15), m.Advance(5))

	// Set never moves backwards.
	assert.Equal(t, uint64(15), m.Set(3))
	assert.Equal(t, uint64(40), m.Set(40))

	h, _ = m.Current(ctx)
	assert.Equal(t, uint64(40), h)
}
