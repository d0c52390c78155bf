package audit

import (
	"context"

	"github.com/phaselock/escrowd/internal/signer"
)

// Recorder adapts a Store and Signer into the event sink the escrow service
// emits through.
type Recorder struct {
	store  Store
	signer signer.Signer
}

func NewRecorder(store Store, s signer.Signer) *Recorder {
	return &Recorder{store: store, signer: s}
}

// Record appends one protocol event to the audit trail.
func (r *Recorder) Record(ctx context.Context, eventType string, payload map[string]interface{}) error {
	return r.store.Append(ctx, &Event{
		EventType: eventType,
		Payload:   payload,
	}, r.signer)
}
