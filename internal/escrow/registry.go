package escrow

import (
	"context"
	"fmt"
)

// SetOperationalStatus flips the protocol-wide operational flag. The flag is a
// plain toggle: no operation currently gates on it. Governance-only.
func (s *Service) SetOperationalStatus(ctx context.Context, caller string, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if caller != s.cfg.GovernanceID {
		return errf(KindAccessDenied, "operational status requires the governance identity")
	}
	if err := s.store.SetOperationalStatus(ctx, active); err != nil {
		return fmt.Errorf("persist operational status: %w", err)
	}
	s.emit(ctx, "protocol.status", map[string]interface{}{
		"active": active,
	})
	return nil
}

// OperationalStatus reports the protocol-wide flag.
func (s *Service) OperationalStatus(ctx context.Context) (bool, error) {
	return s.store.OperationalStatus(ctx)
}

// SetEntityVerified marks an entity in the verification registry. The registry
// is a flag store: nothing enforces verification on escrow operations.
// Governance-only.
func (s *Service) SetEntityVerified(ctx context.Context, caller, entity string, verified bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if caller != s.cfg.GovernanceID {
		return errf(KindAccessDenied, "entity verification requires the governance identity")
	}
	if entity == "" {
		return errf(KindParameterInvalid, "entity identity required")
	}
	if err := s.store.SetEntityVerified(ctx, entity, verified); err != nil {
		return fmt.Errorf("persist entity verification: %w", err)
	}
	s.emit(ctx, "entity.verified", map[string]interface{}{
		"entity":   entity,
		"verified": verified,
	})
	return nil
}

// IsEntityVerified reports whether an entity is flagged verified; unknown
// entities default to false.
func (s *Service) IsEntityVerified(ctx context.Context, entity string) (bool, error) {
	return s.store.IsEntityVerified(ctx, entity)
}
