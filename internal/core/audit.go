package core

import (
	"context"

	"pkt.systems/occupd/internal/unitstore"
	"pkt.systems/occupd/internal/uuidv7"
)

// Audit event kinds. One row is appended per completed transition; the
// append is best-effort and its failure never fails the transition.
const (
	AuditTake                = "take"
	AuditPause               = "pause"
	AuditFinish              = "finish"
	AuditReleasedWithoutWork = "released_without_work"
	AuditStateChange         = "state_change"
	AuditInspectionResult    = "inspection_result"
	AuditRepairStarted       = "repair_started"
	AuditRepairCompleted     = "repair_completed"
	AuditRepairBlocked       = "repair_blocked"
	AuditOverrideDetected    = "override_detected"
)

// audit appends one immutable audit row. Errors are logged and discarded.
func (s *Service) audit(ctx context.Context, unitID, kind, worker string, payload map[string]string) {
	rec := unitstore.AuditRecord{
		ID:      uuidv7.NewString(),
		UnitID:  unitID,
		Kind:    kind,
		Worker:  worker,
		At:      s.clock.Now(),
		Payload: payload,
	}
	if err := s.store.AppendAudit(ctx, rec); err != nil {
		s.metrics.AuditFailed.Inc()
		s.log(ctx).Warn("audit.append_failed",
			"unit", unitID,
			"kind", kind,
			"error", err,
		)
	}
}
