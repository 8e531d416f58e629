package core

import (
	"context"

	"pkt.systems/occupd/internal/bus"
)

// emit publishes one event, best-effort. A failed publish is logged and
// swallowed; observers recover via snapshot reads, never via the stream.
func (s *Service) emit(ctx context.Context, eventType bus.EventType, unitID, worker, detail string) {
	if s.bus == nil {
		return
	}
	event := bus.Event{
		Type:        eventType,
		UnitID:      unitID,
		Worker:      worker,
		StateDetail: detail,
		At:          s.clock.Now(),
	}
	if err := s.bus.Publish(ctx, event); err != nil {
		s.metrics.EventsFailed.Inc()
		s.log(ctx).Warn("bus.publish_failed",
			"event_type", string(eventType),
			"unit", unitID,
			"error", err,
		)
		return
	}
	s.metrics.EventsPublished.Inc()
}
