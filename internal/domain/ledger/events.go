package ledger

import (
	"context"
	"encoding/json"

	"github.com/nmk/rehab-ledger/internal/platform/websocket"
)

// Change event types pushed on the live feed.
const (
	EventPatientCreated = "patient.created"
	EventPatientUpdated = "patient.updated"
	EventPatientDeleted = "patient.deleted"
	EventPaymentApplied = "payment.applied"
)

// Feed topics. Every event also goes to PatientTopic(id).
const (
	TopicPatients = "patients"
	TopicPayments = "payments"
)

func PatientTopic(id string) string {
	return "patient/" + id
}

// SetFeed attaches a live feed that receives every committed change.
func (s *Service) SetFeed(feed websocket.Publisher) {
	s.feed = feed
}

// notify publishes a committed change. Feed failures are logged and never
// fail the ledger operation.
func (s *Service) notify(ctx context.Context, typ, patientID string, data interface{}) {
	if s.feed == nil {
		return
	}
	raw, err := json.Marshal(data)
	if err != nil {
		s.logger.Warn().Err(err).Str("event", typ).Msg("failed to encode feed event")
		return
	}
	topic := TopicPatients
	if typ == EventPaymentApplied {
		topic = TopicPayments
	}
	for _, t := range []string{topic, PatientTopic(patientID)} {
		ev := websocket.Event{
			Type:      typ,
			Topic:     t,
			PatientID: patientID,
			Timestamp: s.now().UTC(),
			Data:      raw,
		}
		if err := s.feed.Publish(ctx, ev); err != nil {
			s.logger.Warn().Err(err).Str("event", typ).Str("topic", t).Msg("failed to publish feed event")
		}
	}
}
