package scheduling

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// NotifyWaitlist offers a freed interval to the doctor's oldest waiting
// entry. The entry is claimed atomically before anything is sent, so two
// concurrent cascades never notify the same entry. Nothing here fails the
// caller: a send failure leaves the entry notified and is only logged.
func (s *Service) NotifyWaitlist(ctx context.Context, clinic Clinic, doctorID uuid.UUID, freedStart time.Time) {
	log := s.logger.With().
		Str("clinic_id", clinic.ID.String()).
		Str("doctor_id", doctorID.String()).
		Logger()

	entry, err := s.repo.ClaimOldestWaiting(ctx, clinic.ID, doctorID, s.now())
	if err != nil {
		if !errors.Is(err, ErrWaitlistEntryNotFound) {
			log.Error().Err(err).Msg("waitlist claim failed")
		}
		return
	}

	patient, err := s.repo.GetPatient(ctx, clinic.ID, entry.PatientID)
	if err != nil {
		log.Error().Err(err).Str("waitlist_id", entry.ID.String()).Msg("waitlist patient lookup failed")
		return
	}

	text := WaitlistOfferText(patient.Name, freedStart, clinic.Location())
	delivered := true
	if _, err := s.notifier.Send(ctx, channelAddress(patient.Phone), text); err != nil {
		delivered = false
		log.Warn().Err(err).Str("waitlist_id", entry.ID.String()).Msg("waitlist notification not delivered")
	}
	s.metrics.ObserveWaitlistNotification(delivered)

	s.audit(ctx, clinic.ID, AuditWaitlistNotified, ActorSystem, "waitlist", &entry.ID, map[string]any{
		"freed_starts_at": freedStart,
		"delivered":       delivered,
	})
}

// WaitlistOfferText is the message inviting a waiting patient to claim a
// freed slot.
func WaitlistOfferText(name string, start time.Time, loc *time.Location) string {
	return fmt.Sprintf("¡Hola %s! Se liberó un espacio: %s. ¿Te gustaría agendarte? Responde \"sí\" para confirmar.",
		name, FormatLongDate(start, loc))
}

// channelAddress strips the leading plus the messaging provider does not
// accept.
func channelAddress(phone string) string {
	return strings.TrimPrefix(phone, "+")
}
