// Package schedulingtest provides in-memory stand-ins for the scheduling
// storage and lock, for tests of packages built on scheduling.Service.
package schedulingtest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-appointment-agent/internal/scheduling"
)

// MemRepository implements scheduling.Repository over maps guarded by one
// mutex, which makes every method atomic like the SQL statements it mirrors.
type MemRepository struct {
	mu sync.Mutex

	Clinics      map[uuid.UUID]*scheduling.Clinic
	Doctors      map[uuid.UUID]*scheduling.Doctor
	Patients     map[uuid.UUID]*scheduling.Patient
	Appointments map[uuid.UUID]*scheduling.Appointment
	Waitlist     map[uuid.UUID]*scheduling.WaitlistEntry
	Audit        []scheduling.AuditEntry

	// FailAudit makes InsertAudit fail, for best-effort checks.
	FailAudit error

	seq int
}

func NewMemRepository() *MemRepository {
	return &MemRepository{
		Clinics:      map[uuid.UUID]*scheduling.Clinic{},
		Doctors:      map[uuid.UUID]*scheduling.Doctor{},
		Patients:     map[uuid.UUID]*scheduling.Patient{},
		Appointments: map[uuid.UUID]*scheduling.Appointment{},
		Waitlist:     map[uuid.UUID]*scheduling.WaitlistEntry{},
	}
}

// tick hands out strictly increasing creation times so FIFO ordering is
// deterministic.
func (m *MemRepository) tick() time.Time {
	m.seq++
	return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(m.seq) * time.Second)
}

func (m *MemRepository) AddClinic(c scheduling.Clinic) *scheduling.Clinic {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	c.Active = true
	m.Clinics[c.ID] = &c
	return &c
}

func (m *MemRepository) AddDoctor(d scheduling.Doctor) *scheduling.Doctor {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	d.CreatedAt = m.tick()
	m.Doctors[d.ID] = &d
	return &d
}

func (m *MemRepository) AddPatient(p scheduling.Patient) *scheduling.Patient {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	p.CreatedAt = m.tick()
	m.Patients[p.ID] = &p
	return &p
}

func (m *MemRepository) AddAppointment(a scheduling.Appointment) *scheduling.Appointment {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if a.Status == "" {
		a.Status = scheduling.StatusConfirmed
	}
	a.CreatedAt = m.tick()
	m.Appointments[a.ID] = &a
	return &a
}

func (m *MemRepository) AddWaitlistEntry(e scheduling.WaitlistEntry) *scheduling.WaitlistEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.Status == "" {
		e.Status = scheduling.WaitlistWaiting
	}
	e.CreatedAt = m.tick()
	m.Waitlist[e.ID] = &e
	return &e
}

// AuditActions lists recorded audit actions in insertion order.
func (m *MemRepository) AuditActions() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.Audit))
	for _, e := range m.Audit {
		out = append(out, e.Action)
	}
	return out
}

// Tenants

func (m *MemRepository) GetClinic(_ context.Context, id uuid.UUID) (*scheduling.Clinic, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.Clinics[id]
	if !ok {
		return nil, scheduling.ErrClinicNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *MemRepository) GetClinicByChannel(_ context.Context, channelID string) (*scheduling.Clinic, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.Clinics {
		if c.Active && c.ChannelID != nil && *c.ChannelID == channelID {
			cp := *c
			return &cp, nil
		}
	}
	return nil, scheduling.ErrClinicNotFound
}

func (m *MemRepository) ListActiveClinics(_ context.Context) ([]scheduling.Clinic, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []scheduling.Clinic
	for _, c := range m.Clinics {
		if c.Active {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (m *MemRepository) GetDoctor(_ context.Context, clinicID, doctorID uuid.UUID) (*scheduling.Doctor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.Doctors[doctorID]
	if !ok || d.ClinicID != clinicID {
		return nil, scheduling.ErrDoctorNotFound
	}
	cp := *d
	return &cp, nil
}

func (m *MemRepository) GetMainDoctor(_ context.Context, clinicID uuid.UUID) (*scheduling.Doctor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var best *scheduling.Doctor
	for _, d := range m.Doctors {
		if d.ClinicID != clinicID || !d.IsActive {
			continue
		}
		if best == nil || d.CreatedAt.Before(best.CreatedAt) {
			best = d
		}
	}
	if best == nil {
		return nil, scheduling.ErrDoctorNotFound
	}
	cp := *best
	return &cp, nil
}

// Patients

func (m *MemRepository) GetPatient(_ context.Context, clinicID, patientID uuid.UUID) (*scheduling.Patient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.Patients[patientID]
	if !ok || p.ClinicID != clinicID {
		return nil, scheduling.ErrPatientNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *MemRepository) FindPatientByPhone(_ context.Context, clinicID uuid.UUID, phone string) (*scheduling.Patient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p := m.patientByPhone(clinicID, phone); p != nil {
		cp := *p
		return &cp, nil
	}
	return nil, scheduling.ErrPatientNotFound
}

func (m *MemRepository) patientByPhone(clinicID uuid.UUID, phone string) *scheduling.Patient {
	for _, p := range m.Patients {
		if p.ClinicID == clinicID && p.Phone == phone {
			return p
		}
	}
	return nil
}

func (m *MemRepository) CreatePatient(_ context.Context, clinicID uuid.UUID, identity scheduling.PatientIdentity) (*scheduling.Patient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p := m.patientByPhone(clinicID, identity.Phone); p != nil {
		cp := *p
		return &cp, nil
	}
	p := &scheduling.Patient{
		ID:          uuid.New(),
		ClinicID:    clinicID,
		Name:        identity.Name,
		Phone:       identity.Phone,
		DateOfBirth: identity.DateOfBirth,
		CreatedAt:   m.tick(),
	}
	if identity.DocumentType != "" {
		v := identity.DocumentType
		p.DocumentType = &v
	}
	if identity.DocumentNumber != "" {
		v := identity.DocumentNumber
		p.DocumentNumber = &v
	}
	m.Patients[p.ID] = p
	cp := *p
	return &cp, nil
}

func (m *MemRepository) UpdatePatientIdentity(_ context.Context, clinicID, patientID uuid.UUID, identity scheduling.PatientIdentity) (*scheduling.Patient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.Patients[patientID]
	if !ok || p.ClinicID != clinicID {
		return nil, scheduling.ErrPatientNotFound
	}
	if identity.Name != "" {
		p.Name = identity.Name
	}
	if identity.DateOfBirth != nil {
		p.DateOfBirth = identity.DateOfBirth
	}
	if identity.DocumentType != "" {
		v := identity.DocumentType
		p.DocumentType = &v
	}
	if identity.DocumentNumber != "" {
		v := identity.DocumentNumber
		p.DocumentNumber = &v
	}
	cp := *p
	return &cp, nil
}

func (m *MemRepository) IncrementPatientAppointments(_ context.Context, clinicID, patientID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.Patients[patientID]; ok && p.ClinicID == clinicID {
		p.TotalAppointments++
	}
	return nil
}

func (m *MemRepository) RecordConsent(_ context.Context, clinicID, patientID uuid.UUID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.Patients[patientID]; ok && p.ClinicID == clinicID && p.DataConsentAt == nil {
		p.DataConsentAt = &at
	}
	return nil
}

func (m *MemRepository) UpdatePatientRisk(_ context.Context, clinicID, patientID uuid.UUID, snap scheduling.RiskSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.Patients[patientID]
	if !ok || p.ClinicID != clinicID {
		return scheduling.ErrPatientNotFound
	}
	p.NoShowProbability = snap.Probability
	p.NoShowCount = snap.NoShows
	p.TotalAppointments = snap.TotalPast
	return nil
}

// Appointments

func (m *MemRepository) GetAppointment(_ context.Context, clinicID, id uuid.UUID) (*scheduling.Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.Appointments[id]
	if !ok || a.ClinicID != clinicID {
		return nil, scheduling.ErrAppointmentNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *MemRepository) ListBlockingStarts(_ context.Context, clinicID, doctorID uuid.UUID, window scheduling.Interval) ([]scheduling.Interval, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []scheduling.Interval
	for _, a := range m.Appointments {
		if a.ClinicID != clinicID || a.DoctorID != doctorID || !a.Blocking() {
			continue
		}
		if a.StartsAt.Before(window.Start) || a.StartsAt.After(window.End) {
			continue
		}
		out = append(out, a.Interval())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out, nil
}

func (m *MemRepository) overlaps(clinicID, doctorID uuid.UUID, slot scheduling.Interval, exclude uuid.UUID) bool {
	for _, a := range m.Appointments {
		if a.ID == exclude || a.ClinicID != clinicID || a.DoctorID != doctorID || !a.Blocking() {
			continue
		}
		if a.Interval().Overlaps(slot) {
			return true
		}
	}
	return false
}

func (m *MemRepository) HasOverlap(_ context.Context, clinicID, doctorID uuid.UUID, slot scheduling.Interval, exclude uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.overlaps(clinicID, doctorID, slot, exclude), nil
}

func (m *MemRepository) InsertAppointmentIfFree(_ context.Context, n scheduling.NewAppointment) (*scheduling.Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insertIfFree(uuid.New(), n)
}

func (m *MemRepository) insertIfFree(id uuid.UUID, n scheduling.NewAppointment) (*scheduling.Appointment, error) {
	if m.overlaps(n.ClinicID, n.DoctorID, n.Slot, uuid.Nil) {
		return nil, scheduling.ErrSlotConflict
	}
	now := m.tick()
	a := &scheduling.Appointment{
		ID:        id,
		ClinicID:  n.ClinicID,
		DoctorID:  n.DoctorID,
		PatientID: n.PatientID,
		StartsAt:  n.Slot.Start,
		EndsAt:    n.Slot.End,
		Status:    scheduling.StatusConfirmed,
		Source:    n.Source,
		Reason:    n.Reason,
		CreatedAt: now,
		UpdatedAt: now,
	}
	m.Appointments[a.ID] = a
	cp := *a
	return &cp, nil
}

func (m *MemRepository) CancelAppointment(_ context.Context, clinicID, id uuid.UUID, reason string, at time.Time) (*scheduling.Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.Appointments[id]
	if !ok || a.ClinicID != clinicID || a.Status == scheduling.StatusCancelled {
		return nil, scheduling.ErrAppointmentNotFound
	}
	a.Status = scheduling.StatusCancelled
	a.CancelledAt = &at
	a.CancellationReason = &reason
	cp := *a
	return &cp, nil
}

func (m *MemRepository) RescheduleAppointment(_ context.Context, clinicID, id uuid.UUID, slot scheduling.Interval) (*scheduling.Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.Appointments[id]
	if !ok || a.ClinicID != clinicID || !a.Blocking() {
		return nil, scheduling.ErrAppointmentNotFound
	}

	replacementID := uuid.New()
	prevStatus, prevSuperseded := a.Status, a.SupersededBy
	a.Status = scheduling.StatusRescheduled
	a.SupersededBy = &replacementID

	replacement, err := m.insertIfFree(replacementID, scheduling.NewAppointment{
		ClinicID:  a.ClinicID,
		DoctorID:  a.DoctorID,
		PatientID: a.PatientID,
		Slot:      slot,
		Source:    scheduling.SourceAgent,
		Reason:    a.Reason,
	})
	if err != nil {
		a.Status, a.SupersededBy = prevStatus, prevSuperseded
		return nil, err
	}
	return replacement, nil
}

func (m *MemRepository) ListUpcomingForPatient(_ context.Context, clinicID, patientID uuid.UUID, now time.Time) ([]scheduling.Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []scheduling.Appointment
	for _, a := range m.Appointments {
		if a.ClinicID == clinicID && a.PatientID == patientID && a.Blocking() && !a.StartsAt.Before(now) {
			out = append(out, *a)
		}
	}
	sortByStart(out)
	return out, nil
}

func (m *MemRepository) ListDayVisits(_ context.Context, clinicID uuid.UUID, day scheduling.Interval) ([]scheduling.ScheduledVisit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var appts []scheduling.Appointment
	for _, a := range m.Appointments {
		if a.ClinicID == clinicID && a.Blocking() && !a.StartsAt.Before(day.Start) && a.StartsAt.Before(day.End) {
			appts = append(appts, *a)
		}
	}
	sortByStart(appts)

	out := make([]scheduling.ScheduledVisit, 0, len(appts))
	for _, a := range appts {
		p, ok := m.Patients[a.PatientID]
		if !ok {
			continue
		}
		out = append(out, scheduling.ScheduledVisit{
			AppointmentID:     a.ID,
			PatientID:         p.ID,
			PatientName:       p.Name,
			Phone:             p.Phone,
			StartsAt:          a.StartsAt,
			ReminderConfirmed: a.ReminderConfirmed,
			Probability:       p.NoShowProbability,
		})
	}
	return out, nil
}

// Reminders

func (m *MemRepository) ListDueReminders(_ context.Context, window scheduling.Interval) ([]scheduling.ReminderTarget, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var appts []scheduling.Appointment
	for _, a := range m.Appointments {
		if a.Blocking() && !a.ReminderSent && !a.StartsAt.Before(window.Start) && !a.StartsAt.After(window.End) {
			appts = append(appts, *a)
		}
	}
	sortByStart(appts)

	var out []scheduling.ReminderTarget
	for _, a := range appts {
		p, c, d := m.Patients[a.PatientID], m.Clinics[a.ClinicID], m.Doctors[a.DoctorID]
		if p == nil || c == nil || d == nil || !c.Active {
			continue
		}
		out = append(out, scheduling.ReminderTarget{
			Appointment: a,
			PatientName: p.Name,
			Phone:       p.Phone,
			ClinicName:  c.Name,
			Timezone:    c.Timezone,
			DoctorName:  d.Name,
		})
	}
	return out, nil
}

func (m *MemRepository) MarkReminderSent(_ context.Context, clinicID, id uuid.UUID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a, ok := m.Appointments[id]; ok && a.ClinicID == clinicID {
		a.ReminderSent = true
		a.ReminderSentAt = &at
	}
	return nil
}

func (m *MemRepository) ListUnansweredReminders(_ context.Context, sentBefore time.Time) ([]scheduling.Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []scheduling.Appointment
	for _, a := range m.Appointments {
		if a.Blocking() && a.ReminderSent && a.ReminderConfirmed == nil && a.ReminderSentAt != nil && a.ReminderSentAt.Before(sentBefore) {
			out = append(out, *a)
		}
	}
	sortByStart(out)
	return out, nil
}

func (m *MemRepository) SetReminderConfirmation(_ context.Context, clinicID, id uuid.UUID, confirmed bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.Appointments[id]
	if !ok || a.ClinicID != clinicID {
		return scheduling.ErrAppointmentNotFound
	}
	a.ReminderConfirmed = &confirmed
	return nil
}

func (m *MemRepository) FindAwaitingReminderReply(_ context.Context, clinicID, patientID uuid.UUID, now time.Time) (*scheduling.Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var best *scheduling.Appointment
	for _, a := range m.Appointments {
		if a.ClinicID != clinicID || a.PatientID != patientID || !a.Blocking() {
			continue
		}
		if !a.ReminderSent || a.ReminderConfirmed != nil || a.StartsAt.Before(now) {
			continue
		}
		if best == nil || a.StartsAt.Before(best.StartsAt) {
			best = a
		}
	}
	if best == nil {
		return nil, scheduling.ErrAppointmentNotFound
	}
	cp := *best
	return &cp, nil
}

// Risk inputs

func (m *MemRepository) PatientOutcomes(_ context.Context, clinicID, patientID uuid.UUID, now time.Time) (scheduling.Outcomes, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var o scheduling.Outcomes
	var next *scheduling.Appointment
	for _, a := range m.Appointments {
		if a.ClinicID != clinicID || a.PatientID != patientID {
			continue
		}
		switch a.Status {
		case scheduling.StatusNoShow:
			o.NoShows++
			o.TotalPast++
		case scheduling.StatusCompleted:
			o.TotalPast++
		case scheduling.StatusConfirmed:
			if a.SupersededBy == nil && !a.StartsAt.Before(now) && (next == nil || a.StartsAt.Before(next.StartsAt)) {
				next = a
			}
		}
	}
	if next != nil {
		o.UpcomingReminderConfirmed = next.ReminderConfirmed
	}
	return o, nil
}

// Waitlist

func (m *MemRepository) FindWaitingEntry(_ context.Context, clinicID, patientID uuid.UUID) (*scheduling.WaitlistEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.Waitlist {
		if e.ClinicID == clinicID && e.PatientID == patientID && e.Status == scheduling.WaitlistWaiting {
			cp := *e
			return &cp, nil
		}
	}
	return nil, scheduling.ErrWaitlistEntryNotFound
}

func (m *MemRepository) InsertWaitlistEntry(_ context.Context, e scheduling.WaitlistEntry) (*scheduling.WaitlistEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, w := range m.Waitlist {
		if w.ClinicID == e.ClinicID && w.PatientID == e.PatientID && w.Status == scheduling.WaitlistWaiting {
			return nil, scheduling.ErrAlreadyWaiting
		}
	}
	e.ID = uuid.New()
	e.Status = scheduling.WaitlistWaiting
	e.CreatedAt = m.tick()
	m.Waitlist[e.ID] = &e
	cp := e
	return &cp, nil
}

func (m *MemRepository) ClaimOldestWaiting(_ context.Context, clinicID, doctorID uuid.UUID, at time.Time) (*scheduling.WaitlistEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var oldest *scheduling.WaitlistEntry
	for _, e := range m.Waitlist {
		if e.ClinicID != clinicID || e.DoctorID != doctorID || e.Status != scheduling.WaitlistWaiting {
			continue
		}
		if oldest == nil || e.CreatedAt.Before(oldest.CreatedAt) {
			oldest = e
		}
	}
	if oldest == nil {
		return nil, scheduling.ErrWaitlistEntryNotFound
	}
	oldest.Status = scheduling.WaitlistNotified
	oldest.NotifiedAt = &at
	cp := *oldest
	return &cp, nil
}

// Audit

func (m *MemRepository) InsertAudit(_ context.Context, e scheduling.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailAudit != nil {
		return m.FailAudit
	}
	m.Audit = append(m.Audit, e)
	return nil
}

func sortByStart(appts []scheduling.Appointment) {
	sort.Slice(appts, func(i, j int) bool { return appts[i].StartsAt.Before(appts[j].StartsAt) })
}

var _ scheduling.Repository = (*MemRepository)(nil)
