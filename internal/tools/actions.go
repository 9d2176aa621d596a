package tools

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-appointment-agent/internal/scheduling"
)

const dateLayout = "2006-01-02"

var localStartLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04",
}

var documentTypes = map[string]bool{"CC": true, "TI": true, "CE": true, "PP": true}

var urgencies = map[string]bool{"low": true, "medium": true, "high": true, "emergency": true}

var preferredTimes = map[string]bool{"morning": true, "afternoon": true, "any": true}

type actions struct {
	svc Scheduler
}

func parseDate(raw string, loc *time.Location) (time.Time, error) {
	d, err := time.ParseInLocation(dateLayout, strings.TrimSpace(raw), loc)
	if err != nil {
		return time.Time{}, actionErr(CodeInvalidDate, "Fecha no válida. Formato esperado: YYYY-MM-DD")
	}
	return d, nil
}

// parseStart accepts RFC 3339 instants and offset-less local times, which
// are read in the clinic's zone.
func parseStart(raw string, loc *time.Location) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	for _, layout := range localStartLayouts {
		if t, err := time.ParseInLocation(layout, raw, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, actionErr(CodeInvalidDate, "Fecha y hora no válidas. Formato esperado: ISO 8601 (ej: 2026-02-16T10:00:00-05:00)")
}

func parseID(raw, field string) (uuid.UUID, error) {
	id, err := uuid.Parse(strings.TrimSpace(raw))
	if err != nil {
		return uuid.Nil, invalidParams("%s no es un identificador válido", field)
	}
	return id, nil
}

// doctorFor resolves an optional doctor id, falling back to the tenant's
// main doctor.
func doctorFor(raw string, t Tenant) (uuid.UUID, error) {
	if strings.TrimSpace(raw) == "" {
		return t.Doctor.ID, nil
	}
	return parseID(raw, "doctor_id")
}

// phoneFor normalizes an optional phone, falling back to the sender's.
func phoneFor(raw string, t Tenant) (string, error) {
	if strings.TrimSpace(raw) == "" {
		raw = t.PatientPhone
	}
	if raw == "" {
		return "", invalidParams("patient_phone es obligatorio")
	}
	return NormalizePhone(raw)
}

func closedReason(day time.Weekday) string {
	name := scheduling.WeekdayName(day)
	if day == time.Saturday || day == time.Sunday {
		name += "s"
	}
	return "El consultorio no atiende los " + name
}

type checkAvailabilityParams struct {
	DoctorID      string `json:"doctor_id"`
	PreferredDate string `json:"preferred_date"`
	PreferredTime string `json:"preferred_time"`
}

type slotView struct {
	Time     string `json:"time"`
	StartsAt string `json:"starts_at"`
}

type availabilityView struct {
	Available      bool                    `json:"available"`
	Date           string                  `json:"date"`
	DoctorName     string                  `json:"doctor_name,omitempty"`
	Reason         string                  `json:"reason,omitempty"`
	Suggestion     string                  `json:"suggestion,omitempty"`
	WorkingHours   scheduling.WorkingHours `json:"working_hours,omitempty"`
	Slots          []slotView              `json:"slots,omitempty"`
	TotalAvailable int                     `json:"total_available"`
}

// keepPreferred narrows slots to a part of the day ("morning", "afternoon")
// or to those starting at or after an "HH:MM" local time.
func keepPreferred(slots []scheduling.Interval, pref string, loc *time.Location) ([]scheduling.Interval, error) {
	pref = strings.ToLower(strings.TrimSpace(pref))
	if pref == "" || pref == "any" {
		return slots, nil
	}

	var keep func(local time.Time) bool
	switch pref {
	case "morning":
		keep = func(local time.Time) bool { return local.Hour() < 12 }
	case "afternoon":
		keep = func(local time.Time) bool { return local.Hour() >= 12 }
	default:
		at, err := time.Parse("15:04", pref)
		if err != nil {
			return nil, invalidParams("preferred_time debe tener formato HH:MM")
		}
		minutes := at.Hour()*60 + at.Minute()
		keep = func(local time.Time) bool { return local.Hour()*60+local.Minute() >= minutes }
	}

	out := make([]scheduling.Interval, 0, len(slots))
	for _, s := range slots {
		if keep(s.Start.In(loc)) {
			out = append(out, s)
		}
	}
	return out, nil
}

func (a *actions) checkAvailability(ctx context.Context, t Tenant, p checkAvailabilityParams) (any, error) {
	loc := t.Clinic.Location()

	doctorID, err := doctorFor(p.DoctorID, t)
	if err != nil {
		return nil, err
	}

	date := a.svc.Now().In(loc)
	if strings.TrimSpace(p.PreferredDate) != "" {
		if date, err = parseDate(p.PreferredDate, loc); err != nil {
			return nil, err
		}
	}
	dateStr := date.Format(dateLayout)

	avail, err := a.svc.Availability(ctx, t.Clinic, doctorID, date)
	if err != nil {
		return nil, fromScheduling(err)
	}

	if !avail.Open {
		return availabilityView{
			Date:         dateStr,
			Reason:       closedReason(avail.Date.Weekday()),
			WorkingHours: avail.Hours,
		}, nil
	}

	slots, err := keepPreferred(avail.Slots, p.PreferredTime, loc)
	if err != nil {
		return nil, err
	}

	if len(slots) == 0 {
		return availabilityView{
			Date:       dateStr,
			Reason:     "No hay horarios disponibles para esta fecha",
			Suggestion: "Puedes ofrecer al paciente unirse a la lista de espera o probar otro día",
		}, nil
	}

	views := make([]slotView, len(slots))
	for i, s := range slots {
		views[i] = slotView{
			Time:     scheduling.FormatTime(s.Start, loc),
			StartsAt: s.Start.In(loc).Format(time.RFC3339),
		}
	}

	return availabilityView{
		Available:      true,
		Date:           dateStr,
		DoctorName:     avail.Doctor.Name,
		Slots:          views,
		TotalAvailable: len(views),
	}, nil
}

type createAppointmentParams struct {
	DoctorID       string `json:"doctor_id"`
	PatientName    string `json:"patient_name"`
	PatientPhone   string `json:"patient_phone"`
	StartsAt       string `json:"starts_at"`
	DateOfBirth    string `json:"date_of_birth"`
	DocumentType   string `json:"document_type"`
	DocumentNumber string `json:"document_number"`
	Reason         string `json:"reason"`
}

func (p *createAppointmentParams) Validate() error {
	var missing []string
	if strings.TrimSpace(p.PatientName) == "" {
		missing = append(missing, "patient_name")
	}
	if strings.TrimSpace(p.StartsAt) == "" {
		missing = append(missing, "starts_at")
	}
	if strings.TrimSpace(p.DateOfBirth) == "" {
		missing = append(missing, "date_of_birth")
	}
	if strings.TrimSpace(p.DocumentType) == "" {
		missing = append(missing, "document_type")
	}
	if strings.TrimSpace(p.DocumentNumber) == "" {
		missing = append(missing, "document_number")
	}
	if len(missing) > 0 {
		return invalidParams("Faltan datos obligatorios: %s", strings.Join(missing, ", "))
	}

	p.DocumentType = strings.ToUpper(strings.TrimSpace(p.DocumentType))
	if !documentTypes[p.DocumentType] {
		return invalidParams("document_type debe ser CC, TI, CE o PP")
	}
	return nil
}

type createdView struct {
	AppointmentID uuid.UUID `json:"appointment_id"`
	StartsAt      time.Time `json:"starts_at"`
	EndsAt        time.Time `json:"ends_at"`
	FormattedDate string    `json:"formatted_date"`
	Message       string    `json:"message"`
}

func (a *actions) createAppointment(ctx context.Context, t Tenant, p createAppointmentParams) (any, error) {
	loc := t.Clinic.Location()

	doctorID, err := doctorFor(p.DoctorID, t)
	if err != nil {
		return nil, err
	}
	phone, err := phoneFor(p.PatientPhone, t)
	if err != nil {
		return nil, err
	}
	start, err := parseStart(p.StartsAt, loc)
	if err != nil {
		return nil, err
	}
	dob, err := time.Parse(dateLayout, strings.TrimSpace(p.DateOfBirth))
	if err != nil {
		return nil, actionErr(CodeInvalidDate, "Fecha de nacimiento no válida. Formato esperado: YYYY-MM-DD")
	}

	booking, err := a.svc.Book(ctx, scheduling.BookingRequest{
		Clinic:   t.Clinic,
		DoctorID: doctorID,
		Patient: scheduling.PatientIdentity{
			Name:           strings.TrimSpace(p.PatientName),
			Phone:          phone,
			DateOfBirth:    &dob,
			DocumentType:   p.DocumentType,
			DocumentNumber: strings.TrimSpace(p.DocumentNumber),
		},
		StartsAt: start,
		Reason:   strings.TrimSpace(p.Reason),
	})
	if err != nil {
		return nil, fromScheduling(err)
	}

	appt := booking.Appointment
	return createdView{
		AppointmentID: appt.ID,
		StartsAt:      appt.StartsAt.In(loc),
		EndsAt:        appt.EndsAt.In(loc),
		FormattedDate: scheduling.FormatLongDate(appt.StartsAt, loc),
		Message:       "Cita creada exitosamente",
	}, nil
}

type getPatientAppointmentsParams struct {
	PatientPhone string `json:"patient_phone"`
}

type appointmentView struct {
	AppointmentID uuid.UUID `json:"appointment_id"`
	Date          string    `json:"date"`
	Time          string    `json:"time"`
	Status        string    `json:"status"`
	Reason        *string   `json:"reason"`
}

type appointmentsView struct {
	Appointments []appointmentView `json:"appointments"`
	Total        int               `json:"total"`
	Message      string            `json:"message,omitempty"`
}

func (a *actions) getPatientAppointments(ctx context.Context, t Tenant, p getPatientAppointmentsParams) (any, error) {
	loc := t.Clinic.Location()

	phone, err := phoneFor(p.PatientPhone, t)
	if err != nil {
		return nil, err
	}

	appts, err := a.svc.UpcomingForPatient(ctx, t.Clinic.ID, phone)
	if err != nil {
		return nil, fromScheduling(err)
	}

	view := appointmentsView{Appointments: make([]appointmentView, len(appts)), Total: len(appts)}
	for i, appt := range appts {
		view.Appointments[i] = appointmentView{
			AppointmentID: appt.ID,
			Date:          scheduling.FormatDate(appt.StartsAt, loc),
			Time:          scheduling.FormatTime(appt.StartsAt, loc),
			Status:        string(appt.Status),
			Reason:        appt.Reason,
		}
	}
	if len(appts) == 0 {
		view.Message = "El paciente no tiene citas próximas."
	}
	return view, nil
}

type cancelAppointmentParams struct {
	AppointmentID string `json:"appointment_id"`
	Reason        string `json:"reason"`
}

func (p *cancelAppointmentParams) Validate() error {
	if strings.TrimSpace(p.AppointmentID) == "" {
		return invalidParams("appointment_id es obligatorio")
	}
	if strings.TrimSpace(p.Reason) == "" {
		return invalidParams("reason es obligatorio")
	}
	return nil
}

type cancelledView struct {
	CancelledAppointmentID uuid.UUID `json:"cancelled_appointment_id"`
	Message                string    `json:"message"`
}

func (a *actions) cancelAppointment(ctx context.Context, t Tenant, p cancelAppointmentParams) (any, error) {
	id, err := uuid.Parse(strings.TrimSpace(p.AppointmentID))
	if err != nil {
		// an id that cannot exist is reported like any other missing appointment
		return nil, actionErr(CodeNotFound, "Cita no encontrada")
	}

	cancelled, err := a.svc.Cancel(ctx, t.Clinic, id, strings.TrimSpace(p.Reason))
	if err != nil {
		return nil, fromScheduling(err)
	}

	return cancelledView{
		CancelledAppointmentID: cancelled.ID,
		Message:                "Cita cancelada exitosamente. Ofrece reagendar al paciente.",
	}, nil
}

type rescheduleAppointmentParams struct {
	AppointmentID string `json:"appointment_id"`
	NewStartsAt   string `json:"new_starts_at"`
}

func (p *rescheduleAppointmentParams) Validate() error {
	if strings.TrimSpace(p.AppointmentID) == "" {
		return invalidParams("appointment_id es obligatorio")
	}
	if strings.TrimSpace(p.NewStartsAt) == "" {
		return invalidParams("new_starts_at es obligatorio")
	}
	return nil
}

type rescheduledView struct {
	NewAppointmentID uuid.UUID `json:"new_appointment_id"`
	NewDate          string    `json:"new_date"`
	Message          string    `json:"message"`
}

func (a *actions) rescheduleAppointment(ctx context.Context, t Tenant, p rescheduleAppointmentParams) (any, error) {
	loc := t.Clinic.Location()

	id, err := uuid.Parse(strings.TrimSpace(p.AppointmentID))
	if err != nil {
		return nil, actionErr(CodeNotFound, "Cita no encontrada")
	}
	start, err := parseStart(p.NewStartsAt, loc)
	if err != nil {
		return nil, err
	}

	res, err := a.svc.Reschedule(ctx, t.Clinic, id, start)
	if err != nil {
		if errors.Is(err, scheduling.ErrSlotConflict) {
			return nil, actionErr(CodeSlotConflict, "El nuevo horario ya está ocupado. Ofrece otro horario.")
		}
		return nil, fromScheduling(err)
	}

	return rescheduledView{
		NewAppointmentID: res.Replacement.ID,
		NewDate:          scheduling.FormatLongDate(res.Replacement.StartsAt, loc),
		Message:          "Cita reagendada exitosamente",
	}, nil
}

type escalateToHumanParams struct {
	Reason  string `json:"reason"`
	Urgency string `json:"urgency"`
}

type escalatedView struct {
	Escalated bool   `json:"escalated"`
	Urgency   string `json:"urgency"`
	Message   string `json:"message"`
}

func (a *actions) escalateToHuman(ctx context.Context, t Tenant, p escalateToHumanParams) (any, error) {
	urgency := strings.ToLower(strings.TrimSpace(p.Urgency))
	if !urgencies[urgency] {
		urgency = "medium"
	}

	a.svc.Escalate(ctx, t.Clinic.ID, strings.TrimSpace(p.Reason), urgency)

	msg := "Escalado al equipo. Informar al paciente que alguien del consultorio lo contactará pronto."
	if urgency == "emergency" {
		msg = "Escalado como EMERGENCIA. Informar al paciente que alguien lo contactará pronto."
	}
	return escalatedView{Escalated: true, Urgency: urgency, Message: msg}, nil
}

type addToWaitlistParams struct {
	DoctorID       string   `json:"doctor_id"`
	PatientPhone   string   `json:"patient_phone"`
	PreferredDates []string `json:"preferred_dates"`
	PreferredTime  string   `json:"preferred_time"`
	Reason         string   `json:"reason"`
}

func (p *addToWaitlistParams) Validate() error {
	p.PreferredTime = strings.ToLower(strings.TrimSpace(p.PreferredTime))
	if p.PreferredTime == "" {
		p.PreferredTime = "any"
	}
	if !preferredTimes[p.PreferredTime] {
		return invalidParams("preferred_time debe ser morning, afternoon o any")
	}
	return nil
}

type waitlistView struct {
	Added          bool   `json:"added,omitempty"`
	AlreadyWaiting bool   `json:"already_waiting,omitempty"`
	Message        string `json:"message"`
}

func (a *actions) addToWaitlist(ctx context.Context, t Tenant, p addToWaitlistParams) (any, error) {
	doctorID, err := doctorFor(p.DoctorID, t)
	if err != nil {
		return nil, err
	}
	phone, err := phoneFor(p.PatientPhone, t)
	if err != nil {
		return nil, err
	}

	dates := make([]string, 0, len(p.PreferredDates))
	for _, raw := range p.PreferredDates {
		d, err := parseDate(raw, t.Clinic.Location())
		if err != nil {
			return nil, err
		}
		dates = append(dates, d.Format(dateLayout))
	}

	_, already, err := a.svc.JoinWaitlist(ctx, scheduling.WaitlistRequest{
		ClinicID:       t.Clinic.ID,
		DoctorID:       doctorID,
		Phone:          phone,
		PreferredDates: dates,
		PreferredTime:  p.PreferredTime,
		Reason:         strings.TrimSpace(p.Reason),
	})
	if err != nil {
		return nil, fromScheduling(err)
	}

	if already {
		return waitlistView{AlreadyWaiting: true, Message: "El paciente ya está en la lista de espera"}, nil
	}
	return waitlistView{
		Added:   true,
		Message: "Paciente agregado a la lista de espera. Se le notificará si se abre un espacio.",
	}, nil
}
