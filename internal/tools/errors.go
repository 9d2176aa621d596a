package tools

import (
	"errors"
	"fmt"

	"github.com/hackgods/clinic-appointment-agent/internal/scheduling"
)

const (
	CodeInvalidDate         = "invalid_date"
	CodeInvalidPhone        = "invalid_phone"
	CodeInvalidParameters   = "invalid_parameters"
	CodeNotFound            = "not_found"
	CodeAlreadyCancelled    = "already_cancelled"
	CodeSlotConflict        = "slot_conflict"
	CodePatientNotFound     = "patient_not_found"
	CodeUnknownAction       = "unknown_action"
	CodeAppointmentInactive = "appointment_inactive"
	CodeSlotBusy            = "slot_busy"
	CodeInternal            = "internal"
)

const internalMessage = "Ocurrió un error interno. Informa al paciente que hubo un problema y puede escribir \"hablar con humano\"."

// ActionError is a failure the decision-maker is expected to read and react
// to. Anything else is treated as internal.
type ActionError struct {
	Code    string
	Message string
}

func (e *ActionError) Error() string {
	return e.Code + ": " + e.Message
}

func actionErr(code, format string, args ...any) *ActionError {
	return &ActionError{Code: code, Message: fmt.Sprintf(format, args...)}
}

func invalidParams(format string, args ...any) *ActionError {
	return actionErr(CodeInvalidParameters, format, args...)
}

// fromScheduling translates scheduling sentinels into action errors and
// leaves everything else untouched.
func fromScheduling(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, scheduling.ErrSlotConflict):
		return actionErr(CodeSlotConflict, "Ese horario ya está ocupado. Por favor ofrece otro horario al paciente.")
	case errors.Is(err, scheduling.ErrScheduleBusy):
		return actionErr(CodeSlotBusy, "La agenda se está actualizando en este momento. Intenta de nuevo en unos segundos.")
	case errors.Is(err, scheduling.ErrSlotInPast):
		return actionErr(CodeInvalidDate, "No se puede agendar en una fecha u hora que ya pasó.")
	case errors.Is(err, scheduling.ErrAppointmentNotFound):
		return actionErr(CodeNotFound, "Cita no encontrada")
	case errors.Is(err, scheduling.ErrAlreadyCancelled):
		return actionErr(CodeAlreadyCancelled, "Esta cita ya está cancelada")
	case errors.Is(err, scheduling.ErrAppointmentInactive):
		return actionErr(CodeAppointmentInactive, "Esta cita ya no está activa (fue reprogramada o ya ocurrió).")
	case errors.Is(err, scheduling.ErrPatientNotFound):
		return actionErr(CodePatientNotFound, "Paciente no encontrado")
	case errors.Is(err, scheduling.ErrDoctorNotFound):
		return actionErr(CodeNotFound, "Doctor no encontrado o inactivo")
	}
	return err
}
