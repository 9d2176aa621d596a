package tools

// Action names as the decision-maker sees them.
const (
	ActionCheckAvailability      = "check_availability"
	ActionCreateAppointment      = "create_appointment"
	ActionGetPatientAppointments = "get_patient_appointments"
	ActionCancelAppointment      = "cancel_appointment"
	ActionRescheduleAppointment  = "reschedule_appointment"
	ActionEscalateToHuman        = "escalate_to_human"
	ActionAddToWaitlist          = "add_to_waitlist"
)

func str(desc string) map[string]any {
	return map[string]any{"type": "string", "description": desc}
}

func enum(desc string, values ...string) map[string]any {
	return map[string]any{"type": "string", "enum": values, "description": desc}
}

func object(required []string, props map[string]any) map[string]any {
	return map[string]any{
		"type":       "object",
		"properties": props,
		"required":   required,
	}
}

var checkAvailabilitySpec = Spec{
	Name: ActionCheckAvailability,
	Description: "Consulta los horarios disponibles de un doctor para una fecha específica. " +
		"Úsala cuando el paciente quiere agendar y necesitas mostrarle opciones. " +
		"Si no hay disponibilidad, sugiere al paciente unirse a la lista de espera.",
	Schema: object([]string{"doctor_id"}, map[string]any{
		"doctor_id":      str("ID UUID del doctor"),
		"preferred_date": str("Fecha preferida en formato YYYY-MM-DD. Si no la da, usa la fecha de hoy."),
		"preferred_time": str("Hora preferida en formato HH:MM (24h), o morning/afternoon. Opcional."),
	}),
}

var createAppointmentSpec = Spec{
	Name: ActionCreateAppointment,
	Description: "Crea una cita nueva. SOLO usar DESPUÉS de que el paciente confirme fecha y hora, " +
		"y haya proporcionado su nombre completo, fecha de nacimiento, tipo y número de documento. " +
		"NUNCA agendar sin estos datos y sin confirmación explícita del paciente.",
	Schema: object(
		[]string{"doctor_id", "patient_name", "patient_phone", "starts_at", "date_of_birth", "document_type", "document_number"},
		map[string]any{
			"doctor_id":       str("ID UUID del doctor"),
			"patient_name":    str("Nombre completo del paciente"),
			"patient_phone":   str("Teléfono del paciente con código de país (ej: +573101112233)"),
			"starts_at":       str("Fecha y hora de inicio en formato ISO 8601 con zona horaria (ej: 2026-02-16T14:00:00-05:00)"),
			"date_of_birth":   str("Fecha de nacimiento del paciente en formato YYYY-MM-DD"),
			"document_type":   enum("Tipo de documento: CC (Cédula), TI (Tarjeta Identidad), CE (Cédula Extranjería), PP (Pasaporte)", "CC", "TI", "CE", "PP"),
			"document_number": str("Número de documento de identidad"),
			"reason":          str("Motivo de la consulta (opcional)"),
		}),
}

var getPatientAppointmentsSpec = Spec{
	Name: ActionGetPatientAppointments,
	Description: "Obtiene las citas futuras de un paciente. " +
		"Úsala cuando el paciente pregunta por sus citas o quiere cancelar/reagendar.",
	Schema: object([]string{"patient_phone"}, map[string]any{
		"patient_phone": str("Teléfono del paciente con código de país (ej: +573101112233)"),
	}),
}

var cancelAppointmentSpec = Spec{
	Name: ActionCancelAppointment,
	Description: "Cancela una cita existente. Pedir confirmación al paciente antes de cancelar. " +
		"Después de cancelar, ofrecer reagendar.",
	Schema: object([]string{"appointment_id", "reason"}, map[string]any{
		"appointment_id": str("ID UUID de la cita a cancelar"),
		"reason":         str("Motivo de la cancelación"),
	}),
}

var rescheduleAppointmentSpec = Spec{
	Name: ActionRescheduleAppointment,
	Description: "Reagenda una cita a una nueva fecha/hora. La cita anterior se marca como \"rescheduled\". " +
		"Confirmar la nueva fecha con el paciente antes de ejecutar.",
	Schema: object([]string{"appointment_id", "new_starts_at"}, map[string]any{
		"appointment_id": str("ID UUID de la cita a reagendar"),
		"new_starts_at":  str("Nueva fecha y hora en formato ISO 8601 con zona horaria (ej: 2026-02-16T10:00:00-05:00)"),
	}),
}

var escalateToHumanSpec = Spec{
	Name: ActionEscalateToHuman,
	Description: "Escala la conversación a un humano del consultorio. Usar cuando el paciente pide hablar con alguien, " +
		"ante una emergencia médica (después de dar instrucciones del 123), ante ideación suicida " +
		"(después de dar la Línea 106) o cuando el tema no se puede resolver.",
	Schema: object([]string{"reason", "urgency"}, map[string]any{
		"reason":  str("Por qué se escala (para que el humano tenga contexto)"),
		"urgency": enum("Nivel de urgencia. emergency = riesgo de vida", "low", "medium", "high", "emergency"),
	}),
}

var addToWaitlistSpec = Spec{
	Name: ActionAddToWaitlist,
	Description: "Agrega al paciente a la lista de espera cuando NO hay disponibilidad. " +
		"Si se cancela una cita, el sistema notifica automáticamente al siguiente en la lista.",
	Schema: object([]string{"doctor_id", "patient_phone"}, map[string]any{
		"doctor_id":     str("ID UUID del doctor"),
		"patient_phone": str("Teléfono del paciente con código de país"),
		"preferred_dates": map[string]any{
			"type":        "array",
			"items":       map[string]any{"type": "string"},
			"description": "Fechas preferidas en formato YYYY-MM-DD",
		},
		"preferred_time": enum("Preferencia de horario: mañana, tarde, o cualquiera", "morning", "afternoon", "any"),
		"reason":         str("Motivo de consulta"),
	}),
}
