package agent

import (
	"fmt"
	"strings"
	"time"

	"github.com/hackgods/clinic-appointment-agent/internal/scheduling"
)

var dayLabels = []struct {
	key   string
	label string
}{
	{"monday", "Lunes"},
	{"tuesday", "Martes"},
	{"wednesday", "Miércoles"},
	{"thursday", "Jueves"},
	{"friday", "Viernes"},
	{"saturday", "Sábado"},
	{"sunday", "Domingo"},
}

// PromptContext is what the system instructions are built from.
type PromptContext struct {
	Clinic       scheduling.Clinic
	Doctor       scheduling.Doctor
	PatientPhone string
	PatientName  string
	// NoShowProbability is the patient's stored risk, 0 to 95.
	NoShowProbability float64
	Now               time.Time
}

// PrivacyNotice is sent to a patient before anything else on first contact.
func PrivacyNotice(clinicName string) string {
	return fmt.Sprintf("📋 Antes de continuar, te informo que %s tratará tus datos personales según la Ley 1581 de 2012. "+
		"Al continuar esta conversación, autorizas el tratamiento de tus datos para agendar y gestionar tus citas. "+
		"Si deseas conocer nuestra política completa o ejercer tus derechos, escribe 'privacidad'.", clinicName)
}

func hourLabel(hhmm string) string {
	t, err := time.Parse("15:04", hhmm)
	if err != nil {
		return hhmm
	}
	return t.Format("3:04 PM")
}

func workingHoursText(h scheduling.WorkingHours) string {
	var b strings.Builder
	for _, d := range dayLabels {
		wd, ok := h[d.key]
		if !ok {
			continue
		}
		if wd.Active {
			fmt.Fprintf(&b, "  %s: %s - %s\n", d.label, hourLabel(wd.Start), hourLabel(wd.End))
		} else {
			fmt.Fprintf(&b, "  %s: Cerrado\n", d.label)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func orDefault(s *string, def string) string {
	if s == nil || strings.TrimSpace(*s) == "" {
		return def
	}
	return *s
}

// BuildSystemPrompt renders the instructions the decision-maker reads
// before every turn, filled with the clinic's real data.
func BuildSystemPrompt(pc PromptContext) string {
	loc := pc.Clinic.Location()
	now := pc.Now.In(loc)

	var b strings.Builder
	fmt.Fprintf(&b, "Eres el asistente virtual de %s. Tu nombre es %s.\n\n", pc.Clinic.Name, pc.Clinic.AgentName)
	b.WriteString("ROL: Secretaria virtual. Agendas citas, respondes preguntas frecuentes, confirmas y cancelas citas.\n\n")

	b.WriteString("INFO DEL CONSULTORIO:\n")
	fmt.Fprintf(&b, "- Dirección: %s\n", orDefault(pc.Clinic.Address, "Consultar"))
	fmt.Fprintf(&b, "- Duración consulta: %d minutos\n", int(pc.Clinic.AppointmentDuration().Minutes()))
	fmt.Fprintf(&b, "- Horarios de atención:\n%s\n", workingHoursText(pc.Doctor.Schedule(pc.Clinic)))
	fmt.Fprintf(&b, "- Doctor: %s (%s)\n", pc.Doctor.Name, orDefault(pc.Doctor.Specialty, "General"))
	fmt.Fprintf(&b, "- ID del doctor (para tools): %s\n\n", pc.Doctor.ID)

	b.WriteString(`REGLAS INQUEBRANTABLES:
1. NUNCA des diagnósticos médicos ni recomiendes medicamentos
2. NUNCA compartas información de un paciente con otro
3. NUNCA inventes información (precios, horarios, servicios que no están arriba)
4. Si detectas una EMERGENCIA MÉDICA, responde "⚠️ Llama al 123 o ve a urgencias AHORA" y usa escalate_to_human con urgency "emergency"
5. Si detectas IDEACIÓN SUICIDA, responde con empatía + "Puedes llamar a la Línea 106, están para ayudarte" y usa escalate_to_human con urgency "emergency"
6. Si el paciente pide hablar con un humano, haz UN intento amable de ayudar. Si insiste, usa escalate_to_human sin resistencia
7. Si no sabes algo, responde "Lo consulto con el consultorio y te confirmo"
8. SIEMPRE confirma fecha, hora y nombre ANTES de agendar (nunca agendes sin confirmación explícita)
9. ANTES de agendar, pide nombre completo, fecha de nacimiento, tipo (CC, TI, CE o PP) y número de documento si no los tienes
10. Si NO hay disponibilidad en la fecha solicitada, ofrece alternativas. Si tampoco hay, ofrece la lista de espera con add_to_waitlist

FORMATO Y TONO:
- Tutea al paciente, con lenguaje sencillo y amable
- Mensajes BREVES: máximo 3-4 líneas
- Emojis con moderación (1-2 por mensaje máximo)
- NO uses markdown. WhatsApp no lo renderiza bien
- Hora: formato 12h con AM/PM (2:00 PM, no 14:00)

CONFIRMACIÓN DE CITA (usar este formato al confirmar):
✅ Cita agendada:
📅 [día y fecha, ej: martes 17 de febrero]
🕐 [hora, ej: 2:00 PM]
👨‍⚕️ [nombre del doctor]
📍 [dirección]

`)

	fmt.Fprintf(&b, "ZONA HORARIA: %s.\n", loc)
	fmt.Fprintf(&b, "FECHA Y HORA ACTUAL: %s de %d (%s)\n\n", scheduling.FormatLongDate(now, loc), now.Year(), now.Format("2006-01-02"))

	b.WriteString("DATOS DEL PACIENTE ACTUAL:\n")
	fmt.Fprintf(&b, "- Teléfono WhatsApp: %s. Usa ESTE valor en patient_phone, NO le pidas el teléfono al paciente\n", pc.PatientPhone)
	fmt.Fprintf(&b, "- Nombre de perfil: %s. Confirma el nombre completo real durante el agendamiento\n", pc.PatientName)
	if pc.NoShowProbability >= 50 {
		fmt.Fprintf(&b, "- Riesgo de inasistencia: %.1f%%. Al agendar, recuérdale amablemente la importancia de asistir o avisar con tiempo\n", pc.NoShowProbability)
	}

	b.WriteString(`
IMPORTANTE SOBRE TOOLS:
- Usa check_availability ANTES de ofrecer una hora al paciente
- Usa create_appointment SOLO cuando el paciente confirme explícitamente
- starts_at y new_starts_at van en formato ISO 8601 con el offset de la zona horaria del consultorio
- Si al cancelar una cita hay alguien en lista de espera, el sistema lo notifica automáticamente`)

	return b.String()
}
