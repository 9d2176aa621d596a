package inbound

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

const maxMessageRunes = 1000

var (
	htmlTag      = regexp.MustCompile(`<[^>]*>`)
	controlChars = regexp.MustCompile(`[\x00-\x09\x0B\x0C\x0E-\x1F\x7F]`)

	injectionPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)ignore\s+(all\s+)?(previous|above|prior)\s+(instructions|prompts)`),
		regexp.MustCompile(`(?i)ignora\s+(todas?\s+)?(las?\s+)?(instrucciones|prompts?)\s+(anteriores|previas?)`),
		regexp.MustCompile(`(?i)eres\s+ahora\s+un`),
		regexp.MustCompile(`(?i)you\s+are\s+now\s+a`),
		regexp.MustCompile(`(?i)system\s*:\s*`),
		regexp.MustCompile(`(?i)\[INST\]`),
		regexp.MustCompile(`(?i)\[SYSTEM\]`),
	}
)

// Sanitize strips markup, control characters and common prompt-injection
// phrases from a patient message and caps its length.
func Sanitize(raw string) string {
	msg := htmlTag.ReplaceAllString(raw, "")
	msg = controlChars.ReplaceAllString(msg, "")
	for _, p := range injectionPatterns {
		msg = p.ReplaceAllString(msg, "[filtrado]")
	}

	if utf8.RuneCountInString(msg) > maxMessageRunes {
		msg = string([]rune(msg)[:maxMessageRunes])
	}
	return strings.TrimSpace(msg)
}

var unsupportedReplies = map[string]string{
	"audio":    "🎤 Por ahora solo manejo mensajes de texto. ¿Me escribes tu consulta?",
	"image":    "📷 Por ahora solo manejo mensajes de texto. ¿Me cuentas qué necesitas?",
	"video":    "🎥 Por ahora solo manejo mensajes de texto. ¿Me escribes tu consulta?",
	"document": "📄 Por ahora solo manejo mensajes de texto. ¿Me cuentas qué necesitas?",
	"sticker":  "😊 ¡Qué buen sticker! Pero solo manejo texto. ¿En qué te puedo ayudar?",
	"location": "📍 Gracias por la ubicación, pero por ahora solo manejo texto. ¿En qué te ayudo?",
}

func supportedType(t string) bool {
	return t == "" || t == "text"
}

// UnsupportedTypeText is the reply sent for non-text messages.
func UnsupportedTypeText(t string) string {
	if s, ok := unsupportedReplies[t]; ok {
		return s
	}
	return "Por ahora solo manejo mensajes de texto. ¿Me escribes tu consulta?"
}

type reminderReply int

const (
	replyNone reminderReply = iota
	replyConfirm
	replyDecline
)

var (
	confirmWords = regexp.MustCompile(`^(s[ií]|yes|confirmo|confirmar|dale|claro|ok|listo)$`)
	declineWords = regexp.MustCompile(`^(no|cancelar|cancelo|no puedo)$`)
)

// classifyReply recognises bare answers to a reminder. Anything longer goes
// through the normal conversation.
func classifyReply(text string) reminderReply {
	t := strings.ToLower(strings.TrimSpace(text))
	t = strings.Trim(t, ".!¡¿? ")
	switch {
	case confirmWords.MatchString(t):
		return replyConfirm
	case declineWords.MatchString(t):
		return replyDecline
	default:
		return replyNone
	}
}
