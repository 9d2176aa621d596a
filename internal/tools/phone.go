package tools

import "strings"

// NormalizePhone turns a free-form phone number into E.164. Ten-digit
// numbers starting with 3 are Colombian mobiles and get the 57 prefix.
func NormalizePhone(raw string) (string, error) {
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()

	switch {
	case len(digits) < 7:
		return "", actionErr(CodeInvalidPhone, "Número de teléfono inválido: %q", raw)
	case len(digits) == 10 && digits[0] == '3':
		return "+57" + digits, nil
	default:
		return "+" + digits, nil
	}
}
