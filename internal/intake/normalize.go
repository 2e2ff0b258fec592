package intake

import (
	"regexp"
	"strings"
)

// NormalizePhone strips everything but digits and drops a leading North
// American country code. The result is ten digits, or empty when the input
// cannot be a local number.
func NormalizePhone(s string) string {
	var b strings.Builder
	for _, c := range s {
		if c >= '0' && c <= '9' {
			b.WriteRune(c)
		}
	}
	digits := b.String()
	if len(digits) == 11 && digits[0] == '1' {
		digits = digits[1:]
	}
	if len(digits) != 10 {
		return ""
	}
	return digits
}

var postalCodeRE = regexp.MustCompile(`^[ABCEGHJ-NPRSTVXY][0-9][ABCEGHJ-NPRSTV-Z] [0-9][ABCEGHJ-NPRSTV-Z][0-9]$`)

// NormalizePostalCode upper-cases a Canadian postal code and puts the single
// space in the middle ("m5v2t6" -> "M5V 2T6").
func NormalizePostalCode(s string) string {
	s = strings.ToUpper(strings.Join(strings.Fields(s), ""))
	if len(s) == 6 {
		s = s[:3] + " " + s[3:]
	}
	return s
}

// ValidPostalCode reports whether code is a well-formed postal code starting
// with one of prefixes. An empty prefix list accepts any region.
func ValidPostalCode(code string, prefixes []string) bool {
	code = NormalizePostalCode(code)
	if !postalCodeRE.MatchString(code) {
		return false
	}
	if len(prefixes) == 0 {
		return true
	}
	for _, p := range prefixes {
		if strings.HasPrefix(code, strings.ToUpper(p)) {
			return true
		}
	}
	return false
}
