package utils

// MaskSecret hides all but a short head and tail of a credential. Short values
// are masked entirely.
func MaskSecret(s string) string {
	if len(s) <= 8 {
		return "*****"
	}
	return s[:4] + "*****" + s[len(s)-2:]
}
