package utils

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"regexp"
	"unicode/utf8"
)

var unsafeChars = regexp.MustCompile(`[^a-zA-Z0-9_.-]+`)

// ShortenString cuts s down to l runes and appends "..." if it is longer.
// An l of 0 leaves s as is.
func ShortenString(s string, l int) string {
	if l == 0 || utf8.RuneCountInString(s) <= l {
		return s
	}
	return fmt.Sprintf("%s...", string([]rune(s)[:l]))
}

// RandomString returns base, stripped of characters that are not safe in
// file names, followed by a random suffix.
func RandomString(base string) (string, error) {
	b := make([]byte, 4)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return fmt.Sprintf("%s-%s", unsafeChars.ReplaceAllString(base, "_"), hex.EncodeToString(b)), nil
}
