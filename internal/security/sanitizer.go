// Package security cleans free text and checks user supplied identifiers.
package security

import (
	"html"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
)

const maxTextLength = 1000

var (
	htmlPolicy   = bluemonday.StrictPolicy()
	phoneRegex   = regexp.MustCompile(`^[0-9]{7,15}$`)
	addressRegex = regexp.MustCompile(`^[A-Za-z0-9:_-]{20,128}$`)
	carrierRegex = regexp.MustCompile(`^[\p{L}0-9 &.-]{2,64}$`)
)

// SanitizeString trims input, drops null bytes and caps its length.
func SanitizeString(input string) string {
	input = strings.TrimSpace(input)
	input = strings.ReplaceAll(input, "\x00", "")

	if utf8.RuneCountInString(input) > maxTextLength {
		input = string([]rune(input)[:maxTextLength])
	}
	return input
}

// SanitizeHTML removes all HTML tags.
func SanitizeHTML(input string) string {
	return htmlPolicy.Sanitize(input)
}

// CleanText strips markup from free text such as admin reasons and notes.
// Entities escaped by the policy are turned back into plain characters, so
// the result is safe to store and compare but is not HTML.
func CleanText(input string) string {
	return SanitizeString(html.UnescapeString(SanitizeHTML(SanitizeString(input))))
}

// NormalizePhoneNumber removes common separators from a phone number.
func NormalizePhoneNumber(phone string) string {
	return strings.NewReplacer("-", "", " ", "", "+", "", "(", "", ")", "").Replace(phone)
}

// ValidatePhoneNumber checks if phone number is valid
func ValidatePhoneNumber(phone string) bool {
	return phoneRegex.MatchString(NormalizePhoneNumber(phone))
}

func ValidateCarrier(carrier string) bool {
	return carrierRegex.MatchString(strings.TrimSpace(carrier))
}

// ValidateWalletAddress is a shape check only; chains are not verified.
func ValidateWalletAddress(address string) bool {
	return addressRegex.MatchString(strings.TrimSpace(address))
}
