// Package attendee derives attendee tokens and maps participation status
// between iCalendar and the wire representation.
package attendee

import (
	"crypto/sha1"
	"encoding/hex"
	"strings"
)

// allowed reports the characters kept by NormalizeForToken
func allowed(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
		return true
	}
	return strings.ContainsRune("!#$%&'*+-=?^_`{|}~@.[]", r)
}

// NormalizeForToken canonicalizes an email so that equivalent spellings of
// one mailbox yield the same token: it lowercases, drops characters outside
// the address alphabet, cuts a "+suffix" from the local part and removes
// "._-" from it.
func NormalizeForToken(email string) string {
	email = strings.Map(func(r rune) rune {
		if allowed(r) {
			return r
		}
		return -1
	}, strings.ToLower(email))

	at := strings.LastIndexByte(email, '@')
	local, domain := email, ""
	if at >= 0 {
		local, domain = email[:at], email[at:]
	}
	if plus := strings.IndexByte(local, '+'); plus >= 0 {
		local = local[:plus]
	}
	local = strings.NewReplacer(".", "", "_", "", "-", "").Replace(local)
	return local + domain
}

// GenerateToken returns hex(SHA1(uid || NormalizeForToken(email)))
func GenerateToken(email, uid string) string {
	sum := sha1.Sum([]byte(uid + NormalizeForToken(email)))
	return hex.EncodeToString(sum[:])
}

// EmailFromAddress strips a "mailto:" scheme from a CAL-ADDRESS value
func EmailFromAddress(address string) string {
	address = strings.TrimSpace(address)
	if len(address) >= 7 && strings.EqualFold(address[:7], "mailto:") {
		return address[7:]
	}
	return address
}
