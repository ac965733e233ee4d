package wizard

import (
	"cmp"
	"math"
	"net/mail"
	"regexp"
	"strconv"
	"strings"
	"unicode"
)

const (
	minAddressLen = 26
	maxAddressLen = 128
	maxNoteLen    = 200
	maxOTPLen     = 12
)

// USDC carries six decimals; finer amounts cannot be shown or settled as typed.
const maxAmountDecimals = 6

var amountRe = regexp.MustCompile(`^(\d*)(?:([.,])(\d+))?$`)

// parseAmount accepts a positive plain decimal with at most six fractional digits.
// "," works as the decimal separator, except where it reads as a thousands separator
// ("1,000"), which is rejected rather than guessed.
func parseAmount(s string) (float64, bool) {
	m := amountRe.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return 0, false
	}
	whole, sep, frac := m[1], m[2], m[3]
	if whole == "" && frac == "" {
		return 0, false
	}
	if len(frac) > maxAmountDecimals {
		return 0, false
	}
	if sep == "," && len(frac) == 3 && strings.TrimLeft(whole, "0") != "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(cmp.Or(whole, "0")+"."+cmp.Or(frac, "0"), 64)
	if err != nil || math.IsInf(v, 0) || v <= 0 {
		return 0, false
	}
	return v, true
}

// validEmail accepts a bare address such as "a@b.com", not "Name <a@b.com>".
func validEmail(s string) bool {
	addr, err := mail.ParseAddress(s)
	if err != nil || addr.Address != s {
		return false
	}
	at := strings.LastIndexByte(s, '@')
	return at > 0 && at < len(s)-1
}

func validAddress(s string) bool {
	if len(s) < minAddressLen || len(s) > maxAddressLen {
		return false
	}
	return !strings.ContainsFunc(s, unicode.IsSpace)
}

func validOTP(s string) bool {
	return s != "" && len(s) <= maxOTPLen && !strings.ContainsFunc(s, unicode.IsSpace)
}

func matchChoice(list []choice, input string) (choice, bool) {
	in := strings.ToLower(strings.TrimSpace(input))
	for _, c := range list {
		if in == c.Code || in == strings.ToLower(c.Label) {
			return c, true
		}
	}
	return choice{}, false
}
