package flow

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/roach88/stockline/internal/catalog"
)

var (
	affirmativeRe = regexp.MustCompile(`^(?:yes|y|confirm|ok|okay|correct)$`)
	negativeRe    = regexp.MustCompile(`^(?:no|n|cancel)$`)
	cancelRe      = regexp.MustCompile(`^(?:cancel|stop|quit|abort)$`)
	skipRe        = regexp.MustCompile(`^(?:skip|none|no email|-)$`)
	proceedRe     = regexp.MustCompile(`^(?:proceed|done|next|checkout|that'?s all)$`)
	addMoreRe     = regexp.MustCompile(`^(?:add more|more|add)$`)
	quantityRe    = regexp.MustCompile(`^(\d{1,7})\s*(?:units?|pcs|pieces?|nos?|boxes?)?$`)
	emailRe       = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)
)

// keyword lowercases text and strips trailing punctuation for matching
// short replies like "Yes!" or "cancel.".
func keyword(text string) string {
	return strings.TrimRight(strings.ToLower(strings.TrimSpace(text)), ".!?")
}

func isAffirmative(text string) bool { return affirmativeRe.MatchString(keyword(text)) }
func isNegative(text string) bool    { return negativeRe.MatchString(keyword(text)) }
func isCancel(text string) bool      { return cancelRe.MatchString(keyword(text)) }
func isSkip(text string) bool        { return skipRe.MatchString(keyword(text)) }
func isProceed(text string) bool     { return proceedRe.MatchString(keyword(text)) }
func isAddMore(text string) bool     { return addMoreRe.MatchString(keyword(text)) }

// parseOrdinal parses a bare positive integer reply.
func parseOrdinal(text string) (int, bool) {
	text = strings.TrimSpace(text)
	if text == "" || len(text) > 4 {
		return 0, false
	}
	for _, r := range text {
		if r < '0' || r > '9' {
			return 0, false
		}
	}
	n, err := strconv.Atoi(text)
	return n, err == nil
}

// parseQuantity accepts "50" or "50 units".
func parseQuantity(text string) (int, bool) {
	m := quantityRe.FindStringSubmatch(keyword(text))
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

// phoneDigits returns the digits of a phone number written with spaces,
// dashes, dots, parentheses or a leading plus. Other characters make it
// invalid.
func phoneDigits(text string) (string, bool) {
	var b strings.Builder
	for i, r := range strings.TrimSpace(text) {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '+' && i == 0:
		case r == ' ' || r == '-' || r == '.' || r == '(' || r == ')':
		default:
			return "", false
		}
	}
	return b.String(), true
}

// validName reports whether a customer name has at least two letters or
// digits.
func validName(text string) bool {
	n := 0
	for _, r := range text {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			n++
		}
	}
	return n >= 2
}

const maxFieldRunes = 80

// clip bounds free-text fields stored on the session.
func clip(text string) string {
	text = strings.Join(strings.Fields(text), " ")
	if utf8.RuneCountInString(text) <= maxFieldRunes {
		return text
	}
	return string([]rune(text)[:maxFieldRunes])
}

// isEcho reports whether text repeats the product just chosen, as some
// transports send the tapped button's label as a follow-up text message.
func (e *Engine) isEcho(text, productName string) bool {
	got := catalog.Normalize(strings.TrimSuffix(strings.TrimSpace(text), ellipsis))
	if got == "" {
		return false
	}
	name := catalog.Normalize(productName)
	label := catalog.Normalize(strings.TrimSuffix(TruncateLabel(productName, e.cfg.LabelCap), ellipsis))
	return got == name || got == label
}
