// Package selection encodes and decodes the opaque tokens carried by
// structured replies (buttons).
//
// A token names a candidate, a quantity and an intended action. The payload
// is a sequence of length-prefixed fields ("<len>:<bytes>"), so no field value
// can be mistaken for a delimiter, wrapped in a versioned base64url envelope
// that is safe to hand to any transport. Decoding is strict: any deviation
// from the format is an error, never a best-effort partial parse.
package selection

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/roach88/stockline/internal/domain"
)

// Prefix versions the token format.
const Prefix = "s1."

// MaxTokenLen bounds encoded tokens; structured-reply ids are limited by
// messaging transports to a few hundred bytes.
const MaxTokenLen = 200

// ErrMalformed is wrapped by every decode failure.
var ErrMalformed = errors.New("malformed selection token")

// Selection is a decoded token.
type Selection struct {
	CandidateID string
	Quantity    int
	Action      domain.Action
}

// Encode serializes a selection into a token.
func Encode(candidateID string, quantity int, action domain.Action) (string, error) {
	s := Selection{CandidateID: candidateID, Quantity: quantity, Action: action}
	if err := s.validate(); err != nil {
		return "", fmt.Errorf("encode selection: %w", err)
	}

	var b strings.Builder
	writeField(&b, string(action))
	writeField(&b, strconv.Itoa(quantity))
	writeField(&b, candidateID)

	token := Prefix + base64.RawURLEncoding.EncodeToString([]byte(b.String()))
	if len(token) > MaxTokenLen {
		return "", fmt.Errorf("encode selection: token is %d bytes, limit %d", len(token), MaxTokenLen)
	}
	return token, nil
}

// Decode parses a token produced by Encode.
// Every failure wraps ErrMalformed.
func Decode(token string) (Selection, error) {
	if len(token) > MaxTokenLen {
		return Selection{}, malformed("token too long")
	}
	body, ok := strings.CutPrefix(token, Prefix)
	if !ok {
		return Selection{}, malformed("unknown token version")
	}
	raw, err := base64.RawURLEncoding.DecodeString(body)
	if err != nil {
		return Selection{}, malformed("bad envelope: %v", err)
	}

	fields, err := readFields(string(raw), 3)
	if err != nil {
		return Selection{}, err
	}

	qty, err := parseQuantity(fields[1])
	if err != nil {
		return Selection{}, err
	}

	s := Selection{Action: domain.Action(fields[0]), Quantity: qty, CandidateID: fields[2]}
	if err := s.validate(); err != nil {
		return Selection{}, malformed("%v", err)
	}
	return s, nil
}

func (s Selection) validate() error {
	if !s.Action.Valid() {
		return fmt.Errorf("unknown action %q", s.Action)
	}
	if s.Quantity < 0 {
		return fmt.Errorf("negative quantity %d", s.Quantity)
	}
	if s.Action.TargetsCandidate() && s.CandidateID == "" {
		return fmt.Errorf("action %s requires a candidate", s.Action)
	}
	if !s.Action.TargetsCandidate() && s.CandidateID != "" {
		return fmt.Errorf("action %s takes no candidate", s.Action)
	}
	if (s.Action == domain.ActionAddStock || s.Action == domain.ActionOrderItem) && s.Quantity == 0 {
		return fmt.Errorf("action %s requires a quantity", s.Action)
	}
	return nil
}

func writeField(b *strings.Builder, v string) {
	b.WriteString(strconv.Itoa(len(v)))
	b.WriteByte(':')
	b.WriteString(v)
}

// readFields reads exactly n length-prefixed fields and rejects trailing data.
func readFields(raw string, n int) ([]string, error) {
	fields := make([]string, 0, n)
	rest := raw
	for i := 0; i < n; i++ {
		lenStr, after, ok := strings.Cut(rest, ":")
		if !ok {
			return nil, malformed("field %d: missing length", i)
		}
		if lenStr == "" || len(lenStr) > 4 || (len(lenStr) > 1 && lenStr[0] == '0') {
			return nil, malformed("field %d: bad length %q", i, lenStr)
		}
		size, err := strconv.Atoi(lenStr)
		if err != nil || size < 0 {
			return nil, malformed("field %d: bad length %q", i, lenStr)
		}
		if size > len(after) {
			return nil, malformed("field %d: length %d overruns token", i, size)
		}
		fields = append(fields, after[:size])
		rest = after[size:]
	}
	if rest != "" {
		return nil, malformed("%d trailing bytes", len(rest))
	}
	return fields, nil
}

func parseQuantity(s string) (int, error) {
	if s == "" || (len(s) > 1 && s[0] == '0') {
		return 0, malformed("bad quantity %q", s)
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, malformed("bad quantity %q", s)
		}
	}
	qty, err := strconv.Atoi(s)
	if err != nil {
		return 0, malformed("bad quantity %q", s)
	}
	return qty, nil
}

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformed, fmt.Sprintf(format, args...))
}
