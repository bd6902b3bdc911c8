package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/roach88/stockline/internal/session"
)

// marshalJSON converts v to JSON TEXT for storage.
// HTML escaping is disabled so product names like "A&B" are stored as typed.
func marshalJSON(v any) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return "", err
	}
	// Encoder adds a trailing newline, remove it
	return strings.TrimSpace(buf.String()), nil
}

// marshalSession converts a session to JSON TEXT for the state column.
func marshalSession(s session.Session) (string, error) {
	data, err := marshalJSON(s)
	if err != nil {
		return "", fmt.Errorf("marshal session: %w", err)
	}
	return data, nil
}

// unmarshalSession parses the state column.
// The identity and flow columns win over the JSON copy so a hand-edited
// row cannot disagree with its key.
func unmarshalSession(identity, flow, data string) (session.Session, error) {
	var s session.Session
	if err := json.Unmarshal([]byte(data), &s); err != nil {
		return session.Session{}, fmt.Errorf("unmarshal session %s: %w", identity, err)
	}
	s.Identity = identity
	s.Flow = session.Flow(flow)
	return s, nil
}

// marshalReceipt converts a commit receipt to JSON TEXT.
func marshalReceipt(receipt any) (string, error) {
	data, err := marshalJSON(receipt)
	if err != nil {
		return "", fmt.Errorf("marshal receipt: %w", err)
	}
	return data, nil
}

// unmarshalReceipt parses a stored receipt into dst.
func unmarshalReceipt(data string, dst any) error {
	if err := json.Unmarshal([]byte(data), dst); err != nil {
		return fmt.Errorf("unmarshal receipt: %w", err)
	}
	return nil
}
