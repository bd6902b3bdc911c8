package selection

import (
	"encoding/base64"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/stockline/internal/domain"
)

func rawToken(payload string) string {
	return Prefix + base64.RawURLEncoding.EncodeToString([]byte(payload))
}

func TestRoundTrip_EveryAction(t *testing.T) {
	for _, action := range domain.Actions {
		t.Run(string(action), func(t *testing.T) {
			candidate := ""
			if action.TargetsCandidate() {
				// Ids containing the separator characters of naive encodings.
				candidate = "prod:42|add-stock-1"
			}

			token, err := Encode(candidate, 7, action)
			require.NoError(t, err)

			got, err := Decode(token)
			require.NoError(t, err)
			assert.Equal(t, Selection{CandidateID: candidate, Quantity: 7, Action: action}, got)
		})
	}
}

func TestRoundTrip_QuickActionsWithoutQuantity(t *testing.T) {
	token, err := Encode("p-1", 0, domain.ActionQuickAddStock)
	require.NoError(t, err)

	got, err := Decode(token)
	require.NoError(t, err)
	assert.Equal(t, 0, got.Quantity)
	assert.Equal(t, domain.ActionQuickAddStock, got.Action)
}

func TestEncode_TokenIsTransportSafe(t *testing.T) {
	token, err := Encode("Ünïcode id / with spaces", 50, domain.ActionAddStock)
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(token, Prefix))
	for _, r := range token {
		ok := r == '.' || r == '-' || r == '_' ||
			(r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
		assert.True(t, ok, "unexpected rune %q in token", r)
	}
}

func TestEncode_RejectsInvalidSelections(t *testing.T) {
	tests := []struct {
		name      string
		candidate string
		qty       int
		action    domain.Action
	}{
		{"unknown action", "p1", 1, domain.Action("add")},
		{"negative quantity", "p1", -5, domain.ActionAddStock},
		{"missing candidate", "", 5, domain.ActionAddStock},
		{"candidate on control action", "p1", 0, domain.ActionOrderProceed},
		{"stock confirm without product", "", 5, domain.ActionStockConfirm},
		{"stock cancel without product", "", 5, domain.ActionStockCancel},
		{"order confirm without order", "", 2, domain.ActionOrderConfirm},
		{"add-stock without quantity", "p1", 0, domain.ActionAddStock},
		{"too long", strings.Repeat("x", MaxTokenLen), 1, domain.ActionAddStock},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Encode(tt.candidate, tt.qty, tt.action)
			assert.Error(t, err)
		})
	}
}

func TestDecode_FailsLoudlyOnMalformedInput(t *testing.T) {
	tests := []struct {
		name  string
		token string
	}{
		{"empty", ""},
		{"wrong version", "s2." + base64.RawURLEncoding.EncodeToString([]byte("9:add-stock1:52:p1"))},
		{"naive delimited id", "add-stock|50|p1"},
		{"bad base64", Prefix + "!!!"},
		{"missing field", rawToken("9:add-stock1:5")},
		{"trailing bytes", rawToken("9:add-stock1:52:p1x")},
		{"length overrun", rawToken("9:add-stock1:59:p1")},
		{"leading zero length", rawToken("09:add-stock1:52:p1")},
		{"unknown action", rawToken("3:add1:52:p1")},
		{"negative quantity", rawToken("9:add-stock2:-52:p1")},
		{"leading zero quantity", rawToken("9:add-stock2:052:p1")},
		{"empty quantity", rawToken("9:add-stock0:2:p1")},
		{"missing candidate", rawToken("9:add-stock1:50:")},
		{"unbound confirm", rawToken("13:stock-confirm2:100:")},
		{"too long", Prefix + strings.Repeat("A", MaxTokenLen)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.token)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrMalformed)
		})
	}
}

func TestDecode_CompoundActionNotSplit(t *testing.T) {
	// "order-add-more" must decode as one action, not "order" + "add-more".
	token, err := Encode("", 0, domain.ActionOrderAddMore)
	require.NoError(t, err)

	got, err := Decode(token)
	require.NoError(t, err)
	assert.Equal(t, domain.ActionOrderAddMore, got.Action)
	assert.Empty(t, got.CandidateID)
}
