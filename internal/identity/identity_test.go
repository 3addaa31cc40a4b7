package identity

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
)

func token(payload string, enc *base64.Encoding) string {
	return "eyJhbGciOiJIUzI1NiJ9." + enc.EncodeToString([]byte(payload)) + ".c2ln"
}

func TestExtractUsername(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		cred string
		want string
	}{
		{name: "raw url", cred: token(`{"username":"alice@example.com"}`, base64.RawURLEncoding), want: "alice@example.com"},
		{name: "padded std", cred: token(`{"username":"bob","exp":1700000000}`, base64.StdEncoding), want: "bob"},
		{name: "url alphabet", cred: token(`{"username":"???>>>"}`, base64.URLEncoding), want: "???>>>"},
		{name: "two segments", cred: "hdr." + base64.RawURLEncoding.EncodeToString([]byte(`{"username":"carol"}`)), want: "carol"},
		{name: "surrounding space", cred: "  " + token(`{"username":"dave"}`, base64.RawURLEncoding) + "\n", want: "dave"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, Extract(tt.cred))
		})
	}
}

func TestExtractFallsBackToUnknownUser(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		cred string
	}{
		{name: "empty", cred: ""},
		{name: "single segment", cred: "opaque-token"},
		{name: "empty payload", cred: "a..c"},
		{name: "invalid base64", cred: "a.%%%%.c"},
		{name: "invalid json", cred: token(`not-json`, base64.RawURLEncoding)},
		{name: "missing field", cred: token(`{"sub":"123"}`, base64.RawURLEncoding)},
		{name: "empty username", cred: token(`{"username":""}`, base64.RawURLEncoding)},
		{name: "null username", cred: token(`{"username":null}`, base64.RawURLEncoding)},
		{name: "non-string username", cred: token(`{"username":42}`, base64.RawURLEncoding)},
		{name: "json array", cred: token(`["username"]`, base64.RawURLEncoding)},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, UnknownUser, Extract(tt.cred))
		})
	}
}

func TestExtractIsDeterministic(t *testing.T) {
	t.Parallel()
	cred := token(`{"username":"erin"}`, base64.RawURLEncoding)
	first := Extract(cred)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, Extract(cred))
	}
}
