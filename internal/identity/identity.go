// Package identity derives a display name from a bearer credential without
// contacting the issuer.
package identity

import (
	"encoding/base64"
	"encoding/json"
	"strings"
)

// UnknownUser is returned whenever no identity can be derived.
const UnknownUser = "Unknown User"

// Extract returns the "username" claim carried in the payload segment of a
// JWT-shaped credential, or UnknownUser. It never fails.
func Extract(credential string) string {
	parts := strings.Split(strings.TrimSpace(credential), ".")
	if len(parts) < 2 {
		return UnknownUser
	}
	raw, ok := decodeSegment(parts[1])
	if !ok {
		return UnknownUser
	}
	var claims struct {
		Username *string `json:"username"`
	}
	if err := json.Unmarshal(raw, &claims); err != nil {
		return UnknownUser
	}
	if claims.Username == nil || *claims.Username == "" {
		return UnknownUser
	}
	return *claims.Username
}

// decodeSegment accepts both base64 alphabets, padded or not.
func decodeSegment(seg string) ([]byte, bool) {
	seg = strings.TrimRight(seg, "=")
	if seg == "" {
		return nil, false
	}
	seg = strings.NewReplacer("-", "+", "_", "/").Replace(seg)
	b, err := base64.RawStdEncoding.DecodeString(seg)
	if err != nil {
		return nil, false
	}
	return b, true
}
