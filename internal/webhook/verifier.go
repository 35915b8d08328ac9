package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// Verifier authenticates inbound ticket webhooks with a shared secret. Jira
// signs the raw body with HMAC-SHA256 when a secret is configured on the
// webhook; an empty secret disables verification for local development.
type Verifier struct {
	secret string
}

// NewVerifier creates a webhook verifier.
func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: secret}
}

// VerifySignature checks the X-Hub-Signature header against the request body.
func (v *Verifier) VerifySignature(signature string, body []byte) bool {
	if v.secret == "" {
		return true
	}

	mac := hmac.New(sha256.New, []byte(v.secret))
	mac.Write(body)
	expected := "sha256=" + hex.EncodeToString(mac.Sum(nil))

	return hmac.Equal([]byte(expected), []byte(signature))
}

// allowedEventTypes are the webhook events that can carry an approval signal.
var allowedEventTypes = map[string]bool{
	"comment_created":    true,
	"issue_commented":    true,
	"jira:issue_updated": true,
}

// ValidateEventType reports whether the event type is one we process.
func (v *Verifier) ValidateEventType(eventType string) bool {
	return allowedEventTypes[eventType]
}
