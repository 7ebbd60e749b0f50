package auditlog

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
)

// Signer computes HMAC-SHA256 signatures over an entry's canonical form.
// A signer without a key is disabled and produces empty signatures.
type Signer struct {
	key []byte
}

// NewSigner returns a signer for key. A nil or empty key disables signing.
func NewSigner(key []byte) *Signer {
	if len(key) == 0 {
		return &Signer{}
	}
	return &Signer{key: append([]byte(nil), key...)}
}

// Sign returns the hex-encoded signature, or "" when signing is disabled.
func (s *Signer) Sign(entry Entry) string {
	if s == nil || s.key == nil {
		return ""
	}
	mac := hmac.New(sha256.New, s.key)
	mac.Write([]byte(canonicalForm(entry)))
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether entry.Signature matches its content.
func (s *Signer) Verify(entry Entry) bool {
	if s == nil || s.key == nil || entry.Signature == "" {
		return false
	}
	return hmac.Equal([]byte(s.Sign(entry)), []byte(entry.Signature))
}

// SigningEnabled reports whether the signer has a key.
func (s *Signer) SigningEnabled() bool {
	return s != nil && s.key != nil
}

// canonicalForm length-prefixes every field ("<len>:<value>") in the order
// ID, Timestamp(Unix), Kind, Severity, Outcome, EventID, ProviderType,
// AccountID, ActorID, SourceIP, Path, Message, Error, so text cannot move
// between adjacent fields.
func canonicalForm(e Entry) string {
	fields := []string{
		e.ID,
		strconv.FormatInt(e.Timestamp.Unix(), 10),
		e.Kind,
		string(e.Severity),
		string(e.Outcome),
		e.EventID,
		e.ProviderType,
		e.AccountID,
		e.ActorID,
		e.SourceIP,
		e.Path,
		e.Message,
		e.Error,
	}
	var b strings.Builder
	for _, f := range fields {
		b.WriteString(strconv.Itoa(len(f)))
		b.WriteByte(':')
		b.WriteString(f)
	}
	return b.String()
}
