// Package signature signs transcoder upload parameters and verifies the
// signatures on its webhook notifications.
package signature

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"hash"
	"strings"
	"time"
)

// DefaultAlgorithm signs outbound parameters.
const DefaultAlgorithm = "sha384"

// legacyAlgorithm is assumed for signatures without an algorithm prefix.
const legacyAlgorithm = "sha1"

// ExpiresLayout is the UTC timestamp format the transcoder expects.
const ExpiresLayout = "2006/01/02 15:04:05+00:00"

var algorithms = map[string]func() hash.Hash{
	"sha1":   sha1.New,
	"sha224": sha256.New224,
	"sha256": sha256.New,
	"sha384": sha512.New384,
	"sha512": sha512.New,
}

// Verify checks signature against an HMAC of payload keyed with secret.
// The signature is "<algorithm>:<hex digest>" or a bare hex SHA-1 digest,
// in either hex case.
// Unknown algorithms fail verification.
func Verify(secret, signature, payload string) bool {
	algorithm, digest := legacyAlgorithm, signature
	if i := strings.Index(signature, ":"); i >= 0 {
		algorithm, digest = signature[:i], signature[i+1:]
	}

	newHash, ok := algorithms[algorithm]
	if !ok {
		return false
	}
	got, err := hex.DecodeString(digest)
	if err != nil {
		return false
	}
	mac := hmac.New(newHash, []byte(secret))
	mac.Write([]byte(payload))
	return hmac.Equal(mac.Sum(nil), got)
}

// Sign returns "sha384:<hex digest>" over payload.
func Sign(secret string, payload []byte) string {
	return DefaultAlgorithm + ":" + hexMAC(algorithms[DefaultAlgorithm], secret, payload)
}

func hexMAC(newHash func() hash.Hash, secret string, payload []byte) string {
	mac := hmac.New(newHash, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// Auth is the authentication block of upload parameters.
type Auth struct {
	Key     string `json:"key"`
	Expires string `json:"expires"`
}

// Params authorize one browser upload. Field order is the serialized order.
type Params struct {
	Auth       Auth   `json:"auth"`
	TemplateID string `json:"template_id"`
	NotifyURL  string `json:"notify_url,omitempty"`
}

// NewParams builds parameters that expire ttl after now.
func NewParams(key, templateID, notifyURL string, now time.Time, ttl time.Duration) Params {
	return Params{
		Auth: Auth{
			Key:     key,
			Expires: now.Add(ttl).UTC().Format(ExpiresLayout),
		},
		TemplateID: templateID,
		NotifyURL:  notifyURL,
	}
}

// Encode serializes p compactly. The gateway recomputes the signature over
// these exact bytes, so they are what the browser must send.
func (p Params) Encode() (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(p); err != nil {
		return "", err
	}
	return strings.TrimSuffix(buf.String(), "\n"), nil
}

// SignParams encodes p and signs the encoding.
func SignParams(secret string, p Params) (payload, sig string, err error) {
	payload, err = p.Encode()
	if err != nil {
		return "", "", err
	}
	return payload, Sign(secret, []byte(payload)), nil
}

// SignAuth signs a bare auth block, as used on authenticated API reads.
func SignAuth(key, secret string, now time.Time, ttl time.Duration) (payload, sig string, err error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(struct {
		Auth Auth `json:"auth"`
	}{Auth{Key: key, Expires: now.Add(ttl).UTC().Format(ExpiresLayout)}}); err != nil {
		return "", "", err
	}
	payload = strings.TrimSuffix(buf.String(), "\n")
	return payload, Sign(secret, []byte(payload)), nil
}
