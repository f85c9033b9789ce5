package signature

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/sha512"
	"encoding/hex"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const (
	secret  = "s3cr3t"
	payload = `{"ok":"ASSEMBLY_COMPLETED","assembly_id":"a1b2"}`
)

func sha384Hex(key, msg string) string {
	m := hmac.New(sha512.New384, []byte(key))
	m.Write([]byte(msg))
	return hex.EncodeToString(m.Sum(nil))
}

func sha1Hex(key, msg string) string {
	m := hmac.New(sha1.New, []byte(key))
	m.Write([]byte(msg))
	return hex.EncodeToString(m.Sum(nil))
}

func TestVerifyAcceptsPrefixedSignature(t *testing.T) {
	sig := "sha384:" + sha384Hex(secret, payload)
	require.True(t, Verify(secret, sig, payload))
	require.Equal(t, sig, Sign(secret, []byte(payload)))
}

func TestVerifyRejectsSingleByteMutations(t *testing.T) {
	sig := "sha384:" + sha384Hex(secret, payload)

	for i := range payload {
		mutated := []byte(payload)
		mutated[i] ^= 0x01
		require.Falsef(t, Verify(secret, sig, string(mutated)), "payload byte %d", i)
	}
	for i := range sig {
		mutated := []byte(sig)
		mutated[i] ^= 0x01
		require.Falsef(t, Verify(secret, string(mutated), payload), "signature byte %d", i)
	}
}

func TestVerifyIgnoresHexCase(t *testing.T) {
	digest := sha384Hex(secret, payload)
	require.True(t, Verify(secret, "sha384:"+strings.ToUpper(digest), payload))
	require.True(t, Verify(secret, strings.ToUpper(sha1Hex(secret, payload)), payload))
	require.False(t, Verify(secret, "sha384:"+digest+"0", payload))
	require.False(t, Verify(secret, "sha384:"+digest[:len(digest)-2], payload))
}

func TestVerifyLegacySignatureWithoutColon(t *testing.T) {
	require.True(t, Verify(secret, sha1Hex(secret, payload), payload))
	require.False(t, Verify(secret, sha384Hex(secret, payload), payload))
}

func TestVerifyUnknownAlgorithmFailsClosed(t *testing.T) {
	require.False(t, Verify(secret, "md5:"+sha1Hex(secret, payload), payload))
	require.False(t, Verify(secret, ":", payload))
	require.False(t, Verify(secret, "", payload))
}

func TestSignParamsIsByteExact(t *testing.T) {
	now := time.Date(2024, 3, 9, 22, 5, 7, 0, time.FixedZone("EST", -5*3600))

	tests := []struct {
		name   string
		params Params
		want   string
	}{
		{
			name:   "polling",
			params: NewParams("k", "tpl", "", now, time.Hour),
			want:   `{"auth":{"key":"k","expires":"2024/03/10 04:05:07+00:00"},"template_id":"tpl"}`,
		},
		{
			name:   "webhook",
			params: NewParams("k", "tpl", "https://cat.tube/hook?a=1&b=2", now, time.Hour),
			want:   `{"auth":{"key":"k","expires":"2024/03/10 04:05:07+00:00"},"template_id":"tpl","notify_url":"https://cat.tube/hook?a=1&b=2"}`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, sig, err := SignParams(secret, tt.params)
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
			require.Equal(t, "sha384:"+sha384Hex(secret, tt.want), sig)
			require.True(t, Verify(secret, sig, got))
		})
	}
}
