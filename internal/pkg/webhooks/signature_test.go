package webhooks

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignDeterministic(t *testing.T) {
	body := []byte(`{"id":"evt_1","type":"payment_intent.succeeded"}`)

	first := Sign(body, "whsec_test", 1700000000)
	second := Sign(body, "whsec_test", 1700000000)
	assert.Equal(t, first, second)

	require.True(t, strings.HasPrefix(first, "t=1700000000,v1="))
}

func TestVerifySignature(t *testing.T) {
	body := []byte(`{"id":"evt_1"}`)
	secret := "whsec_test"
	now := time.Unix(1700000000, 0)
	header := Sign(body, secret, now.Unix())

	tests := []struct {
		name   string
		body   []byte
		header string
		secret string
		want   bool
	}{
		{"valid", body, header, secret, true},
		{"tampered body", []byte(`{"id":"evt_2"}`), header, secret, false},
		{"wrong secret", body, header, "whsec_other", false},
		{"malformed header", body, "not-a-signature", secret, false},
		{"missing timestamp", body, "v1=deadbeef", secret, false},
		{"missing signature", body, "t=1700000000", secret, false},
		{"garbage timestamp", body, "t=abc,v1=deadbeef", secret, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := verifySignatureAt(tt.body, tt.header, tt.secret, DefaultTolerance, now)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestVerifySignatureRejectsReplay(t *testing.T) {
	body := []byte(`{"id":"evt_1"}`)
	secret := "whsec_test"
	signedAt := time.Unix(1700000000, 0)
	header := Sign(body, secret, signedAt.Unix())

	// Inside the window, both directions.
	assert.True(t, verifySignatureAt(body, header, secret, DefaultTolerance, signedAt.Add(299*time.Second)))
	assert.True(t, verifySignatureAt(body, header, secret, DefaultTolerance, signedAt.Add(-299*time.Second)))

	// Outside the window.
	assert.False(t, verifySignatureAt(body, header, secret, DefaultTolerance, signedAt.Add(301*time.Second)))
	assert.False(t, verifySignatureAt(body, header, secret, DefaultTolerance, signedAt.Add(-301*time.Second)))
}
