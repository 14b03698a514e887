package models

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPaymentIntentID(t *testing.T) {
	id := NewPaymentIntentID()

	assert.True(t, strings.HasPrefix(id, "pi_"))
	assert.Len(t, id, 27)
	assert.NotEqual(t, id, NewPaymentIntentID())
}

func TestPaymentIntentIsTerminal(t *testing.T) {
	tests := []struct {
		status   string
		terminal bool
	}{
		{PaymentStatusRequiresPayment, false},
		{PaymentStatusProcessing, false},
		{PaymentStatusSucceeded, true},
		{PaymentStatusFailed, true},
		{PaymentStatusCanceled, true},
	}

	for _, tt := range tests {
		t.Run(tt.status, func(t *testing.T) {
			intent := &PaymentIntent{Status: tt.status}
			assert.Equal(t, tt.terminal, intent.IsTerminal())
		})
	}
}

func TestIsValidPaymentStatus(t *testing.T) {
	for _, s := range []string{
		PaymentStatusRequiresPayment, PaymentStatusProcessing,
		PaymentStatusSucceeded, PaymentStatusFailed, PaymentStatusCanceled,
	} {
		assert.True(t, IsValidPaymentStatus(s), s)
	}

	assert.False(t, IsValidPaymentStatus("settled"))
	assert.False(t, IsValidPaymentStatus(""))
}

func TestPaymentIntentMetadata(t *testing.T) {
	intent := &PaymentIntent{}

	// Empty column decodes to an empty map, never nil.
	meta := intent.Metadata()
	require.NotNil(t, meta)
	assert.Empty(t, meta)

	err := intent.SetMetadata(map[string]string{"order_id": "ord_42"})
	require.NoError(t, err)
	assert.Equal(t, "ord_42", intent.Metadata()["order_id"])

	// Malformed JSON is treated as empty rather than failing the read path.
	intent.MetadataJSON = "{nope"
	assert.Empty(t, intent.Metadata())
}

func TestPaymentIntentSetMetadataNil(t *testing.T) {
	intent := &PaymentIntent{}

	err := intent.SetMetadata(nil)
	require.NoError(t, err)
	assert.Equal(t, "{}", intent.MetadataJSON)
}

func TestPaymentIntentMergeMetadata(t *testing.T) {
	intent := &PaymentIntent{}
	require.NoError(t, intent.SetMetadata(map[string]string{"a": "1", "b": "2"}))

	err := intent.MergeMetadata(map[string]string{"b": "3", "c": "4"})
	require.NoError(t, err)

	meta := intent.Metadata()
	assert.Equal(t, "1", meta["a"])
	assert.Equal(t, "3", meta["b"])
	assert.Equal(t, "4", meta["c"])
}

func TestPaymentIntentAmountBTC(t *testing.T) {
	intent := &PaymentIntent{AmountSats: 150000000}
	assert.InDelta(t, 1.5, intent.AmountBTC(), 1e-12)

	intent.AmountSats = 1
	assert.InDelta(t, 0.00000001, intent.AmountBTC(), 1e-15)
}

func TestHashAPIKey(t *testing.T) {
	hash := HashAPIKey("sk_test_key")

	assert.Len(t, hash, 64)
	assert.Equal(t, hash, HashAPIKey("sk_test_key"))
	assert.NotEqual(t, hash, HashAPIKey("sk_other_key"))
}

func TestGenerateWebhookSecret(t *testing.T) {
	secret, err := GenerateWebhookSecret()
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(secret, "whsec_"))
	assert.Len(t, secret, len("whsec_")+64)

	other, err := GenerateWebhookSecret()
	require.NoError(t, err)
	assert.NotEqual(t, secret, other)
}
