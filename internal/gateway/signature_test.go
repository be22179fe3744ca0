package gateway

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "whsec_test_secret"

func testClient() *Client {
	return NewClient(Config{WebhookSecret: testSecret})
}

func TestVerifySignatureRoundTrip(t *testing.T) {
	client := testClient()
	payload := []byte(`{
		"type": "checkout.session.completed",
		"data": {"object": {
			"id": "cs_test_123",
			"status": "complete",
			"payment_status": "paid",
			"payment_intent": "pi_test_456",
			"metadata": {"order_id": "42", "order_number": "ABCDEF0123456789"}
		}}
	}`)

	header := SignPayload(testSecret, time.Now(), payload)

	event, err := client.VerifySignature(payload, header)
	require.NoError(t, err)
	assert.Equal(t, EventCheckoutCompleted, event.Type)
	assert.Equal(t, "cs_test_123", event.Data.Object.ID)
	assert.Equal(t, PaymentStatusPaid, event.Data.Object.PaymentStatus)
	assert.Equal(t, "pi_test_456", event.Data.Object.PaymentIntent)
	assert.Equal(t, "42", event.Data.Object.Metadata["order_id"])
}

func TestVerifySignatureWrongSecret(t *testing.T) {
	client := testClient()
	payload := []byte(`{"type": "checkout.session.expired", "data": {"object": {"id": "cs_1"}}}`)

	header := SignPayload("whsec_other_secret", time.Now(), payload)

	event, err := client.VerifySignature(payload, header)
	assert.Nil(t, event)
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

func TestVerifySignatureTamperedPayload(t *testing.T) {
	client := testClient()
	payload := []byte(`{"type": "checkout.session.completed", "data": {"object": {"id": "cs_1"}}}`)
	header := SignPayload(testSecret, time.Now(), payload)

	tampered := []byte(`{"type": "checkout.session.completed", "data": {"object": {"id": "cs_2"}}}`)

	_, err := client.VerifySignature(tampered, header)
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

func TestVerifySignatureStaleTimestamp(t *testing.T) {
	client := testClient()
	payload := []byte(`{"type": "checkout.session.expired", "data": {"object": {"id": "cs_1"}}}`)

	header := SignPayload(testSecret, time.Now().Add(-time.Hour), payload)

	_, err := client.VerifySignature(payload, header)
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

func TestVerifySignatureMalformedHeader(t *testing.T) {
	client := testClient()
	payload := []byte(`{"type": "checkout.session.expired", "data": {"object": {"id": "cs_1"}}}`)

	for _, header := range []string{
		"",
		"garbage",
		"t=notanumber,v1=abc",
		"v1=deadbeef",
		"t=1712345678",
	} {
		_, err := client.VerifySignature(payload, header)
		assert.ErrorIs(t, err, ErrInvalidSignature, "header %q", header)
	}
}

func TestVerifySignatureExtraSignatures(t *testing.T) {
	client := testClient()
	payload := []byte(`{"type": "checkout.session.expired", "data": {"object": {"id": "cs_1"}}}`)

	// A valid v1 alongside stale ones still verifies.
	valid := SignPayload(testSecret, time.Now(), payload)
	header := "v1=0000000000," + valid

	event, err := client.VerifySignature(payload, header)
	require.NoError(t, err)
	assert.Equal(t, EventCheckoutExpired, event.Type)
}

func TestVerifySignatureBadPayload(t *testing.T) {
	client := testClient()

	payload := []byte(`not json at all`)
	header := SignPayload(testSecret, time.Now(), payload)
	_, err := client.VerifySignature(payload, header)
	assert.ErrorIs(t, err, ErrInvalidPayload)

	payload = []byte(`{"data": {"object": {"id": "cs_1"}}}`)
	header = SignPayload(testSecret, time.Now(), payload)
	_, err = client.VerifySignature(payload, header)
	assert.True(t, errors.Is(err, ErrInvalidPayload), "missing type must be rejected")
}
