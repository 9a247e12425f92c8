package gateway

import (
	"errors"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imrishuroy/go-checkout-pipeline/internal/config"
	"github.com/imrishuroy/go-checkout-pipeline/internal/signature"
)

func testConfig(sandbox bool) config.Gateway {
	return config.Gateway{
		MerchantID:  "10000100",
		MerchantKey: "46f0cd694581a",
		Passphrase:  "jt7NOE43FZPn",
		Sandbox:     sandbox,
		SiteURL:     "https://shop.example.com",
	}
}

func TestBuildRedirect(t *testing.T) {
	a := New(testConfig(true))
	order := RedirectOrder{
		ID:            "ORD-1700000000-abc123",
		Amount:        1234.5,
		CustomerName:  "Jane van der Berg",
		CustomerEmail: "jane@example.com",
		CustomerPhone: "",
		ItemsSummary:  strings.Repeat("Mug x2, ", 30),
	}

	r := a.BuildRedirect(order, a.URLsFor(order.ID))

	assert.Equal(t, config.SandboxEndpoint, r.EndpointURL)
	f := r.FormFields
	assert.Equal(t, "1234.50", f["amount"])
	assert.Equal(t, "Jane", f["name_first"])
	assert.Equal(t, "van der Berg", f["name_last"])
	assert.Len(t, []rune(f["item_description"]), 100)
	assert.NotContains(t, f, "cell_number", "empty fields are omitted")
	assert.Equal(t, "https://shop.example.com/payment/success?order=ORD-1700000000-abc123", f["return_url"])
	assert.Equal(t, "https://shop.example.com/webhook/payment", f["notify_url"])
	assert.True(t, signature.Verify(f, f["signature"], "jt7NOE43FZPn"))
}

func TestFormatAmount(t *testing.T) {
	assert.Equal(t, "10.00", FormatAmount(10))
	assert.Equal(t, "0.10", FormatAmount(0.1))
	assert.Equal(t, "19.99", FormatAmount(19.99))
}

func signedWebhook(passphrase string) map[string]string {
	fields := map[string]string{
		"m_payment_id":   "ORD-9",
		"pf_payment_id":  "1089250",
		"payment_status": "COMPLETE",
		"item_name":      "Order ORD-9",
		"amount_gross":   "200.00",
		"amount_fee":     "-4.60",
		"amount_net":     "195.40",
		"merchant_id":    "10000100",
	}
	fields["signature"] = signature.Sign(fields, passphrase)
	return fields
}

func TestVerifyWebhook_Valid(t *testing.T) {
	a := New(testConfig(false))
	p, err := a.VerifyWebhook(signedWebhook("jt7NOE43FZPn"))
	require.NoError(t, err)
	assert.Equal(t, "ORD-9", p.OrderNumber)
	assert.Equal(t, "1089250", p.PFPaymentID)
	assert.True(t, p.Complete())
	assert.False(t, p.SignatureBypassed)
	gross, ok := p.Gross()
	require.True(t, ok)
	assert.Equal(t, "200", gross.String())
}

func TestVerifyWebhook_BadSignatureLive(t *testing.T) {
	a := New(testConfig(false))
	fields := signedWebhook("wrong")
	_, err := a.VerifyWebhook(fields)
	assert.True(t, errors.Is(err, ErrSignature))
}

func TestVerifyWebhook_BadSignatureSandboxBypassed(t *testing.T) {
	a := New(testConfig(true))
	p, err := a.VerifyWebhook(signedWebhook("wrong"))
	require.NoError(t, err)
	assert.True(t, p.SignatureBypassed)
}

func TestVerifyWebhook_MissingOrderNumber(t *testing.T) {
	a := New(testConfig(true))
	_, err := a.VerifyWebhook(map[string]string{"payment_status": "COMPLETE"})
	assert.ErrorIs(t, err, ErrInvalidPayload)
}

func TestVerifiedPayment_NonCompleteIgnored(t *testing.T) {
	p := VerifiedPayment{Status: "CANCELLED"}
	assert.False(t, p.Complete())
}

func TestFieldsFromForm(t *testing.T) {
	form := url.Values{"a": {"1", "2"}, "b": {"x"}}
	assert.Equal(t, map[string]string{"a": "1", "b": "x"}, FieldsFromForm(form))
}
