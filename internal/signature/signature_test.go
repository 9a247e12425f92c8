package signature

import (
	"crypto/md5"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonical_SortsSkipsAndEncodes(t *testing.T) {
	params := map[string]string{
		"name_first":   " Jane ",
		"amount":       "100.00",
		"item_name":    "Order #42 & more",
		"email":        "",
		"signature":    "deadbeef",
		"m_payment_id": "ORD-1",
	}

	got := Canonical(params, "s3cret pass")
	want := "amount=100.00&item_name=Order+%2342+%26+more&m_payment_id=ORD-1&name_first=Jane&passphrase=s3cret+pass"
	assert.Equal(t, want, got)
}

func TestCanonical_NoPassphrase(t *testing.T) {
	got := Canonical(map[string]string{"b": "2", "a": "1"}, "")
	assert.Equal(t, "a=1&b=2", got)
}

func TestSign_IsMD5OfCanonical(t *testing.T) {
	params := map[string]string{"amount": "10.00", "merchant_id": "10000100"}
	sum := md5.Sum([]byte("amount=10.00&merchant_id=10000100&passphrase=pp"))
	assert.Equal(t, hex.EncodeToString(sum[:]), Sign(params, "pp"))
}

func TestSign_RoundTrip(t *testing.T) {
	params := map[string]string{
		"m_payment_id":   "ORD-123",
		"pf_payment_id":  "998877",
		"payment_status": "COMPLETE",
		"amount_gross":   "250.50",
		"name_first":     "Zoë",
	}
	sig := Sign(params, "passphrase")
	require.True(t, Verify(params, sig, "passphrase"))

	params["signature"] = sig
	assert.True(t, Verify(params, sig, "passphrase"), "signature field must be excluded")

	tampered := map[string]string{}
	for k, v := range params {
		tampered[k] = v
	}
	tampered["amount_gross"] = "1.00"
	assert.False(t, Verify(tampered, sig, "passphrase"))
	assert.False(t, Verify(params, sig, "other"))
	assert.ErrorIs(t, Check(params, sig, "other"), ErrMismatch)
}

func TestSign_OrderIndependent(t *testing.T) {
	a := map[string]string{}
	a["z"] = "last"
	a["a"] = "first"
	a["m"] = "middle"

	b := map[string]string{}
	b["m"] = "middle"
	b["a"] = "first"
	b["z"] = "last"

	assert.Equal(t, Sign(a, "x"), Sign(b, "x"))
}

func TestVerify_CaseSensitive(t *testing.T) {
	params := map[string]string{"amount": "5.00"}
	sig := Sign(params, "")
	upper := []byte(sig)
	for i, c := range upper {
		if c >= 'a' && c <= 'f' {
			upper[i] = c - 32
		}
	}
	if string(upper) != sig {
		assert.False(t, Verify(params, string(upper), ""))
	}
	assert.False(t, Verify(params, "", ""))
}

func TestEncode(t *testing.T) {
	cases := map[string]string{
		"hello world":  "hello+world",
		"a+b":          "a%2Bb",
		"x@y.com":      "x%40y.com",
		"it's (fine)!": "it's+(fine)!",
		"~*_-.":        "~*_-.",
		"é":            "%C3%A9",
		"/path?q=1":    "%2Fpath%3Fq%3D1",
	}
	for in, want := range cases {
		assert.Equal(t, want, Encode(in), in)
	}
}
