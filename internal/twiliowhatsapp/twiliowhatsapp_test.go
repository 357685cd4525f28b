package twiliowhatsapp

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"strings"
	"testing"
)

func TestMockClient_SendMessage(t *testing.T) {
	ctx := context.Background()
	mock := NewMockClient()

	sid, err := mock.SendMessage(ctx, "12345", "Hello Test")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.HasPrefix(sid, "SM") {
		t.Errorf("expected SM-prefixed sid, got %q", sid)
	}

	sent := mock.Sent()
	if len(sent) != 1 {
		t.Fatalf("expected 1 message, got %d", len(sent))
	}
	if sent[0].Body != "Hello Test" || sent[0].SID != sid {
		t.Errorf("unexpected recorded message: %+v", sent[0])
	}

	second, _ := mock.SendMessage(ctx, "12345", "again")
	if second == sid {
		t.Error("expected distinct sids for distinct messages")
	}
}

func TestAddress(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"+15551234567", "whatsapp:+15551234567"},
		{"whatsapp:+15551234567", "whatsapp:+15551234567"},
		{" +1555 ", "whatsapp:+1555"},
	}
	for _, tt := range tests {
		if got := Address(tt.in); got != tt.want {
			t.Errorf("Address(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
	if got := StripAddress("whatsapp:+1555"); got != "+1555" {
		t.Errorf("StripAddress = %q", got)
	}
}

func TestNewClient_MissingCredentials(t *testing.T) {
	t.Setenv("TWILIO_ACCOUNT_SID", "")
	t.Setenv("TWILIO_AUTH_TOKEN", "")
	t.Setenv("TWILIO_FROM_NUMBER", "")

	if _, err := NewClient(); err == nil {
		t.Error("expected error without credentials")
	}
	if _, err := NewClient(WithAccountSID("AC123"), WithAuthToken("tok")); err == nil {
		t.Error("expected error without from number")
	}
	c, err := NewClient(WithAccountSID("AC123"), WithAuthToken("tok"), WithFromWhats("+1555"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.fromWhats != "whatsapp:+1555" {
		t.Errorf("expected prefixed from number, got %q", c.fromWhats)
	}
}

func TestNewClient_EnvFallback(t *testing.T) {
	t.Setenv("TWILIO_ACCOUNT_SID", "AC999")
	t.Setenv("TWILIO_AUTH_TOKEN", "tok")
	t.Setenv("TWILIO_FROM_NUMBER", "whatsapp:+1999")

	c, err := NewClient()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.fromWhats != "whatsapp:+1999" {
		t.Errorf("unexpected from number %q", c.fromWhats)
	}
}

func sign(token, fullURL string, form url.Values) string {
	keys := make([]string, 0, len(form))
	for k := range form {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	b.WriteString(fullURL)
	for _, k := range keys {
		b.WriteString(k + form.Get(k))
	}
	mac := hmac.New(sha1.New, []byte(token))
	mac.Write([]byte(b.String()))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func TestWebhookValidator(t *testing.T) {
	const token = "secret-token"
	const publicURL = "https://dream.example.com/webhook/twilio"
	form := url.Values{"From": {"whatsapp:+1555"}, "Body": {"hello"}}

	newReq := func(sig string) *http.Request {
		r := httptest.NewRequest(http.MethodPost, "/webhook/twilio", strings.NewReader(form.Encode()))
		r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		r.Header.Set("X-Twilio-Signature", sig)
		if err := r.ParseForm(); err != nil {
			t.Fatalf("ParseForm: %v", err)
		}
		return r
	}

	v := NewWebhookValidator(token)
	if !v.Validate(newReq(sign(token, publicURL, form)), publicURL) {
		t.Error("expected valid signature to pass")
	}
	if v.Validate(newReq(sign("other-token", publicURL, form)), publicURL) {
		t.Error("expected signature from another token to fail")
	}
	if v.Validate(newReq(""), publicURL) {
		t.Error("expected missing signature to fail")
	}
}
