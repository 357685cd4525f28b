package messaging

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/BTreeMap/DreamPipe/internal/models"
	"github.com/BTreeMap/DreamPipe/internal/twiliowhatsapp"
)

func TestTwilioService_ImplementsService(t *testing.T) {
	var _ Service = (*TwilioService)(nil)
}

func postForm(svc *TwilioService, form url.Values) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, TwilioWebhookPath, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rr := httptest.NewRecorder()
	svc.WebhookHandler(rr, req)
	return rr
}

func TestTwilioService_WebhookEmitsEvent(t *testing.T) {
	svc := NewTwilioService(twiliowhatsapp.NewMockClient())

	rr := postForm(svc, url.Values{"From": {"whatsapp:+15551234567"}, "Body": {"/start"}, "MessageSid": {"SM123"}})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}

	select {
	case ev := <-svc.Inbound():
		if ev.Kind != models.EventStart {
			t.Errorf("expected start event, got %s", ev.Kind)
		}
		if ev.UserID != "15551234567" || ev.ChatID != "+15551234567" || !ev.Private {
			t.Errorf("unexpected addressing: %+v", ev)
		}
		if ev.MessageID != "" {
			t.Errorf("inbound Twilio messages cannot be deleted, got id %q", ev.MessageID)
		}
		if ev.DeliveryID != "twilio:SM123" {
			t.Errorf("expected delivery id from MessageSid, got %q", ev.DeliveryID)
		}
	case <-time.After(time.Second):
		t.Fatal("expected an inbound event")
	}
}

func TestTwilioService_WebhookRejectsMissingFields(t *testing.T) {
	svc := NewTwilioService(twiliowhatsapp.NewMockClient())
	rr := postForm(svc, url.Values{"From": {"whatsapp:+1555"}})
	if rr.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rr.Code)
	}
}

func TestTwilioService_WebhookRejectsBadSignature(t *testing.T) {
	svc := NewTwilioService(twiliowhatsapp.NewMockClient(),
		WithSignatureValidation("token", "https://dream.example.com"+TwilioWebhookPath))
	rr := postForm(svc, url.Values{"From": {"whatsapp:+1555"}, "Body": {"hi"}})
	if rr.Code != http.StatusForbidden {
		t.Errorf("expected 403, got %d", rr.Code)
	}
}

func TestTwilioService_SendEditDelete(t *testing.T) {
	mock := twiliowhatsapp.NewMockClient()
	svc := NewTwilioService(mock)
	ctx := context.Background()

	id, err := svc.Send(ctx, "+1555", menuMessage())
	if err != nil {
		t.Fatalf("Send returned error: %v", err)
	}
	sent := mock.Sent()
	if len(sent) != 1 || sent[0].SID != id || !strings.Contains(sent[0].Body, "3. Jung") {
		t.Fatalf("unexpected sent messages: %+v", sent)
	}
	if err := svc.Edit(ctx, "+1555", id, models.Message{}); !errors.Is(err, ErrUnsupported) {
		t.Errorf("expected ErrUnsupported from Edit, got %v", err)
	}
	if err := svc.Delete(ctx, "+1555", id); !errors.Is(err, ErrUnsupported) {
		t.Errorf("expected ErrUnsupported from Delete, got %v", err)
	}

	_ = svc.Stop()
	if _, err := svc.Send(ctx, "+1555", models.Message{Text: "x"}); !errors.Is(err, ErrServiceStopped) {
		t.Errorf("expected ErrServiceStopped, got %v", err)
	}
}
