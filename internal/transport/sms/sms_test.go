package sms

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	kit "courier/internal/transport"
	logx "courier/pkg/logx"
)

func newTestAdapter(t *testing.T, handler http.HandlerFunc) *Adapter {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	a, err := New(Config{URL: srv.URL, APIKey: "k", Sender: "COURIER", RatePerSec: 100}, logx.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return a
}

func TestSendSuccess(t *testing.T) {
	t.Parallel()
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		if key := r.Header.Get("X-Api-Key"); key != "k" {
			t.Errorf("X-Api-Key = %q", key)
		}
		if err := r.ParseForm(); err != nil {
			t.Errorf("ParseForm: %v", err)
		}
		if to := r.PostForm.Get("to"); to != "+628111000" {
			t.Errorf("to = %q", to)
		}
		if from := r.PostForm.Get("from"); from != "COURIER" {
			t.Errorf("from = %q", from)
		}
		if ref := r.PostForm.Get("client_ref"); ref != "corr-9" {
			t.Errorf("client_ref = %q", ref)
		}
		_ = json.NewEncoder(w).Encode(gatewayReply{Status: "queued", MessageID: "sms-7"})
	})

	res, err := a.Send(context.Background(), "+62 8111 000", kit.Message{Body: "otp", CorrelationID: "corr-9"})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if res.ProviderID != "sms-7" {
		t.Fatalf("ProviderID = %q", res.ProviderID)
	}
}

func TestSendBadNumberIsPermanentWithoutCall(t *testing.T) {
	t.Parallel()
	called := false
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) { called = true })

	for _, addr := range []string{"", "not-a-number", "+1", "123456789012345678"} {
		_, err := a.Send(context.Background(), addr, kit.Message{Body: "x"})
		if !kit.IsPermanent(err) {
			t.Fatalf("Send(%q) err = %v, want permanent", addr, err)
		}
	}
	if called {
		t.Fatal("no HTTP call expected for invalid numbers")
	}
}

func TestSendInBandRejection(t *testing.T) {
	t.Parallel()
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(gatewayReply{Status: "blacklisted", Error: "recipient opted out"})
	})
	_, err := a.Send(context.Background(), "+628111000", kit.Message{Body: "x"})
	if !kit.IsPermanent(err) {
		t.Fatalf("err = %v, want permanent", err)
	}
}

func TestSendGatewayStatuses(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		code int
		want kit.Outcome
	}{
		{name: "invalid destination", code: 422, want: kit.OutcomeRejected},
		{name: "throttled", code: 429, want: kit.OutcomeTransient},
		{name: "gateway down", code: 503, want: kit.OutcomeTransient},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.code)
			})
			_, err := a.Send(context.Background(), "+628111000", kit.Message{Body: "x"})
			if err == nil {
				t.Fatal("expected error")
			}
			if got := kit.Classify(err); got != tt.want {
				t.Fatalf("Classify = %s, want %s", got, tt.want)
			}
		})
	}
}
