package alert

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/jargoneur/carwatch/pkg/listing"
)

func TestWebhookSendsDealEnvelope(t *testing.T) {
	var gotBody []byte
	var gotSig, gotAgent string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		gotSig = r.Header.Get("X-Signature-256")
		gotAgent = r.Header.Get("User-Agent")
	}))
	defer srv.Close()

	score := 95.5
	l := listing.Listing{URL: "https://example.com/1", Brand: "BMW", Model: "3er", Score: &score}
	wh := NewWebhook(srv.URL, "s3cret")
	if err := wh.Send(context.Background(), NewDealNotification(l)); err != nil {
		t.Fatalf("send: %v", err)
	}

	var payload struct {
		Event string `json:"event"`
		Deal  struct {
			Score float64 `json:"score"`
			URL   string  `json:"url"`
		} `json:"deal"`
	}
	if err := json.Unmarshal(gotBody, &payload); err != nil {
		t.Fatalf("unmarshal body: %v", err)
	}
	if payload.Event != "deal.alert" {
		t.Errorf("event: got %q, want deal.alert", payload.Event)
	}
	if payload.Deal.Score != 95.5 || payload.Deal.URL != "https://example.com/1" {
		t.Errorf("deal envelope: got score %v url %q", payload.Deal.Score, payload.Deal.URL)
	}
	if gotAgent != "carwatch/1.0" {
		t.Errorf("user agent: got %q", gotAgent)
	}

	mac := hmac.New(sha256.New, []byte("s3cret"))
	mac.Write(gotBody)
	want := "sha256=" + hex.EncodeToString(mac.Sum(nil))
	if gotSig != want {
		t.Errorf("signature: got %q, want %q", gotSig, want)
	}
}

func TestWebhookNon2xxStatusIsAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	wh := NewWebhook(srv.URL, "")
	if err := wh.Send(context.Background(), NewDealNotification(listing.Listing{URL: "https://example.com/1"})); err == nil {
		t.Error("expected error for 502 response")
	}
}
