package delivery

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"wellpipe/config"
)

func newDeliverer(url string) *HTTPDeliverer {
	return NewHTTPDeliverer(&config.Config{
		RegulatorURL:    url,
		RegulatorAPIKey: "test-key",
		DeliveryTimeout: 5 * time.Second,
	})
}

func TestDeliverPostsArtifact(t *testing.T) {
	var gotBody []byte
	var gotFilename, gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		gotFilename = r.Header.Get("X-Report-Filename")
		gotAuth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"receipt":"anh-123"}`))
	}))
	defer srv.Close()

	receipt, err := newDeliverer(srv.URL).Deliver(context.Background(), &Artifact{
		Filename: "ANH_REPORT_20260830.json",
		Body:     []byte(`{"report_date":"2026-08-30"}`),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if string(gotBody) != `{"report_date":"2026-08-30"}` {
		t.Errorf("delivered body = %s", gotBody)
	}
	if gotFilename != "ANH_REPORT_20260830.json" {
		t.Errorf("filename header = %s", gotFilename)
	}
	if gotAuth != "Bearer test-key" {
		t.Errorf("authorization header = %s", gotAuth)
	}
	if receipt.StatusCode != http.StatusOK || receipt.Payload != `{"receipt":"anh-123"}` {
		t.Errorf("receipt = %+v", receipt)
	}
}

func TestDeliverRejectionIsAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"schema mismatch"}`))
	}))
	defer srv.Close()

	receipt, err := newDeliverer(srv.URL).Deliver(context.Background(), &Artifact{
		Filename: "ANH_REPORT_20260830.json",
		Body:     []byte(`{}`),
	})
	if err == nil {
		t.Fatal("expected error for non-2xx status")
	}
	if receipt == nil || receipt.StatusCode != http.StatusBadRequest {
		t.Fatalf("receipt = %+v, want status 400 preserved", receipt)
	}
	if receipt.Payload != `{"error":"schema mismatch"}` {
		t.Errorf("payload = %q, want regulator error body kept", receipt.Payload)
	}
}

func TestDeliverWithoutURLFails(t *testing.T) {
	d := NewHTTPDeliverer(&config.Config{DeliveryTimeout: time.Second})
	if _, err := d.Deliver(context.Background(), &Artifact{Filename: "x.json"}); err == nil {
		t.Fatal("expected configuration error")
	}
}
