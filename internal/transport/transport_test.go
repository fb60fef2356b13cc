package transport

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestPostSyncSendsExpectedHeaders(t *testing.T) {
	var gotMethod, gotContentType, gotUserAgent, gotPolicyKey string
	var gotBody []byte

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotContentType = r.Header.Get("Content-Type")
		gotUserAgent = r.Header.Get("User-Agent")
		gotPolicyKey = r.Header.Get("X-MS-PolicyKey")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
		w.Write([]byte{0x03, 0x01, 0x6A, 0x00})
	}))
	defer srv.Close()

	tr := New(Config{
		Endpoint:   srv.URL,
		DeviceID:   "dev1",
		DeviceType: "easync",
		PolicyKey:  "42",
	}, nil)

	body, err := tr.PostSync(context.Background(), "Email", bytes.NewReader([]byte("payload")))
	if err != nil {
		t.Fatalf("PostSync() error = %v", err)
	}
	defer body.Close()

	resp, err := io.ReadAll(body)
	if err != nil {
		t.Fatalf("read response: %v", err)
	}

	if gotMethod != http.MethodPost {
		t.Errorf("method = %q, want POST", gotMethod)
	}
	if gotContentType != "application/vnd.ms-sync.wbxml" {
		t.Errorf("content-type = %q", gotContentType)
	}
	if gotUserAgent == "" {
		t.Error("expected a User-Agent header to be set")
	}
	if gotPolicyKey != "42" {
		t.Errorf("policy key = %q, want 42", gotPolicyKey)
	}
	if string(gotBody) != "payload" {
		t.Errorf("request body = %q, want %q", gotBody, "payload")
	}
	if !bytes.Equal(resp, []byte{0x03, 0x01, 0x6A, 0x00}) {
		t.Errorf("response body = % X", resp)
	}
}

func TestPostSyncNonOKStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte("policy required"))
	}))
	defer srv.Close()

	tr := New(Config{Endpoint: srv.URL, DeviceID: "dev1", DeviceType: "easync"}, nil)

	_, err := tr.PostSync(context.Background(), "Email", bytes.NewReader(nil))
	if err == nil {
		t.Fatal("expected error for non-200 status")
	}
}
