package sms

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"ams-control-plane/backend/internal/notify"
)

func TestNewSMSLocalClient_Defaults(t *testing.T) {
	client := NewSMSLocalClient("api-key", "", "")
	if client.BaseURL != defaultBaseURL {
		t.Errorf("BaseURL = %q, want default", client.BaseURL)
	}
	if client.HTTPClient == nil || client.HTTPClient.Timeout != defaultTimeout {
		t.Fatalf("HTTPClient = %+v, want timeout %v", client.HTTPClient, defaultTimeout)
	}
}

func TestSend_OTPRoute(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %q, want POST", r.Method)
		}
		if r.Header.Get("Authorization") != "test-api-key" {
			t.Errorf("Authorization = %q, want test-api-key", r.Header.Get("Authorization"))
		}
		var body map[string]interface{}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("Decode body: %v", err)
		}
		if body["route"] != "otp" {
			t.Errorf("route = %v, want otp", body["route"])
		}
		if body["numbers"] != "15550100" {
			t.Errorf("numbers = %v, want 15550100", body["numbers"])
		}
		if body["variables_values"] != "123456" {
			t.Errorf("variables_values = %v, want 123456", body["variables_values"])
		}
		if body["sender_id"] != "AMS" {
			t.Errorf("sender_id = %v, want AMS", body["sender_id"])
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := NewSMSLocalClient("test-api-key", server.URL, "AMS")
	err := client.Send(context.Background(), notify.Message{
		Channel: notify.ChannelPhone, Target: "+1 555-0100", Code: "123456", Kind: notify.KindVerifyOTP,
	})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
}

func TestSend_TokenRoute(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]interface{}
		_ = json.NewDecoder(r.Body).Decode(&body)
		msg, _ := body["message"].(string)
		if body["route"] != "q" || !strings.Contains(msg, "deadbeef") {
			t.Errorf("body = %v, want transactional route carrying the token", body)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := NewSMSLocalClient("k", server.URL, "")
	if err := client.Send(context.Background(), notify.Message{Target: "+15550100", Code: "deadbeef", Kind: notify.KindVerifyToken}); err != nil {
		t.Fatalf("Send: %v", err)
	}
}

func TestSend_Errors(t *testing.T) {
	t.Run("missing api key", func(t *testing.T) {
		if err := NewSMSLocalClient("", "", "").Send(context.Background(), notify.Message{}); err == nil {
			t.Fatal("Send without API key should fail")
		}
	})

	t.Run("non-200", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"status":"error"}`))
		}))
		defer server.Close()
		err := NewSMSLocalClient("k", server.URL, "").Send(context.Background(), notify.Message{Target: "1", Code: "1"})
		if err == nil || !strings.Contains(err.Error(), "status=400") {
			t.Fatalf("err = %v, want status=400", err)
		}
	})

	t.Run("context deadline", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			time.Sleep(200 * time.Millisecond)
		}))
		defer server.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		if err := NewSMSLocalClient("k", server.URL, "").Send(ctx, notify.Message{Target: "1", Code: "1"}); err == nil {
			t.Fatal("Send past deadline should fail")
		}
	})
}
