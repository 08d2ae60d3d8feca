package notify

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestPipelineDegradedSendsAlert(t *testing.T) {
	var gotTitle, gotPriority, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotTitle = r.Header.Get("Title")
		gotPriority = r.Header.Get("Priority")
		buf := make([]byte, 1024)
		n, _ := r.Body.Read(buf)
		gotBody = string(buf[:n])
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := NewClient(&Config{
		Enabled:  true,
		Server:   srv.URL,
		Topic:    "feedwire-ops",
		Priority: "default",
		Tags:     "satellite",
	}, zap.NewNop())

	if err := client.PipelineDegraded(context.Background(), "push", "poll"); err != nil {
		t.Fatal(err)
	}

	if gotTitle != "Realtime pipeline degraded" {
		t.Errorf("unexpected title %q", gotTitle)
	}
	if gotPriority != "high" {
		t.Errorf("degradation must be high priority, got %q", gotPriority)
	}
	if !strings.Contains(gotBody, "push -> poll") {
		t.Errorf("body missing mode transition: %q", gotBody)
	}
}

func TestDisabledClientSendsNothing(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer srv.Close()

	client := NewClient(&Config{Enabled: false, Server: srv.URL, Topic: "x"}, zap.NewNop())
	if err := client.PipelineDegraded(context.Background(), "push", "poll"); err != nil {
		t.Fatal(err)
	}
	if called {
		t.Error("disabled notifier must not call the server")
	}
}

func TestConfigValidate(t *testing.T) {
	cases := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"disabled needs nothing", Config{Enabled: false}, false},
		{"enabled without topic", Config{Enabled: true, Priority: "default"}, true},
		{"bad priority", Config{Enabled: true, Topic: "t", Priority: "loud"}, true},
		{"valid", Config{Enabled: true, Topic: "t", Priority: "high"}, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.cfg.Validate()
			if (err != nil) != tc.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tc.wantErr)
			}
		})
	}
}

func TestFormatStoppedMessage(t *testing.T) {
	msg := FormatStoppedMessage("store unreachable", time.Now())
	if !strings.Contains(msg, "store unreachable") {
		t.Errorf("message missing reason: %q", msg)
	}
}
