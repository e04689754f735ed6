package notification

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	json "github.com/goccy/go-json"
)

func TestAlert_FieldString(t *testing.T) {
	a := Alert{Fields: map[string]string{"run_id": "r1", "broker": "angel"}}
	if got := a.FieldString(); got != "broker=angel run_id=r1" {
		t.Errorf("FieldString = %q", got)
	}
	if (Alert{}).FieldString() != "" {
		t.Error("empty fields should render empty")
	}
}

func TestWebhookNotifier_Send(t *testing.T) {
	var got webhookPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s", r.Method)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(srv.URL, "symbold")
	err := n.Send(context.Background(), Alert{
		Level:   AlertCritical,
		Title:   "refresh aborted",
		Message: "40 of 100 rows rejected",
		Fields:  map[string]string{"broker": "angel"},
	})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if got.Service != "symbold" || got.Level != "CRITICAL" || got.Fields["broker"] != "angel" || got.TS == "" {
		t.Errorf("payload = %+v", got)
	}
}

func TestWebhookNotifier_Non2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	if err := NewWebhookNotifier(srv.URL, "x").Send(context.Background(), Alert{Title: "t"}); err == nil {
		t.Fatal("expected error on 502")
	}
}

func TestTelegramNotifier_Send(t *testing.T) {
	var path, text string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		b, _ := io.ReadAll(r.Body)
		var body map[string]string
		_ = json.Unmarshal(b, &body)
		text = body["text"]
	}))
	defer srv.Close()

	n := NewTelegramNotifier("TOKEN", "42")
	n.baseURL = srv.URL
	err := n.Send(context.Background(), Alert{Level: AlertWarning, Title: "source down", Message: "angel-scrip-master failed"})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if path != "/botTOKEN/sendMessage" {
		t.Errorf("path = %s", path)
	}
	if !strings.Contains(text, `angel\-scrip\-master`) {
		t.Errorf("text not escaped: %q", text)
	}
}

type failing struct{ err error }

func (f failing) Send(context.Context, Alert) error { return f.err }

func TestMulti_JoinsErrors(t *testing.T) {
	e1 := errors.New("one")
	m := Multi{NewLogNotifier(), failing{e1}, failing{errors.New("two")}}
	err := m.Send(context.Background(), Alert{Title: "x"})
	if !errors.Is(err, e1) {
		t.Fatalf("err = %v", err)
	}
	if err := (Multi{NewLogNotifier()}).Send(context.Background(), Alert{}); err != nil {
		t.Errorf("unexpected error %v", err)
	}
}

func TestEscapeMarkdown(t *testing.T) {
	if got := escapeMarkdown("a.b_c"); got != `a\.b\_c` {
		t.Errorf("escapeMarkdown = %q", got)
	}
}
