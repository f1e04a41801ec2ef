package executor

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestShellTaskCapturesOutputAndExitCode(t *testing.T) {
	s := &ShellTask{Command: "/bin/echo", Args: []string{"hello"}}
	res := s.Execute(context.Background(), time.Now().Add(5*time.Second))
	if res.Status != StatusSuccess {
		t.Fatalf("expected success, got %v (%s)", res.Status, res.Error)
	}
	if !strings.Contains(res.Stdout, "hello") {
		t.Fatalf("expected stdout to contain hello, got %q", res.Stdout)
	}
	if res.ExitCode == nil || *res.ExitCode != 0 {
		t.Fatalf("expected exit code 0, got %v", res.ExitCode)
	}
}

func TestShellTaskRejectsRelativeCommand(t *testing.T) {
	s := &ShellTask{Command: "echo"}
	res := s.Execute(context.Background(), time.Now().Add(time.Second))
	if res.Status != StatusFailed {
		t.Fatalf("expected failed status for relative command, got %v", res.Status)
	}
}

func TestShellTaskTimesOutOnDeadline(t *testing.T) {
	s := &ShellTask{Command: "/bin/sleep", Args: []string{"2"}}
	res := s.Execute(context.Background(), time.Now().Add(50*time.Millisecond))
	if res.Status != StatusTimeout {
		t.Fatalf("expected timeout, got %v", res.Status)
	}
}

func TestCappedBufferTruncatesPastLimit(t *testing.T) {
	buf := newCappedBuffer(8)
	buf.Write([]byte("0123456789"))
	if !buf.Truncated() {
		t.Fatal("expected truncated=true")
	}
	if len(buf.String()) != 8 {
		t.Fatalf("expected 8 captured bytes, got %d", len(buf.String()))
	}
}

func TestCappedBufferUnderLimitNotTruncated(t *testing.T) {
	buf := newCappedBuffer(1024)
	buf.Write([]byte("short"))
	if buf.Truncated() {
		t.Fatal("expected truncated=false")
	}
	if buf.String() != "short" {
		t.Fatalf("unexpected content: %q", buf.String())
	}
}

func TestHTTPTaskRejectsLoopbackTarget(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	h := &HTTPTask{URL: srv.URL, Method: http.MethodGet}
	res := h.Execute(context.Background(), time.Now().Add(5*time.Second))
	if res.Status != StatusFailed {
		t.Fatalf("expected the SSRF guard to block a loopback target, got %v", res.Status)
	}
	if !strings.Contains(res.Error, "blocked") {
		t.Fatalf("expected error to mention the SSRF guard, got %q", res.Error)
	}
}

func TestBlockedHostRangesCommon(t *testing.T) {
	cases := []struct {
		ip      string
		blocked bool
	}{
		{"127.0.0.1", true},
		{"10.1.2.3", true},
		{"172.16.0.5", true},
		{"192.168.1.1", true},
		{"169.254.169.254", true},
		{"8.8.8.8", false},
		{"1.1.1.1", false},
	}
	for _, c := range cases {
		ip := net.ParseIP(c.ip)
		if got := blockedHost(ip); got != c.blocked {
			t.Errorf("blockedHost(%s) = %v, want %v", c.ip, got, c.blocked)
		}
	}
}
