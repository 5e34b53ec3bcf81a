package main

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/tokligence/tokligence-relay/internal/adapter/loopback"
	"github.com/tokligence/tokligence-relay/internal/httpserver"
	"github.com/tokligence/tokligence-relay/internal/testutil"
)

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetIn(strings.NewReader(""))
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestChatKeepsContextInSession(t *testing.T) {
	srv, err := httpserver.New(httpserver.Config{Adapter: loopback.New(0), Model: "loopback"})
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	ts := testutil.NewIPv4Server(t, srv.Router())
	path := filepath.Join(t.TempDir(), "session.json")

	out, err := runCLI(t, "--url", ts.URL, "chat", "--session", path, "hello", "world")
	if err != nil {
		t.Fatalf("first turn: %v", err)
	}
	if out != "[loopback] hello world\n" {
		t.Fatalf("unexpected output %q", out)
	}
	sess, err := loadSession(path)
	if err != nil {
		t.Fatalf("load session: %v", err)
	}
	if len(sess.Context) != 2 || sess.Turns != 1 || sess.URL != ts.URL {
		t.Fatalf("unexpected session %#v", sess)
	}

	if _, err := runCLI(t, "--url", ts.URL, "chat", "--session", path, "again"); err != nil {
		t.Fatalf("second turn: %v", err)
	}
	sess, _ = loadSession(path)
	if len(sess.Context) != 3 || sess.Turns != 2 {
		t.Fatalf("context not carried forward: %#v", sess)
	}

	if _, err := runCLI(t, "--url", ts.URL, "chat", "--session", path, "--new", "fresh"); err != nil {
		t.Fatalf("new conversation: %v", err)
	}
	sess, _ = loadSession(path)
	if len(sess.Context) != 1 || sess.Turns != 1 {
		t.Fatalf("expected a fresh session, got %#v", sess)
	}
}

func TestChatRequiresPrompt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	if _, err := runCLI(t, "chat", "--session", path, "--new=false"); err == nil {
		t.Fatal("expected error without prompt")
	}
}

func TestLoadMissingSession(t *testing.T) {
	sess, err := loadSession(filepath.Join(t.TempDir(), "absent.json"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if sess.Context != nil || sess.Turns != 0 {
		t.Fatalf("expected empty session, got %#v", sess)
	}
}

func TestVersionCommand(t *testing.T) {
	out, err := runCLI(t, "version")
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if !strings.HasPrefix(out, "client version=") {
		t.Fatalf("unexpected output %q", out)
	}
}
