package providers

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestCLIProvider_Run(t *testing.T) {
	p := NewCLI("echo", "cat", nil, 10*time.Second)
	resp, err := p.Run(context.Background(), Request{Prompt: "hello", Goal: "world"})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(resp.Text, "hello") || !strings.Contains(resp.Text, "Goal: world") {
		t.Errorf("text = %q", resp.Text)
	}
	if resp.ExitCode != 0 {
		t.Errorf("exit = %d", resp.ExitCode)
	}
}

func TestCLIProvider_NonZeroExit(t *testing.T) {
	p := NewCLI("fail", "false", nil, 10*time.Second)
	_, err := p.Run(context.Background(), Request{Prompt: "x"})
	if err == nil {
		t.Fatal("expected error for exit 1")
	}
}

func TestCLIProvider_MissingBinary(t *testing.T) {
	p := NewCLI("gone", "definitely-not-a-real-binary-xyz", nil, 10*time.Second)
	if _, err := p.Run(context.Background(), Request{Prompt: "x"}); err == nil {
		t.Fatal("expected error for missing binary")
	}
}

func TestCLIProvider_CancellationKillsChild(t *testing.T) {
	p := NewCLI("slow", "sleep", []string{"30"}, time.Minute)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		_, err := p.Run(ctx, Request{Prompt: "x"})
		done <- err
	}()
	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err == nil {
			t.Fatal("cancelled run returned nil error")
		}
		if !strings.Contains(err.Error(), "context canceled") {
			t.Errorf("err = %v, want cancellation", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("child not reaped after cancel")
	}
}

func TestCLIProvider_ModelPlaceholder(t *testing.T) {
	p := NewCLI("echo", "echo", []string{"{model}"}, 10*time.Second)

	resp, err := p.Run(context.Background(), Request{Prompt: "", Model: "m-1"})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Text != "m-1" {
		t.Errorf("text = %q, want substituted model", resp.Text)
	}

	resp, err = p.Run(context.Background(), Request{Prompt: ""})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Text != "" {
		t.Errorf("text = %q, want placeholder dropped when no model", resp.Text)
	}
}

func TestNewSet(t *testing.T) {
	set := NewSet(map[string][]string{
		"planner": {"planner-cli", "--json"},
		"coder":   {"coder-cli"},
		"empty":   {},
	})
	if set.Get("planner") == nil || set.Get("coder") == nil {
		t.Error("configured providers missing")
	}
	if set.Get("empty") != nil {
		t.Error("empty command line produced a provider")
	}
	if set.Get("researcher") != nil {
		t.Error("unconfigured provider present")
	}
}
