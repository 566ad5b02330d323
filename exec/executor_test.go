package exec

import (
	"context"
	"fmt"
	"strings"
	"testing"
)

func TestRealExecutor_Run(t *testing.T) {
	e := NewRealExecutor()
	stdout, stderr, err := e.Run(context.Background(), t.TempDir(), "echo", "hello")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := strings.TrimSpace(string(stdout)); got != "hello" {
		t.Errorf("stdout = %q, want %q", got, "hello")
	}
	if len(stderr) != 0 {
		t.Errorf("stderr = %q, want empty", stderr)
	}
}

func TestRealExecutor_RunError(t *testing.T) {
	e := NewRealExecutor()
	_, _, err := e.Run(context.Background(), t.TempDir(), "false")
	if err == nil {
		t.Error("expected error for failing command")
	}
}

func TestMockExecutor_ExactMatch(t *testing.T) {
	mock := NewMockExecutor(nil)
	mock.AddExactMatch("git", []string{"rev-parse", "--show-toplevel"}, MockResponse{
		Stdout: []byte("/repo\n"),
	})

	out, err := mock.Output(context.Background(), "/somewhere", "git", "rev-parse", "--show-toplevel")
	if err != nil {
		t.Fatalf("Output: %v", err)
	}
	if string(out) != "/repo\n" {
		t.Errorf("Output = %q, want %q", out, "/repo\n")
	}
}

func TestMockExecutor_PrefixMatch(t *testing.T) {
	mock := NewMockExecutor(nil)
	mock.AddPrefixMatch("git", []string{"worktree", "add"}, MockResponse{
		Err:    fmt.Errorf("exit status 128"),
		Stderr: []byte("fatal: a branch named 'main' already exists"),
	})

	_, stderr, err := mock.Run(context.Background(), "/repo", "git", "worktree", "add", "-b", "main", "/dir", "HEAD")
	if err == nil {
		t.Fatal("expected error from prefix rule")
	}
	if !strings.Contains(string(stderr), "already exists") {
		t.Errorf("stderr = %q, want branch-exists message", stderr)
	}
}

func TestMockExecutor_RuleOrder(t *testing.T) {
	mock := NewMockExecutor(nil)
	mock.AddPrefixMatch("git", []string{"worktree"}, MockResponse{Stdout: []byte("first")})
	mock.AddPrefixMatch("git", []string{"worktree", "list"}, MockResponse{Stdout: []byte("second")})

	out, _ := mock.Output(context.Background(), "", "git", "worktree", "list")
	if string(out) != "first" {
		t.Errorf("rules should match in registration order, got %q", out)
	}
}

func TestMockExecutor_RecordsCalls(t *testing.T) {
	mock := NewMockExecutor(nil)

	mock.Run(context.Background(), "/a", "git", "status")
	mock.Output(context.Background(), "/b", "git", "worktree", "prune")

	calls := mock.GetCalls()
	if len(calls) != 2 {
		t.Fatalf("GetCalls = %d calls, want 2", len(calls))
	}
	if calls[0].Dir != "/a" || calls[0].Args[0] != "status" {
		t.Errorf("first call = %+v", calls[0])
	}
	if calls[1].Dir != "/b" || calls[1].Args[1] != "prune" {
		t.Errorf("second call = %+v", calls[1])
	}

	mock.ClearCalls()
	if len(mock.GetCalls()) != 0 {
		t.Error("ClearCalls should empty the recorded calls")
	}
}

func TestMockExecutor_UnmatchedDefaultsToSuccess(t *testing.T) {
	mock := NewMockExecutor(nil)
	stdout, stderr, err := mock.Run(context.Background(), "", "git", "anything")
	if err != nil || len(stdout) != 0 || len(stderr) != 0 {
		t.Errorf("unmatched call should succeed with empty output, got %q %q %v", stdout, stderr, err)
	}
}

func TestMockExecutor_CombinedOutput(t *testing.T) {
	mock := NewMockExecutor(nil)
	mock.AddExactMatch("git", []string{"worktree", "remove", "/wt"}, MockResponse{
		Stdout: []byte("out"),
		Stderr: []byte("err"),
	})

	combined, err := mock.CombinedOutput(context.Background(), "/repo", "git", "worktree", "remove", "/wt")
	if err != nil {
		t.Fatalf("CombinedOutput: %v", err)
	}
	if string(combined) != "outerr" {
		t.Errorf("CombinedOutput = %q, want %q", combined, "outerr")
	}
}

func TestMockExecutor_CombinedOutputDoesNotAliasRule(t *testing.T) {
	mock := NewMockExecutor(nil)
	stdout := make([]byte, 3, 8) // spare capacity to tempt in-place append
	copy(stdout, "out")
	mock.AddExactMatch("git", []string{"status"}, MockResponse{
		Stdout: stdout,
		Stderr: []byte("err"),
	})

	first, err := mock.CombinedOutput(context.Background(), "", "git", "status")
	if err != nil {
		t.Fatalf("CombinedOutput: %v", err)
	}
	first[0] = 'X'

	second, err := mock.CombinedOutput(context.Background(), "", "git", "status")
	if err != nil {
		t.Fatalf("CombinedOutput: %v", err)
	}
	if string(second) != "outerr" {
		t.Errorf("second CombinedOutput = %q, want %q; rule response was mutated", second, "outerr")
	}
}
