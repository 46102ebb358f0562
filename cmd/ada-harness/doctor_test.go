package main

import (
	"bytes"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
)

// captureStdout redirects os.Stdout for the duration of fn and returns
// everything written, so runDoctor's plain fmt.Printf output is
// observable without threading a writer through it.
func captureStdout(t *testing.T, fn func()) string {
	t.Helper()
	old := os.Stdout
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("pipe: %v", err)
	}
	os.Stdout = w
	defer func() { os.Stdout = old }()

	fn()

	w.Close()
	var buf bytes.Buffer
	io.Copy(&buf, r)
	return buf.String()
}

func initCleanGitRepo(t *testing.T, root string) {
	t.Helper()
	run := func(args ...string) {
		cmd := exec.Command("git", args...)
		cmd.Dir = root
		out, err := cmd.CombinedOutput()
		if err != nil {
			t.Fatalf("git %v: %v: %s", args, err, out)
		}
	}
	run("init")
	run("config", "user.email", "test@example.com")
	run("config", "user.name", "Test")
	if err := os.WriteFile(filepath.Join(root, "README.md"), []byte("hello\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	run("add", "-A")
	run("commit", "-m", "initial")
}

func TestRunDoctorOnFreshWorkspaceAllPass(t *testing.T) {
	requireGit(t)
	root := t.TempDir()
	initCleanGitRepo(t, root)
	t.Chdir(root)
	ws, err := openWorkspace(root)
	if err != nil {
		t.Fatalf("openWorkspace: %v", err)
	}
	if _, err := ws.backlog.Init("proj", root); err != nil {
		t.Fatalf("backlog.Init: %v", err)
	}

	var code int
	out := captureStdout(t, func() { code = runDoctor() })

	if code != 0 {
		t.Fatalf("expected exit 0 on a fresh, clean workspace, got %d:\n%s", code, out)
	}
	if !strings.Contains(out, "Workspace and config") {
		t.Fatalf("expected workspace section in output, got:\n%s", out)
	}
	if !strings.Contains(out, "all checks passed") {
		t.Fatalf("expected a final all-clear line, got:\n%s", out)
	}
}

func TestRunDoctorWarnsOnDirtyTree(t *testing.T) {
	requireGit(t)
	root := t.TempDir()
	initCleanGitRepo(t, root)
	t.Chdir(root)
	ws, err := openWorkspace(root)
	if err != nil {
		t.Fatalf("openWorkspace: %v", err)
	}
	if _, err := ws.backlog.Init("proj", root); err != nil {
		t.Fatalf("backlog.Init: %v", err)
	}
	if err := os.WriteFile(filepath.Join(root, "dirty.txt"), []byte("uncommitted"), 0o644); err != nil {
		t.Fatal(err)
	}

	var code int
	out := captureStdout(t, func() { code = runDoctor() })

	if code != 0 {
		t.Fatalf("a dirty tree is a warning, not a failure; expected exit 0, got %d:\n%s", code, out)
	}
	if !strings.Contains(out, "working tree is dirty") {
		t.Fatalf("expected a dirty-tree warning, got:\n%s", out)
	}
}
