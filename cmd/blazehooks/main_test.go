package main

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const testMasterKey = "AAECAwQFBgcICQoLDA0ODxAREhMUFRYXGBkaGxwdHh8="

func captureOutputWithExitCode(t *testing.T, run func() int) (int, string, string) {
	t.Helper()

	oldStdout := os.Stdout
	oldStderr := os.Stderr

	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe stdout failed: %v", err)
	}
	stderrR, stderrW, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe stderr failed: %v", err)
	}

	os.Stdout = stdoutW
	os.Stderr = stderrW

	code := run()

	_ = stdoutW.Close()
	_ = stderrW.Close()
	os.Stdout = oldStdout
	os.Stderr = oldStderr

	stdoutBytes, _ := io.ReadAll(stdoutR)
	stderrBytes, _ := io.ReadAll(stderrR)

	_ = stdoutR.Close()
	_ = stderrR.Close()

	return code, string(stdoutBytes), string(stderrBytes)
}

func runCLI(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	return captureOutputWithExitCode(t, func() int { return run(args) })
}

func TestRunVersion(t *testing.T) {
	code, stdout, _ := runCLI(t, "version")
	if code != 0 {
		t.Fatalf("exit code = %d, want 0", code)
	}
	if !strings.Contains(stdout, "blazehooks version "+version) {
		t.Fatalf("stdout = %q", stdout)
	}
}

func TestRunUnknownCommand(t *testing.T) {
	code, _, stderr := runCLI(t, "frobnicate")
	if code != 1 {
		t.Fatalf("exit code = %d, want 1", code)
	}
	if !strings.Contains(stderr, "Unknown command: frobnicate") {
		t.Fatalf("stderr = %q", stderr)
	}
	if !strings.Contains(stderr, "Usage:") {
		t.Fatalf("usage not printed: %q", stderr)
	}
}

func TestRunNoArgs(t *testing.T) {
	code, _, stderr := runCLI(t)
	if code != 1 || !strings.Contains(stderr, "Commands:") {
		t.Fatalf("code=%d stderr=%q", code, stderr)
	}
}

func TestSignVerifyRoundTrip(t *testing.T) {
	t.Setenv("BLAZEHOOKS_SECRET", "")
	body := `{"event":"comment.added","data":{"id":1}}`

	code, stdout, stderr := runCLI(t, "sign", "-secret", "whsec_test", "-timestamp", "1700000000", "-data", body)
	if code != 0 {
		t.Fatalf("sign exit code = %d, stderr=%q", code, stderr)
	}
	header := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(stdout), "X-Signature:"))
	if !strings.HasPrefix(header, "t=1700000000,v1=") {
		t.Fatalf("unexpected header %q", header)
	}

	// Timestamps that old are only accepted with a wide tolerance.
	code, stdout, _ = runCLI(t, "verify", "-secret", "whsec_test", "-header", header, "-tolerance", "876000h", "-data", body)
	if code != 0 || strings.TrimSpace(stdout) != "valid" {
		t.Fatalf("verify: code=%d stdout=%q", code, stdout)
	}

	code, stdout, _ = runCLI(t, "verify", "-secret", "whsec_test", "-header", header, "-tolerance", "876000h", "-data", body+" ")
	if code != 1 || strings.TrimSpace(stdout) != "invalid" {
		t.Fatalf("tampered body: code=%d stdout=%q", code, stdout)
	}

	code, stdout, _ = runCLI(t, "verify", "-secret", "whsec_test", "-header", header, "-data", body)
	if code != 1 || strings.TrimSpace(stdout) != "invalid" {
		t.Fatalf("stale timestamp: code=%d stdout=%q", code, stdout)
	}
}

func TestSignFromFileAndEnvSecret(t *testing.T) {
	t.Setenv("BLAZEHOOKS_SECRET", "whsec_env")
	path := filepath.Join(t.TempDir(), "body.json")
	if err := os.WriteFile(path, []byte(`{"a":1}`), 0o600); err != nil {
		t.Fatal(err)
	}

	code, stdout, stderr := runCLI(t, "sign", "-file", path)
	if code != 0 {
		t.Fatalf("code=%d stderr=%q", code, stderr)
	}
	header := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(stdout), "X-Signature:"))

	code, stdout, _ = runCLI(t, "verify", "-header", header, "-file", path)
	if code != 0 || strings.TrimSpace(stdout) != "valid" {
		t.Fatalf("verify: code=%d stdout=%q", code, stdout)
	}
}

func TestSignRequiresSecret(t *testing.T) {
	t.Setenv("BLAZEHOOKS_SECRET", "")
	code, _, stderr := runCLI(t, "sign", "-data", "{}")
	if code != 1 || !strings.Contains(stderr, "-secret") {
		t.Fatalf("code=%d stderr=%q", code, stderr)
	}
}

func TestSignRejectsDataAndFile(t *testing.T) {
	code, _, stderr := runCLI(t, "sign", "-secret", "s", "-data", "{}", "-file", "x.json")
	if code != 1 || !strings.Contains(stderr, "either -data or -file") {
		t.Fatalf("code=%d stderr=%q", code, stderr)
	}
}

func TestKeygen(t *testing.T) {
	code, first, _ := runCLI(t, "keygen")
	if code != 0 {
		t.Fatalf("exit code = %d", code)
	}
	_, second, _ := runCLI(t, "keygen")
	first, second = strings.TrimSpace(first), strings.TrimSpace(second)
	if first == "" || first == second {
		t.Fatalf("keys not unique: %q %q", first, second)
	}

	dir := t.TempDir()
	writeConfig(t, dir, "secrets:\n  master_key: "+first+"\nstate:\n  path: "+filepath.Join(dir, "state.db")+"\n")
	code, stdout, stderr := runCLI(t, "config", "check", "-config", dir)
	if code != 0 {
		t.Fatalf("generated key rejected: stdout=%q stderr=%q", stdout, stderr)
	}
}

func writeConfig(t *testing.T, dir, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
}

func TestConfigCheck(t *testing.T) {
	tests := []struct {
		name       string
		yaml       string
		wantCode   int
		wantStdout string
		wantStderr string
	}{
		{
			name:       "valid",
			yaml:       "secrets:\n  master_key: " + testMasterKey + "\n",
			wantCode:   0,
			wantStdout: "Configuration OK",
		},
		{
			name:       "missing master key",
			yaml:       "service:\n  log_level: info\n",
			wantCode:   1,
			wantStderr: "secrets.master_key is required",
		},
		{
			name:       "bad log level",
			yaml:       "service:\n  log_level: loud\nsecrets:\n  master_key: " + testMasterKey + "\n",
			wantCode:   1,
			wantStderr: "service.log_level",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			writeConfig(t, dir, tt.yaml)

			code, stdout, stderr := runCLI(t, "config", "check", "-config", dir)
			if code != tt.wantCode {
				t.Fatalf("code=%d want %d (stdout=%q stderr=%q)", code, tt.wantCode, stdout, stderr)
			}
			if tt.wantStdout != "" && !strings.Contains(stdout, tt.wantStdout) {
				t.Fatalf("stdout = %q, want %q", stdout, tt.wantStdout)
			}
			if tt.wantStderr != "" && !strings.Contains(stderr, tt.wantStderr) {
				t.Fatalf("stderr = %q, want %q", stderr, tt.wantStderr)
			}
		})
	}
}

func TestConfigRequiresCheckSubcommand(t *testing.T) {
	code, _, stderr := runCLI(t, "config")
	if code != 1 || !strings.Contains(stderr, "config check") {
		t.Fatalf("code=%d stderr=%q", code, stderr)
	}
}
