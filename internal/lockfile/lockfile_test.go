package lockfile

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLockAcquisition(t *testing.T) {
	dir := t.TempDir()

	lock, err := AcquireLock(dir, "telegram,whatsapp")
	if err != nil {
		t.Fatalf("Failed to acquire lock: %v", err)
	}
	defer lock.Release()

	content, err := os.ReadFile(filepath.Join(dir, LockFileName))
	if err != nil {
		t.Fatalf("Failed to read lock file: %v", err)
	}
	text := string(content)
	if !strings.HasPrefix(text, fmt.Sprintf("pid=%d\n", os.Getpid())) {
		t.Errorf("lock file should start with our pid, got %q", text)
	}
	if !strings.Contains(text, "transports=telegram,whatsapp\n") {
		t.Errorf("lock file should record transports, got %q", text)
	}
	if !strings.Contains(text, "started=") {
		t.Errorf("lock file should record start time, got %q", text)
	}
}

func TestLockConflict(t *testing.T) {
	dir := t.TempDir()

	lock1, err := AcquireLock(dir, "telegram")
	if err != nil {
		t.Fatalf("Failed to acquire first lock: %v", err)
	}
	defer lock1.Release()

	lock2, err := AcquireLock(dir, "telegram")
	if err == nil {
		lock2.Release()
		t.Fatal("Second lock acquisition should have failed")
	}

	var lockErr *LockError
	if !errors.As(err, &lockErr) {
		t.Fatalf("Expected LockError, got: %T", err)
	}
	if lockErr.Holder.PID != os.Getpid() {
		t.Errorf("expected holder pid %d, got %d", os.Getpid(), lockErr.Holder.PID)
	}
	if lockErr.Holder.Transports != "telegram" {
		t.Errorf("expected holder transports telegram, got %q", lockErr.Holder.Transports)
	}

	msg := err.Error()
	for _, want := range []string{"Another Secretario instance", dir, "(running)"} {
		if !strings.Contains(msg, want) {
			t.Errorf("error message should contain %q: %s", want, msg)
		}
	}

	// The failed attempt must not clobber the holder's info.
	content, _ := os.ReadFile(filepath.Join(dir, LockFileName))
	if !strings.Contains(string(content), fmt.Sprintf("pid=%d", os.Getpid())) {
		t.Errorf("holder info was overwritten: %q", content)
	}
}

func TestLockRelease(t *testing.T) {
	dir := t.TempDir()

	lock, err := AcquireLock(dir, "")
	if err != nil {
		t.Fatalf("Failed to acquire lock: %v", err)
	}
	lockPath := filepath.Join(dir, LockFileName)

	if err := lock.Release(); err != nil {
		t.Errorf("Failed to release lock: %v", err)
	}
	if _, err := os.Stat(lockPath); !os.IsNotExist(err) {
		t.Errorf("Lock file should be removed after release: %s", lockPath)
	}
	if err := lock.Release(); err != nil {
		t.Errorf("Multiple releases should be safe: %v", err)
	}

	lock2, err := AcquireLock(dir, "")
	if err != nil {
		t.Fatalf("Failed to reacquire lock after release: %v", err)
	}
	lock2.Release()
}

func TestParseHolder(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    Holder
	}{
		{"full", "pid=12345\ntransports=telegram\nstarted=2026-01-02T03:04:05Z\n", Holder{12345, "telegram", "2026-01-02T03:04:05Z"}},
		{"pid only", "pid=67890\n", Holder{PID: 67890}},
		{"invalid pid", "pid=abc\n", Holder{}},
		{"negative pid", "pid=-4\n", Holder{}},
		{"no equals", "pid12345", Holder{}},
		{"empty", "", Holder{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parseHolder(bufio.NewScanner(strings.NewReader(tt.content)))
			if got != tt.want {
				t.Errorf("parseHolder(%q) = %+v, want %+v", tt.content, got, tt.want)
			}
		})
	}
}

func TestHolderString(t *testing.T) {
	if s := (Holder{}).String(); s != "" {
		t.Errorf("zero holder should render empty, got %q", s)
	}
	s := Holder{PID: os.Getpid(), Transports: "whatsapp"}.String()
	if !strings.Contains(s, "(running)") || !strings.Contains(s, "transports whatsapp") {
		t.Errorf("unexpected holder string %q", s)
	}
}

func TestIsProcessRunning(t *testing.T) {
	if !isProcessRunning(os.Getpid()) {
		t.Error("our own process should be detected as running")
	}
}

func TestNonExistentDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "state")

	lock, err := AcquireLock(dir, "telegram")
	if err != nil {
		t.Fatalf("Should be able to create directory and acquire lock: %v", err)
	}
	defer lock.Release()

	if _, err := os.Stat(dir); err != nil {
		t.Errorf("Directory should have been created: %v", err)
	}
}
