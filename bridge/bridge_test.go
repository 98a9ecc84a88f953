package bridge

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func openTestBridge(t *testing.T) (*Bridge, string) {
	t.Helper()

	keyPath := filepath.Join(t.TempDir(), "bridge.key")
	b, err := Open(keyPath, nil)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	return b, keyPath
}

func TestBridgeRoundTrip(t *testing.T) {
	b, _ := openTestBridge(t)

	const subjectID = uint64(1)<<63 | 7777

	tok, err := b.Issue(subjectID, "gamer")
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	identity, err := b.Verify(tok)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if identity.SubjectID != subjectID || identity.Name != "gamer" {
		t.Errorf("Verify() = %+v, want subject %d name gamer", identity, subjectID)
	}
}

func TestBridgeExpiredIsDistinctFromInvalid(t *testing.T) {
	b, _ := openTestBridge(t)

	issued := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	current := issued
	b = b.WithClock(func() time.Time { return current })

	tok, err := b.Issue(42, "late")
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	current = issued.Add(AssertionTTL + time.Minute)
	if _, err := b.Verify(tok); !errors.Is(err, ErrExpired) {
		t.Errorf("Verify() after TTL = %v, want ErrExpired", err)
	}

	if _, err := b.Verify("garbage"); !errors.Is(err, ErrInvalid) {
		t.Errorf("Verify(garbage) = %v, want ErrInvalid", err)
	}
}

func TestBridgeRejectsForeignAssertion(t *testing.T) {
	a, _ := openTestBridge(t)
	other, _ := openTestBridge(t)

	tok, err := other.Issue(42, "foreign")
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	if _, err := a.Verify(tok); !errors.Is(err, ErrInvalid) {
		t.Errorf("Verify() of foreign-key assertion = %v, want ErrInvalid", err)
	}
}

func TestBridgeKeySurvivesRestart(t *testing.T) {
	first, keyPath := openTestBridge(t)

	tok, err := first.Issue(42, "persistent")
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	// A second Open against the same path models a process restart.
	second, err := Open(keyPath, nil)
	if err != nil {
		t.Fatalf("Open() after restart error = %v", err)
	}
	if _, err := second.Verify(tok); err != nil {
		t.Errorf("Verify() after restart = %v, want success", err)
	}
}

func TestBridgeCloseRemovesKeyFile(t *testing.T) {
	b, keyPath := openTestBridge(t)

	if err := b.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if _, err := os.Stat(keyPath); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("key file still present after Close: %v", err)
	}

	// Closing twice is not an error.
	if err := b.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}

func TestOpenRejectsCorruptKeyFile(t *testing.T) {
	keyPath := filepath.Join(t.TempDir(), "bridge.key")
	if err := os.WriteFile(keyPath, []byte("short"), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	if _, err := Open(keyPath, nil); err == nil {
		t.Error("Open() with truncated key file should return error")
	}
}
