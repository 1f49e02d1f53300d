package testutil

import (
	"os"
	"testing"
	"time"
)

func TestSetupTestEnv(t *testing.T) {
	dataDir := SetupTestEnv(t)

	if os.Getenv("KEEL_DATA_DIR") != dataDir {
		t.Errorf("KEEL_DATA_DIR = %q, want %q", os.Getenv("KEEL_DATA_DIR"), dataDir)
	}
	if os.Getenv("KEEL_TEST_MODE") != "1" {
		t.Error("KEEL_TEST_MODE not set")
	}
	if info, err := os.Stat(dataDir); err != nil || !info.IsDir() {
		t.Errorf("data dir not created: %v", err)
	}
}

func TestSignerSeal(t *testing.T) {
	s := NewSigner(t)
	if len(s.KeyHex()) != 64 {
		t.Fatalf("key hex length = %d", len(s.KeyHex()))
	}

	b := NewBundle(t, []byte("bundle"))
	if len(b.Compressed) == 0 {
		t.Fatal("expected compressed bytes")
	}

	e := s.Seal(Manifest(nowForTest(), b))
	if len(e.Raw) == 0 || len(e.Signature) != 64 {
		t.Errorf("unexpected envelope: raw=%d sig=%d", len(e.Raw), len(e.Signature))
	}
}

func nowForTest() time.Time {
	return time.Date(2026, 10, 19, 10, 0, 0, 0, time.UTC)
}
