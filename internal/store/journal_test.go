package store

import (
	"errors"
	"os"
	"testing"
)

func TestInstallJournal(t *testing.T) {
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	done, err := s.BeginInstall("2026-10-19-10-00", "PRODUCTION", "aa.bundle")
	if err != nil {
		t.Fatalf("BeginInstall: %v", err)
	}
	if done.ID == "" || done.Stage != StagePending {
		t.Fatalf("unexpected txn %+v", done)
	}
	if err := s.Advance(done, StageBundleWritten, nil); err != nil {
		t.Fatal(err)
	}
	if err := s.Advance(done, StageCompleted, nil); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(s.txnPath(done.ID)); !os.IsNotExist(err) {
		t.Error("completed journal entry not removed")
	}

	broken, err := s.BeginInstall("2026-10-19-11-00", "PRODUCTION", "bb.bundle")
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Advance(broken, StageFailed, errors.New("disk full")); err != nil {
		t.Fatal(err)
	}

	if err := os.WriteFile(s.txnPath("garbage"), []byte("{not json"), 0o600); err != nil {
		t.Fatal(err)
	}

	interrupted, err := s.Interrupted()
	if err != nil {
		t.Fatalf("Interrupted: %v", err)
	}
	if len(interrupted) != 1 {
		t.Fatalf("got %d interrupted installs, want 1", len(interrupted))
	}
	got := interrupted[0]
	if got.ID != broken.ID || got.Stage != StageFailed || got.LastError != "disk full" || got.BundleFile != "bb.bundle" {
		t.Errorf("unexpected interrupted txn %+v", got)
	}

	again, err := s.Interrupted()
	if err != nil {
		t.Fatal(err)
	}
	if len(again) != 0 {
		t.Errorf("journal not cleared, got %d entries", len(again))
	}
}

func TestInterruptedMissingDir(t *testing.T) {
	s, err := New(t.TempDir() + "/absent")
	if err != nil {
		t.Fatal(err)
	}
	txns, err := s.Interrupted()
	if err != nil || len(txns) != 0 {
		t.Errorf("Interrupted() = %v, %v", txns, err)
	}
}
