package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Stage is how far an install got.
type Stage string

const (
	StagePending       Stage = "pending"
	StageBundleWritten Stage = "bundle_written"
	StageCompleted     Stage = "completed"
	StageFailed        Stage = "failed"
)

const journalPrefix = "txn-install-"

// InstallTxn records one install so an interrupted commit can be reported on
// the next start.
type InstallTxn struct {
	Version       int       `json:"version"`
	ID            string    `json:"id"`
	Timestamp     time.Time `json:"timestamp"`
	WebappVersion string    `json:"webapp_version"`
	Environment   string    `json:"environment"`
	BundleFile    string    `json:"bundle_file"`
	Stage         Stage     `json:"stage"`
	LastError     string    `json:"last_error,omitempty"`
}

// BeginInstall creates a pending journal entry and saves it.
func (s *Store) BeginInstall(webappVersion, environment, bundleFile string) (*InstallTxn, error) {
	txn := &InstallTxn{
		Version:       1,
		ID:            uuid.New().String(),
		Timestamp:     time.Now().UTC(),
		WebappVersion: webappVersion,
		Environment:   environment,
		BundleFile:    bundleFile,
		Stage:         StagePending,
	}
	if err := s.saveTxn(txn); err != nil {
		return nil, err
	}
	return txn, nil
}

// Advance moves txn to stage and saves it. A completed txn is removed from
// the journal.
func (s *Store) Advance(txn *InstallTxn, stage Stage, cause error) error {
	txn.Stage = stage
	txn.LastError = ""
	if cause != nil {
		txn.LastError = cause.Error()
	}
	if stage == StageCompleted {
		if err := os.Remove(s.txnPath(txn.ID)); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove install journal: %w", err)
		}
		return nil
	}
	return s.saveTxn(txn)
}

// Interrupted returns journal entries that never completed, oldest first, and
// removes them.
func (s *Store) Interrupted() ([]*InstallTxn, error) {
	entries, err := os.ReadDir(s.dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read data directory: %w", err)
	}

	var txns []*InstallTxn
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, journalPrefix) || !strings.HasSuffix(name, ".json") {
			continue
		}
		path := filepath.Join(s.dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read install journal: %w", err)
		}
		var txn InstallTxn
		if err := json.Unmarshal(data, &txn); err != nil {
			// Unreadable entries carry no information worth keeping.
			os.Remove(path)
			continue
		}
		txns = append(txns, &txn)
		os.Remove(path)
	}

	sort.Slice(txns, func(i, j int) bool { return txns[i].Timestamp.Before(txns[j].Timestamp) })
	return txns, nil
}

func (s *Store) saveTxn(txn *InstallTxn) error {
	data, err := json.MarshalIndent(txn, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal install journal: %w", err)
	}
	if err := WriteFileAtomic(s.txnPath(txn.ID), data, 0o600); err != nil {
		return fmt.Errorf("write install journal: %w", err)
	}
	return nil
}

func (s *Store) txnPath(id string) string {
	return filepath.Join(s.dir, journalPrefix+id+".json")
}
