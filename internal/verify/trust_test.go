package verify

import (
	"encoding/hex"
	"strings"
	"testing"

	"github.com/ZebulonRouseFrantzich/keel/internal/updateerr"
)

func TestEnsurePublicKeyIsTrusted(t *testing.T) {
	trusted, _ := hex.DecodeString("ffbab1f0e6d1c5e2a8b93e3e2f7a5d5c0f6a7e8b9c0d1e2f3a4b5c6d7e8f9a0b")
	other, _ := hex.DecodeString("3942e6836fb1ff8a2b9d1a4c5e6f708192a3b4c5d6e7f8091a2b3c4d5e6f7081")
	store := TrustStore{hex.EncodeToString(trusted)}

	tests := []struct {
		name    string
		key     []byte
		store   TrustStore
		wantErr bool
		wantMsg []string
	}{
		{name: "trusted", key: trusted, store: store},
		{
			name:    "untrusted",
			key:     other,
			store:   store,
			wantErr: true,
			wantMsg: []string{hex.EncodeToString(other), "PRODUCTION"},
		},
		{name: "empty_store", key: trusted, store: TrustStore{}, wantErr: true, wantMsg: []string{"empty", "PRODUCTION"}},
		{name: "nil_store", key: trusted, store: nil, wantErr: true, wantMsg: []string{"PRODUCTION"}},
		{name: "missing_key", key: nil, store: store, wantErr: true},
		{
			name:    "case_sensitive",
			key:     trusted,
			store:   TrustStore{strings.ToUpper(hex.EncodeToString(trusted))},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := EnsurePublicKeyIsTrusted(tt.key, tt.store, "PRODUCTION")
			if !tt.wantErr {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if updateerr.KindOf(err) != updateerr.KindIntegrity {
				t.Fatalf("expected IntegrityError, got %v", err)
			}
			for _, want := range tt.wantMsg {
				if !strings.Contains(err.Error(), want) {
					t.Errorf("error %q missing %q", err, want)
				}
			}
		})
	}
}
