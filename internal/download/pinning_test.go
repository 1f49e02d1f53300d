package download

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"net/http"
	"testing"
	"time"
)

func selfSigned(t *testing.T) *x509.Certificate {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "updates.example.com"},
		NotBefore:    testNow.Add(-time.Hour),
		NotAfter:     testNow.Add(time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("create certificate: %v", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatalf("parse certificate: %v", err)
	}
	return cert
}

func chainOf(certs ...*x509.Certificate) []*x509.Certificate {
	return certs
}

func TestSPKIPinner(t *testing.T) {
	cert := selfSigned(t)
	pin := SPKIHash(cert)

	p := SPKIPinner{"updates.example.com": {"deadbeef", pin}}
	if err := p.Verify("UPDATES.example.com", chainOf(cert)); err != nil {
		t.Errorf("pinned host rejected: %v", err)
	}
	if err := p.Verify("other.example.com", chainOf(cert)); err == nil {
		t.Error("unpinned host accepted")
	}
	if err := (SPKIPinner{"updates.example.com": {"deadbeef"}}).Verify("updates.example.com", chainOf(cert)); err == nil {
		t.Error("wrong pin accepted")
	}
	if err := p.Verify("updates.example.com", nil); err == nil {
		t.Error("empty chain accepted")
	}
}

func TestNewPinnedClient(t *testing.T) {
	if _, err := NewPinnedClient(nil, ClientOptions{}); err == nil {
		t.Fatal("expected error without pinner")
	}

	client, err := NewPinnedClient(SPKIPinner{}, ClientOptions{Timeout: time.Second})
	if err != nil {
		t.Fatal(err)
	}
	if client.Timeout != time.Second {
		t.Errorf("Timeout = %v", client.Timeout)
	}

	plain, _ := http.NewRequest(http.MethodGet, "http://updates.example.com/x", nil)
	if err := client.CheckRedirect(plain, nil); err == nil {
		t.Error("redirect to http allowed")
	}
	secure, _ := http.NewRequest(http.MethodGet, "https://updates.example.com/x", nil)
	if err := client.CheckRedirect(secure, nil); err != nil {
		t.Errorf("https redirect refused: %v", err)
	}
}
