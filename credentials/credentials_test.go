package credentials

import (
	"crypto/tls"
	"testing"
)

func TestInsecureAlwaysValidates(t *testing.T) {
	p, err := Insecure{}.Validate(t.Context(), tls.ConnectionState{})
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if p.Subject != "anonymous" {
		t.Fatalf("Subject = %q, want anonymous", p.Subject)
	}
}

func TestStaticCAPoolRejectsNoPeerCert(t *testing.T) {
	pool, err := NewStaticCAPool()
	if err != nil {
		t.Fatalf("NewStaticCAPool: %v", err)
	}
	_, err = pool.Validate(t.Context(), tls.ConnectionState{})
	if err == nil {
		t.Fatalf("expected error validating a connection with no peer certificate")
	}
}

func TestNewStaticCAPoolRejectsInvalidPEM(t *testing.T) {
	_, err := NewStaticCAPool([]byte("not a cert"))
	if err == nil {
		t.Fatalf("expected error parsing invalid PEM")
	}
}
