// Package credentials is the trust collaborator (spec §6): it supplies
// trusted CAs, validates certificate chains, and exposes a "principal"
// identity for each peer. The core only ever consumes the principal.
package credentials

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"

	"github.com/gostdlib/base/context"
)

// Principal identifies a peer once its certificate chain has validated.
// Subject is typically the leaf certificate's CommonName or a SAN entry.
type Principal struct {
	Subject     string
	Fingerprint string
}

// Trust validates a peer's TLS connection state and produces a Principal.
type Trust interface {
	Validate(ctx context.Context, state tls.ConnectionState) (Principal, error)
}

// StaticCAPool trusts any certificate chaining to one of CAs and uses the
// leaf certificate's CommonName as the principal subject.
type StaticCAPool struct {
	CAs *x509.CertPool
}

// NewStaticCAPool builds a StaticCAPool from PEM-encoded CA certificates.
func NewStaticCAPool(pemCerts ...[]byte) (*StaticCAPool, error) {
	pool := x509.NewCertPool()
	for _, pem := range pemCerts {
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("credentials: failed to parse a CA certificate")
		}
	}
	return &StaticCAPool{CAs: pool}, nil
}

// Validate verifies the peer's leaf certificate chains to a trusted CA.
func (s *StaticCAPool) Validate(ctx context.Context, state tls.ConnectionState) (Principal, error) {
	if len(state.PeerCertificates) == 0 {
		return Principal{}, fmt.Errorf("credentials: no peer certificate presented")
	}
	leaf := state.PeerCertificates[0]
	opts := x509.VerifyOptions{
		Roots:         s.CAs,
		Intermediates: x509.NewCertPool(),
	}
	for _, c := range state.PeerCertificates[1:] {
		opts.Intermediates.AddCert(c)
	}
	if _, err := leaf.Verify(opts); err != nil {
		return Principal{}, fmt.Errorf("credentials: chain verification failed: %w", err)
	}
	return Principal{
		Subject:     leaf.Subject.CommonName,
		Fingerprint: fmt.Sprintf("%x", leaf.SubjectKeyId),
	}, nil
}

// Insecure trusts every peer and assigns the fixed subject "anonymous".
// Useful for plaintext transports and tests; never use for a production
// listener reachable from an untrusted network.
type Insecure struct{}

// Validate always succeeds.
func (Insecure) Validate(ctx context.Context, state tls.ConnectionState) (Principal, error) {
	return Principal{Subject: "anonymous"}, nil
}

var _ Trust = (*StaticCAPool)(nil)
var _ Trust = Insecure{}
