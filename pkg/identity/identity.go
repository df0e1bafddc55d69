// Package identity loads the control side's TLS server identity from a
// PKCS#12 bundle (§4.2, §6 --keyfile), mirroring the original
// implementation's Identity::from_pkcs12 call in control.rs.
package identity

import (
	"crypto/tls"
	"os"

	"github.com/oddwire/revsh-control/pkg/errors"
	pkcs12 "software.sslmate.com/src/go-pkcs12"
)

// Load reads a PKCS#12 bundle from path and decodes it into a tls.Certificate
// suitable for tls.Config.Certificates. password is usually empty, matching
// the empty-string password the original tool always passed to
// Identity::from_pkcs12.
func Load(path, password string) (tls.Certificate, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return tls.Certificate{}, errors.NewIdentityError(path, err)
	}

	key, cert, caCerts, err := pkcs12.DecodeChain(raw, password)
	if err != nil {
		return tls.Certificate{}, errors.NewIdentityError(path, err)
	}

	chain := make([][]byte, 0, 1+len(caCerts))
	chain = append(chain, cert.Raw)
	for _, ca := range caCerts {
		chain = append(chain, ca.Raw)
	}

	tlsCert := tls.Certificate{
		Certificate: chain,
		PrivateKey:  key,
		Leaf:        cert,
	}

	return tlsCert, nil
}
