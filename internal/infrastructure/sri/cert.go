package sri

import (
	"crypto/rsa"
	"crypto/x509"
	"fmt"
	"os"

	"golang.org/x/crypto/pkcs12"
)

// Certificate is the signing identity of the issuer.
type Certificate struct {
	Key  *rsa.PrivateKey
	Leaf *x509.Certificate
}

// LoadP12 reads a PKCS#12 (.p12/.pfx) file as issued by the accredited
// certification authorities. The password may be empty.
func LoadP12(path, password string) (*Certificate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read certificate: %w", err)
	}
	return DecodeP12(data, password)
}

// DecodeP12 parses PKCS#12 bytes holding one RSA key and its certificate.
func DecodeP12(data []byte, password string) (*Certificate, error) {
	priv, leaf, err := pkcs12.Decode(data, password)
	if err != nil {
		return nil, fmt.Errorf("decode certificate: %w", err)
	}
	key, ok := priv.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("certificate key must be RSA, got %T", priv)
	}
	return &Certificate{Key: key, Leaf: leaf}, nil
}
