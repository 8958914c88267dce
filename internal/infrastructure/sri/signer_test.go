package sri

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/base64"
	"math/big"
	"testing"
	"time"

	"github.com/beevik/etree"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const voucher = `<?xml version="1.0" encoding="UTF-8"?>
<factura id="comprobante" version="1.1.0"><infoTributaria><ambiente>1</ambiente><ruc>1790012345001</ruc><claveAcceso>1234</claveAcceso></infoTributaria><infoFactura><importeTotal>11.50</importeTotal></infoFactura></factura>`

func testCertificate(t *testing.T) *Certificate {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(4242),
		Subject:      pkix.Name{CommonName: "COMERCIAL ANDINA S.A.", Country: []string{"EC"}},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)
	leaf, err := x509.ParseCertificate(der)
	require.NoError(t, err)
	return &Certificate{Key: key, Leaf: leaf}
}

func TestSigner_SignatureVerifies(t *testing.T) {
	cert := testCertificate(t)
	signed, err := NewSigner(cert).Sign(voucher)
	require.NoError(t, err)

	doc := etree.NewDocument()
	require.NoError(t, doc.ReadFromString(signed))
	root := doc.Root()
	sig := root.SelectElement("Signature")
	require.NotNil(t, sig, "signature must be the last child of the voucher")
	assert.Equal(t, sig, root.ChildElements()[len(root.ChildElements())-1])

	signedInfo := sig.SelectElement("SignedInfo")
	require.NotNil(t, signedInfo)
	canonicalInfo, err := canonicalInScope(signedInfo, sig)
	require.NoError(t, err)
	sum := sha1.Sum(canonicalInfo)
	value, err := base64.StdEncoding.DecodeString(sig.SelectElement("SignatureValue").Text())
	require.NoError(t, err)
	assert.NoError(t, rsa.VerifyPKCS1v15(&cert.Key.PublicKey, crypto.SHA1, sum[:], value))

	// Enveloped transform: the voucher digest excludes the signature.
	root.RemoveChild(sig)
	want, err := digest(root)
	require.NoError(t, err)
	var got string
	for _, ref := range signedInfo.SelectElements("Reference") {
		if ref.SelectAttrValue("URI", "") == "#comprobante" {
			got = ref.SelectElement("DigestValue").Text()
		}
	}
	assert.Equal(t, want, got)
}

func TestSigner_EmbedsCertificate(t *testing.T) {
	cert := testCertificate(t)
	signed, err := NewSigner(cert).Sign(voucher)
	require.NoError(t, err)

	doc := etree.NewDocument()
	require.NoError(t, doc.ReadFromString(signed))
	x509El := doc.FindElement("//KeyInfo/X509Data/X509Certificate")
	require.NotNil(t, x509El)
	raw, err := base64.StdEncoding.DecodeString(x509El.Text())
	require.NoError(t, err)
	assert.Equal(t, cert.Leaf.Raw, raw)

	serial := doc.FindElement("//IssuerSerial/X509SerialNumber")
	require.NotNil(t, serial)
	assert.Equal(t, "4242", serial.Text())
	assert.Len(t, doc.FindElements("//SignedInfo/Reference"), 3)
}

func TestSigner_RejectsForeignRoot(t *testing.T) {
	_, err := NewSigner(testCertificate(t)).Sign(`<factura version="1.1.0"/>`)
	assert.Error(t, err)

	_, err = NewSigner(nil).Sign(voucher)
	assert.Error(t, err)
}

func TestDecodeP12_Garbage(t *testing.T) {
	_, err := DecodeP12([]byte("not a certificate"), "secret")
	assert.Error(t, err)
}
