package sri

import (
	"bytes"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1"
	"encoding/base64"
	"encoding/xml"
	"fmt"
	"math/big"
	"time"

	"github.com/beevik/etree"
	"github.com/ucarion/c14n"

	"osiris/internal/core/id"
)

// XAdES-BES with RSA-SHA1 as required by the authority's signature profile.
const (
	nsDS    = "http://www.w3.org/2000/09/xmldsig#"
	nsEtsi  = "http://uri.etsi.org/01903/v1.3.2#"
	algC14N = "http://www.w3.org/TR/2001/REC-xml-c14n-20010315"
	algRSA  = "http://www.w3.org/2000/09/xmldsig#rsa-sha1"
	algSHA1 = "http://www.w3.org/2000/09/xmldsig#sha1"

	transformEnveloped = "http://www.w3.org/2000/09/xmldsig#enveloped-signature"
	typeSignedProps    = "http://uri.etsi.org/01903#SignedProperties"

	// comprobanteID is the id attribute of every voucher root.
	comprobanteID = "comprobante"
)

// Signer produces enveloped XAdES-BES signatures.
type Signer struct {
	cert *Certificate
	now  func() time.Time
}

// NewSigner creates a signer for cert.
func NewSigner(cert *Certificate) *Signer {
	return &Signer{cert: cert, now: time.Now}
}

// Sign appends a ds:Signature as the last child of the voucher root.
func (s *Signer) Sign(payload string) (string, error) {
	if s.cert == nil || s.cert.Key == nil || s.cert.Leaf == nil {
		return "", fmt.Errorf("signer has no certificate")
	}

	doc := etree.NewDocument()
	if err := doc.ReadFromString(payload); err != nil {
		return "", fmt.Errorf("parse payload: %w", err)
	}
	root := doc.Root()
	if root == nil {
		return "", fmt.Errorf("payload has no root element")
	}
	if root.SelectAttrValue("id", "") != comprobanteID {
		return "", fmt.Errorf("payload root must carry id=%q", comprobanteID)
	}

	docDigest, err := digest(root)
	if err != nil {
		return "", fmt.Errorf("digest voucher: %w", err)
	}

	suffix := id.New().String()[:8]
	sigID := "Signature" + suffix
	propsID := sigID + "-SignedProperties"
	certID := "Certificate" + suffix

	signature := etree.NewElement("ds:Signature")
	signature.CreateAttr("xmlns:ds", nsDS)
	signature.CreateAttr("xmlns:etsi", nsEtsi)
	signature.CreateAttr("Id", sigID)

	keyInfo := s.keyInfo(certID)
	props := s.signedProperties(propsID, sigID)

	// KeyInfo and SignedProperties are digested as they will appear inside
	// the signature, with the namespaces declared there in scope.
	keyDigest, err := digestInScope(keyInfo, signature)
	if err != nil {
		return "", fmt.Errorf("digest key info: %w", err)
	}
	propsDigest, err := digestInScope(props, signature)
	if err != nil {
		return "", fmt.Errorf("digest signed properties: %w", err)
	}

	signedInfo := etree.NewElement("ds:SignedInfo")
	signedInfo.CreateElement("ds:CanonicalizationMethod").CreateAttr("Algorithm", algC14N)
	signedInfo.CreateElement("ds:SignatureMethod").CreateAttr("Algorithm", algRSA)
	addReference(signedInfo, "", "#"+propsID, typeSignedProps, propsDigest)
	addReference(signedInfo, "", "#"+certID, "", keyDigest)
	addReference(signedInfo, sigID+"-Reference", "#"+comprobanteID, "", docDigest)

	canonicalInfo, err := canonicalInScope(signedInfo, signature)
	if err != nil {
		return "", fmt.Errorf("canonicalize signed info: %w", err)
	}
	sum := sha1.Sum(canonicalInfo)
	value, err := rsa.SignPKCS1v15(rand.Reader, s.cert.Key, crypto.SHA1, sum[:])
	if err != nil {
		return "", fmt.Errorf("sign: %w", err)
	}

	signature.AddChild(signedInfo)
	signature.CreateElement("ds:SignatureValue").SetText(base64.StdEncoding.EncodeToString(value))
	signature.AddChild(keyInfo)
	object := signature.CreateElement("ds:Object")
	qualifying := object.CreateElement("etsi:QualifyingProperties")
	qualifying.CreateAttr("Target", "#"+sigID)
	qualifying.AddChild(props)

	root.AddChild(signature)
	return doc.WriteToString()
}

func (s *Signer) keyInfo(certID string) *etree.Element {
	keyInfo := etree.NewElement("ds:KeyInfo")
	keyInfo.CreateAttr("Id", certID)
	keyInfo.CreateElement("ds:X509Data").
		CreateElement("ds:X509Certificate").
		SetText(base64.StdEncoding.EncodeToString(s.cert.Leaf.Raw))

	kv := keyInfo.CreateElement("ds:KeyValue").CreateElement("ds:RSAKeyValue")
	kv.CreateElement("ds:Modulus").SetText(base64.StdEncoding.EncodeToString(s.cert.Key.N.Bytes()))
	kv.CreateElement("ds:Exponent").SetText(base64.StdEncoding.EncodeToString(big.NewInt(int64(s.cert.Key.E)).Bytes()))
	return keyInfo
}

func (s *Signer) signedProperties(propsID, sigID string) *etree.Element {
	props := etree.NewElement("etsi:SignedProperties")
	props.CreateAttr("Id", propsID)

	ssp := props.CreateElement("etsi:SignedSignatureProperties")
	ssp.CreateElement("etsi:SigningTime").SetText(s.now().Format(time.RFC3339))

	certSum := sha1.Sum(s.cert.Leaf.Raw)
	certEl := ssp.CreateElement("etsi:SigningCertificate").CreateElement("etsi:Cert")
	certDigest := certEl.CreateElement("etsi:CertDigest")
	certDigest.CreateElement("ds:DigestMethod").CreateAttr("Algorithm", algSHA1)
	certDigest.CreateElement("ds:DigestValue").SetText(base64.StdEncoding.EncodeToString(certSum[:]))
	serial := certEl.CreateElement("etsi:IssuerSerial")
	serial.CreateElement("ds:X509IssuerName").SetText(s.cert.Leaf.Issuer.String())
	serial.CreateElement("ds:X509SerialNumber").SetText(s.cert.Leaf.SerialNumber.String())

	sdop := props.CreateElement("etsi:SignedDataObjectProperties")
	format := sdop.CreateElement("etsi:DataObjectFormat")
	format.CreateAttr("ObjectReference", "#"+sigID+"-Reference")
	format.CreateElement("etsi:Description").SetText("contenido comprobante")
	format.CreateElement("etsi:MimeType").SetText("text/xml")
	return props
}

// addReference appends a ds:Reference. A non-empty refID marks the
// reference to the voucher itself, which gets the enveloped transform.
func addReference(signedInfo *etree.Element, refID, uri, refType, digestValue string) {
	enveloped := refID != ""
	ref := signedInfo.CreateElement("ds:Reference")
	if enveloped {
		ref.CreateAttr("Id", refID)
	}
	if refType != "" {
		ref.CreateAttr("Type", refType)
	}
	ref.CreateAttr("URI", uri)
	if enveloped {
		ref.CreateElement("ds:Transforms").
			CreateElement("ds:Transform").
			CreateAttr("Algorithm", transformEnveloped)
	}
	ref.CreateElement("ds:DigestMethod").CreateAttr("Algorithm", algSHA1)
	ref.CreateElement("ds:DigestValue").SetText(digestValue)
}

// digest returns the base64 SHA-1 of the canonical form of el.
func digest(el *etree.Element) (string, error) {
	canonical, err := canonical(el)
	if err != nil {
		return "", err
	}
	sum := sha1.Sum(canonical)
	return base64.StdEncoding.EncodeToString(sum[:]), nil
}

func digestInScope(el, scope *etree.Element) (string, error) {
	canonical, err := canonicalInScope(el, scope)
	if err != nil {
		return "", err
	}
	sum := sha1.Sum(canonical)
	return base64.StdEncoding.EncodeToString(sum[:]), nil
}

// canonicalInScope canonicalizes a copy of el carrying the namespace
// declarations of scope, as inclusive C14N does for a document subset.
func canonicalInScope(el, scope *etree.Element) ([]byte, error) {
	cp := el.Copy()
	for _, a := range scope.Attr {
		if a.Space == "xmlns" {
			cp.CreateAttr(a.FullKey(), a.Value)
		}
	}
	return canonical(cp)
}

func canonical(el *etree.Element) ([]byte, error) {
	doc := etree.NewDocument()
	doc.SetRoot(el.Copy())
	raw, err := doc.WriteToBytes()
	if err != nil {
		return nil, err
	}
	dec := xml.NewDecoder(bytes.NewReader(raw))
	dec.Entity = map[string]string{}
	return c14n.Canonicalize(dec)
}
