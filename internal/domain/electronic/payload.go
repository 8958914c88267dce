package electronic

import (
	"fmt"

	"github.com/beevik/etree"
)

// Field is one leaf element of a voucher section. Order is preserved, since
// the authority validates the XML against an ordered schema.
type Field struct {
	Name  string
	Value string
}

// Section is a nested element with ordered fields and child sections.
// Fields render before children; a leaf that must follow a child is a
// Section with Text.
type Section struct {
	Name     string
	Text     string
	Fields   []Field
	Children []Section
}

// Voucher is the body of an electronic document as produced by its parent.
type Voucher struct {
	// Root is the root element, e.g. factura or comprobanteRetencion.
	Root    string
	Version string
	Body    []Section
}

// TaxInfo fills the infoTributaria block common to every voucher.
type TaxInfo struct {
	Environment   string
	EmissionType  string
	BusinessName  string
	RUC           string
	AccessKey     string
	DocumentCode  string
	Establishment string
	Point         string
	Sequential    string
	Address       string
}

// BuildPayload renders the unsigned XML of a voucher.
func BuildPayload(info TaxInfo, v Voucher) (string, error) {
	if v.Root == "" {
		return "", fmt.Errorf("voucher root element is required")
	}

	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)

	root := doc.CreateElement(v.Root)
	root.CreateAttr("id", "comprobante")
	if v.Version != "" {
		root.CreateAttr("version", v.Version)
	}

	appendSection(root, Section{
		Name: "infoTributaria",
		Fields: []Field{
			{"ambiente", info.Environment},
			{"tipoEmision", info.EmissionType},
			{"razonSocial", info.BusinessName},
			{"ruc", info.RUC},
			{"claveAcceso", info.AccessKey},
			{"codDoc", info.DocumentCode},
			{"estab", info.Establishment},
			{"ptoEmi", info.Point},
			{"secuencial", info.Sequential},
			{"dirMatriz", info.Address},
		},
	})
	for _, s := range v.Body {
		appendSection(root, s)
	}

	return doc.WriteToString()
}

func appendSection(parent *etree.Element, s Section) {
	el := parent.CreateElement(s.Name)
	if s.Text != "" {
		el.SetText(s.Text)
	}
	for _, f := range s.Fields {
		el.CreateElement(f.Name).SetText(f.Value)
	}
	for _, c := range s.Children {
		appendSection(el, c)
	}
}

// AccessKeyOf extracts claveAcceso from a payload. The queue uses it to make
// sure a stored payload still belongs to its document before signing.
func AccessKeyOf(payload string) (string, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromString(payload); err != nil {
		return "", fmt.Errorf("parse payload: %w", err)
	}
	el := doc.FindElement("//infoTributaria/claveAcceso")
	if el == nil {
		return "", fmt.Errorf("payload has no claveAcceso")
	}
	return el.Text(), nil
}
