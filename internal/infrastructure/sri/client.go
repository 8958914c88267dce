// Package sri talks to the tax authority's offline web services: it signs
// vouchers (XAdES-BES) and calls the reception and authorization SOAP services.
package sri

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/beevik/etree"

	"osiris/internal/core/apperror"
	"osiris/internal/domain/sriqueue"
)

const (
	nsSoap          = "http://schemas.xmlsoap.org/soap/envelope/"
	nsReception     = "http://ec.gob.sri.ws.recepcion"
	nsAuthorization = "http://ec.gob.sri.ws.autorizacion"

	maxResponseBytes = 4 << 20
)

// authorizedAtLayouts are the date formats seen in fechaAutorizacion.
var authorizedAtLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05.999-07:00",
	"02/01/2006 15:04:05",
}

// Client calls the reception and authorization services.
type Client struct {
	httpClient       *http.Client
	receptionURL     string
	authorizationURL string
}

// NewClient creates a client. timeout bounds every call.
func NewClient(receptionURL, authorizationURL string, timeout time.Duration) *Client {
	return &Client{
		httpClient:       &http.Client{Timeout: timeout},
		receptionURL:     receptionURL,
		authorizationURL: authorizationURL,
	}
}

// Submit sends a signed voucher to validarComprobante.
func (c *Client) Submit(ctx context.Context, signedXML string) (*sriqueue.Reception, error) {
	env, body := envelope("ec", nsReception)
	body.CreateElement("ec:validarComprobante").
		CreateElement("xml").
		SetText(base64.StdEncoding.EncodeToString([]byte(signedXML)))

	resp, err := c.call(ctx, "reception", c.receptionURL, env)
	if err != nil {
		return nil, err
	}

	answer := resp.FindElement("//RespuestaRecepcionComprobante")
	if answer == nil {
		return nil, apperror.NewExternalSubmission("reception", fmt.Errorf("response without RespuestaRecepcionComprobante"))
	}
	return &sriqueue.Reception{
		Status:   sriqueue.ReceptionStatus(strings.TrimSpace(childText(answer, "estado"))),
		Messages: messages(answer),
	}, nil
}

// Authorize queries autorizacionComprobante for an access key. An empty
// answer means the authority is still processing the voucher.
func (c *Client) Authorize(ctx context.Context, accessKey string) (*sriqueue.AuthorizationResult, error) {
	env, body := envelope("ec", nsAuthorization)
	body.CreateElement("ec:autorizacionComprobante").
		CreateElement("claveAccesoComprobante").
		SetText(accessKey)

	resp, err := c.call(ctx, "authorization", c.authorizationURL, env)
	if err != nil {
		return nil, err
	}

	auth := resp.FindElement("//autorizaciones/autorizacion")
	if auth == nil {
		return &sriqueue.AuthorizationResult{Status: sriqueue.AuthorizationInProgress}, nil
	}

	result := &sriqueue.AuthorizationResult{
		Status:   sriqueue.AuthorizationStatus(strings.TrimSpace(childText(auth, "estado"))),
		Number:   strings.TrimSpace(childText(auth, "numeroAutorizacion")),
		Messages: messages(auth),
	}
	if raw := strings.TrimSpace(childText(auth, "fechaAutorizacion")); raw != "" {
		at, err := parseAuthorizedAt(raw)
		if err != nil {
			return nil, apperror.NewExternalSubmission("authorization", err)
		}
		result.AuthorizedAt = at
	}
	return result, nil
}

func (c *Client) call(ctx context.Context, op, url string, env *etree.Document) (*etree.Document, error) {
	payload, err := env.WriteToBytes()
	if err != nil {
		return nil, fmt.Errorf("soap: serialize envelope: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("soap: build request: %w", err)
	}
	req.Header.Set("Content-Type", "text/xml; charset=utf-8")
	req.Header.Set("SOAPAction", "")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, apperror.NewExternalSubmission(op, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, apperror.NewExternalSubmission(op, fmt.Errorf("read response: %w", err))
	}

	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(raw); err != nil {
		return nil, apperror.NewExternalSubmission(op,
			fmt.Errorf("status %d, unparseable body: %w", resp.StatusCode, err))
	}
	if fault := doc.FindElement("//Fault"); fault != nil {
		return nil, apperror.NewExternalSubmission(op,
			fmt.Errorf("soap fault %s: %s", childText(fault, "faultcode"), childText(fault, "faultstring")))
	}
	if resp.StatusCode != http.StatusOK {
		return nil, apperror.NewExternalSubmission(op, fmt.Errorf("unexpected status %d", resp.StatusCode))
	}
	return doc, nil
}

// envelope returns a SOAP envelope declaring prefix for ns, and its Body.
func envelope(prefix, ns string) (*etree.Document, *etree.Element) {
	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)
	env := doc.CreateElement("soapenv:Envelope")
	env.CreateAttr("xmlns:soapenv", nsSoap)
	env.CreateAttr("xmlns:"+prefix, ns)
	env.CreateElement("soapenv:Header")
	return doc, env.CreateElement("soapenv:Body")
}

func messages(parent *etree.Element) []sriqueue.Message {
	var out []sriqueue.Message
	for _, m := range parent.FindElements(".//mensajes/mensaje") {
		// Nested <mensaje> holds the text of its parent.
		if m.SelectElement("identificador") == nil {
			continue
		}
		out = append(out, sriqueue.Message{
			Identifier:     strings.TrimSpace(childText(m, "identificador")),
			Text:           strings.TrimSpace(childText(m, "mensaje")),
			AdditionalInfo: strings.TrimSpace(childText(m, "informacionAdicional")),
			Type:           strings.TrimSpace(childText(m, "tipo")),
		})
	}
	return out
}

func childText(el *etree.Element, tag string) string {
	if c := el.SelectElement(tag); c != nil {
		return c.Text()
	}
	return ""
}

func parseAuthorizedAt(raw string) (time.Time, error) {
	for _, layout := range authorizedAtLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized fechaAutorizacion %q", raw)
}
