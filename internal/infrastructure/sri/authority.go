package sri

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"osiris/internal/config"
	"osiris/internal/domain/sriqueue"
	"osiris/pkg/logger"
)

var tracer = otel.Tracer("osiris/sri")

// Authority implements sriqueue.Authority over the signer and the SOAP client.
type Authority struct {
	signer *Signer
	client *Client
}

var _ sriqueue.Authority = (*Authority)(nil)

// NewAuthority combines a signer and a client.
func NewAuthority(signer *Signer, client *Client) *Authority {
	return &Authority{signer: signer, client: client}
}

// NewAuthorityFromConfig loads the certificate and targets the configured environment.
func NewAuthorityFromConfig(cfg config.SRIConfig) (*Authority, error) {
	cert, err := LoadP12(cfg.CertPath, cfg.CertPassword)
	if err != nil {
		return nil, err
	}
	return NewAuthority(NewSigner(cert), NewClient(cfg.ReceptionURL, cfg.AuthorizationURL, cfg.Timeout)), nil
}

func (a *Authority) Sign(ctx context.Context, payload string) (string, error) {
	_, span := tracer.Start(ctx, "sri.sign")
	defer span.End()

	signed, err := a.signer.Sign(payload)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}
	return signed, nil
}

func (a *Authority) Submit(ctx context.Context, signedXML string) (*sriqueue.Reception, error) {
	ctx, span := tracer.Start(ctx, "sri.reception", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	rec, err := a.client.Submit(ctx, signedXML)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.String("sri.reception_status", string(rec.Status)))
	logger.Debug(ctx, "voucher submitted", "status", rec.Status, "messages", sriqueue.FormatMessages(rec.Messages))
	return rec, nil
}

func (a *Authority) Authorize(ctx context.Context, accessKey string) (*sriqueue.AuthorizationResult, error) {
	ctx, span := tracer.Start(ctx, "sri.authorization",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("sri.access_key", accessKey)))
	defer span.End()

	res, err := a.client.Authorize(ctx, accessKey)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.String("sri.authorization_status", string(res.Status)))
	return res, nil
}
