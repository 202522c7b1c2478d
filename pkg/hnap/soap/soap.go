// Package soap is the SOAP-over-HTTP transport for HNAP devices.
package soap

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/jmerrifield20/hnap/pkg/hnap"
	"go.uber.org/zap"
)

const envelopeNS = "http://schemas.xmlsoap.org/soap/envelope/"

// Transport posts HNAP actions to http://<address>/HNAP1.
type Transport struct {
	endpoint   string
	namespace  string
	actionURL  string
	httpClient *http.Client
	logger     *zap.Logger
	https      bool
	address    string
}

// Option is a functional option for configuring a Transport.
type Option func(*Transport)

// WithHTTPClient sets a custom http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(t *Transport) { t.httpClient = hc }
}

// WithTimeout sets the per-request timeout of the default http.Client.
func WithTimeout(d time.Duration) Option {
	return func(t *Transport) { t.httpClient = &http.Client{Timeout: d} }
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(t *Transport) { t.logger = logger }
}

// WithNamespace overrides the action element namespace.
func WithNamespace(ns string) Option {
	return func(t *Transport) { t.namespace = ns }
}

// WithActionURL overrides the SOAPAction prefix.
func WithActionURL(u string) Option {
	return func(t *Transport) { t.actionURL = u }
}

// WithHTTPS talks to the device over TLS.
func WithHTTPS() Option {
	return func(t *Transport) { t.https = true }
}

// New creates a Transport for the device at address (host or host:port).
// An address that already carries a scheme is used as the endpoint as-is.
func New(address string, opts ...Option) *Transport {
	t := &Transport{
		address:    address,
		namespace:  hnap.Namespace,
		actionURL:  hnap.ActionBaseURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     zap.NewNop(),
	}
	for _, o := range opts {
		o(t)
	}
	switch {
	case strings.Contains(address, "://"):
		t.endpoint = strings.TrimRight(address, "/")
	case t.https:
		t.endpoint = "https://" + address + "/HNAP1"
	default:
		t.endpoint = "http://" + address + "/HNAP1"
	}
	return t
}

// Endpoint returns the URL requests are posted to.
func (t *Transport) Endpoint() string { return t.endpoint }

// Invoke implements hnap.Transport.
func (t *Transport) Invoke(ctx context.Context, action string, params hnap.Params, headers hnap.Headers) (*hnap.Response, error) {
	body, err := t.envelope(action, params)
	if err != nil {
		return nil, fmt.Errorf("build %s envelope: %w", action, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build %s request: %w", action, err)
	}
	req.Header.Set("Content-Type", "text/xml; charset=utf-8")
	req.Header.Set("SOAPAction", `"`+t.actionURL+action+`"`)
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, &hnap.TransportError{Action: action, Timeout: isTimeout(err), Err: err}
	}
	defer resp.Body.Close() //nolint:errcheck

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, &hnap.TransportError{Action: action, Timeout: isTimeout(err), Err: fmt.Errorf("read response: %w", err)}
	}
	t.logger.Debug("soap: exchange",
		zap.String("action", action),
		zap.Int("status", resp.StatusCode),
		zap.Int("bytes", len(raw)),
		zap.Duration("latency", time.Since(start)),
	)
	if resp.StatusCode >= 400 {
		return nil, &hnap.TransportError{Action: action, StatusCode: resp.StatusCode}
	}

	return Decode(action, resp.Header.Get("Content-Type"), raw)
}

// envelope renders the request. The device rejects envelopes that contain
// an empty soap:Header, so only a Body is written.
func (t *Transport) envelope(action string, params hnap.Params) ([]byte, error) {
	var b bytes.Buffer
	b.WriteString(`<?xml version="1.0" encoding="utf-8"?>`)
	b.WriteString(`<soap:Envelope xmlns:xsi="http://www.w3.org/2001/XMLSchema-instance" ` +
		`xmlns:xsd="http://www.w3.org/2001/XMLSchema" xmlns:soap="` + envelopeNS + `">`)
	b.WriteString(`<soap:Body>`)
	b.WriteString(`<` + action + ` xmlns="` + t.namespace + `">`)
	for _, p := range params {
		if !validName(p.Name) {
			return nil, fmt.Errorf("invalid parameter name %q", p.Name)
		}
		b.WriteString(`<` + p.Name + `>`)
		if err := xml.EscapeText(&b, []byte(p.Value)); err != nil {
			return nil, err
		}
		b.WriteString(`</` + p.Name + `>`)
	}
	b.WriteString(`</` + action + `>`)
	b.WriteString(`</soap:Body></soap:Envelope>`)
	return b.Bytes(), nil
}

func validName(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r == '_':
		case i > 0 && (r >= '0' && r <= '9' || r == '-' || r == '.'):
		default:
			return false
		}
	}
	return true
}

func isTimeout(err error) bool {
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}
