// Package licensehttp implements drm.LicenseAcquirer over HTTP. It asks the
// session for its CDM challenge, lets the helper shape the request, posts it
// to the license server and hands the response body back to the session.
//
// Sessions must implement drm.LicenseExchanger.
package licensehttp

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/elnormous/contenttype"
	"github.com/ggoodman/drm-session-go/drm"
	"github.com/joeshaw/envdecode"
)

var (
	ErrNoExchanger             = errors.New("licensehttp: session does not expose its license challenge")
	ErrNoLicenseURL            = errors.New("licensehttp: no license server url")
	ErrEmptyLicense            = errors.New("licensehttp: empty license response")
	ErrUnexpectedContentType   = errors.New("licensehttp: unexpected license response content type")
	ErrLicenseResponseTooLarge = errors.New("licensehttp: license response too large")
)

const (
	defaultTimeout          = 10 * time.Second
	defaultMaxResponseBytes = 1 << 20
)

var octetStreamMediaType = contenttype.NewMediaType("application/octet-stream")

// StatusError is returned for non-2xx responses from the license server.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("licensehttp: license server returned %d: %s", e.StatusCode, e.Body)
}

// Config for the HTTP acquirer. Defaults can be loaded via envdecode.
type Config struct {
	// URL is used when the helper's request does not name one.
	// ENV: DRM_LICENSE_URL
	URL string `env:"DRM_LICENSE_URL"`
	// Timeout bounds one license round trip. ENV: DRM_LICENSE_TIMEOUT
	Timeout time.Duration `env:"DRM_LICENSE_TIMEOUT,default=10s"`
	// MaxResponseBytes caps the license body. ENV: DRM_LICENSE_MAX_BYTES
	MaxResponseBytes int64 `env:"DRM_LICENSE_MAX_BYTES,default=1048576"`

	// Client defaults to a client with no timeout of its own.
	Client *http.Client
	// Headers are added to every request before the helper's headers.
	Headers map[string]string
	// AcceptTypes lists the response media types treated as a license. A
	// response without Content-Type is always accepted. Defaults to
	// application/octet-stream.
	AcceptTypes []string
	Logger      *slog.Logger
}

// Acquirer posts license challenges to a license server.
type Acquirer struct {
	url      string
	timeout  time.Duration
	maxBytes int64
	client   *http.Client
	headers  map[string]string
	accept   []contenttype.MediaType
	log      *slog.Logger
}

// New creates an acquirer from cfg.
func New(cfg Config) *Acquirer {
	a := &Acquirer{
		url:      cfg.URL,
		timeout:  cfg.Timeout,
		maxBytes: cfg.MaxResponseBytes,
		client:   cfg.Client,
		headers:  make(map[string]string, len(cfg.Headers)),
		log:      cfg.Logger,
	}
	if a.timeout <= 0 {
		a.timeout = defaultTimeout
	}
	if a.maxBytes <= 0 {
		a.maxBytes = defaultMaxResponseBytes
	}
	if a.client == nil {
		a.client = &http.Client{}
	}
	if a.log == nil {
		a.log = slog.Default()
	}
	for k, v := range cfg.Headers {
		a.headers[k] = v
	}
	for _, t := range cfg.AcceptTypes {
		if mt := contenttype.NewMediaType(t); mt.Type != "" {
			a.accept = append(a.accept, mt)
		}
	}
	if len(a.accept) == 0 {
		a.accept = []contenttype.MediaType{octetStreamMediaType}
	}
	return a
}

// NewFromEnv builds an Acquirer using envdecode to populate Config.
func NewFromEnv() (*Acquirer, error) {
	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("decode license config: %w", err)
	}
	return New(cfg), nil
}

// AcquireLicense implements drm.LicenseAcquirer.
func (a *Acquirer) AcquireLicense(ctx context.Context, req *drm.LicenseAcquisition) error {
	ex, ok := req.Session.(drm.LicenseExchanger)
	if !ok {
		return ErrNoExchanger
	}
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()
	start := time.Now()

	challenge, err := ex.Challenge(ctx)
	if err != nil {
		return fmt.Errorf("licensehttp: challenge: %w", err)
	}
	lr, err := req.Helper.LicenseRequest(challenge)
	if err != nil {
		return fmt.Errorf("licensehttp: build request: %w", err)
	}
	httpReq, err := a.newRequest(ctx, lr)
	if err != nil {
		return err
	}

	license, err := a.do(httpReq)
	if err != nil {
		a.log.WarnContext(ctx, "licensehttp.request.fail",
			slog.Int("slot", req.Slot),
			slog.Bool("renewal", req.Renewal),
			slog.String("err", err.Error()),
			slog.Int64("dur_ms", time.Since(start).Milliseconds()),
		)
		return err
	}
	if err := ex.UpdateLicense(ctx, license); err != nil {
		return fmt.Errorf("licensehttp: update license: %w", err)
	}
	a.log.DebugContext(ctx, "licensehttp.request.ok",
		slog.Int("slot", req.Slot),
		slog.Bool("renewal", req.Renewal),
		slog.Int("bytes", len(license)),
		slog.Int64("dur_ms", time.Since(start).Milliseconds()),
	)
	return nil
}

func (a *Acquirer) newRequest(ctx context.Context, lr *drm.LicenseRequest) (*http.Request, error) {
	if lr == nil {
		return nil, fmt.Errorf("licensehttp: helper returned no request")
	}
	url := lr.URL
	if url == "" {
		url = a.url
	}
	if url == "" {
		return nil, ErrNoLicenseURL
	}
	method := lr.Method
	if method == "" {
		method = http.MethodPost
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(lr.Body))
	if err != nil {
		return nil, fmt.Errorf("licensehttp: new request: %w", err)
	}
	httpReq.Header.Set("Content-Type", octetStreamMediaType.String())
	for k, v := range a.headers {
		httpReq.Header.Set(k, v)
	}
	for k, v := range lr.Headers {
		httpReq.Header.Set(k, v)
	}
	if httpReq.Header.Get("Accept") == "" {
		httpReq.Header.Set("Accept", a.accept[0].String())
	}
	return httpReq, nil
}

func (a *Acquirer) do(httpReq *http.Request) ([]byte, error) {
	resp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("licensehttp: post: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, a.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("licensehttp: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet := body
		if len(snippet) > 256 {
			snippet = snippet[:256]
		}
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: string(snippet)}
	}
	if int64(len(body)) > a.maxBytes {
		return nil, ErrLicenseResponseTooLarge
	}
	if ct := resp.Header.Get("Content-Type"); ct != "" && !a.accepts(contenttype.NewMediaType(ct)) {
		return nil, fmt.Errorf("%w: %s", ErrUnexpectedContentType, ct)
	}
	if len(body) == 0 {
		return nil, ErrEmptyLicense
	}
	return body, nil
}

func (a *Acquirer) accepts(mt contenttype.MediaType) bool {
	for _, want := range a.accept {
		if mt.Matches(want) {
			return true
		}
	}
	return false
}

var _ drm.LicenseAcquirer = (*Acquirer)(nil)
