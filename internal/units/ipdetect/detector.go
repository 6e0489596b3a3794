// Package ipdetect finds the public address of this host by asking a
// check-ip web service.
package ipdetect

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/netip"
	"regexp"
	"strings"
	"time"

	"github.com/oddcyb/microbots/internal/config"
	"github.com/oddcyb/microbots/internal/errors"
	"github.com/oddcyb/microbots/internal/logging"
)

// maxBody caps how much of the response is read.
const maxBody = 64 << 10

// ErrNoAddress is returned when the response does not contain an address.
var ErrNoAddress = errors.New("no address in response")

// Option configures a Detector.
type Option func(*Detector)

// WithURL sets the check-ip service URL.
func WithURL(url string) Option {
	return func(d *Detector) { d.url = url }
}

// WithPattern sets the regular expression that extracts the address from
// the response body. It must have a group named "ip".
func WithPattern(pattern string) Option {
	return func(d *Detector) { d.pattern = pattern }
}

// WithTimeout bounds each request.
func WithTimeout(timeout time.Duration) Option {
	return func(d *Detector) { d.timeout = timeout }
}

// WithHTTPClient sets the client used for requests.
func WithHTTPClient(client *http.Client) Option {
	return func(d *Detector) { d.client = client }
}

// WithResolver sets the resolver used when the service returns a host name
// instead of an address literal.
func WithResolver(r *net.Resolver) Option {
	return func(d *Detector) { d.resolver = r }
}

// WithLogger sets the detector logger.
func WithLogger(logger *logging.Logger) Option {
	return func(d *Detector) { d.logger = logger }
}

// Address is a detected public address.
type Address struct {
	IP         netip.Addr
	Source     string
	DetectedAt time.Time
}

// String returns the address in its canonical text form.
func (a Address) String() string {
	return a.IP.String()
}

// Detector asks a check-ip service for the public address.
type Detector struct {
	url      string
	pattern  string
	timeout  time.Duration
	client   *http.Client
	resolver *net.Resolver
	logger   *logging.Logger

	re  *regexp.Regexp
	grp int
}

// New creates a Detector. Unset options take their values from
// config.Default().
func New(opts ...Option) (*Detector, error) {
	defaults := config.Default().IPDetect
	d := &Detector{
		url:     defaults.URL,
		pattern: defaults.Pattern,
		timeout: defaults.Timeout,
	}
	for _, opt := range opts {
		opt(d)
	}

	if d.url == "" {
		return nil, errors.NewValidationError("url must not be empty").WithField("url")
	}
	re, err := regexp.Compile(d.pattern)
	if err != nil {
		return nil, errors.NewValidationError("invalid pattern").
			WithField("pattern").
			WithValue(d.pattern).
			WithCause(err)
	}
	grp := re.SubexpIndex("ip")
	if grp < 0 {
		return nil, errors.NewValidationError(`pattern must have a group named "ip"`).
			WithField("pattern").
			WithValue(d.pattern)
	}
	d.re, d.grp = re, grp

	if d.client == nil {
		d.client = &http.Client{}
	}
	if d.resolver == nil {
		d.resolver = net.DefaultResolver
	}
	if d.logger == nil {
		d.logger = logging.NopLogger()
	}
	return d, nil
}

// FromConfig creates a Detector from the ipdetect configuration section.
func FromConfig(cfg config.IPDetectConfig, opts ...Option) (*Detector, error) {
	base := []Option{WithURL(cfg.URL), WithPattern(cfg.Pattern), WithTimeout(cfg.Timeout)}
	return New(append(base, opts...)...)
}

// Detect fetches the service URL and returns the address found in the body.
// Detect has the shape of a blocking producer and can be watched directly.
func (d *Detector) Detect(ctx context.Context) (Address, error) {
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	body, err := d.fetch(ctx)
	if err != nil {
		return Address{}, err
	}
	d.logger.Debug("check-ip response", "url", d.url, "bytes", len(body))

	host, err := d.Extract(body)
	if err != nil {
		return Address{}, err
	}

	ip, err := d.resolve(ctx, host)
	if err != nil {
		return Address{}, err
	}

	d.logger.Debug("address detected", "ip", ip.String())
	return Address{IP: ip, Source: d.url, DetectedAt: time.Now()}, nil
}

// Extract returns the text captured by the "ip" group of the pattern.
func (d *Detector) Extract(body string) (string, error) {
	m := d.re.FindStringSubmatch(body)
	if m == nil || strings.TrimSpace(m[d.grp]) == "" {
		return "", fmt.Errorf("%w from %s", ErrNoAddress, d.url)
	}
	return strings.TrimSpace(m[d.grp]), nil
}

func (d *Detector) fetch(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.url, nil)
	if err != nil {
		return "", errors.Wrap(err, "build request")
	}

	resp, err := d.client.Do(req)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return "", errors.NewTimeoutError("check-ip request", d.timeout).WithCause(err)
		}
		return "", errors.Wrapf(err, "get %s", d.url)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("get %s: unexpected status %s", d.url, resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return "", errors.Wrapf(err, "read %s", d.url)
	}
	return string(body), nil
}

func (d *Detector) resolve(ctx context.Context, host string) (netip.Addr, error) {
	if ip, err := netip.ParseAddr(host); err == nil {
		return ip.Unmap(), nil
	}

	addrs, err := d.resolver.LookupNetIP(ctx, "ip", host)
	if err != nil {
		return netip.Addr{}, errors.Wrapf(err, "resolve %s", host)
	}
	if len(addrs) == 0 {
		return netip.Addr{}, fmt.Errorf("resolve %s: %w", host, ErrNoAddress)
	}
	return addrs[0].Unmap(), nil
}
