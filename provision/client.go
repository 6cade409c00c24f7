package provision

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/devatadev/gowvcdm/wv"
)

// DefaultURL is the certificate provisioning endpoint of Google.
const DefaultURL = "https://www.googleapis.com/certificateprovisioning/v1/devicecertificates/create"

const responseKind = "certificateprovisioning#certificateProvisioningResponse"

// Client talks to a certificate provisioning service.
type Client struct {
	HTTPClient *http.Client
	// URL defaults to DefaultURL.
	URL    string
	APIKey string
	// UserAgent is sent instead of the Go default when set.
	UserAgent string
	Logger    *slog.Logger
}

type provisioningResponse struct {
	Kind           string          `json:"kind"`
	SignedResponse string          `json:"signedResponse"`
	Error          json.RawMessage `json:"error"`
}

// Send posts a signed request and returns the serialized signed response.
func (c *Client) Send(ctx context.Context, req *Request) ([]byte, error) {
	endpoint := c.URL
	if endpoint == "" {
		endpoint = DefaultURL
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("%w: provisioning url: %w", wv.ErrInvalidInput, err)
	}
	q := u.Query()
	q.Set("key", c.APIKey)
	q.Set("signedRequest", req.Encoded())
	u.RawQuery = q.Encode()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), nil)
	if err != nil {
		return nil, err
	}
	if c.UserAgent != "" {
		httpReq.Header.Set("User-Agent", c.UserAgent)
	}

	httpClient := c.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	resp, err := httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", wv.ErrRemoteTransport, err)
	}
	defer resp.Body.Close()

	var res provisioningResponse
	if err = json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return nil, fmt.Errorf("%w: decode provisioning response (HTTP %d): %w", wv.ErrRemoteTransport, resp.StatusCode, err)
	}
	if len(res.Error) > 0 && string(res.Error) != "null" {
		return nil, fmt.Errorf("%w: provisioning service returned an error: %s", wv.ErrRemoteTransport, res.Error)
	}
	if res.Kind != responseKind {
		return nil, fmt.Errorf("%w: unexpected provisioning response kind %q", wv.ErrMalformedResponse, res.Kind)
	}

	signed, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(res.SignedResponse, "="))
	if err != nil {
		return nil, fmt.Errorf("%w: decode signed response: %w", wv.ErrMalformedResponse, err)
	}
	return signed, nil
}

func (c *Client) logger() *slog.Logger {
	if c.Logger == nil {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return c.Logger
}

// Provision provisions kb as the device described by cfg.
func (c *Client) Provision(ctx context.Context, kb *Keybox, cfg *Config) (*wv.LocalDevice, error) {
	log := c.logger().With(slog.Uint64("system_id", uint64(kb.SystemID)))
	log.Info("provisioning keybox",
		slog.String("keybox", kb.String()),
		slog.Bool("consumer", kb.Consumer()))

	req, err := NewRequest(kb, nil)
	if err != nil {
		return nil, fmt.Errorf("build provisioning request: %w", err)
	}
	log.Debug("provisioning request built", slog.String("nonce", fmt.Sprintf("%x", req.Nonce)))

	signed, err := c.Send(ctx, req)
	if err != nil {
		return nil, err
	}

	resp, err := req.ParseResponse(signed)
	if err != nil {
		return nil, err
	}

	device, err := cfg.Device(kb, resp)
	if err != nil {
		return nil, fmt.Errorf("assemble device: %w", err)
	}
	log.Info("keybox provisioned", slog.Uint64("device_system_id", uint64(device.SystemID())))
	return device, nil
}
