// Package transport provides the reference internal/sync.Transport
// implementation: a shared *http.Client (internal/httpkit) posting
// WBXML request bodies to an EAS server's Sync command endpoint and
// handing back the response body for internal/wbxml to decode.
//
// Everything protocol-aware — the envelope shape, the sync-key
// dance, reconciliation — lives in internal/sync; this package only
// knows how to get bytes to the server and back, per spec.md §6's
// "transport is an external collaborator" boundary.
package transport

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/nugget/easync/internal/buildinfo"
	"github.com/nugget/easync/internal/httpkit"
)

// Config names the server endpoint and device identity EAS requires on
// every Sync command request.
type Config struct {
	// Endpoint is the full Microsoft-Server-ActiveSync URL, e.g.
	// "https://mail.example.com/Microsoft-Server-ActiveSync".
	Endpoint string

	// DeviceID and DeviceType identify this client per the EAS protocol
	// (the "DeviceId"/"DeviceType" query parameters).
	DeviceID   string
	DeviceType string

	// PolicyKey is echoed back on every request once Provision has
	// handed one out; empty until then.
	PolicyKey string
}

// Transport implements sync.Transport over HTTP using internal/httpkit's
// shared client (timeouts, retry-on-transient-error, User-Agent).
type Transport struct {
	cfg    Config
	client *http.Client
	logger *slog.Logger
}

// New builds a Transport from cfg, using httpkit's shared client with
// retry enabled for the transient dial errors httpkit.WithRetry targets
// (an EAS mobile client tolerates a flaky network far more than it
// tolerates losing a sync key over one dropped connection).
func New(cfg Config, logger *slog.Logger) *Transport {
	if logger == nil {
		logger = slog.Default()
	}
	client := httpkit.NewClient(
		httpkit.WithTimeout(0), // long-poll-capable collections set their own deadline via ctx
		httpkit.WithRetry(3, 0),
		httpkit.WithLogger(logger),
	)
	return &Transport{cfg: cfg, client: client, logger: logger}
}

// PostSync implements sync.Transport.
func (t *Transport) PostSync(ctx context.Context, collectionClass string, body io.Reader) (io.ReadCloser, error) {
	u, err := t.commandURL("Sync")
	if err != nil {
		return nil, fmt.Errorf("transport: build url: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, body)
	if err != nil {
		return nil, fmt.Errorf("transport: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/vnd.ms-sync.wbxml")
	req.Header.Set("MS-ASProtocolVersion", "16.1")
	req.Header.Set("User-Agent", buildinfo.UserAgent())
	if t.cfg.PolicyKey != "" {
		req.Header.Set("X-MS-PolicyKey", t.cfg.PolicyKey)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("transport: post %s: %w", collectionClass, err)
	}

	if resp.StatusCode != http.StatusOK {
		msg := httpkit.ReadErrorBody(resp.Body, 4096)
		return nil, fmt.Errorf("transport: server returned %s for %s: %s",
			resp.Status, collectionClass, msg)
	}

	return resp.Body, nil
}

func (t *Transport) commandURL(command string) (string, error) {
	base, err := url.Parse(t.cfg.Endpoint)
	if err != nil {
		return "", err
	}
	q := base.Query()
	q.Set("Cmd", command)
	q.Set("DeviceId", t.cfg.DeviceID)
	q.Set("DeviceType", t.cfg.DeviceType)
	base.RawQuery = q.Encode()
	return base.String(), nil
}
