package remote

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jdziat/simple-remote-jobs/pkg/core"
)

// maxErrorBody bounds the response body kept in a TransportError.
const maxErrorBody = 4 << 10

// Transport sends HTTP requests. *http.Client satisfies it.
type Transport interface {
	Do(req *http.Request) (*http.Response, error)
}

// HTTPInterface executes commands against a remote server over HTTP.
type HTTPInterface struct {
	base      string
	token     string
	timeout   time.Duration
	transport Transport
	logger    *slog.Logger
}

func newHTTPInterface(dest Destination, o options) (*HTTPInterface, error) {
	base, err := normalizeBaseURL(dest.URL, dest.Manager)
	if err != nil {
		return nil, err
	}
	t := o.transport
	if t == nil {
		t = &http.Client{Transport: newTransport()}
	}
	return &HTTPInterface{
		base:      base,
		token:     dest.PrivateToken,
		timeout:   dest.Timeout,
		transport: t,
		logger:    o.logger,
	}, nil
}

func newTransport() *http.Transport {
	dialer := &net.Dialer{
		Timeout:   5 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}

// normalizeBaseURL adds a missing scheme and trailing slash and appends the
// manager prefix.
func normalizeBaseURL(raw, manager string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("%w: remote destination has no url", core.ErrUnknownDestination)
	}
	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("%w: invalid url %q: %v", core.ErrUnknownDestination, raw, err)
	}
	if u.Host == "" {
		return "", fmt.Errorf("%w: url %q has no host", core.ErrUnknownDestination, raw)
	}
	base := strings.TrimSuffix(u.String(), "/") + "/"
	if manager != "" {
		base += "managers/" + url.PathEscape(manager) + "/"
	}
	return base, nil
}

// BaseURL returns the normalized endpoint URL.
func (h *HTTPInterface) BaseURL() string { return h.base }

func (h *HTTPInterface) Execute(ctx context.Context, command string, args Args, opts ...ExecOption) ([]byte, error) {
	cmd, ok := Lookup(command)
	if !ok {
		return nil, &core.UnsupportedCommandError{Command: command, Transport: TransportHTTP.String()}
	}
	o := newExecOptions(opts)

	path, err := cmd.ResolvePath(args)
	if err != nil {
		return nil, err
	}
	target, display := h.buildURL(path, args)

	body, size, err := requestBody(o)
	if err != nil {
		return nil, err
	}
	if c, ok := body.(io.Closer); ok {
		defer c.Close()
	}

	if h.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, cmd.Method, target, body)
	if err != nil {
		return nil, &core.TransportError{Command: command, URL: display, Err: err}
	}
	req.ContentLength = size

	start := time.Now()
	resp, err := h.transport.Do(req)
	if err != nil {
		return nil, &core.TransportError{Command: command, URL: display, Err: scrubToken(err, h.token)}
	}
	defer resp.Body.Close()

	h.logger.Debug("remote command",
		"command", command,
		"method", cmd.Method,
		"url", display,
		"status", resp.StatusCode,
		"duration", time.Since(start),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &core.TransportError{
			Command:    command,
			URL:        display,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(msg)),
			Err:        responseError(resp.StatusCode, msg),
		}
	}

	if cmd.Response == ResponseFile && o.outputPath != "" {
		if err := writeFile(o.outputPath, resp.Body); err != nil {
			return nil, &core.TransportError{Command: command, URL: display, Err: err}
		}
		return nil, nil
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &core.TransportError{Command: command, URL: display, Err: err}
	}
	return data, nil
}

// buildURL returns the request URL and a copy safe to log.
func (h *HTTPInterface) buildURL(path string, args Args) (string, string) {
	values := url.Values{}
	for k, v := range args {
		values.Set(k, v)
	}
	display := h.base + path
	if q := values.Encode(); q != "" {
		display += "?" + q
	}
	if h.token == "" {
		return display, display
	}
	values.Set("private_token", h.token)
	return h.base + path + "?" + values.Encode(), display
}

// requestBody returns the body for o and its length.
func requestBody(o execOptions) (io.Reader, int64, error) {
	switch {
	case o.inputPath != "":
		f, err := os.Open(o.inputPath)
		if err != nil {
			return nil, 0, fmt.Errorf("jobs: open input %s: %w", o.inputPath, err)
		}
		info, err := f.Stat()
		if err != nil {
			f.Close()
			return nil, 0, fmt.Errorf("jobs: stat input %s: %w", o.inputPath, err)
		}
		return f, info.Size(), nil
	case o.hasData:
		return bytes.NewReader(o.data), int64(len(o.data)), nil
	default:
		return http.NoBody, 0, nil
	}
}

// writeFile streams r to path, creating parent directories.
func writeFile(path string, r io.Reader) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// scrubToken removes the private token from errors that embed the URL.
func scrubToken(err error, token string) error {
	if token == "" {
		return err
	}
	msg := strings.ReplaceAll(err.Error(), url.QueryEscape(token), "REDACTED")
	msg = strings.ReplaceAll(msg, token, "REDACTED")
	return &redactedError{msg: msg, err: err}
}

type redactedError struct {
	msg string
	err error
}

func (e *redactedError) Error() string { return e.msg }
func (e *redactedError) Unwrap() error { return e.err }
