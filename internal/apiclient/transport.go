package apiclient

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"net/http"
)

// BearerTransport implements http.RoundTripper and adds the session
// credentials to outgoing requests.
type BearerTransport struct {
	UID       string
	Token     string
	Transport http.RoundTripper
	Logger    *slog.Logger
}

// NewBearerTransport creates a new BearerTransport with the given session
// and optional underlying transport. If transport is nil,
// http.DefaultTransport will be used.
func NewBearerTransport(uid, token string, transport http.RoundTripper, logger *slog.Logger) *BearerTransport {
	if transport == nil {
		transport = http.DefaultTransport
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &BearerTransport{
		UID:       uid,
		Token:     token,
		Transport: transport,
		Logger:    logger,
	}
}

// RoundTrip implements the http.RoundTripper interface. The request is
// cloned before the credentials are added.
func (t *BearerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.UID == "" {
		return nil, errors.New("session uid cannot be empty")
	}
	if t.Token == "" {
		return nil, errors.New("access token cannot be empty")
	}
	if t.Transport == nil {
		return nil, errors.New("transport cannot be nil")
	}

	t.Logger.Debug("outgoing request",
		"method", req.Method,
		"url", req.URL.String())

	authed := req.Clone(req.Context())
	authed.Header.Set("Authorization", "Bearer "+t.Token)
	authed.Header.Set("x-pm-uid", t.UID)
	resp, err := t.Transport.RoundTrip(authed)

	if err == nil && resp != nil {
		// response bodies are encrypted cards and key packets; log sizes only
		size := 0
		if resp.Body != nil {
			bodyBytes, err := io.ReadAll(resp.Body)
			if err == nil {
				size = len(bodyBytes)
				resp.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))
			}
		}

		t.Logger.Debug("incoming response",
			"status", resp.Status,
			"bytes", size)
	}

	return resp, err
}
