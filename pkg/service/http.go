package service

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/anthropics/purple-dfu/pkg/protocol"
)

// dfuPath is the update endpoint, with a 30 second command timeout hint
// for the server side.
const dfuPath = "/v1/dfu?ct=30"

// emptyBodyPoll is the polling hint substituted when the service answers
// 2xx with an empty body.
const emptyBodyPoll = 10

// DFUHTTP is an update service client for HTTP update endpoints. A status
// is POSTed as a CBOR body with basic authentication; a 2xx response body
// is the CBOR encoded command. An empty 2xx body means Wait.
type DFUHTTP struct {
	client   *http.Client
	base     string
	username string
	password string
	log      logrus.FieldLogger
}

// NewDFUHTTP creates an HTTP update service client. base is the server URL
// without a trailing slash, e.g. "https://updates.example.com". A nil
// client falls back to http.DefaultClient.
func NewDFUHTTP(client *http.Client, base, username, password string) *DFUHTTP {
	if client == nil {
		client = http.DefaultClient
	}
	return &DFUHTTP{
		client:   client,
		base:     base,
		username: username,
		password: password,
		log:      logrus.StandardLogger(),
	}
}

// Request implements update.Service.
func (d *DFUHTTP) Request(ctx context.Context, status *protocol.Status) (*protocol.Command, error) {
	payload, err := protocol.MarshalStatusCBOR(status)
	if err != nil {
		return nil, fmt.Errorf("encoding status: %w", err)
	}
	d.log.WithField("bytes", len(payload)).Debug("posting status")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.base+dfuPath, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/cbor")
	req.SetBasicAuth(d.username, d.password)

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("posting status: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("update service returned status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	if len(body) == 0 {
		return protocol.NewWait(protocol.U32(emptyBodyPoll), nil), nil
	}
	cmd, err := protocol.UnmarshalCommandCBOR(body)
	if err != nil {
		return nil, fmt.Errorf("decoding command: %w", err)
	}
	return cmd, nil
}
