// ABOUTME: HTTP transport for single probes
// ABOUTME: POSTs the binary request to the probe endpoint and decodes the reply
package protocol

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/Resonate-Protocol/timesync-go/pkg/timesync"
)

const (
	// ProbePath is the server endpoint for binary HTTP probes.
	ProbePath = "/timesync/probe"

	// ContentTypeProbe is the media type of encoded requests and replies.
	ContentTypeProbe = "application/octet-stream"

	maxProbeBody = 4096
)

// HTTPExchanger implements timesync.Exchanger with one POST per probe.
// Connection reuse in the underlying client keeps later probes free of
// handshake latency.
type HTTPExchanger struct {
	url    string
	client *http.Client
}

// NewHTTPExchanger targets the probe endpoint of baseURL, e.g.
// "http://host:8927". A nil client uses a default with a 5s timeout.
func NewHTTPExchanger(baseURL string, client *http.Client) *HTTPExchanger {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	return &HTTPExchanger{
		url:    strings.TrimRight(baseURL, "/") + ProbePath,
		client: client,
	}
}

func (h *HTTPExchanger) Exchange(ctx context.Context, req timesync.Request) (timesync.Reply, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url, bytes.NewReader(EncodeRequest(req)))
	if err != nil {
		return timesync.Reply{}, fmt.Errorf("failed to build probe request: %w", err)
	}
	httpReq.Header.Set("Content-Type", ContentTypeProbe)

	resp, err := h.client.Do(httpReq)
	if err != nil {
		return timesync.Reply{}, fmt.Errorf("probe failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxProbeBody))
	if err != nil {
		return timesync.Reply{}, fmt.Errorf("failed to read probe reply: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var serverErr ServerError
		if json.Unmarshal(body, &serverErr) == nil && serverErr.Code != "" {
			return timesync.Reply{}, serverErr
		}
		return timesync.Reply{}, fmt.Errorf("probe failed: %s", resp.Status)
	}

	return DecodeReply(body)
}
