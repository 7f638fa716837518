package provider

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Gateway talks to a plain JSON SMS gateway. Such gateways accept a message
// and return an id but do not report delivery, so PushesCallbacks is false.
type Gateway struct {
	HTTPClient *http.Client
}

func NewGateway(httpClient *http.Client) *Gateway {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &Gateway{HTTPClient: httpClient}
}

func (g *Gateway) Name() string            { return "gateway" }
func (g *Gateway) SignatureHeader() string { return "X-Gateway-Signature" }
func (g *Gateway) PushesCallbacks() bool   { return false }

type gatewayRequest struct {
	To   string `json:"to"`
	From string `json:"from"`
	Text string `json:"text"`
}

type gatewayResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Error  string `json:"error"`
}

func (g *Gateway) Send(ctx context.Context, creds Credentials, req SendRequest) (SendResult, error) {
	if creds.APIKey == "" || creds.BaseURL == "" {
		return SendResult{}, fmt.Errorf("%w: gateway credentials incomplete", ErrSendFailed)
	}
	payload, err := json.Marshal(gatewayRequest{To: req.To, From: req.From, Text: req.Body})
	if err != nil {
		return SendResult{}, err
	}

	endpoint := strings.TrimRight(creds.BaseURL, "/") + "/v1/messages"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return SendResult{}, err
	}
	httpReq.Header.Set("Authorization", "Bearer "+creds.APIKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := g.HTTPClient.Do(httpReq)
	if err != nil {
		return SendResult{}, fmt.Errorf("%w: %v", ErrSendFailed, err)
	}
	defer resp.Body.Close()

	var out gatewayResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&out); err != nil && resp.StatusCode < 300 {
		return SendResult{}, fmt.Errorf("%w: decode response: %v", ErrSendFailed, err)
	}
	if resp.StatusCode >= 300 {
		return SendResult{}, fmt.Errorf("%w: gateway status %d: %s", ErrSendFailed, resp.StatusCode, out.Error)
	}
	if out.ID == "" {
		return SendResult{}, fmt.Errorf("%w: gateway response missing id", ErrSendFailed)
	}
	return SendResult{ProviderMessageID: out.ID, ProviderStatus: out.Status}, nil
}

// Verify checks a hex HMAC-SHA256 over the callback URL and encoded form.
func (g *Gateway) Verify(creds Credentials, signature, callbackURL string, params url.Values) bool {
	if signature == "" || creds.APIKey == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(creds.APIKey))
	_, _ = mac.Write([]byte(callbackURL + "?" + params.Encode()))
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(strings.ToLower(signature)))
}
