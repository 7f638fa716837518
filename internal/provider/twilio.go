package provider

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"campaign-delivery/internal/model"
)

const twilioBaseURL = "https://api.twilio.com"

// Twilio sends SMS and WhatsApp through the Programmable Messaging API.
type Twilio struct {
	BaseURL    string
	HTTPClient *http.Client
}

func NewTwilio(httpClient *http.Client) *Twilio {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &Twilio{BaseURL: twilioBaseURL, HTTPClient: httpClient}
}

func (t *Twilio) Name() string            { return "twilio" }
func (t *Twilio) SignatureHeader() string { return "X-Twilio-Signature" }
func (t *Twilio) PushesCallbacks() bool   { return true }

type twilioMessage struct {
	SID          string `json:"sid"`
	Status       string `json:"status"`
	ErrorCode    *int   `json:"error_code"`
	ErrorMessage string `json:"error_message"`
	Message      string `json:"message"`
}

func (t *Twilio) Send(ctx context.Context, creds Credentials, req SendRequest) (SendResult, error) {
	if creds.AccountSID == "" || creds.AuthToken == "" {
		return SendResult{}, fmt.Errorf("%w: twilio credentials incomplete", ErrSendFailed)
	}

	form := url.Values{}
	form.Set("To", twilioAddress(req.Channel, req.To))
	form.Set("Body", req.Body)
	if req.MessagingServiceID != "" {
		form.Set("MessagingServiceSid", req.MessagingServiceID)
	} else {
		form.Set("From", twilioAddress(req.Channel, req.From))
	}
	if req.StatusCallbackURL != "" {
		form.Set("StatusCallback", req.StatusCallbackURL)
	}

	base := strings.TrimRight(t.BaseURL, "/")
	if creds.BaseURL != "" {
		base = strings.TrimRight(creds.BaseURL, "/")
	}
	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages.json", base, url.PathEscape(creds.AccountSID))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return SendResult{}, err
	}
	httpReq.SetBasicAuth(creds.AccountSID, creds.AuthToken)
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := t.HTTPClient.Do(httpReq)
	if err != nil {
		return SendResult{}, fmt.Errorf("%w: %v", ErrSendFailed, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return SendResult{}, fmt.Errorf("%w: read response: %v", ErrSendFailed, err)
	}
	var msg twilioMessage
	_ = json.Unmarshal(body, &msg)

	if resp.StatusCode >= 300 {
		detail := msg.Message
		if detail == "" {
			detail = strings.TrimSpace(string(body))
		}
		return SendResult{}, fmt.Errorf("%w: twilio status %d: %s", ErrSendFailed, resp.StatusCode, detail)
	}
	if msg.SID == "" {
		return SendResult{}, fmt.Errorf("%w: twilio response missing sid", ErrSendFailed)
	}
	return SendResult{ProviderMessageID: msg.SID, ProviderStatus: msg.Status}, nil
}

func (t *Twilio) Verify(creds Credentials, signature, callbackURL string, params url.Values) bool {
	if signature == "" || creds.AuthToken == "" {
		return false
	}
	expected := TwilioSignature(creds.AuthToken, callbackURL, params)
	return hmac.Equal([]byte(expected), []byte(signature))
}

// TwilioSignature computes base64(HMAC-SHA1(token, url + sorted key/value pairs)).
func TwilioSignature(authToken, callbackURL string, params url.Values) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(callbackURL)
	for _, k := range keys {
		values := append([]string(nil), params[k]...)
		sort.Strings(values)
		for _, v := range values {
			b.WriteString(k)
			b.WriteString(v)
		}
	}

	mac := hmac.New(sha1.New, []byte(authToken))
	_, _ = mac.Write([]byte(b.String()))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func twilioAddress(ch model.Channel, addr string) string {
	if ch == model.ChannelWhatsApp && addr != "" && !strings.HasPrefix(addr, "whatsapp:") {
		return "whatsapp:" + addr
	}
	return addr
}
