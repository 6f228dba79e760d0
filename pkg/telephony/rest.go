package telephony

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const defaultRestBaseURL = "https://api.twilio.com"

// RestOption is a functional option for configuring a RestClient.
type RestOption func(*RestClient)

// WithRestBaseURL overrides the REST API base URL. Primarily used in tests.
func WithRestBaseURL(base string) RestOption {
	return func(c *RestClient) { c.baseURL = strings.TrimSuffix(base, "/") }
}

// WithRestHTTPClient replaces the underlying HTTP client.
func WithRestHTTPClient(hc *http.Client) RestOption {
	return func(c *RestClient) { c.http = hc }
}

// RestClient performs call control against the provider's REST API: hangups
// and recording starts. It is safe for concurrent use.
type RestClient struct {
	accountSid string
	authToken  string
	baseURL    string
	http       *http.Client
}

// NewRestClient builds a RestClient authenticated with the account SID and
// auth token.
func NewRestClient(accountSid, authToken string, opts ...RestOption) *RestClient {
	c := &RestClient{
		accountSid: accountSid,
		authToken:  authToken,
		baseURL:    defaultRestBaseURL,
		http:       &http.Client{Timeout: 10 * time.Second},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// EndCall completes the call via the REST API. A 404 means the call already
// ended on its own and is treated as success.
func (c *RestClient) EndCall(ctx context.Context, callSid string) error {
	form := url.Values{"Status": {"completed"}}
	resp, err := c.post(ctx, c.callURL(callSid)+".json", form)
	if err != nil {
		return fmt.Errorf("telephony: end call: %w", err)
	}
	defer drain(resp)

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil
	case resp.StatusCode >= 300:
		return fmt.Errorf("telephony: end call: status %d", resp.StatusCode)
	}
	return nil
}

// StartRecording starts a dual-channel recording of the call. statusCallback
// may be empty to skip recording status notifications.
func (c *RestClient) StartRecording(ctx context.Context, callSid, statusCallback string) error {
	form := url.Values{"RecordingChannels": {"dual"}}
	if statusCallback != "" {
		form.Set("RecordingStatusCallback", statusCallback)
		form.Set("RecordingStatusCallbackEvent", "completed")
	}
	resp, err := c.post(ctx, c.callURL(callSid)+"/Recordings.json", form)
	if err != nil {
		return fmt.Errorf("telephony: start recording: %w", err)
	}
	defer drain(resp)

	if resp.StatusCode >= 300 {
		return fmt.Errorf("telephony: start recording: status %d", resp.StatusCode)
	}
	return nil
}

func (c *RestClient) callURL(callSid string) string {
	return fmt.Sprintf("%s/2010-04-01/Accounts/%s/Calls/%s",
		c.baseURL, c.accountSid, callSid)
}

func (c *RestClient) post(ctx context.Context, rawURL string, form url.Values) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL,
		strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.SetBasicAuth(c.accountSid, c.authToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return c.http.Do(req)
}

func drain(resp *http.Response) {
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
}
