package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/bookrelay/bookrelay/internal/bookrelay/relaycommon"
)

const maxResponseSize = 1 << 20

// HTTPProvider posts bookings to <endpoint>/book. Calls are never retried.
type HTTPProvider struct {
	endpoint    string
	credentials Credentials
	client      *http.Client
}

// NewHTTPProvider returns a provider for the service at endpoint.
func NewHTTPProvider(endpoint string, creds Credentials, timeout time.Duration) (*HTTPProvider, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid provider endpoint: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid provider endpoint scheme: %q", u.Scheme)
	}
	return &HTTPProvider{
		endpoint:    strings.TrimRight(endpoint, "/"),
		credentials: creds,
		client:      &http.Client{Timeout: timeout},
	}, nil
}

// Book implements Provider.
func (p *HTTPProvider) Book(ctx context.Context, req Request) (*Result, error) {
	body, err := p.requestBody(req)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint+"/book", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("provider request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read provider response: %w", err)
	}
	return parseResponse(resp.StatusCode, data)
}

// requestBody renders the booking parameters and then injects the account
// credentials and the verification answer.
func (p *HTTPProvider) requestBody(req Request) ([]byte, error) {
	body, err := json.Marshal(req.Booking)
	if err != nil {
		return nil, fmt.Errorf("failed to encode booking: %w", err)
	}
	sets := []struct {
		path  string
		value string
	}{
		{"userID", p.credentials.UserID},
		{"password", p.credentials.Password},
		{"captcha", req.Answer},
		{"reference", req.SessionID},
	}
	for _, s := range sets {
		if s.value == "" {
			continue
		}
		body, err = sjson.SetBytes(body, s.path, s.value)
		if err != nil {
			return nil, fmt.Errorf("failed to set %s: %w", s.path, err)
		}
	}
	return body, nil
}

func parseResponse(statusCode int, data []byte) (*Result, error) {
	if !gjson.ValidBytes(data) {
		if statusCode >= 300 {
			return &Result{Status: StatusFailed, Reason: fmt.Sprintf("provider returned %d", statusCode)}, nil
		}
		return nil, fmt.Errorf("provider returned malformed response")
	}

	doc := gjson.ParseBytes(data)
	reason := firstString(doc, "error.message", "error", "message")

	if statusCode >= 300 {
		if reason == "" {
			reason = fmt.Sprintf("provider returned %d", statusCode)
		}
		return &Result{Status: StatusFailed, Reason: reason}, nil
	}

	var ok bool
	if st := doc.Get("status"); st.Exists() {
		switch st.Type {
		case gjson.True, gjson.False:
			ok = st.Bool()
		default:
			ok = strings.EqualFold(st.String(), string(StatusSuccess))
		}
	} else if s := doc.Get("success"); s.Exists() {
		ok = s.Bool()
	} else {
		ok = firstString(doc, "ticket.pnr", "pnr") != ""
	}

	if !ok {
		if reason == "" {
			reason = "booking failed"
		}
		return &Result{Status: StatusFailed, Reason: reason}, nil
	}

	ticket := &relaycommon.Ticket{
		PNR:    firstString(doc, "ticket.pnr", "pnr"),
		Status: firstString(doc, "ticket.status", "bookingStatus"),
		Fare:   firstString(doc, "ticket.fare", "fare"),
	}
	if ticket.PNR == "" {
		return nil, fmt.Errorf("provider reported success without a pnr")
	}
	return &Result{Status: StatusSuccess, Ticket: ticket}, nil
}

func firstString(doc gjson.Result, paths ...string) string {
	for _, p := range paths {
		if r := doc.Get(p); r.Exists() && r.Type != gjson.JSON && r.String() != "" {
			return r.String()
		}
	}
	return ""
}
