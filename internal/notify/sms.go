package notify

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

	"github.com/sirdesai22/mutualaid/internal/models"
)

// SMSSink talks to a RapidPro-style messaging API: the contact is upserted
// into the conversation group first, then the body is broadcast to it.
type SMSSink struct {
	BaseURL string
	Token   string
	Client  *http.Client
}

func NewSMSSink(baseURL, token string, timeout time.Duration) *SMSSink {
	return &SMSSink{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Token:   token,
		Client:  &http.Client{Timeout: timeout},
	}
}

type smsContact struct {
	URNs   []string `json:"urns"`
	Groups []string `json:"groups,omitempty"`
}

type smsBroadcast struct {
	URNs []string `json:"urns"`
	Text string   `json:"text"`
}

func (s *SMSSink) Send(ctx context.Context, m Message) error {
	urn := "tel:+1" + m.To
	contact := smsContact{URNs: []string{urn}}
	if m.Group != "" {
		contact.Groups = []string{m.Group}
	}
	if err := s.post(ctx, "/api/v2/contacts.json?urn="+url.QueryEscape(urn), contact); err != nil {
		return err
	}
	return s.post(ctx, "/api/v2/broadcasts.json", smsBroadcast{URNs: []string{urn}, Text: m.Body})
}

func (s *SMSSink) post(ctx context.Context, path string, body any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.BaseURL+path, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Token "+s.Token)
	req.Header.Set("Content-Type", "application/json")

	res, err := s.Client.Do(req)
	if err != nil {
		return &TransportError{Channel: models.ChannelSMS, Err: err}
	}
	defer res.Body.Close()
	if res.StatusCode/100 != 2 {
		msg, _ := io.ReadAll(io.LimitReader(res.Body, 512))
		return &TransportError{
			Channel:    models.ChannelSMS,
			StatusCode: res.StatusCode,
			Err:        fmt.Errorf("%s: %s", path, strings.TrimSpace(string(msg))),
		}
	}
	return nil
}
