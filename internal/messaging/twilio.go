package messaging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/twilio/twilio-go"
	twilioapi "github.com/twilio/twilio-go/rest/api/v2010"
)

const (
	// maxMediaBytes caps inbound media reads. Twilio serves WhatsApp images
	// well under this; anything larger is truncated rather than rejected so
	// vision analysis still gets the bulk of the image.
	maxMediaBytes = 150 * 1024

	mediaFetchTimeout = 15 * time.Second
)

// Opts holds configuration options for the Twilio service.
type Opts struct {
	AccountSID string
	AuthToken  string
	FromNumber string // e.g. "whatsapp:+14155238886"
	HTTPClient *http.Client
}

// Option defines a configuration option for the Twilio service.
type Option func(*Opts)

// WithCredentials sets the Twilio account SID and auth token.
func WithCredentials(sid, token string) Option {
	return func(o *Opts) { o.AccountSID = sid; o.AuthToken = token }
}

// WithFromNumber sets the WhatsApp sender address.
func WithFromNumber(from string) Option {
	return func(o *Opts) { o.FromNumber = from }
}

// WithHTTPClient overrides the client used for media fetches.
func WithHTTPClient(c *http.Client) Option {
	return func(o *Opts) { o.HTTPClient = c }
}

// TwilioService sends WhatsApp messages and fetches inbound media through
// the Twilio REST API.
type TwilioService struct {
	client     *twilio.RestClient
	httpClient *http.Client
	accountSID string
	authToken  string
	from       string
}

// NewTwilioService creates the transport from credentials and a sender number.
func NewTwilioService(opts ...Option) (*TwilioService, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.AccountSID == "" || cfg.AuthToken == "" {
		return nil, fmt.Errorf("twilio credentials not set")
	}
	if cfg.FromNumber == "" {
		return nil, fmt.Errorf("twilio from number not set")
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: mediaFetchTimeout}
	}
	return &TwilioService{
		client: twilio.NewRestClientWithParams(twilio.ClientParams{
			Username: cfg.AccountSID,
			Password: cfg.AuthToken,
		}),
		httpClient: cfg.HTTPClient,
		accountSID: cfg.AccountSID,
		authToken:  cfg.AuthToken,
		from:       cfg.FromNumber,
	}, nil
}

// SendMessage delivers one WhatsApp message to a canonical recipient.
func (s *TwilioService) SendMessage(ctx context.Context, to, body string) error {
	params := &twilioapi.CreateMessageParams{}
	params.SetTo("whatsapp:+" + to)
	params.SetFrom(s.from)
	params.SetBody(body)

	resp, err := s.client.Api.CreateMessage(params)
	if err != nil {
		return fmt.Errorf("failed to send message to %s: %w", to, err)
	}
	sid := ""
	if resp.Sid != nil {
		sid = *resp.Sid
	}
	slog.Debug("TwilioService sent message", "to", to, "sid", sid, "length", len(body))
	return nil
}

// ValidateAndCanonicalizeRecipient normalizes a raw recipient to digits.
func (s *TwilioService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	return CanonicalizePhone(recipient)
}

// FetchMedia downloads inbound media with Twilio basic auth, truncating at
// the size cap.
func (s *TwilioService) FetchMedia(ctx context.Context, url string) ([]byte, string, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, mediaFetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(fetchCtx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", fmt.Errorf("failed to build media request: %w", err)
	}
	req.SetBasicAuth(s.accountSID, s.authToken)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("failed to fetch media: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("media fetch returned status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxMediaBytes))
	if err != nil {
		return nil, "", fmt.Errorf("failed to read media body: %w", err)
	}
	slog.Debug("TwilioService fetched media", "bytes", len(data), "content_type", resp.Header.Get("Content-Type"))
	return data, resp.Header.Get("Content-Type"), nil
}
