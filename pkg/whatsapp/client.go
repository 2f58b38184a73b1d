// Package whatsapp provides a client for the WhatsApp Business Cloud API.
//
// It owns outbound template sends, phone-number normalization and
// validation, transient-error retry with backoff, and a token-bucket rate
// limit on outgoing calls. Designed to be used as the messaging channel of
// the courier delivery pipeline.
package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"sort"
	"time"

	"golang.org/x/time/rate"
)

// Config holds provider credentials and client behaviour.
type Config struct {
	APIBase           string // e.g. https://graph.facebook.com
	APIVersion        string // e.g. v18.0
	PhoneNumberID     string
	BusinessAccountID string
	AccessToken       string
	MaxRetries        int           // attempts per send, transient errors only
	RetryDelay        time.Duration // base backoff delay, doubled per attempt
	RatePerSecond     int           // outgoing call ceiling
}

// Provider error codes that must not be retried.
const (
	codeInvalidParameter = 100
	codeUnapprovedTmpl   = 131026
	codeWindowExpired    = 131051
	codeNotOnWhatsApp    = 131052
	codeRateLimited      = 131056
)

// APIError is an error response from the provider.
type APIError struct {
	Code    int    `json:"code"`
	Type    string `json:"type"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("whatsapp API error %d: %s", e.Code, e.Message)
}

// IsPermanent reports whether err is a provider error that retrying cannot
// fix: invalid recipient, unapproved template, expired conversation window.
func IsPermanent(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	switch apiErr.Code {
	case codeInvalidParameter, codeUnapprovedTmpl, codeWindowExpired, codeNotOnWhatsApp:
		return true
	}
	return false
}

var (
	ErrInvalidPhone = errors.New("invalid phone number")

	nonDigits   = regexp.MustCompile(`\D`)
	indianLocal = regexp.MustCompile(`^[6-9]\d{9}$`)
)

// Client sends template messages through the WhatsApp Cloud API.
type Client struct {
	cfg     Config
	client  *http.Client
	limiter *rate.Limiter
}

// NewClient creates a new WhatsApp Client instance.
func NewClient(cfg Config) *Client {
	if cfg.APIBase == "" {
		cfg.APIBase = "https://graph.facebook.com"
	}
	if cfg.APIVersion == "" {
		cfg.APIVersion = "v18.0"
	}
	if cfg.MaxRetries < 1 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 5 * time.Second
	}
	if cfg.RatePerSecond <= 0 {
		cfg.RatePerSecond = 80
	}

	return &Client{
		cfg:     cfg,
		client:  &http.Client{Timeout: 30 * time.Second},
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSecond), cfg.RatePerSecond),
	}
}

// NormalizePhone strips formatting and prefixes the Indian country code for
// ten-digit local numbers.
func NormalizePhone(phone string) string {
	cleaned := nonDigits.ReplaceAllString(phone, "")
	if len(cleaned) == 10 {
		cleaned = "91" + cleaned
	}
	return cleaned
}

// ValidatePhone reports whether phone is a valid Indian mobile number, with
// or without the 91 country code.
func ValidatePhone(phone string) bool {
	cleaned := nonDigits.ReplaceAllString(phone, "")
	switch len(cleaned) {
	case 10:
		return indianLocal.MatchString(cleaned)
	case 12:
		return cleaned[:2] == "91" && indianLocal.MatchString(cleaned[2:])
	}
	return false
}

type templateMessage struct {
	MessagingProduct string       `json:"messaging_product"`
	RecipientType    string       `json:"recipient_type"`
	To               string       `json:"to"`
	Type             string       `json:"type"`
	Template         templateBody `json:"template"`
}

type templateBody struct {
	Name       string      `json:"name"`
	Language   languageRef `json:"language"`
	Components []component `json:"components,omitempty"`
}

type languageRef struct {
	Code string `json:"code"`
}

type component struct {
	Type       string      `json:"type"`
	Parameters []parameter `json:"parameters,omitempty"`
}

type parameter struct {
	Type  string    `json:"type"`
	Text  string    `json:"text,omitempty"`
	Image *imageRef `json:"image,omitempty"`
}

type imageRef struct {
	Link string `json:"link"`
}

type sendResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
	Error *APIError `json:"error"`
}

// SendTemplate sends one template message and returns the provider-assigned
// message id. Parameters are ordered by key (param1, param2, ...) into body
// positions; mediaURL, when set, becomes an image header.
//
// Transient failures (timeouts, 5xx, rate limits) are retried with
// exponential backoff up to MaxRetries; permanent provider errors are
// returned immediately.
func (c *Client) SendTemplate(ctx context.Context, phone, templateName, language string, params map[string]string, mediaURL string) (string, error) {
	if !ValidatePhone(phone) {
		return "", fmt.Errorf("%w: %s", ErrInvalidPhone, phone)
	}

	msg := templateMessage{
		MessagingProduct: "whatsapp",
		RecipientType:    "individual",
		To:               NormalizePhone(phone),
		Type:             "template",
		Template: templateBody{
			Name:       templateName,
			Language:   languageRef{Code: language},
			Components: buildComponents(params, mediaURL),
		},
	}

	var lastErr error
	delay := c.cfg.RetryDelay

	for attempt := 1; attempt <= c.cfg.MaxRetries; attempt++ {
		id, err := c.send(ctx, msg)
		if err == nil {
			return id, nil
		}

		lastErr = err
		if IsPermanent(err) || ctx.Err() != nil {
			return "", err
		}

		if attempt < c.cfg.MaxRetries {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
		}
	}

	return "", lastErr
}

func (c *Client) send(ctx context.Context, msg templateMessage) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", err
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/%s/%s/messages", c.cfg.APIBase, c.cfg.APIVersion, c.cfg.PhoneNumberID)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.AccessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	var out sendResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		if out.Error != nil {
			return "", out.Error
		}
		return "", fmt.Errorf("whatsapp API error: %s", resp.Status)
	}

	if len(out.Messages) == 0 {
		return "", fmt.Errorf("no message id returned")
	}

	return out.Messages[0].ID, nil
}

// buildComponents orders params by key into body positions and prepends an
// image header when mediaURL is set.
func buildComponents(params map[string]string, mediaURL string) []component {
	var components []component

	if mediaURL != "" {
		components = append(components, component{
			Type: "header",
			Parameters: []parameter{
				{Type: "image", Image: &imageRef{Link: mediaURL}},
			},
		})
	}

	if len(params) > 0 {
		keys := make([]string, 0, len(params))
		for k := range params {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		body := make([]parameter, 0, len(keys))
		for _, k := range keys {
			body = append(body, parameter{Type: "text", Text: params[k]})
		}
		components = append(components, component{Type: "body", Parameters: body})
	}

	return components
}

// Template is the provider's view of a registered message template.
type Template struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Language string `json:"language"`
	Status   string `json:"status"`
	Quality  string `json:"quality"`
}

type templateListResponse struct {
	Data []struct {
		ID           string `json:"id"`
		Name         string `json:"name"`
		Language     string `json:"language"`
		Status       string `json:"status"`
		QualityScore struct {
			Score string `json:"score"`
		} `json:"quality_score"`
	} `json:"data"`
	Error *APIError `json:"error"`
}

// GetTemplate fetches the approval status and quality rating of a template.
// A nil template with nil error means the provider does not know the name.
func (c *Client) GetTemplate(ctx context.Context, name, language string) (*Template, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/%s/%s/message_templates?name=%s",
		c.cfg.APIBase, c.cfg.APIVersion, c.cfg.BusinessAccountID, name)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.AccessToken)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	var out templateListResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		if out.Error != nil {
			return nil, out.Error
		}
		return nil, fmt.Errorf("whatsapp API error: %s", resp.Status)
	}

	for _, t := range out.Data {
		if t.Name == name && t.Language == language {
			quality := t.QualityScore.Score
			if quality == "" {
				quality = "UNKNOWN"
			}
			return &Template{
				ID:       t.ID,
				Name:     t.Name,
				Language: t.Language,
				Status:   t.Status,
				Quality:  quality,
			}, nil
		}
	}

	return nil, nil
}
