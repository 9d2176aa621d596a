package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

var ErrNotConfigured = errors.New("whatsapp access token and phone number id must be set")

// WhatsAppSender sends text messages through the WhatsApp Cloud API.
type WhatsAppSender struct {
	accessToken   string
	phoneNumberID string
	baseURL       string
	httpClient    *http.Client
}

func NewWhatsAppSender(baseURL, accessToken, phoneNumberID string, httpClient *http.Client) (*WhatsAppSender, error) {
	if accessToken == "" || phoneNumberID == "" {
		return nil, ErrNotConfigured
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &WhatsAppSender{
		accessToken:   accessToken,
		phoneNumberID: phoneNumberID,
		baseURL:       strings.TrimRight(baseURL, "/"),
		httpClient:    httpClient,
	}, nil
}

type textMessage struct {
	MessagingProduct string `json:"messaging_product"`
	RecipientType    string `json:"recipient_type"`
	To               string `json:"to"`
	Type             string `json:"type"`
	Text             struct {
		PreviewURL bool   `json:"preview_url"`
		Body       string `json:"body"`
	} `json:"text"`
}

type sendResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
}

// Send delivers body to the WhatsApp id to and returns the provider
// message id.
func (w *WhatsAppSender) Send(ctx context.Context, to, body string) (string, error) {
	msg := textMessage{
		MessagingProduct: "whatsapp",
		RecipientType:    "individual",
		To:               to,
		Type:             "text",
	}
	msg.Text.Body = body

	payload, err := json.Marshal(msg)
	if err != nil {
		return "", fmt.Errorf("marshal message: %w", err)
	}

	url := fmt.Sprintf("%s/%s/messages", w.baseURL, w.phoneNumberID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+w.accessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("whatsapp api error (status %d): %s", resp.StatusCode, string(raw))
	}

	var out sendResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("unmarshal response: %w", err)
	}
	if len(out.Messages) == 0 {
		return "", errors.New("no message id in whatsapp response")
	}
	return out.Messages[0].ID, nil
}

// LogSender only logs outbound messages. It stands in for WhatsApp when no
// credentials are configured.
type LogSender struct {
	logger zerolog.Logger
}

func NewLogSender(logger zerolog.Logger) *LogSender {
	return &LogSender{logger: logger.With().Str("component", "notify").Logger()}
}

func (l *LogSender) Send(_ context.Context, to, body string) (string, error) {
	l.logger.Info().Str("to", to).Int("chars", len(body)).Msg("outbound message (not delivered)")
	return "", nil
}

type Sender interface {
	Send(ctx context.Context, to, body string) (string, error)
}

// NewSender returns a WhatsApp sender, or a LogSender when credentials are
// missing.
func NewSender(baseURL, accessToken, phoneNumberID string, logger zerolog.Logger) Sender {
	sender, err := NewWhatsAppSender(baseURL, accessToken, phoneNumberID, nil)
	if err != nil {
		logger.Warn().Err(err).Msg("whatsapp not configured, outbound messages will only be logged")
		return NewLogSender(logger)
	}
	return sender
}
