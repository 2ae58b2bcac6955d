package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

type Sink interface {
	Name() string
	Send(ctx context.Context, ev Event) error
}

type HTTPError struct {
	Sink       string
	StatusCode int
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("%s http status %d", e.Sink, e.StatusCode)
}

type WebhookPayload struct {
	Project    string `json:"project"`
	Event      string `json:"event"`
	Message    string `json:"message"`
	Title      string `json:"title"`
	SignalID   string `json:"signal_id"`
	Instrument string `json:"instrument"`
	Result     string `json:"result,omitempty"`
}

type WebhookSink struct {
	URL     string
	Project string
	HTTP    *http.Client
}

func (s WebhookSink) Name() string { return "webhook" }

func (s WebhookSink) Send(ctx context.Context, ev Event) error {
	if strings.TrimSpace(s.URL) == "" {
		return fmt.Errorf("webhook url not configured")
	}
	return postJSON(ctx, s.HTTP, s.Name(), s.URL, WebhookPayload{
		Project:    s.Project,
		Event:      "signal." + ev.Type,
		Message:    ev.Body(),
		Title:      ev.Title(),
		SignalID:   ev.SignalID,
		Instrument: ev.Instrument,
		Result:     ev.Result,
	})
}

const defaultTelegramAPI = "https://api.telegram.org"

type TelegramSink struct {
	BotToken string
	ChatID   string
	// APIBase overrides the Bot API host.
	APIBase string
	HTTP    *http.Client
}

type telegramSendMessageRequest struct {
	ChatID string `json:"chat_id"`
	Text   string `json:"text"`
}

func (s TelegramSink) Name() string { return "telegram" }

func (s TelegramSink) Send(ctx context.Context, ev Event) error {
	if s.BotToken == "" || s.ChatID == "" {
		return fmt.Errorf("missing bot_token/chat_id")
	}
	base := strings.TrimRight(s.APIBase, "/")
	if base == "" {
		base = defaultTelegramAPI
	}
	endpoint := fmt.Sprintf("%s/bot%s/sendMessage", base, url.PathEscape(s.BotToken))
	return postJSON(ctx, s.HTTP, s.Name(), endpoint, telegramSendMessageRequest{
		ChatID: s.ChatID,
		Text:   ev.Title() + "\n" + ev.Body(),
	})
}

func postJSON(ctx context.Context, client *http.Client, sink, endpoint string, body any) error {
	b, err := json.Marshal(body)
	if err != nil {
		return err
	}
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &HTTPError{Sink: sink, StatusCode: resp.StatusCode}
	}
	return nil
}
