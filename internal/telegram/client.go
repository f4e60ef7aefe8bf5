// Package telegram wraps the Telegram Bot API client used for both inbound
// media resolution and outbound reply delivery.
package telegram

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"
	"golang.org/x/time/rate"
)

const (
	// defaultSendRate caps outbound API calls. The Bot API allows ~30
	// messages per second overall; we stay under it.
	defaultSendRate = 25

	// defaultMediaMaxBytes is the max download size (20MB, Telegram Bot API limit).
	defaultMediaMaxBytes int64 = 20 * 1024 * 1024

	// getFileMaxRetries is the number of GetFile retry attempts.
	getFileMaxRetries = 3
)

// Opts holds configuration options for the Telegram client.
type Opts struct {
	Token      string
	APIServer  string
	HTTPClient *http.Client
}

// Option defines a configuration option for the Telegram client.
type Option func(*Opts)

// WithToken sets the bot token.
func WithToken(token string) Option {
	return func(o *Opts) { o.Token = token }
}

// WithAPIServer overrides the Bot API server URL. Used in tests.
func WithAPIServer(url string) Option {
	return func(o *Opts) { o.APIServer = url }
}

// WithHTTPClient sets a custom HTTP client for API and file downloads.
func WithHTTPClient(c *http.Client) Option {
	return func(o *Opts) { o.HTTPClient = c }
}

// Client is a thin wrapper over telego with outbound rate limiting.
type Client struct {
	bot       *telego.Bot
	token     string
	apiServer string
	http      *http.Client
	limiter   *rate.Limiter
}

// NewClient creates a Telegram client from the given options.
func NewClient(opts ...Option) (*Client, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Token == "" {
		return nil, fmt.Errorf("telegram bot token not set")
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}

	botOpts := []telego.BotOption{telego.WithHTTPClient(httpClient)}
	apiServer := "https://api.telegram.org"
	if cfg.APIServer != "" {
		apiServer = strings.TrimRight(cfg.APIServer, "/")
		botOpts = append(botOpts, telego.WithAPIServer(apiServer))
	}

	bot, err := telego.NewBot(cfg.Token, botOpts...)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	slog.Debug("Telegram.NewClient: bot created", "apiServer", apiServer)

	return &Client{
		bot:       bot,
		token:     cfg.Token,
		apiServer: apiServer,
		http:      httpClient,
		limiter:   rate.NewLimiter(rate.Limit(defaultSendRate), defaultSendRate),
	}, nil
}

// ParseUpdate decodes a webhook request body into a Telegram update.
func ParseUpdate(body []byte) (*telego.Update, error) {
	var u telego.Update
	if err := json.Unmarshal(body, &u); err != nil {
		return nil, fmt.Errorf("decode telegram update: %w", err)
	}
	return &u, nil
}

// SendMessage sends a plain text message.
func (c *Client) SendMessage(ctx context.Context, chatID int64, text string) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	_, err := c.bot.SendMessage(ctx, tu.Message(tu.ID(chatID), text))
	if err != nil {
		return fmt.Errorf("send message to chat %d: %w", chatID, err)
	}
	return nil
}

// SendCopyableCode sends text wrapped in a MarkdownV2 code span so the user
// can copy it with one tap. Used for PIX copy-paste codes.
func (c *Client) SendCopyableCode(ctx context.Context, chatID int64, code string) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	msg := tu.Message(tu.ID(chatID), "`"+escapeMarkdownV2Code(code)+"`")
	msg.ParseMode = telego.ModeMarkdownV2
	_, err := c.bot.SendMessage(ctx, msg)
	if err != nil {
		return fmt.Errorf("send copyable code to chat %d: %w", chatID, err)
	}
	return nil
}

// SendPhoto sends a photo by URL with an optional caption.
func (c *Client) SendPhoto(ctx context.Context, chatID int64, url, caption string) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	params := tu.Photo(tu.ID(chatID), telego.InputFile{URL: url})
	if caption != "" {
		params = params.WithCaption(caption)
	}
	_, err := c.bot.SendPhoto(ctx, params)
	if err != nil {
		return fmt.Errorf("send photo to chat %d: %w", chatID, err)
	}
	return nil
}

// SendVideo sends a video by URL with an optional caption.
func (c *Client) SendVideo(ctx context.Context, chatID int64, url, caption string) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	params := tu.Video(tu.ID(chatID), telego.InputFile{URL: url})
	if caption != "" {
		params = params.WithCaption(caption)
	}
	_, err := c.bot.SendVideo(ctx, params)
	if err != nil {
		return fmt.Errorf("send video to chat %d: %w", chatID, err)
	}
	return nil
}

// SendTyping shows the "typing..." indicator in the chat. Failures are
// logged, not returned: the indicator is cosmetic.
func (c *Client) SendTyping(ctx context.Context, chatID int64) {
	if err := c.limiter.Wait(ctx); err != nil {
		return
	}
	action := tu.ChatAction(tu.ID(chatID), telego.ChatActionTyping)
	if err := c.bot.SendChatAction(ctx, action); err != nil {
		slog.Debug("Telegram.SendTyping failed", "chatID", chatID, "error", err)
	}
}

// FileURL resolves a Telegram file_id to a download URL, retrying GetFile
// with linear backoff.
func (c *Client) FileURL(ctx context.Context, fileID string) (string, error) {
	var file *telego.File
	var err error
	for attempt := 1; attempt <= getFileMaxRetries; attempt++ {
		file, err = c.bot.GetFile(ctx, &telego.GetFileParams{FileID: fileID})
		if err == nil {
			break
		}
		if attempt < getFileMaxRetries {
			slog.Debug("Telegram.FileURL: retrying GetFile", "fileID", fileID, "attempt", attempt, "error", err)
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(time.Duration(attempt) * time.Second):
			}
		}
	}
	if err != nil {
		return "", fmt.Errorf("get file info after %d attempts: %w", getFileMaxRetries, err)
	}
	if file.FilePath == "" {
		return "", fmt.Errorf("empty file path for file_id %s", fileID)
	}
	return fmt.Sprintf("%s/file/bot%s/%s", c.apiServer, c.token, file.FilePath), nil
}

// DownloadFile fetches a resolved file URL and returns its bytes. Files above
// the Bot API size limit are rejected.
func (c *Client) DownloadFile(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download file: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download failed with status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, defaultMediaMaxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read file body: %w", err)
	}
	if int64(len(data)) > defaultMediaMaxBytes {
		return nil, fmt.Errorf("file too large: exceeds %d bytes", defaultMediaMaxBytes)
	}
	return data, nil
}

// escapeMarkdownV2Code escapes the characters that are special inside a
// MarkdownV2 code span.
func escapeMarkdownV2Code(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, "`", "\\`")
	return s
}
