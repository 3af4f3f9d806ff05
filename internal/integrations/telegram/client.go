package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"groupbuy-bot/internal/domain"
)

// tokenPayload is the expected JSON shape stored in SSM for the bot token.
type tokenPayload struct {
	Token string `json:"token"`
}

type Getter interface {
	GetParameter(ctx context.Context, name string) (string, error)
}

// HTTPStatusError captures non-2xx Bot API responses with status-aware
// context. Status 403 means the bot cannot message the chat (the user
// never opened a private channel, or blocked the bot).
type HTTPStatusError struct {
	StatusCode int
	Method     string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("telegram: unexpected status %d from %s: %s", e.StatusCode, e.Method, e.Body)
}

func (e *HTTPStatusError) HTTPStatusCode() int {
	return e.StatusCode
}

// IsForbidden reports whether err is a Bot API 403, i.e. the recipient
// chat is closed to the bot.
func IsForbidden(err error) bool {
	var statusErr *HTTPStatusError
	return errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusForbidden
}

// inlineKeyboardButton and friends are the minimal Bot API wire shapes
// this client sends and reads.
type inlineKeyboardButton struct {
	Text         string `json:"text"`
	CallbackData string `json:"callback_data"`
}

type inlineKeyboardMarkup struct {
	InlineKeyboard [][]inlineKeyboardButton `json:"inline_keyboard"`
}

type sendMessageRequest struct {
	ChatID      int64                 `json:"chat_id"`
	Text        string                `json:"text"`
	ParseMode   string                `json:"parse_mode,omitempty"`
	ReplyMarkup *inlineKeyboardMarkup `json:"reply_markup,omitempty"`
}

type sendPhotoRequest struct {
	ChatID    int64  `json:"chat_id"`
	Photo     string `json:"photo"`
	Caption   string `json:"caption,omitempty"`
	ParseMode string `json:"parse_mode,omitempty"`
}

type editMessageTextRequest struct {
	ChatID      int64                 `json:"chat_id"`
	MessageID   int64                 `json:"message_id"`
	Text        string                `json:"text"`
	ParseMode   string                `json:"parse_mode,omitempty"`
	ReplyMarkup *inlineKeyboardMarkup `json:"reply_markup,omitempty"`
}

type answerCallbackRequest struct {
	CallbackQueryID string `json:"callback_query_id"`
}

type apiResponse struct {
	OK          bool            `json:"ok"`
	Description string          `json:"description"`
	Result      json.RawMessage `json:"result"`
}

type messageResult struct {
	MessageID int64 `json:"message_id"`
}

// Client is a focused Telegram Bot API client covering the four calls
// the wizard emits. The bot token is fetched from SSM on the first call
// and reused for the lifetime of the process.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	getter      Getter
	paramPrefix string

	tokenOnce sync.Once
	token     string
	tokenErr  error
}

type Option func(*Client)

func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimSpace(baseURL)
	}
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// NewClient creates a new Client backed by the given paramstore.Getter
// for bot token retrieval.
func NewClient(ps Getter, paramPrefix string, opts ...Option) (*Client, error) {
	if ps == nil {
		return nil, errors.New("telegram: paramstore getter must not be nil")
	}
	paramPrefix = strings.TrimRight(strings.TrimSpace(paramPrefix), "/")
	if paramPrefix == "" {
		return nil, errors.New("telegram: parameter prefix must not be empty")
	}
	c := &Client{
		baseURL:     "https://api.telegram.org",
		httpClient:  &http.Client{Timeout: 10 * time.Second},
		getter:      ps,
		paramPrefix: paramPrefix,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// resolveToken fetches the bot token from SSM on the first call and
// returns the cached result on every subsequent call within the same
// process lifetime.
func (c *Client) resolveToken(ctx context.Context) (string, error) {
	c.tokenOnce.Do(func() {
		c.token, c.tokenErr = fetchTokenFromParamStore(ctx, c.getter, c.tokenParameterName())
	})
	return c.token, c.tokenErr
}

func (c *Client) tokenParameterName() string {
	return c.paramPrefix + "/telegram-bot-token"
}

func (c *Client) resolvedHTTPClient() *http.Client {
	if c.httpClient != nil {
		return c.httpClient
	}
	return &http.Client{Timeout: 10 * time.Second}
}

// methodURL builds the Bot API endpoint for one method.
func methodURL(baseURL, token, method string) string {
	base := strings.TrimRight(baseURL, "/")
	if base == "" {
		base = "https://api.telegram.org"
	}
	return base + "/bot" + token + "/" + method
}

// SendMessage sends text (with an optional inline keyboard) and returns
// the id of the delivered message.
func (c *Client) SendMessage(ctx context.Context, chatID int64, text string, buttons [][]domain.Button) (int64, error) {
	raw, err := c.call(ctx, "sendMessage", sendMessageRequest{
		ChatID:      chatID,
		Text:        text,
		ParseMode:   "Markdown",
		ReplyMarkup: markup(buttons),
	})
	if err != nil {
		return 0, err
	}
	return decodeMessageID(raw)
}

// SendPhoto sends a previously-uploaded photo by file id with a caption
// and returns the id of the delivered message.
func (c *Client) SendPhoto(ctx context.Context, chatID int64, fileID, caption string) (int64, error) {
	raw, err := c.call(ctx, "sendPhoto", sendPhotoRequest{
		ChatID:    chatID,
		Photo:     fileID,
		Caption:   caption,
		ParseMode: "Markdown",
	})
	if err != nil {
		return 0, err
	}
	return decodeMessageID(raw)
}

// EditMessageText replaces the text (and keyboard) of a previously sent
// message.
func (c *Client) EditMessageText(ctx context.Context, chatID, messageID int64, text string, buttons [][]domain.Button) error {
	_, err := c.call(ctx, "editMessageText", editMessageTextRequest{
		ChatID:      chatID,
		MessageID:   messageID,
		Text:        text,
		ParseMode:   "Markdown",
		ReplyMarkup: markup(buttons),
	})
	return err
}

// AnswerCallbackQuery acknowledges a button press so the client stops
// showing a progress indicator.
func (c *Client) AnswerCallbackQuery(ctx context.Context, callbackID string) error {
	if strings.TrimSpace(callbackID) == "" {
		return errors.New("telegram: callback id must not be empty")
	}
	_, err := c.call(ctx, "answerCallbackQuery", answerCallbackRequest{CallbackQueryID: callbackID})
	return err
}

func markup(buttons [][]domain.Button) *inlineKeyboardMarkup {
	if len(buttons) == 0 {
		return nil
	}
	rows := make([][]inlineKeyboardButton, 0, len(buttons))
	for _, row := range buttons {
		r := make([]inlineKeyboardButton, 0, len(row))
		for _, b := range row {
			r = append(r, inlineKeyboardButton{Text: b.Text, CallbackData: b.Data})
		}
		rows = append(rows, r)
	}
	return &inlineKeyboardMarkup{InlineKeyboard: rows}
}

func (c *Client) call(ctx context.Context, method string, payload any) (json.RawMessage, error) {
	token, err := c.resolveToken(ctx)
	if err != nil {
		return nil, err
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("telegram: marshal %s request: %w", method, err)
	}

	req, reqErr := http.NewRequestWithContext(ctx, http.MethodPost, methodURL(c.baseURL, token, method), bytes.NewReader(body))
	if reqErr != nil {
		return nil, fmt.Errorf("telegram: create %s request: %w", method, reqErr)
	}
	req.Header.Set("Content-Type", "application/json")

	raw, err := c.doJSONRequest(req, method)
	if err != nil {
		return nil, fmt.Errorf("telegram: %s failed: %w", method, err)
	}

	var payloadOut apiResponse
	if decErr := json.Unmarshal(raw, &payloadOut); decErr != nil {
		return nil, fmt.Errorf("telegram: decode %s response: %w", method, decErr)
	}
	if !payloadOut.OK {
		return nil, fmt.Errorf("telegram: %s rejected: %s", method, payloadOut.Description)
	}
	return payloadOut.Result, nil
}

func decodeMessageID(raw json.RawMessage) (int64, error) {
	var msg messageResult
	if err := json.Unmarshal(raw, &msg); err != nil {
		return 0, fmt.Errorf("telegram: decode message result: %w", err)
	}
	if msg.MessageID == 0 {
		return 0, errors.New("telegram: message result missing message_id")
	}
	return msg.MessageID, nil
}

func (c *Client) doJSONRequest(req *http.Request, method string) ([]byte, error) {
	res, doErr := c.resolvedHTTPClient().Do(req)
	if doErr != nil {
		return nil, doErr
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		buf, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return nil, &HTTPStatusError{
			StatusCode: res.StatusCode,
			Method:     method,
			Body:       string(buf),
		}
	}

	buf, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	return buf, nil
}

func fetchTokenFromParamStore(ctx context.Context, getter Getter, name string) (string, error) {
	if getter == nil {
		return "", errors.New("telegram: paramstore getter is nil")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return "", errors.New("telegram: token parameter name is empty")
	}

	raw, err := getter.GetParameter(ctx, name)
	if err != nil {
		return "", fmt.Errorf("telegram: fetch token from paramstore: %w", err)
	}
	var tp tokenPayload
	if err := json.Unmarshal([]byte(raw), &tp); err != nil {
		return "", fmt.Errorf("telegram: unmarshal paramstore token value as JSON: %w", err)
	}
	if tp.Token == "" {
		return "", fmt.Errorf("telegram: bot token is empty")
	}
	return tp.Token, nil
}
