package feishu

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	lark "github.com/larksuite/oapi-sdk-go/v3"
	larkcore "github.com/larksuite/oapi-sdk-go/v3/core"
	"github.com/larksuite/oapi-sdk-go/v3/event/dispatcher"
	larkim "github.com/larksuite/oapi-sdk-go/v3/service/im/v1"
	larkws "github.com/larksuite/oapi-sdk-go/v3/ws"
	"github.com/rs/zerolog"

	"github.com/devricklin/imessage-feishu-relay/internal/biz/domain"
)

const (
	// ReceiveIDChat addresses a group chat
	ReceiveIDChat = larkim.ReceiveIdTypeChatId
	// ReceiveIDOpenID addresses a user directly
	ReceiveIDOpenID = larkim.ReceiveIdTypeOpenId

	// rateLimitCode is the Feishu business code for "request too frequent"
	rateLimitCode = 99991400
	// rateLimitResetHeader carries the seconds until the quota resets
	rateLimitResetHeader = "x-ogw-ratelimit-reset"
	defaultRetryAfter    = time.Second

	senderTypeApp = "app"
)

// Message represents a received Feishu message
type Message struct {
	ChatID     string
	MsgID      string
	MsgType    string // text, post
	ChatType   string // p2p, group
	Content    string
	SenderID   string // open_id
	SenderType string // user, app
	CreateTime int64  // milliseconds
}

// Inbound converts the event into the relay's inbound message
func (m *Message) Inbound() domain.InboundMessage {
	return domain.InboundMessage{
		MessageID: m.MsgID,
		ChannelID: m.ChatID,
		AuthorID:  m.SenderID,
		FromSelf:  m.SenderType == senderTypeApp,
		Text:      m.Content,
	}
}

// MessageHandler is the callback for received messages
type MessageHandler func(msg *Message)

// Client is the Feishu API client
type Client struct {
	appID     string
	appSecret string
	baseURL   string
	larkCli   *lark.Client
	onMessage MessageHandler
	log       zerolog.Logger
}

// NewClient creates a new Feishu client. An empty baseURL means open.feishu.cn.
func NewClient(appID, appSecret, baseURL string, log zerolog.Logger) *Client {
	if baseURL == "" {
		baseURL = lark.FeishuBaseUrl
	}
	return &Client{
		appID:     appID,
		appSecret: appSecret,
		baseURL:   baseURL,
		larkCli:   lark.NewClient(appID, appSecret, lark.WithOpenBaseUrl(baseURL)),
		log:       log,
	}
}

// OnMessage sets the message handler
func (c *Client) OnMessage(handler MessageHandler) {
	c.onMessage = handler
}

// Start connects to Feishu via WebSocket and blocks while listening for messages
func (c *Client) Start(ctx context.Context) error {
	// The handler must return quickly so the SDK can ACK; callers queue the work.
	eventHandler := dispatcher.NewEventDispatcher("", "").
		OnP2MessageReceiveV1(func(ctx context.Context, event *larkim.P2MessageReceiveV1) error {
			if msg := parseEvent(event); msg != nil && c.onMessage != nil {
				c.onMessage(msg)
			}
			return nil
		})

	wsCli := larkws.NewClient(c.appID, c.appSecret,
		larkws.WithEventHandler(eventHandler),
		larkws.WithDomain(c.baseURL),
		larkws.WithLogLevel(larkcore.LogLevelInfo),
	)

	c.log.Info().Msg("starting websocket connection")
	return wsCli.Start(ctx)
}

// CreateChat creates a group chat owned by ownerID and returns its chat_id
func (c *Client) CreateChat(ctx context.Context, name, ownerID string) (string, error) {
	body := larkim.NewCreateChatReqBodyBuilder().Name(name)
	if ownerID != "" {
		body = body.OwnerId(ownerID).UserIdList([]string{ownerID})
	}
	req := larkim.NewCreateChatReqBuilder().
		UserIdType("open_id").
		Body(body.Build()).
		Build()

	resp, err := c.larkCli.Im.Chat.Create(ctx, req)
	if err != nil {
		return "", fmt.Errorf("create chat failed: %w", err)
	}
	if !resp.Success() {
		return "", classify(resp.ApiResp, resp.Code, resp.Msg)
	}
	if resp.Data == nil || resp.Data.ChatId == nil {
		return "", fmt.Errorf("create chat returned no chat_id")
	}

	c.log.Info().Str("chat_id", *resp.Data.ChatId).Str("name", name).Msg("chat created")
	return *resp.Data.ChatId, nil
}

// SendText sends a text message. uuid, when set, makes the send idempotent for an hour.
func (c *Client) SendText(ctx context.Context, receiveIDType, receiveID, text, uuid string) error {
	contentJSON, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return fmt.Errorf("failed to encode content: %w", err)
	}

	body := larkim.NewCreateMessageReqBodyBuilder().
		ReceiveId(receiveID).
		MsgType(larkim.MsgTypeText).
		Content(string(contentJSON))
	if uuid != "" {
		body = body.Uuid(uuid)
	}
	req := larkim.NewCreateMessageReqBuilder().
		ReceiveIdType(receiveIDType).
		Body(body.Build()).
		Build()

	resp, err := c.larkCli.Im.Message.Create(ctx, req)
	if err != nil {
		return fmt.Errorf("send message failed: %w", err)
	}
	if !resp.Success() {
		return classify(resp.ApiResp, resp.Code, resp.Msg)
	}

	c.log.Debug().Str("receive_id", receiveID).Msg("message sent")
	return nil
}

// classify maps an unsuccessful API response to a rate limit or remote error
func classify(api *larkcore.ApiResp, code int, msg string) error {
	var (
		status int
		header http.Header
		body   string
	)
	if api != nil {
		status = api.StatusCode
		header = api.Header
		body = string(api.RawBody)
	}
	if rl := rateLimitFrom(status, code, header); rl != nil {
		return rl
	}
	if body == "" {
		body = msg
	}
	return &domain.RemoteError{Status: status, Code: code, Body: body}
}

// rateLimitFrom returns a RateLimitError when the response signals throttling
func rateLimitFrom(status, code int, header http.Header) *domain.RateLimitError {
	if status != http.StatusTooManyRequests && code != rateLimitCode {
		return nil
	}
	wait := defaultRetryAfter
	if header != nil {
		if v := strings.TrimSpace(header.Get(rateLimitResetHeader)); v != "" {
			if secs, err := strconv.ParseFloat(v, 64); err == nil && secs > 0 {
				wait = time.Duration(secs * float64(time.Second))
			}
		}
	}
	return &domain.RateLimitError{RetryAfter: wait}
}

// parseEvent extracts the fields the relay needs. Unsupported types yield nil.
func parseEvent(event *larkim.P2MessageReceiveV1) *Message {
	if event == nil || event.Event == nil || event.Event.Message == nil {
		return nil
	}
	raw := event.Event.Message

	msg := &Message{
		ChatID:   deref(raw.ChatId),
		MsgID:    deref(raw.MessageId),
		MsgType:  deref(raw.MessageType),
		ChatType: deref(raw.ChatType),
	}
	if raw.CreateTime != nil {
		if ts, err := strconv.ParseInt(*raw.CreateTime, 10, 64); err == nil {
			msg.CreateTime = ts
		}
	}
	if sender := event.Event.Sender; sender != nil {
		msg.SenderType = deref(sender.SenderType)
		if sender.SenderId != nil {
			msg.SenderID = deref(sender.SenderId.OpenId)
		}
	}

	mentions := make(map[string]string)
	for _, m := range raw.Mentions {
		if m != nil && m.Key != nil && m.Name != nil {
			mentions[*m.Key] = *m.Name
		}
	}

	content := deref(raw.Content)
	switch msg.MsgType {
	case "text":
		msg.Content = parseTextContent(content, mentions)
	case "post":
		msg.Content = parsePostContent(content, mentions)
	default:
		return nil
	}
	return msg
}

// parseTextContent extracts text, replacing mention placeholders (@_user_1) with names
func parseTextContent(content string, mentions map[string]string) string {
	var parsed struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal([]byte(content), &parsed); err != nil {
		return ""
	}
	return replaceMentions(parsed.Text, mentions)
}

// parsePostContent flattens a rich text message to plain lines
func parsePostContent(content string, mentions map[string]string) string {
	var parsed struct {
		Title   string `json:"title"`
		Content [][]struct {
			Tag    string `json:"tag"`
			Text   string `json:"text,omitempty"`
			UserID string `json:"user_id,omitempty"`
		} `json:"content"`
	}
	if err := json.Unmarshal([]byte(content), &parsed); err != nil {
		return ""
	}

	var lines []string
	if parsed.Title != "" {
		lines = append(lines, parsed.Title)
	}
	for _, line := range parsed.Content {
		var parts []string
		for _, elem := range line {
			switch elem.Tag {
			case "text", "a":
				if elem.Text != "" {
					parts = append(parts, elem.Text)
				}
			case "at":
				if name, ok := mentions[elem.UserID]; ok {
					parts = append(parts, "@"+name)
				} else if elem.UserID != "" {
					parts = append(parts, "@"+elem.UserID)
				}
			}
		}
		if len(parts) > 0 {
			lines = append(lines, strings.Join(parts, ""))
		}
	}
	return replaceMentions(strings.Join(lines, "\n"), mentions)
}

func replaceMentions(text string, mentions map[string]string) string {
	for key, name := range mentions {
		text = strings.ReplaceAll(text, key, "@"+name)
	}
	return text
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
