package feishu

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	lark "github.com/larksuite/oapi-sdk-go/v3"
	larkim "github.com/larksuite/oapi-sdk-go/v3/service/im/v1"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Error codes returned by the Feishu open API that mean the chat is gone for us
const (
	codeBotNotInChat     = 230002
	codeNoPermission     = 230027
	codeChatDisbanded    = 232009
	codeRateLimitReached = 99991400
)

// APIError is a non-success response from the Feishu API
type APIError struct {
	Op   string
	Code int
	Msg  string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s error: code=%d msg=%s", e.Op, e.Code, e.Msg)
}

// Permanent reports whether retrying cannot succeed until someone intervenes
func (e *APIError) Permanent() bool {
	switch e.Code {
	case codeBotNotInChat, codeNoPermission, codeChatDisbanded:
		return true
	}
	return false
}

// RateLimited reports whether the request hit the frequency limit
func (e *APIError) RateLimited() bool {
	return e.Code == codeRateLimitReached
}

// Sender represents the message sender
type Sender struct {
	SenderID   string // User ID or bot ID
	SenderType string // user, bot
}

// ChatInfo represents information about a chat
type ChatInfo struct {
	ChatID   string `json:"chat_id"`
	Name     string `json:"name"`
	ChatMode string `json:"chat_mode"` // p2p, group, topic
}

// HistoryMessage represents a message from chat history
type HistoryMessage struct {
	MsgID      string
	MsgType    string
	Content    string // Text extracted from the message body
	CreateTime int64  // Milliseconds
	Sender     *Sender
	Raw        string // JSON of the API item
}

// ChatMember represents a member in a chat
type ChatMember struct {
	MemberID string `json:"member_id"`
	Name     string `json:"name"`
}

// Client is the Feishu REST API client
type Client struct {
	larkCli  *lark.Client
	pageSize int
	logger   zerolog.Logger
}

// NewClient creates a new Feishu client
func NewClient(appID, appSecret string, pageSize int) *Client {
	if pageSize <= 0 || pageSize > 50 {
		pageSize = 50
	}
	return &Client{
		larkCli:  lark.NewClient(appID, appSecret),
		pageSize: pageSize,
		logger:   log.With().Str("component", "Feishu").Logger(),
	}
}

// ListChats lists all chats the bot belongs to
func (c *Client) ListChats(ctx context.Context) ([]*ChatInfo, error) {
	var chats []*ChatInfo
	var pageToken string

	for {
		reqBuilder := larkim.NewListChatReqBuilder().PageSize(100)
		if pageToken != "" {
			reqBuilder = reqBuilder.PageToken(pageToken)
		}

		resp, err := c.larkCli.Im.Chat.List(ctx, reqBuilder.Build())
		if err != nil {
			return nil, fmt.Errorf("list chats failed: %w", err)
		}
		if !resp.Success() {
			return nil, &APIError{Op: "list chats", Code: resp.Code, Msg: resp.Msg}
		}

		for _, item := range resp.Data.Items {
			if item.ChatId == nil {
				continue
			}
			info := &ChatInfo{ChatID: *item.ChatId, ChatMode: "group"}
			if item.Name != nil {
				info.Name = *item.Name
			}
			chats = append(chats, info)
		}

		if resp.Data.HasMore == nil || !*resp.Data.HasMore || resp.Data.PageToken == nil {
			break
		}
		pageToken = *resp.Data.PageToken
	}

	c.logger.Debug().Int("count", len(chats)).Msg("Listed chats")
	return chats, nil
}

// GetChatInfo retrieves information about a chat
func (c *Client) GetChatInfo(ctx context.Context, chatID string) (*ChatInfo, error) {
	req := larkim.NewGetChatReqBuilder().
		ChatId(chatID).
		Build()

	resp, err := c.larkCli.Im.Chat.Get(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("get chat info failed: %w", err)
	}
	if !resp.Success() {
		return nil, &APIError{Op: "get chat info", Code: resp.Code, Msg: resp.Msg}
	}

	info := &ChatInfo{ChatID: chatID}
	if resp.Data.Name != nil {
		info.Name = *resp.Data.Name
	}
	if resp.Data.ChatMode != nil {
		info.ChatMode = *resp.Data.ChatMode
	}
	return info, nil
}

// ListMessagesSince retrieves all messages created at or after startMillis,
// oldest first, following pagination to the end.
func (c *Client) ListMessagesSince(ctx context.Context, chatID string, startMillis int64) ([]*HistoryMessage, error) {
	var messages []*HistoryMessage
	var pageToken string

	for {
		reqBuilder := larkim.NewListMessageReqBuilder().
			ContainerIdType("chat").
			ContainerId(chatID).
			SortType("ByCreateTimeAsc").
			PageSize(c.pageSize)
		if startMillis > 0 {
			// Start time filter is in seconds
			reqBuilder = reqBuilder.StartTime(strconv.FormatInt(startMillis/1000, 10))
		}
		if pageToken != "" {
			reqBuilder = reqBuilder.PageToken(pageToken)
		}

		resp, err := c.larkCli.Im.Message.List(ctx, reqBuilder.Build())
		if err != nil {
			return nil, fmt.Errorf("get chat history failed: %w", err)
		}
		if !resp.Success() {
			return nil, &APIError{Op: "get chat history", Code: resp.Code, Msg: resp.Msg}
		}

		for _, item := range resp.Data.Items {
			if msg := convertMessage(item); msg != nil {
				messages = append(messages, msg)
			}
		}

		if resp.Data.HasMore == nil || !*resp.Data.HasMore || resp.Data.PageToken == nil {
			break
		}
		pageToken = *resp.Data.PageToken
	}

	c.logger.Debug().Str("chat_id", chatID).Int("count", len(messages)).Msg("Retrieved messages")
	return messages, nil
}

// GetChatMembers retrieves members of a chat, following pagination
func (c *Client) GetChatMembers(ctx context.Context, chatID string) ([]*ChatMember, error) {
	var members []*ChatMember
	var pageToken string

	for {
		reqBuilder := larkim.NewGetChatMembersReqBuilder().
			MemberIdType("open_id").
			ChatId(chatID).
			PageSize(100)
		if pageToken != "" {
			reqBuilder = reqBuilder.PageToken(pageToken)
		}

		resp, err := c.larkCli.Im.ChatMembers.Get(ctx, reqBuilder.Build())
		if err != nil {
			return nil, fmt.Errorf("get chat members failed: %w", err)
		}
		if !resp.Success() {
			return nil, &APIError{Op: "get chat members", Code: resp.Code, Msg: resp.Msg}
		}

		for _, item := range resp.Data.Items {
			member := &ChatMember{}
			if item.MemberId != nil {
				member.MemberID = *item.MemberId
			}
			if item.Name != nil {
				member.Name = *item.Name
			}
			members = append(members, member)
		}

		if resp.Data.PageToken == nil || *resp.Data.PageToken == "" {
			break
		}
		pageToken = *resp.Data.PageToken
	}
	return members, nil
}

func convertMessage(item *larkim.Message) *HistoryMessage {
	if item == nil || item.MessageId == nil {
		return nil
	}
	if item.Deleted != nil && *item.Deleted {
		return nil
	}

	msg := &HistoryMessage{MsgID: *item.MessageId}
	if item.MsgType != nil {
		msg.MsgType = *item.MsgType
	}
	if item.CreateTime != nil {
		if ms, err := strconv.ParseInt(*item.CreateTime, 10, 64); err == nil {
			msg.CreateTime = ms
		}
	}

	mentionMap := make(map[string]string)
	for _, mention := range item.Mentions {
		if mention.Key != nil && mention.Name != nil {
			mentionMap[*mention.Key] = *mention.Name
		}
	}

	if item.Body != nil && item.Body.Content != nil {
		raw := *item.Body.Content
		switch msg.MsgType {
		case "text":
			msg.Content = parseTextContent(raw, mentionMap)
		case "post":
			msg.Content = parsePostContent(raw, mentionMap)
		default:
			msg.Content = ""
		}
	}

	if item.Sender != nil {
		msg.Sender = &Sender{}
		if item.Sender.Id != nil {
			msg.Sender.SenderID = *item.Sender.Id
		}
		if item.Sender.SenderType != nil {
			msg.Sender.SenderType = *item.Sender.SenderType
		}
	}

	if b, err := json.Marshal(item); err == nil {
		msg.Raw = string(b)
	}
	return msg
}

// parseTextContent extracts text from a text message body,
// replacing mention placeholders (@_user_1) with real names
func parseTextContent(content string, mentionMap map[string]string) string {
	var parsed struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal([]byte(content), &parsed); err != nil {
		return ""
	}
	return replaceMentions(parsed.Text, mentionMap)
}

// parsePostContent extracts the text lines of a rich text message
func parsePostContent(content string, mentionMap map[string]string) string {
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
				if name, ok := mentionMap[elem.UserID]; ok {
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
	return replaceMentions(strings.Join(lines, "\n"), mentionMap)
}

// replaceMentions replaces mention placeholders with real names
func replaceMentions(text string, mentionMap map[string]string) string {
	for key, name := range mentionMap {
		text = strings.ReplaceAll(text, key, "@"+name)
	}
	return text
}

// Receive id types accepted when sending messages
const (
	ReceiveIDChat  = larkim.ReceiveIdTypeChatId
	ReceiveIDOpen  = larkim.ReceiveIdTypeOpenId
	ReceiveIDUser  = larkim.ReceiveIdTypeUserId
	ReceiveIDEmail = larkim.ReceiveIdTypeEmail
)

// PostElement is one inline element of a rich text line
type PostElement struct {
	Tag   string   `json:"tag"` // text, a, at
	Text  string   `json:"text,omitempty"`
	Href  string   `json:"href,omitempty"`
	Style []string `json:"style,omitempty"` // bold, italic, underline, lineThrough
}

// TextElement builds a plain text element
func TextElement(text string, style ...string) PostElement {
	return PostElement{Tag: "text", Text: text, Style: style}
}

// SendText sends a text message to the receiver
func (c *Client) SendText(ctx context.Context, receiveIDType, receiveID, text string) error {
	content, err := textContent(text)
	if err != nil {
		return err
	}
	return c.send(ctx, "send text", receiveIDType, receiveID, larkim.MsgTypeText, content)
}

// SendRichText sends a rich text (post) message to the receiver
func (c *Client) SendRichText(ctx context.Context, receiveIDType, receiveID, title string, lines [][]PostElement) error {
	content, err := postContent(title, lines)
	if err != nil {
		return err
	}
	return c.send(ctx, "send rich text", receiveIDType, receiveID, larkim.MsgTypePost, content)
}

func (c *Client) send(ctx context.Context, op, receiveIDType, receiveID, msgType, content string) error {
	if receiveIDType == "" {
		receiveIDType = ReceiveIDChat
	}
	req := larkim.NewCreateMessageReqBuilder().
		ReceiveIdType(receiveIDType).
		Body(larkim.NewCreateMessageReqBodyBuilder().
			ReceiveId(receiveID).
			MsgType(msgType).
			Content(content).
			Build()).
		Build()

	resp, err := c.larkCli.Im.Message.Create(ctx, req)
	if err != nil {
		return fmt.Errorf("%s failed: %w", op, err)
	}
	if !resp.Success() {
		return &APIError{Op: op, Code: resp.Code, Msg: resp.Msg}
	}

	c.logger.Debug().Str("receive_id", receiveID).Str("msg_type", msgType).Msg("Message sent")
	return nil
}

func textContent(text string) (string, error) {
	b, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return "", fmt.Errorf("encode text message: %w", err)
	}
	return string(b), nil
}

// postContent encodes a zh_cn post body. Empty lines are dropped.
func postContent(title string, lines [][]PostElement) (string, error) {
	content := make([][]PostElement, 0, len(lines))
	for _, line := range lines {
		if len(line) > 0 {
			content = append(content, line)
		}
	}
	post := map[string]any{
		"zh_cn": map[string]any{
			"title":   title,
			"content": content,
		},
	}
	b, err := json.Marshal(post)
	if err != nil {
		return "", fmt.Errorf("encode post message: %w", err)
	}
	return string(b), nil
}
