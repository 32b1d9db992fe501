package data

import (
	"context"
	"errors"
	"time"

	"github.com/DevRickLin/chat-digest/internal/biz/domain"
	"github.com/DevRickLin/chat-digest/internal/biz/repo"
	"github.com/DevRickLin/chat-digest/internal/infra/feishu"
)

// feishuClient is the subset of the Feishu client used by the platform repository
type feishuClient interface {
	ListChats(ctx context.Context) ([]*feishu.ChatInfo, error)
	GetChatInfo(ctx context.Context, chatID string) (*feishu.ChatInfo, error)
	ListMessagesSince(ctx context.Context, chatID string, startMillis int64) ([]*feishu.HistoryMessage, error)
	GetChatMembers(ctx context.Context, chatID string) ([]*feishu.ChatMember, error)
}

// feishuRepo implements the platform repository on Feishu
type feishuRepo struct {
	client feishuClient
}

// NewFeishuRepo creates a new Feishu platform repository
func NewFeishuRepo(client *feishu.Client) repo.PlatformRepo {
	return &feishuRepo{client: client}
}

// ListChats lists chats the bot belongs to, resolving each chat's mode
func (r *feishuRepo) ListChats(ctx context.Context) ([]domain.ChatInfo, error) {
	chats, err := r.client.ListChats(ctx)
	if err != nil {
		return nil, err
	}

	result := make([]domain.ChatInfo, 0, len(chats))
	for _, c := range chats {
		mode := c.ChatMode
		// The list endpoint does not report the chat mode
		if info, err := r.client.GetChatInfo(ctx, c.ChatID); err == nil {
			mode = info.ChatMode
		}
		result = append(result, domain.ChatInfo{
			ChatID: c.ChatID,
			Title:  c.Name,
			Kind:   chatKind(mode),
		})
	}
	return result, nil
}

// FetchNewMessages gets messages strictly after the cursor, oldest first
func (r *feishuRepo) FetchNewMessages(ctx context.Context, chatID string, since domain.Cursor) ([]domain.RawMessage, error) {
	msgs, err := r.client.ListMessagesSince(ctx, chatID, toMillis(since.At))
	if err != nil {
		return nil, classifyFetchError(chatID, err)
	}

	// Sender names are best effort
	memberMap := make(map[string]string)
	if members, err := r.client.GetChatMembers(ctx, chatID); err == nil {
		for _, m := range members {
			memberMap[m.MemberID] = m.Name
		}
	}

	var result []domain.RawMessage
	for _, m := range msgs {
		raw := domain.RawMessage{
			PlatformMessageID: m.MsgID,
			Text:              m.Content,
			Timestamp:         time.UnixMilli(m.CreateTime).UTC(),
			RawJSON:           m.Raw,
		}
		if m.Sender != nil {
			raw.Sender = m.Sender.SenderID
			if name := memberMap[m.Sender.SenderID]; name != "" {
				raw.Sender = name
			}
		}
		// Start time has second granularity, so already-ingested messages come back
		if !since.IsZero() && !since.Before(domain.CursorOf(raw)) {
			continue
		}
		result = append(result, raw)
	}
	return result, nil
}

func chatKind(mode string) domain.ChatKind {
	switch mode {
	case "p2p":
		return domain.ChatKindDirect
	case "topic":
		return domain.ChatKindChannel
	}
	return domain.ChatKindGroup
}

// classifyFetchError maps client errors to domain fetch errors
func classifyFetchError(chatID string, err error) error {
	var apiErr *feishu.APIError
	if errors.As(err, &apiErr) {
		if apiErr.RateLimited() {
			return &domain.FetchError{ChatID: chatID, Err: errors.Join(domain.ErrRateLimited, err)}
		}
		return &domain.FetchError{ChatID: chatID, Permanent: apiErr.Permanent(), Err: err}
	}
	// Transport failures and timeouts are retried
	return &domain.FetchError{ChatID: chatID, Err: err}
}

// feishuSender is the subset of the Feishu client used to deliver digests
type feishuSender interface {
	SendRichText(ctx context.Context, receiveIDType, receiveID, title string, lines [][]feishu.PostElement) error
}

// feishuNotifier delivers digests as Feishu rich text messages
type feishuNotifier struct {
	client feishuSender
}

// NewFeishuNotifier creates a digest notifier on Feishu
func NewFeishuNotifier(client *feishu.Client) repo.NotifierRepo {
	return &feishuNotifier{client: client}
}

// SendDigest posts the digest with bold section headings
func (n *feishuNotifier) SendDigest(ctx context.Context, target domain.DigestTarget, digest *domain.Digest) error {
	return n.client.SendRichText(ctx, target.IDType, target.ID, digest.Title, postLines(digest))
}

func postLines(digest *domain.Digest) [][]feishu.PostElement {
	var lines [][]feishu.PostElement
	for _, line := range digest.Overview {
		lines = append(lines, []feishu.PostElement{feishu.TextElement(line)})
	}
	for _, s := range digest.Sections {
		lines = append(lines, []feishu.PostElement{feishu.TextElement(s.Heading, "bold")})
		for _, line := range s.Lines {
			lines = append(lines, []feishu.PostElement{feishu.TextElement(line)})
		}
	}
	return lines
}
