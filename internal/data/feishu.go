package data

import (
	"context"

	"github.com/devricklin/imessage-feishu-relay/internal/biz/repo"
	"github.com/devricklin/imessage-feishu-relay/internal/infra/feishu"
)

// chatClient is the subset of feishu.Client the remote repository needs
type chatClient interface {
	CreateChat(ctx context.Context, name, ownerID string) (string, error)
	SendText(ctx context.Context, receiveIDType, receiveID, text, uuid string) error
}

// feishuRepo implements the remote repository over Feishu IM
type feishuRepo struct {
	client chatClient
}

// NewFeishuRepo creates a new Feishu repository
func NewFeishuRepo(client *feishu.Client) repo.RemoteRepo {
	return &feishuRepo{client: client}
}

// CreateChannel creates a group chat. On Feishu the parent is the open_id of the
// user who owns and joins every bridged chat.
func (r *feishuRepo) CreateChannel(ctx context.Context, parent, name string) (string, error) {
	return r.client.CreateChat(ctx, name, parent)
}

// SendMessage sends a text message to a chat, deduplicated by Feishu on dedupeKey
func (r *feishuRepo) SendMessage(ctx context.Context, channelID, text, dedupeKey string) error {
	return r.client.SendText(ctx, feishu.ReceiveIDChat, channelID, text, dedupeKey)
}

// SendDirect sends a text message to a user by open_id
func (r *feishuRepo) SendDirect(ctx context.Context, userID, text string) error {
	return r.client.SendText(ctx, feishu.ReceiveIDOpenID, userID, text, "")
}
