package mcp

import (
	"context"
	"sort"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/devricklin/imessage-feishu-relay/internal/api"
	"github.com/devricklin/imessage-feishu-relay/internal/biz/domain"
)

// Backend is what the operator tools act on
type Backend interface {
	ListConversations(ctx context.Context) (*api.ConversationList, error)
	GetConversation(ctx context.Context, id string) (*domain.ConversationRecord, error)
	ArchiveConversation(ctx context.Context, id string) error
}

// Handler implements the operator tools
type Handler struct {
	backend Backend
}

// NewHandler creates a new MCP handler
func NewHandler(backend Backend) *Handler {
	return &Handler{backend: backend}
}

// Conversation is the tool view of a conversation record
type Conversation struct {
	ConversationID   string  `json:"conversation_id"`
	RemoteChannelID  string  `json:"remote_channel_id,omitempty"`
	Cursor           int64   `json:"cursor"`
	ActivityState    string  `json:"activity_state"`
	PollInterval     float64 `json:"poll_interval"`
	ActiveUntil      string  `json:"active_until,omitempty"`
	LastPolledAt     string  `json:"last_polled_at,omitempty"`
	DeliveryFailures int     `json:"delivery_failures,omitempty"`
	RecentMessages   int     `json:"recent_messages"`
}

func toConversation(rec *domain.ConversationRecord) Conversation {
	return Conversation{
		ConversationID:   rec.ConversationID,
		RemoteChannelID:  rec.RemoteChannelID,
		Cursor:           rec.Cursor,
		ActivityState:    string(rec.ActivityState),
		PollInterval:     rec.PollInterval,
		ActiveUntil:      formatTime(rec.ActiveUntil),
		LastPolledAt:     formatTime(rec.LastPolledAt),
		DeliveryFailures: rec.DeliveryFailures,
		RecentMessages:   len(rec.RecentMessageTimestamps),
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.RFC3339)
}

// ============ List ============

// ListConversationsInput filters the listing
type ListConversationsInput struct {
	UnmappedOnly bool `json:"unmapped_only,omitempty" jsonschema:"only list conversations still waiting for a Feishu chat"`
}

// ListConversationsOutput contains the tracked conversations
type ListConversationsOutput struct {
	Conversations       []Conversation `json:"conversations"`
	Archived            []string       `json:"archived,omitempty"`
	LastDiscoveryScanAt string         `json:"last_discovery_scan_at,omitempty"`
	Error               string         `json:"error,omitempty"`
}

// ListConversations lists tracked conversations
func (h *Handler) ListConversations(ctx context.Context, req *mcp.CallToolRequest, input ListConversationsInput) (*mcp.CallToolResult, ListConversationsOutput, error) {
	list, err := h.backend.ListConversations(ctx)
	if err != nil {
		return nil, ListConversationsOutput{Error: err.Error()}, nil
	}

	out := ListConversationsOutput{
		Conversations:       make([]Conversation, 0, len(list.Conversations)),
		LastDiscoveryScanAt: formatTime(list.LastDiscoveryScanAt),
	}
	for _, rec := range list.Conversations {
		if input.UnmappedOnly && rec.Mapped() {
			continue
		}
		out.Conversations = append(out.Conversations, toConversation(rec))
	}
	out.Archived = append(out.Archived, list.Archived...)
	sort.Strings(out.Archived)
	return nil, out, nil
}

// ============ Get ============

// GetConversationInput names the conversation
type GetConversationInput struct {
	ConversationID string `json:"conversation_id" jsonschema:"the iMessage chat identifier"`
}

// GetConversationOutput contains one conversation
type GetConversationOutput struct {
	Conversation *Conversation `json:"conversation,omitempty"`
	Error        string        `json:"error,omitempty"`
}

// GetConversation returns one conversation
func (h *Handler) GetConversation(ctx context.Context, req *mcp.CallToolRequest, input GetConversationInput) (*mcp.CallToolResult, GetConversationOutput, error) {
	if input.ConversationID == "" {
		return nil, GetConversationOutput{Error: "conversation_id is required"}, nil
	}
	rec, err := h.backend.GetConversation(ctx, input.ConversationID)
	if err != nil {
		return nil, GetConversationOutput{Error: err.Error()}, nil
	}
	c := toConversation(rec)
	return nil, GetConversationOutput{Conversation: &c}, nil
}

// ============ Archive ============

// ArchiveConversationInput names the conversation to stop relaying
type ArchiveConversationInput struct {
	ConversationID string `json:"conversation_id" jsonschema:"the iMessage chat identifier to archive"`
}

// ArchiveConversationOutput reports the result
type ArchiveConversationOutput struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// ArchiveConversation stops relaying a conversation for good
func (h *Handler) ArchiveConversation(ctx context.Context, req *mcp.CallToolRequest, input ArchiveConversationInput) (*mcp.CallToolResult, ArchiveConversationOutput, error) {
	if input.ConversationID == "" {
		return nil, ArchiveConversationOutput{Error: "conversation_id is required"}, nil
	}
	if err := h.backend.ArchiveConversation(ctx, input.ConversationID); err != nil {
		return nil, ArchiveConversationOutput{Error: err.Error()}, nil
	}
	return nil, ArchiveConversationOutput{Success: true}, nil
}
