package mcp

import (
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// Tool names
const (
	ToolListConversations   = "relay_list_conversations"
	ToolGetConversation     = "relay_get_conversation"
	ToolArchiveConversation = "relay_archive_conversation"
)

// NewServer creates the operator MCP server with all relay tools registered
func NewServer(h *Handler, version string) *mcp.Server {
	server := mcp.NewServer(&mcp.Implementation{
		Name:    "imessage-relay",
		Version: version,
	}, nil)

	mcp.AddTool(server, &mcp.Tool{
		Name:        ToolListConversations,
		Description: "List the iMessage conversations the relay tracks, with their Feishu chat, cursor and polling tier.",
	}, h.ListConversations)

	mcp.AddTool(server, &mcp.Tool{
		Name:        ToolGetConversation,
		Description: "Show the relay bookkeeping of one iMessage conversation.",
	}, h.GetConversation)

	mcp.AddTool(server, &mcp.Tool{
		Name:        ToolArchiveConversation,
		Description: "Stop relaying an iMessage conversation. The record is removed and discovery will not bring it back. The Feishu chat is left as is.",
	}, h.ArchiveConversation)

	return server
}
