package sessioninit

import (
	"context"
	"fmt"
	"time"

	"github.com/Zereker/docstore/pkg/document"
)

// ConversationCollection holds the records created by DocumentConversations.
const ConversationCollection = "conversations"

// DocumentConversations creates conversation records in a document store.
type DocumentConversations struct {
	store document.Store
}

// 确保 DocumentConversations 实现 ConversationCreator 和 ConversationDeleter 接口
var (
	_ ConversationCreator = (*DocumentConversations)(nil)
	_ ConversationDeleter = (*DocumentConversations)(nil)
)

// NewDocumentConversations creates the collaborator over store.
func NewDocumentConversations(store document.Store) *DocumentConversations {
	return &DocumentConversations{store: store}
}

// CreateConversation stores an active conversation record and returns its id.
func (c *DocumentConversations) CreateConversation(ctx context.Context, req Request) (string, error) {
	data := map[string]any{
		"user_id":    req.UserID,
		"title":      req.Title,
		"status":     "active",
		"created_at": time.Now().UTC().Format(time.RFC3339Nano),
	}
	if len(req.Metadata) > 0 {
		data["metadata"] = req.Metadata
	}

	doc, err := c.store.Create(ctx, ConversationCollection, data)
	if err != nil {
		return "", fmt.Errorf("create conversation: %w", err)
	}
	return doc.ID, nil
}

// DeleteConversation removes the conversation record.
func (c *DocumentConversations) DeleteConversation(ctx context.Context, id string) error {
	if _, err := c.store.Delete(ctx, ConversationCollection, id); err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	return nil
}
