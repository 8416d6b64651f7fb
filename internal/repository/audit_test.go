package repository

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"smart-mail-reply-go/internal/model"
)

func TestAuditTrailFollowsLifecycle(t *testing.T) {
	conn := newTestDB(t)
	q := NewWorkQueue(conn)
	audit := NewAuditLog(conn)
	ctx := context.Background()

	_, err := q.Enqueue(ctx, item("m1"))
	require.NoError(t, err)
	claimed, err := q.ClaimNext(ctx, "worker-1")
	require.NoError(t, err)
	require.NoError(t, q.CompleteItem(ctx, claimed.ID, Completion{
		Reply:         model.NoReply,
		NoReplyReason: "HARD_BLOCK_KEYWORD",
		ReplyStatus:   model.ReplySkipped,
		Detail:        "keyword=refund",
	}))

	trail, err := audit.ForItem(ctx, claimed.ID)
	require.NoError(t, err)
	require.Len(t, trail, 2)
	assert.Equal(t, model.AuditClaimed, trail[0].Action)
	assert.Equal(t, "system:worker-1", trail[0].Actor)
	assert.Equal(t, model.AuditNoReply, trail[1].Action)
	assert.Equal(t, "HARD_BLOCK_KEYWORD", trail[1].ReasonCode)
	assert.Equal(t, "keyword=refund", trail[1].Detail)
	assert.Equal(t, "m1", trail[1].MessageID)

	noReply, err := audit.List(ctx, AuditFilter{Action: model.AuditNoReply})
	require.NoError(t, err)
	assert.Len(t, noReply, 1)
}

func TestAuditAppend(t *testing.T) {
	audit := NewAuditLog(newTestDB(t))
	ctx := context.Background()

	entry := &model.AuditLogEntry{WorkItemID: 7, MessageID: "m7", Action: model.AuditReplySent, Actor: "user:bob"}
	require.NoError(t, audit.Append(ctx, entry))
	assert.NotZero(t, entry.ID)
	assert.False(t, entry.CreatedAt.IsZero())

	entries, err := audit.List(ctx, AuditFilter{WorkItemID: 7})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "user:bob", entries[0].Actor)
}
