package queue

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuditConsumerHandleAppendsLine(t *testing.T) {
	c := NewAuditConsumer("", nil)
	c.Path = filepath.Join(t.TempDir(), "audit", "moderation.log")

	body := []byte(`{"visit_id":"v1","merchant_id":"m1","customer_id":"c1","loyalty_card_id":"card1",
		"action":"confirm","status":"confirmed","points_earned":2,"current_stamps":5,
		"reward_unlocked":true,"moderated_at":"2026-10-16T09:00:00Z"}`)
	require.NoError(t, c.Handle(body))
	require.NoError(t, c.Handle(body))

	data, err := os.ReadFile(c.Path)
	require.NoError(t, err)
	want := "[2026-10-16T09:00:00Z] Visit confirmed | visit_id=v1 | merchant_id=m1 | customer_id=c1 | card_id=card1 | points=2 | stamps=5 | reward_unlocked=true | bulk=false\n"
	assert.Equal(t, want+want, string(data))
}

func TestAuditConsumerHandleRejectsBadMessages(t *testing.T) {
	c := NewAuditConsumer("", nil)
	c.Path = filepath.Join(t.TempDir(), "moderation.log")

	assert.Error(t, c.Handle([]byte("not json")))
	assert.Error(t, c.Handle([]byte(`{"status":"confirmed"}`)))
	_, err := os.Stat(c.Path)
	assert.True(t, os.IsNotExist(err))
}
