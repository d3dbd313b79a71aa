package notify

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/taskmaster/lifecycle/internal/domain/lifecycle"
	"github.com/taskmaster/lifecycle/internal/infrastructure/logger"
)

var errDown = errors.New("broker down")

func batch() []lifecycle.Instruction {
	taskID := uuid.New()
	attachment := uuid.New()
	at := time.Date(2024, 5, 6, 9, 0, 0, 0, time.UTC)
	return []lifecycle.Instruction{
		{Kind: lifecycle.InstructionNotify, Event: lifecycle.EventTaskRejected, TaskID: taskID, Reason: "blurry", At: at},
		{Kind: lifecycle.InstructionDiscardAttachment, TaskID: taskID, AttachmentID: &attachment, At: at},
	}
}

type fakePublisher struct {
	channel  string
	messages [][]byte
	err      error
}

func (p *fakePublisher) Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd {
	cmd := redis.NewIntCmd(ctx)
	if p.err != nil {
		cmd.SetErr(p.err)
		return cmd
	}
	p.channel = channel
	p.messages = append(p.messages, message.([]byte))
	cmd.SetVal(1)
	return cmd
}

type countingDispatcher struct {
	calls int
	err   error
}

func (d *countingDispatcher) Dispatch(context.Context, []lifecycle.Instruction) error {
	d.calls++
	return d.err
}

func TestLogDispatcher_LogsEveryInstruction(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	d := NewLogDispatcher(logger.FromZap(zap.New(core)))

	require.NoError(t, d.Dispatch(context.Background(), batch()))
	require.Equal(t, 2, logs.Len())

	first := logs.All()[0].ContextMap()
	assert.Equal(t, "notify", first["component"])
	assert.Equal(t, "task_rejected", first["event"])
	assert.Equal(t, "blurry", first["reason"])

	second := logs.All()[1].ContextMap()
	assert.Equal(t, "discard_attachment", second["kind"])
	assert.Contains(t, second, "attachment_id")
}

func TestRedisPublisher_PublishesJSON(t *testing.T) {
	pub := &fakePublisher{}
	in := batch()

	require.NoError(t, NewRedisPublisher(pub, "lifecycle.events").Dispatch(context.Background(), in))
	assert.Equal(t, "lifecycle.events", pub.channel)
	require.Len(t, pub.messages, 2)

	var decoded lifecycle.Instruction
	require.NoError(t, json.Unmarshal(pub.messages[1], &decoded))
	assert.Equal(t, lifecycle.InstructionDiscardAttachment, decoded.Kind)
	assert.Equal(t, *in[1].AttachmentID, *decoded.AttachmentID)
}

func TestRedisPublisher_ReportsBrokerErrors(t *testing.T) {
	err := NewRedisPublisher(&fakePublisher{err: errDown}, "c").Dispatch(context.Background(), batch())
	assert.ErrorIs(t, err, errDown)
}

func TestFanOut_ContinuesPastFailures(t *testing.T) {
	failing := &countingDispatcher{err: errDown}
	ok := &countingDispatcher{}

	err := FanOut{failing, ok}.Dispatch(context.Background(), batch())
	assert.ErrorIs(t, err, errDown)
	assert.Equal(t, 1, failing.calls)
	assert.Equal(t, 1, ok.calls)

	assert.NoError(t, FanOut{ok}.Dispatch(context.Background(), nil))
}
