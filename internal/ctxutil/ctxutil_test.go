package ctxutil

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCorrelationMergesOverParent(t *testing.T) {
	ctx := WithCorrelation(context.Background(), Correlation{ConversationID: "conv-1", UserID: "u-1"})
	ctx = WithCorrelation(ctx, Correlation{UserID: "u-2", ServerID: "pi-server"})

	got := CorrelationFromContext(ctx)
	assert.Equal(t, Correlation{ConversationID: "conv-1", UserID: "u-2", ServerID: "pi-server"}, got)
}

func TestCorrelationEmptyContext(t *testing.T) {
	assert.True(t, CorrelationFromContext(context.Background()).IsZero())
	assert.Empty(t, RequestIDFromContext(context.Background()))
}

func TestRequestID(t *testing.T) {
	ctx := WithRequestID(context.Background(), "req-42")
	assert.Equal(t, "req-42", RequestIDFromContext(ctx))
}
