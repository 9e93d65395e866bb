package notify

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMux_RoutesByChannel(t *testing.T) {
	var gotEmail, gotPhone []Message
	m := NewMux().
		Handle(ChannelEmail, Func(func(ctx context.Context, msg Message) error { gotEmail = append(gotEmail, msg); return nil })).
		Handle(ChannelPhone, Func(func(ctx context.Context, msg Message) error { gotPhone = append(gotPhone, msg); return nil }))

	require.NoError(t, m.Send(context.Background(), Message{Channel: ChannelEmail, Target: "a@example.com"}))
	require.NoError(t, m.Send(context.Background(), Message{Channel: ChannelPhone, Target: "+15550100"}))

	assert.Len(t, gotEmail, 1)
	assert.Len(t, gotPhone, 1)
	assert.Equal(t, "+15550100", gotPhone[0].Target)
}

func TestMux_UnknownChannel(t *testing.T) {
	err := NewMux().Send(context.Background(), Message{Channel: "PIGEON"})
	assert.ErrorIs(t, err, ErrNoRoute)
}

func TestTee_SendsToAllAndReturnsFirstError(t *testing.T) {
	boom := errors.New("smtp down")
	calls := 0
	failing := Func(func(ctx context.Context, msg Message) error { calls++; return boom })
	ok := Func(func(ctx context.Context, msg Message) error { calls++; return nil })

	err := Tee(failing, ok).Send(context.Background(), Message{})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 2, calls)
}
