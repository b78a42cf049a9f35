package session

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStaticAuthenticate(t *testing.T) {
	ctx := context.Background()

	sess, err := Static{}.Authenticate(ctx, Credentials{Account: "alice"})
	require.NoError(t, err)
	assert.Equal(t, "alice", sess.Identity())

	_, err = Static{}.Authenticate(ctx, Credentials{})
	assert.True(t, errors.Is(err, ErrAuthFailed))

	locked := Static{Secrets: map[string]string{"bob": "pw"}}
	_, err = locked.Authenticate(ctx, Credentials{Account: "bob", Secret: "wrong"})
	assert.ErrorIs(t, err, ErrAuthFailed)
	_, err = locked.Authenticate(ctx, Credentials{Account: "carol", Secret: "pw"})
	assert.ErrorIs(t, err, ErrAuthFailed)

	sess, err = locked.Authenticate(ctx, Credentials{Account: "bob", Secret: "pw"})
	require.NoError(t, err)
	assert.Equal(t, "bob", sess.Identity())
}

func TestEmptyLister(t *testing.T) {
	items, err := Empty{}.List(context.Background(), Local{ID: "x"}, Query{})
	assert.NoError(t, err)
	assert.Empty(t, items)
}
