package delta

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// appendDecoder treats a delta as bytes to append to the base.
var appendDecoder = DecoderFunc(func(delta, base []byte) ([]byte, error) {
	if bytes.Equal(delta, []byte("corrupt")) {
		return nil, errors.New("checksum mismatch")
	}
	return append(append([]byte(nil), base...), delta...), nil
})

func TestStream_AppliesChain(t *testing.T) {
	s := NewStream(appendDecoder)

	out, err := s.Apply(Message{ID: "1", Data: []byte("a")})
	require.NoError(t, err)
	assert.Equal(t, "a", string(out))

	out, err = s.Apply(Message{ID: "2", From: "1", Data: []byte("b")})
	require.NoError(t, err)
	assert.Equal(t, "ab", string(out))

	out, err = s.Apply(Message{ID: "3", From: "2", Data: []byte("c")})
	require.NoError(t, err)
	assert.Equal(t, "abc", string(out))
	assert.Equal(t, "3", s.LastID())
}

func TestStream_RecoversOnce(t *testing.T) {
	var recoveries []string
	s := NewStream(appendDecoder, WithRecovery(func(lastID string) { recoveries = append(recoveries, lastID) }))

	_, err := s.Apply(Message{ID: "1", Data: []byte("a")})
	require.NoError(t, err)

	_, err = s.Apply(Message{ID: "2", From: "1", Data: []byte("corrupt")})
	var recErr *RecoveryError
	require.ErrorAs(t, err, &recErr)
	assert.Equal(t, CodeDecodeFailed, recErr.Code)
	assert.Equal(t, "1", recErr.LastID)
	assert.True(t, s.Recovering())

	out, err := s.Apply(Message{ID: "3", From: "2", Data: []byte("c")})
	assert.NoError(t, err)
	assert.Nil(t, out)
	assert.Equal(t, []string{"1"}, recoveries)

	out, err = s.Apply(Message{ID: "4", Data: []byte("fresh")})
	require.NoError(t, err)
	assert.Equal(t, "fresh", string(out))
	assert.False(t, s.Recovering())

	out, err = s.Apply(Message{ID: "5", From: "4", Data: []byte("!")})
	require.NoError(t, err)
	assert.Equal(t, "fresh!", string(out))
}

func TestStream_BrokenChain(t *testing.T) {
	s := NewStream(appendDecoder)
	_, err := s.Apply(Message{ID: "1", Data: []byte("a")})
	require.NoError(t, err)

	_, err = s.Apply(Message{ID: "3", From: "2", Data: []byte("c")})
	var recErr *RecoveryError
	assert.ErrorAs(t, err, &recErr)
}

func TestStream_NoDecoder(t *testing.T) {
	s := NewStream(nil)
	_, err := s.Apply(Message{ID: "1", Data: []byte("a")})
	require.NoError(t, err)

	_, err = s.Apply(Message{ID: "2", From: "1", Data: []byte("b")})
	assert.ErrorIs(t, err, ErrNoDecoder)
}

func TestStream_Reset(t *testing.T) {
	s := NewStream(appendDecoder)
	_, err := s.Apply(Message{ID: "1", Data: []byte("a")})
	require.NoError(t, err)
	_, err = s.Apply(Message{ID: "2", From: "9", Data: []byte("b")})
	require.Error(t, err)

	s.Reset()
	assert.False(t, s.Recovering())
	assert.Empty(t, s.LastID())
}
