package capture

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeDevice grants tracks and counts acquisitions and releases.
type fakeDevice struct {
	acquired int32
	released int32
	failWith error
}

func (d *fakeDevice) Acquire(_ context.Context, _ Kind) (func(), error) {
	if d.failWith != nil {
		return nil, d.failWith
	}
	atomic.AddInt32(&d.acquired, 1)
	return func() { atomic.AddInt32(&d.released, 1) }, nil
}

func awaitBlob(t *testing.T, s *Session) (Blob, bool) {
	t.Helper()
	select {
	case blob, ok := <-s.Finalized():
		return blob, ok
	case <-time.After(time.Second):
		t.Fatal("finalized blob never arrived")
		return Blob{}, false
	}
}

func TestOpenStartStopFinalizes(t *testing.T) {
	dev := &fakeDevice{}
	m := NewManager(dev, zerolog.Nop())

	s, err := m.Open(context.Background(), KindAudio, "audio/mp3")
	require.NoError(t, err)
	require.NoError(t, s.Start())

	s.AppendChunk([]byte("abc"))
	s.AppendChunk([]byte("def"))
	require.NoError(t, s.Stop())

	blob, ok := awaitBlob(t, s)
	require.True(t, ok)
	assert.Equal(t, []byte("abcdef"), blob.Data)
	assert.Equal(t, "audio/mp3", blob.MediaType)
	assert.Equal(t, int32(1), atomic.LoadInt32(&dev.released))
}

func TestOpenSecondSessionBusy(t *testing.T) {
	m := NewManager(&fakeDevice{}, zerolog.Nop())

	s, err := m.Open(context.Background(), KindAudio, "audio/mp3")
	require.NoError(t, err)

	_, err = m.Open(context.Background(), KindAudio, "audio/mp3")
	assert.ErrorIs(t, err, ErrDeviceBusy)

	// A different kind is a different device slot.
	_, err = m.Open(context.Background(), KindVideo, "video/webm")
	assert.NoError(t, err)

	// After the first session ends the slot is free again.
	require.NoError(t, s.Start())
	require.NoError(t, s.Stop())
	_, err = m.Open(context.Background(), KindAudio, "audio/mp3")
	assert.NoError(t, err)
}

func TestOpenDeviceDenied(t *testing.T) {
	dev := &fakeDevice{failWith: errors.New("permission denied")}
	m := NewManager(dev, zerolog.Nop())

	_, err := m.Open(context.Background(), KindAudio, "audio/mp3")
	assert.ErrorIs(t, err, ErrDeviceUnavailable)

	// The reserved slot must be rolled back on failure.
	dev.failWith = nil
	_, err = m.Open(context.Background(), KindAudio, "audio/mp3")
	assert.NoError(t, err)
}

func TestStopWithoutChunksYieldsEmptyBlob(t *testing.T) {
	m := NewManager(&fakeDevice{}, zerolog.Nop())
	s, err := m.Open(context.Background(), KindAudio, "audio/mp3")
	require.NoError(t, err)
	require.NoError(t, s.Start())
	require.NoError(t, s.Stop())

	blob, ok := awaitBlob(t, s)
	require.True(t, ok)
	assert.True(t, blob.Empty())
}

func TestSessionLifecycleErrors(t *testing.T) {
	m := NewManager(&fakeDevice{}, zerolog.Nop())
	s, err := m.Open(context.Background(), KindAudio, "audio/mp3")
	require.NoError(t, err)

	assert.ErrorIs(t, s.Stop(), ErrNotStarted)
	require.NoError(t, s.Start())
	assert.ErrorIs(t, s.Start(), ErrAlreadyStarted)
	require.NoError(t, s.Stop())
	assert.ErrorIs(t, s.Stop(), ErrSessionClosed)
}

func TestAppendAfterStopDiscarded(t *testing.T) {
	m := NewManager(&fakeDevice{}, zerolog.Nop())
	s, err := m.Open(context.Background(), KindAudio, "audio/mp3")
	require.NoError(t, err)
	require.NoError(t, s.Start())

	s.AppendChunk([]byte("keep"))
	require.NoError(t, s.Stop())
	s.AppendChunk([]byte("late"))

	blob, _ := awaitBlob(t, s)
	assert.Equal(t, []byte("keep"), blob.Data)
}

func TestAbortClosesWithoutBlob(t *testing.T) {
	dev := &fakeDevice{}
	m := NewManager(dev, zerolog.Nop())
	s, err := m.Open(context.Background(), KindAudio, "audio/mp3")
	require.NoError(t, err)
	require.NoError(t, s.Start())
	s.AppendChunk([]byte("discard me"))

	s.Abort()

	_, ok := awaitBlob(t, s)
	assert.False(t, ok)
	assert.Equal(t, int32(1), atomic.LoadInt32(&dev.released))

	_, active := m.Active(KindAudio)
	assert.False(t, active)
}

func TestAppendCopiesChunk(t *testing.T) {
	m := NewManager(&fakeDevice{}, zerolog.Nop())
	s, err := m.Open(context.Background(), KindAudio, "audio/mp3")
	require.NoError(t, err)
	require.NoError(t, s.Start())

	chunk := []byte("abc")
	s.AppendChunk(chunk)
	chunk[0] = 'z'

	require.NoError(t, s.Stop())
	blob, _ := awaitBlob(t, s)
	assert.Equal(t, []byte("abc"), blob.Data)
}
