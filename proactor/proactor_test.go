// File: proactor/proactor_test.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Demultiplexer behavior against the in-memory completion source.

package proactor_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-iocp/api"
	"github.com/momentics/hioload-iocp/fake"
	"github.com/momentics/hioload-iocp/proactor"
)

func TestResolveByAddress(t *testing.T) {
	src := fake.NewCompletionSource(16)
	p := proactor.New(src)

	var got []api.Completion
	f := p.Track(0x1000, nil, func(c api.Completion) { got = append(got, c) })

	require.NoError(t, src.PostCompletion(api.Completion{Bytes: 42, Key: 7, Address: 0x1000}))
	n, err := p.RunOnce(100)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	c, ok := f.Completion()
	require.True(t, ok)
	assert.Equal(t, uint32(42), c.Bytes)
	assert.Equal(t, uintptr(7), c.Key)
	require.Len(t, got, 1)
	assert.Equal(t, c, got[0])
	assert.Equal(t, 0, p.Waiting())

	res := f.Result()
	require.True(t, res.Ok())
	assert.Equal(t, c, res.Value)
}

func TestTimeoutIsNotAnError(t *testing.T) {
	p := proactor.New(fake.NewCompletionSource(1))
	n, err := p.RunOnce(10)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestDispatchOrderIsFIFO(t *testing.T) {
	src := fake.NewCompletionSource(16)
	p := proactor.New(src)

	var order []uintptr
	cb := func(c api.Completion) { order = append(order, c.Address) }
	p.Track(0x10, nil, cb)
	p.Track(0x20, nil, cb)
	p.Track(0x30, nil, cb)

	for _, addr := range []uintptr{0x20, 0x10, 0x30} {
		require.NoError(t, src.PostCompletion(api.Completion{Address: addr}))
	}
	n, err := p.RunOnce(100)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, []uintptr{0x20, 0x10, 0x30}, order)
}

func TestWakeupResolvesNothing(t *testing.T) {
	src := fake.NewCompletionSource(16)
	p := proactor.New(src)

	require.NoError(t, p.Wakeup())
	start := time.Now()
	n, err := p.RunOnce(5000)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Less(t, time.Since(start), time.Second, "wakeup should interrupt the wait")
}

func TestUnmatchedCompletionIsDropped(t *testing.T) {
	src := fake.NewCompletionSource(16)
	p := proactor.New(src)

	require.NoError(t, src.PostCompletion(api.Completion{Address: 0xdead}))
	n, err := p.RunOnce(100)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestSyntheticResolveDispatchesNextIteration(t *testing.T) {
	src := fake.NewCompletionSource(16)
	p := proactor.New(src)

	fired := false
	f := p.Track(0x50, nil, func(api.Completion) { fired = true })
	require.True(t, p.Resolve(0x50, api.Completion{Address: 0x50}))
	assert.False(t, fired, "callbacks run on the loop, not inline")

	_, err := p.RunOnce(10)
	require.NoError(t, err)
	assert.True(t, fired)

	_, ok := f.Completion()
	assert.True(t, ok)
}

func TestResolveWithoutWaiter(t *testing.T) {
	p := proactor.New(fake.NewCompletionSource(1))
	assert.False(t, p.Resolve(0xabc, api.Completion{}))
}

func TestFutureErr(t *testing.T) {
	src := fake.NewCompletionSource(16)
	p := proactor.New(src)

	okF := p.Track(0x1, nil, nil)
	badF := p.Track(0x2, nil, nil)
	assert.ErrorIs(t, okF.Result().Err, api.ErrStillPending)

	require.NoError(t, src.PostCompletion(api.Completion{Address: 0x1}))
	require.NoError(t, src.PostCompletion(api.Completion{Address: 0x2, Errno: 995}))
	_, err := p.RunOnce(100)
	require.NoError(t, err)

	assert.NoError(t, okF.Err())
	assert.True(t, okF.Result().Ok())

	res := badF.Result()
	require.False(t, res.Ok())
	require.Error(t, badF.Err())
	var se *api.Error
	require.ErrorAs(t, res.Err, &se)
	assert.Equal(t, uint32(995), se.Errno)
}

func TestFutureCancelPlumbing(t *testing.T) {
	p := proactor.New(fake.NewCompletionSource(1))

	plain := p.Track(0x1, nil, nil)
	assert.ErrorIs(t, plain.Cancel(), api.ErrNotSupported)

	called := false
	wired := p.Track(0x2, func() error { called = true; return nil }, nil)
	require.NoError(t, wired.Cancel())
	assert.True(t, called)
}

func TestAwaitHonorsContext(t *testing.T) {
	p := proactor.New(fake.NewCompletionSource(1))
	f := p.Track(0x9, nil, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := f.Await(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestAwaitReturnsCompletion(t *testing.T) {
	src := fake.NewCompletionSource(16)
	p := proactor.New(src)
	f := p.Track(0x9, nil, nil)

	go func() {
		_ = src.PostCompletion(api.Completion{Address: 0x9, Bytes: 3})
		_, _ = p.RunOnce(1000)
	}()

	c, err := f.Await(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint32(3), c.Bytes)
}

func TestClosedSourceSurfacesError(t *testing.T) {
	src := fake.NewCompletionSource(1)
	p := proactor.New(src)
	require.NoError(t, src.Close())

	_, err := p.RunOnce(10)
	assert.ErrorIs(t, err, api.ErrSourceClosed)
}
