package soft_test

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/icarus/engine/renderer/device"
	"github.com/spaghettifunk/icarus/engine/renderer/device/soft"
)

func TestBufferRoundTrip(t *testing.T) {
	d := soft.New()
	defer d.Destroy()

	h, err := d.NewBuffer("roundtrip", 16)
	require.NoError(t, err)

	require.NoError(t, d.WriteBuffer(h, 4, []byte{1, 2, 3, 4}))
	out := make([]byte, 8)
	require.NoError(t, d.ReadBuffer(h, 0, out))
	assert.Equal(t, []byte{0, 0, 0, 0, 1, 2, 3, 4}, out)

	assert.Error(t, d.WriteBuffer(h, 14, []byte{1, 2, 3}))

	require.NoError(t, d.ReleaseBuffer(h))
	err = d.ReadBuffer(h, 0, out)
	assert.True(t, errors.Is(err, device.ErrUnknownHandle))
}

func TestSubmissionsRunInOrder(t *testing.T) {
	d := soft.New()
	defer d.Destroy()

	var mu sync.Mutex
	var order []int
	for i := 0; i < 32; i++ {
		i := i
		require.NoError(t, d.Submit("unit", func() error {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			return nil
		}, nil))
	}
	d.WaitIdle()

	require.Len(t, order, 32)
	for i, got := range order {
		assert.Equal(t, i, got)
	}
}

func TestCompletionFiresAfterWork(t *testing.T) {
	d := soft.New()
	defer d.Destroy()

	workDone := false
	completed := make(chan bool, 1)
	require.NoError(t, d.Submit("unit", func() error {
		workDone = true
		return nil
	}, func() {
		completed <- workDone
	}))
	assert.True(t, <-completed)
}

func TestDispatchCoversEveryItem(t *testing.T) {
	d := soft.New()
	defer d.Destroy()

	args, err := d.NewBuffer("args", 4)
	require.NoError(t, err)

	const items = 64
	var mu sync.Mutex
	seen := make(map[int]bool)
	k := device.Kernel{
		Name: "touch",
		Fn: func(item int, _ []byte, _ device.Resolver) error {
			mu.Lock()
			seen[item] = true
			mu.Unlock()
			return nil
		},
	}
	require.NoError(t, d.Dispatch(k, items, args))
	require.Len(t, seen, items)
}

func TestDispatchPropagatesItemError(t *testing.T) {
	d := soft.New()
	defer d.Destroy()

	args, err := d.NewBuffer("args", 4)
	require.NoError(t, err)

	boom := errors.New("boom")
	k := device.Kernel{
		Name: "failing",
		Fn: func(item int, _ []byte, _ device.Resolver) error {
			if item == 3 {
				return boom
			}
			return nil
		},
	}
	err = d.Dispatch(k, 8, args)
	require.Error(t, err)
	assert.True(t, errors.Is(err, boom))
}

func TestWithoutFeature(t *testing.T) {
	d := soft.New(soft.WithoutFeature(device.FeatureDeviceEncoding))
	defer d.Destroy()

	assert.True(t, d.Supports(device.FeatureIndirectExecution))
	assert.False(t, d.Supports(device.FeatureDeviceEncoding))
}
