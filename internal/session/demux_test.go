package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srg/bleflow/pkg/bluetooth"
)

func TestDemux_DeliversInOrder(t *testing.T) {
	// GOAL: Verify notifications are delivered in arrival order off the platform goroutine
	//
	// TEST SCENARIO: Push 100 values → drain goroutine delivers → order preserved, nothing lost

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	var got []byte
	d := newDemux("AA:BB", 256, func(n notification) {
		mu.Lock()
		got = append(got, n.data[0])
		mu.Unlock()
	}, quietLogger())
	d.start(ctx)

	for i := 0; i < 100; i++ {
		d.push("180d", "2a37", []byte{byte(i)})
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 100
	}, time.Second, 5*time.Millisecond)

	for i, v := range got {
		assert.Equal(t, byte(i), v, "notification %d MUST keep its position", i)
	}
}

func TestDemux_DropsOldestOnOverflow(t *testing.T) {
	// GOAL: Verify a burst larger than the buffer keeps the newest values
	//
	// TEST SCENARIO: Push 32 values into a 4-slot ring without draining → drain → newest values survive in order, drops counted

	var got []byte
	d := newDemux("AA:BB", 4, func(n notification) {
		got = append(got, n.data[0])
	}, quietLogger())

	const pushed = 32
	for i := 0; i < pushed; i++ {
		d.push("180d", "2a37", []byte{byte(i)})
	}
	d.drain(context.Background())

	require.NotEmpty(t, got)
	assert.Less(t, len(got), pushed, "overflow MUST drop values")
	assert.Equal(t, byte(pushed-1), got[len(got)-1], "newest value MUST survive")
	for i := 1; i < len(got); i++ {
		assert.Equal(t, got[i-1]+1, got[i], "survivors MUST be a contiguous suffix")
	}

	received, overwritten := d.stats()
	assert.Equal(t, uint64(pushed), received)
	assert.Positive(t, overwritten, "dropped values MUST be counted")
}

func TestDemux_CopiesPayload(t *testing.T) {
	var got notification
	d := newDemux("AA:BB", 4, func(n notification) { got = n }, quietLogger())

	buf := []byte{1, 2, 3}
	d.push(bluetooth.UUID("180d"), bluetooth.UUID("2a37"), buf)
	buf[0] = 9
	d.drain(context.Background())

	assert.Equal(t, []byte{1, 2, 3}, got.data, "platform buffers MUST NOT be aliased")
	assert.Equal(t, bluetooth.UUID("2a37"), got.characteristic)
}
