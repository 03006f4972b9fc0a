package ringchan

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSendAndReceive(t *testing.T) {
	rc := New[int](3)
	assert.False(t, rc.Send(1))
	assert.False(t, rc.Send(2))
	assert.Equal(t, 2, rc.Len())

	v, ok := rc.TryReceive()
	assert.True(t, ok)
	assert.Equal(t, 1, v)
}

func TestDropOldestWhenFull(t *testing.T) {
	rc := New[int](2)
	rc.Send(1)
	rc.Send(2)
	assert.True(t, rc.Send(3), "full buffer drops the oldest")

	v, _ := rc.TryReceive()
	assert.Equal(t, 2, v, "1 was discarded")
	v, _ = rc.TryReceive()
	assert.Equal(t, 3, v)
	assert.Equal(t, int64(1), rc.Dropped())
}

func TestTryReceiveEmpty(t *testing.T) {
	rc := New[string](1)
	_, ok := rc.TryReceive()
	assert.False(t, ok)
}

func TestCloseEndsRange(t *testing.T) {
	rc := New[int](4)
	rc.Send(1)
	rc.Send(2)
	rc.Close()

	var got []int
	for v := range rc.C() {
		got = append(got, v)
	}
	assert.Equal(t, []int{1, 2}, got)
}

func TestNewPanicsOnBadCapacity(t *testing.T) {
	assert.Panics(t, func() { New[int](0) })
}
