package observe

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValueSetNotifiesOnChange(t *testing.T) {
	v := NewValue(0)

	var seen []int
	v.Listen(func(n int) { seen = append(seen, n) })

	assert.True(t, v.Set(12))
	assert.False(t, v.Set(12), "same value is not a change")
	assert.True(t, v.Set(0))

	assert.Equal(t, []int{12, 0}, seen)
	assert.Equal(t, 0, v.Get())
}

func TestValueCancel(t *testing.T) {
	v := NewValue("")

	calls := 0
	cancel := v.Listen(func(string) { calls++ })
	v.Set("a")
	cancel()
	cancel()
	v.Set("b")

	assert.Equal(t, 1, calls)
}

func TestValueListenerOrder(t *testing.T) {
	v := NewValue(0)

	var order []string
	v.Listen(func(int) { order = append(order, "first") })
	v.Listen(func(int) { order = append(order, "second") })
	v.Set(1)

	assert.Equal(t, []string{"first", "second"}, order)
}

func TestValueListenerMaySet(t *testing.T) {
	source := NewValue(0)
	mirror := NewValue(0)
	source.Listen(func(n int) { mirror.Set(n) })

	source.Set(7)
	assert.Equal(t, 7, mirror.Get())
}
