package hooks

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestRegistryPriority(t *testing.T) {
	r := NewRegistry[*[]string](zaptest.NewLogger(t))

	r.RegisterWithPriority(func(order *[]string) error {
		*order = append(*order, "third")
		return nil
	}, 5)
	r.RegisterWithPriority(func(order *[]string) error {
		*order = append(*order, "first")
		return nil
	}, -5)
	r.Register(func(order *[]string) error {
		*order = append(*order, "second")
		return nil
	})
	r.RegisterNamed("fourth", func(order *[]string) error {
		*order = append(*order, "fourth")
		return nil
	}, 5)

	var order []string
	require.NoError(t, r.RunHooks(&order))
	assert.Equal(t, []string{"first", "second", "third", "fourth"}, order)
}

func TestRegistryRecoversPanics(t *testing.T) {
	r := NewRegistry[int](zaptest.NewLogger(t))
	boom := errors.New("boom")

	var after []int
	r.RegisterNamed("panics", func(int) error { panic("observer bug") }, 0)
	r.RegisterNamed("fails", func(int) error { return boom }, 1)
	r.RegisterNamed("records", func(n int) error {
		after = append(after, n)
		return nil
	}, 2)

	err := r.RunHooks(7)
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "panic in hook panics: observer bug")
	assert.Contains(t, err.Error(), "hook fails: boom")
	assert.Equal(t, []int{7}, after, "later hooks still run")
}

func TestRegistryEmpty(t *testing.T) {
	r := NewRegistry[string](nil)
	assert.NoError(t, r.RunHooks("nothing"))
}
