package kvtable

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// hashTable is the method set every backend implements.
type hashTable interface {
	Name() string
	Set(ctx context.Context, field, value string) error
	Delete(ctx context.Context, field string) error
	DeleteAll(ctx context.Context) error
	GetAll(ctx context.Context) (map[string]string, error)
	BatchGet(ctx context.Context, fields ...string) ([]string, []bool, error)
}

// runContract exercises a and b, two tables with different names on the same backend.
func runContract(t *testing.T, a, b hashTable) {
	ctx := context.Background()

	t.Run("empty", func(t *testing.T) {
		all, err := a.GetAll(ctx)
		require.NoError(t, err)
		assert.NotNil(t, all)
		assert.Empty(t, all)

		values, found, err := a.BatchGet(ctx, "id:j1", "type:Foo")
		require.NoError(t, err)
		assert.Equal(t, []string{"", ""}, values)
		assert.Equal(t, []bool{false, false}, found)

		require.NoError(t, a.Delete(ctx, "id:missing"))
		require.NoError(t, a.DeleteAll(ctx))
	})

	t.Run("set overwrite and batch get", func(t *testing.T) {
		require.NoError(t, a.Set(ctx, "type:Foo", "B"))
		require.NoError(t, a.Set(ctx, "type:Foo", "C"))
		require.NoError(t, a.Set(ctx, "type:Ns::Bar", "D"))

		values, found, err := a.BatchGet(ctx, "id:j1", "type:Foo")
		require.NoError(t, err)
		assert.Equal(t, []bool{false, true}, found)
		assert.Equal(t, "C", values[1])

		all, err := a.GetAll(ctx)
		require.NoError(t, err)
		assert.Equal(t, map[string]string{"type:Foo": "C", "type:Ns::Bar": "D"}, all)
	})

	t.Run("names are isolated", func(t *testing.T) {
		require.NoError(t, b.Set(ctx, "type:Foo", "Z"))
		require.NoError(t, b.DeleteAll(ctx))

		values, found, err := a.BatchGet(ctx, "type:Foo")
		require.NoError(t, err)
		assert.True(t, found[0])
		assert.Equal(t, "C", values[0])
	})

	t.Run("delete", func(t *testing.T) {
		require.NoError(t, a.Delete(ctx, "type:Foo"))
		all, err := a.GetAll(ctx)
		require.NoError(t, err)
		assert.Equal(t, map[string]string{"type:Ns::Bar": "D"}, all)

		require.NoError(t, a.DeleteAll(ctx))
		all, err = a.GetAll(ctx)
		require.NoError(t, err)
		assert.Empty(t, all)
	})
}
