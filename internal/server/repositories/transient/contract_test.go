package transient

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/pmdash/internal/common"
)

// runStoreContract checks the behaviour shared by every Store. newStore
// returns the store and a function that moves its clock forward.
func runStoreContract(t *testing.T, newStore func(t *testing.T) (Store, func(time.Duration))) {
	ctx := context.Background()

	t.Run("put get delete", func(t *testing.T) {
		s, _ := newStore(t)
		require.NoError(t, s.Put(ctx, "reset:abc", []byte(`{"username":"admin"}`), time.Hour))

		v, err := s.Get(ctx, "reset:abc")
		require.NoError(t, err)
		assert.JSONEq(t, `{"username":"admin"}`, string(v))

		require.NoError(t, s.Delete(ctx, "reset:abc"))
		_, err = s.Get(ctx, "reset:abc")
		assert.ErrorIs(t, err, common.ErrorNotFound)

		assert.NoError(t, s.Delete(ctx, "reset:abc"), "deleting a missing key is fine")
	})

	t.Run("put overwrites", func(t *testing.T) {
		s, _ := newStore(t)
		require.NoError(t, s.Put(ctx, "challenge:admin", []byte("1"), time.Minute))
		require.NoError(t, s.Put(ctx, "challenge:admin", []byte("2"), time.Minute))

		v, err := s.Get(ctx, "challenge:admin")
		require.NoError(t, err)
		assert.Equal(t, "2", string(v))
	})

	t.Run("expiry", func(t *testing.T) {
		s, advance := newStore(t)
		require.NoError(t, s.Put(ctx, "k", []byte("v"), time.Minute))

		advance(59 * time.Second)
		_, err := s.Get(ctx, "k")
		require.NoError(t, err)

		advance(2 * time.Second)
		_, err = s.Get(ctx, "k")
		assert.ErrorIs(t, err, common.ErrorNotFound)
		_, err = s.Take(ctx, "k")
		assert.ErrorIs(t, err, common.ErrorNotFound)
	})

	t.Run("take is single use", func(t *testing.T) {
		s, _ := newStore(t)
		require.NoError(t, s.Put(ctx, "reset:tok", []byte("v"), time.Hour))

		v, err := s.Take(ctx, "reset:tok")
		require.NoError(t, err)
		assert.Equal(t, "v", string(v))

		_, err = s.Take(ctx, "reset:tok")
		assert.ErrorIs(t, err, common.ErrorNotFound)
	})

	t.Run("concurrent take has one winner", func(t *testing.T) {
		s, _ := newStore(t)
		require.NoError(t, s.Put(ctx, "reset:race", []byte("v"), time.Hour))

		const callers = 8
		var (
			wg   sync.WaitGroup
			mu   sync.Mutex
			wins int
		)
		for i := 0; i < callers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := s.Take(ctx, "reset:race"); err == nil {
					mu.Lock()
					wins++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, 1, wins)
	})
}
