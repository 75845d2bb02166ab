package session

import (
	"sync"
	"testing"
	"time"

	"github.com/kabelnet/ispbot/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStoreGetSetDelete(t *testing.T) {
	st := NewMemoryStore()

	_, ok := st.Get("628111")
	assert.False(t, ok)

	st.Set("628111", models.Session{
		FlowID:  models.FlowChangeWiFiName,
		Step:    "wifi_name.await_name",
		Context: map[models.DataKey]string{models.DataKeyDeviceID: "dev-1"},
	})

	got, ok := st.Get("628111")
	require.True(t, ok)
	assert.Equal(t, "628111", got.UserID)
	assert.Equal(t, models.StepID("wifi_name.await_name"), got.Step)
	assert.False(t, got.CreatedAt.IsZero())

	// Mutating the returned copy must not leak into the store.
	got.Context[models.DataKeyDeviceID] = "dev-9"
	again, _ := st.Get("628111")
	assert.Equal(t, "dev-1", again.Get(models.DataKeyDeviceID))

	st.Delete("628111")
	_, ok = st.Get("628111")
	assert.False(t, ok)
	st.Delete("628111")
	assert.Equal(t, 0, st.Len())
}

func TestMemoryStorePreservesCreatedAt(t *testing.T) {
	st := NewMemoryStore()
	created := time.Date(2026, 1, 1, 8, 0, 0, 0, time.UTC)
	st.Set("u", models.Session{Step: "a", CreatedAt: created})
	s, _ := st.Get("u")
	assert.Equal(t, created, s.CreatedAt)
	assert.True(t, s.UpdatedAt.After(created))
}

func TestMemoryStoreSweep(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	st := NewMemoryStore(WithClock(func() time.Time { return now }))

	st.Set("old", models.Session{Step: "a"})
	st.Set("busy", models.Session{Step: "a", Executing: true})

	now = now.Add(2 * time.Hour)
	st.Set("fresh", models.Session{Step: "a"})

	removed := st.Sweep(time.Hour)
	assert.Equal(t, []string{"old"}, removed)
	assert.Equal(t, 2, st.Len())
	assert.Nil(t, st.Sweep(0))

	ids := []string{}
	for _, s := range st.List() {
		ids = append(ids, s.UserID)
	}
	assert.Equal(t, []string{"busy", "fresh"}, ids)
}

func TestMemoryStoreStampsWithInjectedClock(t *testing.T) {
	at := time.Date(2001, 1, 1, 0, 0, 0, 0, time.UTC)
	st := NewMemoryStore(WithClock(func() time.Time { return at }))

	st.Set("u", models.Session{Step: "a"})
	s, ok := st.Get("u")
	require.True(t, ok)
	assert.Equal(t, at, s.CreatedAt)
	assert.Equal(t, at, s.UpdatedAt)

	assert.NotNil(t, NewMemoryStore(WithClock(nil)).now, "nil clock keeps the default")
}

func TestMemoryStoreConcurrentDistinctKeys(t *testing.T) {
	st := NewMemoryStore()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := string(rune('a' + i%26))
			st.Set(id, models.Session{Step: "a"})
			st.Get(id)
			st.Delete(id)
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 0, st.Len())
}
