package session

import (
	"context"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewRedisStore(client, time.Hour), mr
}

func TestRedisStoreRoundTrip(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	sess := New("+5491155550001")
	sess.State = StateFieldName
	sess.AttentionType = AttentionHome
	sess.FullName = "Maria Lopez"
	sess.Studies = []string{"Glucosa", "Colesterol total"}

	require.NoError(t, store.Put(ctx, sess))

	got, err := store.Get(ctx, "+5491155550001")
	require.NoError(t, err)
	require.Equal(t, StateFieldName, got.State)
	require.Equal(t, AttentionHome, got.AttentionType)
	require.Equal(t, "Maria Lopez", got.FullName)
	require.Equal(t, []string{"Glucosa", "Colesterol total"}, got.Studies)
}

func TestRedisStoreMissing(t *testing.T) {
	store, _ := newTestStore(t)

	_, err := store.Get(context.Background(), "+5491100000000")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestRedisStoreTTLRefreshedOnWrite(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	sess := New("+5491155550002")
	require.NoError(t, store.Put(ctx, sess))

	key := sessionKey("+5491155550002")
	require.Equal(t, time.Hour, mr.TTL(key))

	mr.FastForward(30 * time.Minute)
	require.NoError(t, store.Put(ctx, sess))
	require.Equal(t, time.Hour, mr.TTL(key))
}

func TestRedisStoreDelete(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	sess := New("+5491155550003")
	require.NoError(t, store.Put(ctx, sess))
	require.NoError(t, store.Delete(ctx, sess.Identity))

	_, err := store.Get(ctx, sess.Identity)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestStateValidity(t *testing.T) {
	for _, s := range []State{StateNone, StateMenu, StateAwaitingStudiesConfirm, StateExtracting} {
		if !s.Valid() {
			t.Errorf("state %q should be valid", s)
		}
	}
	if State("esperando_datos").Valid() {
		t.Error("legacy/unknown state token must be invalid")
	}
}

func TestKeyedMutexSerializesSameKey(t *testing.T) {
	km := NewKeyedMutex()
	var counter int

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := km.Lock("same")
			defer unlock()
			counter++
		}()
	}
	wg.Wait()

	if counter != 50 {
		t.Fatalf("expected 50 serialized increments, got %d", counter)
	}
}
