package lock

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func lockers(t *testing.T) map[string]Locker {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return map[string]Locker{
		"memory": NewMemory(),
		"redis":  NewRedis(client, 5*time.Second),
	}
}

func TestMutualExclusion(t *testing.T) {
	for name, l := range lockers(t) {
		t.Run(name, func(t *testing.T) {
			var (
				wg       sync.WaitGroup
				inside   int32
				maxSeen  int32
				finished int32
			)
			for i := 0; i < 20; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					release, err := l.Acquire(context.Background(), "TXN_ABCDEFGHIJ")
					if err != nil {
						t.Error(err)
						return
					}
					n := atomic.AddInt32(&inside, 1)
					if n > atomic.LoadInt32(&maxSeen) {
						atomic.StoreInt32(&maxSeen, n)
					}
					time.Sleep(time.Millisecond)
					atomic.AddInt32(&inside, -1)
					atomic.AddInt32(&finished, 1)
					release()
				}()
			}
			wg.Wait()
			if maxSeen != 1 {
				t.Fatalf("max concurrent holders = %d; want 1", maxSeen)
			}
			if finished != 20 {
				t.Fatalf("finished = %d", finished)
			}
		})
	}
}

func TestAcquireRespectsContext(t *testing.T) {
	for name, l := range lockers(t) {
		t.Run(name, func(t *testing.T) {
			release, err := l.Acquire(context.Background(), "k")
			if err != nil {
				t.Fatal(err)
			}
			defer release()

			ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
			defer cancel()
			if _, err := l.Acquire(ctx, "k"); !errors.Is(err, context.DeadlineExceeded) {
				t.Fatalf("err = %v; want deadline exceeded", err)
			}

			// different keys do not contend
			r2, err := l.Acquire(context.Background(), "other")
			if err != nil {
				t.Fatal(err)
			}
			r2()
		})
	}
}

func TestMemoryDropsIdleKeys(t *testing.T) {
	m := NewMemory()
	release, _ := m.Acquire(context.Background(), "a")
	release()
	release()
	if len(m.locks) != 0 {
		t.Fatalf("idle keys retained: %d", len(m.locks))
	}
}
