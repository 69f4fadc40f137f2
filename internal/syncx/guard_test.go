package syncx

import (
	"sync"
	"testing"
)

func TestGuardGetSet(t *testing.T) {
	g := NewGuard(42)

	if got := g.Get(); got != 42 {
		t.Errorf("Get() = %d, want 42", got)
	}

	g.Set(100)
	if got := g.Get(); got != 100 {
		t.Errorf("Get() after Set = %d, want 100", got)
	}
}

func TestGuardWithStruct(t *testing.T) {
	type snapshot struct {
		interval int
		language string
	}

	g := NewGuard(snapshot{interval: 800, language: "auto"})

	g.Set(snapshot{interval: 1200, language: "ja"})

	got := g.Get()
	if got.interval != 1200 || got.language != "ja" {
		t.Errorf("Get() = %+v, want {1200 ja}", got)
	}
}

func TestGuardConcurrentSafety(t *testing.T) {
	g := NewGuard(0)
	var wg sync.WaitGroup

	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			g.Set(n)
		}(i)
	}
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = g.Get()
		}()
	}

	wg.Wait()

	if got := g.Get(); got < 0 || got > 99 {
		t.Errorf("Get() = %d, want a written value", got)
	}
}
