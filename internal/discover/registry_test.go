package discover

import (
	"slices"
	"sync"
	"testing"

	"github.com/dgnsrekt/pagerun/internal/faults"
)

type greeter interface{ Greet() string }

type english struct{}

func (english) Greet() string { return "hello" }

type french struct{}

func (french) Greet() string { return "bonjour" }

func newGreeters() *Registry[func() greeter] {
	r := New[func() greeter]("greeters")
	r.Register("english", func() greeter { return english{} })
	r.Register("french", func() greeter { return french{} })
	return r
}

func TestDiscoverIsMemoized(t *testing.T) {
	r := newGreeters()

	first := r.Discover()
	second := r.Discover()
	if len(first) != 2 || len(second) != 2 {
		t.Fatalf("Discover() sizes = %d, %d; want 2", len(first), len(second))
	}
	if n := r.scans.Load(); n != 1 {
		t.Fatalf("table built %d times; want 1", n)
	}
	if got := r.Names(); !slices.Equal(got, []string{"english", "french"}) {
		t.Fatalf("Names() = %v", got)
	}
}

func TestDiscoverConcurrentReads(t *testing.T) {
	r := newGreeters()
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if f, err := r.Lookup("french"); err != nil || f().Greet() != "bonjour" {
				t.Errorf("Lookup(french) = %v", err)
			}
		}()
	}
	wg.Wait()
	if n := r.scans.Load(); n != 1 {
		t.Fatalf("table built %d times; want 1", n)
	}
}

func TestLookupMissIsNotFound(t *testing.T) {
	r := newGreeters()
	if _, err := r.Lookup("klingon"); !faults.Is(err, faults.CodeNotFound) {
		t.Fatalf("Lookup(klingon) = %v; want NotFound", err)
	}
}

func TestOverrideWinsUntilRestored(t *testing.T) {
	r := newGreeters()
	r.Discover()

	restore := r.Override("english", func() greeter { return french{} })
	f, err := r.Lookup("english")
	if err != nil || f().Greet() != "bonjour" {
		t.Fatalf("overridden Lookup(english) = %v", err)
	}
	if got := r.Discover()["english"]().Greet(); got != "bonjour" {
		t.Fatalf("Discover()[english] = %q; want override", got)
	}

	restore()
	f, _ = r.Lookup("english")
	if f().Greet() != "hello" {
		t.Fatal("restore did not bring back the registered entry")
	}
}

func TestRegisterAfterDiscoveryPanics(t *testing.T) {
	r := newGreeters()
	r.Discover()
	defer func() {
		if recover() == nil {
			t.Fatal("Register after Discover did not panic")
		}
	}()
	r.Register("german", func() greeter { return english{} })
}

func TestRegisterDuplicatePanics(t *testing.T) {
	r := newGreeters()
	defer func() {
		if recover() == nil {
			t.Fatal("duplicate Register did not panic")
		}
	}()
	r.Register("english", func() greeter { return english{} })
}
