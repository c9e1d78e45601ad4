package registry

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func valueFactory(v any) Factory {
	return func(Resolver) (any, error) {
		return v, nil
	}
}

func TestRegistry_Bind_ResolvesValue(t *testing.T) {
	reg := New()
	id := Intern("svc.value")

	err := reg.Bind(id, valueFactory("hello"), Singleton)
	require.NoError(t, err)

	got, err := reg.Get(id)
	require.NoError(t, err)
	require.Equal(t, "hello", got)
}

func TestRegistry_Bind_IsIdempotent(t *testing.T) {
	reg := New()
	id := Intern("svc.idempotent")

	require.NoError(t, reg.Bind(id, valueFactory("first"), Singleton))
	// Second bind for the same identifier is a no-op, not an error
	require.NoError(t, reg.Bind(id, valueFactory("second"), Singleton))

	got, err := reg.Get(id)
	require.NoError(t, err)
	require.Equal(t, "first", got)
}

func TestRegistry_Get_NotBound(t *testing.T) {
	reg := New()
	id := Intern("svc.missing")

	_, err := reg.Get(id)
	require.Error(t, err)

	var notBound NotBoundError
	require.ErrorAs(t, err, &notBound)
	require.Equal(t, id, notBound.ID)
}

func TestRegistry_Singleton_ReturnsSameInstance(t *testing.T) {
	reg := New()
	id := Intern("svc.singleton")

	calls := 0
	require.NoError(t, reg.Bind(id, func(Resolver) (any, error) {
		calls++
		return &struct{ n int }{n: calls}, nil
	}, Singleton))

	first, err := reg.Get(id)
	require.NoError(t, err)
	second, err := reg.Get(id)
	require.NoError(t, err)

	require.Same(t, first, second)
	require.Equal(t, 1, calls)
}

func TestRegistry_Transient_ReturnsFreshInstance(t *testing.T) {
	reg := New()
	id := Intern("svc.transient")

	calls := 0
	require.NoError(t, reg.Bind(id, func(Resolver) (any, error) {
		calls++
		return &struct{ n int }{n: calls}, nil
	}, Transient))

	first, err := reg.Get(id)
	require.NoError(t, err)
	second, err := reg.Get(id)
	require.NoError(t, err)

	require.NotSame(t, first, second)
	require.Equal(t, 2, calls)
}

func TestRegistry_Singleton_ConcurrentGetConstructsOnce(t *testing.T) {
	reg := New()
	id := Intern("svc.concurrent")

	var count int
	var countMu sync.Mutex
	require.NoError(t, reg.Bind(id, func(Resolver) (any, error) {
		countMu.Lock()
		count++
		countMu.Unlock()
		return "instance", nil
	}, Singleton))

	var wg sync.WaitGroup
	results := make([]any, 32)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			got, err := reg.Get(id)
			require.NoError(t, err)
			results[i] = got
		}(i)
	}
	wg.Wait()

	require.Equal(t, 1, count)
	for _, got := range results {
		require.Equal(t, "instance", got)
	}
}

func TestRegistry_Get_DependencyChain(t *testing.T) {
	reg := New()
	idLeaf := Intern("svc.chain.leaf")
	idMid := Intern("svc.chain.mid")
	idRoot := Intern("svc.chain.root")

	require.NoError(t, reg.Bind(idLeaf, valueFactory(1), Singleton))
	require.NoError(t, reg.Bind(idMid, func(r Resolver) (any, error) {
		leaf, err := r.Resolve(idLeaf)
		if err != nil {
			return nil, err
		}
		return leaf.(int) + 1, nil
	}, Singleton))
	require.NoError(t, reg.Bind(idRoot, func(r Resolver) (any, error) {
		mid, err := r.Resolve(idMid)
		if err != nil {
			return nil, err
		}
		return mid.(int) + 1, nil
	}, Singleton))

	got, err := reg.Get(idRoot)
	require.NoError(t, err)
	require.Equal(t, 3, got)
}

func TestRegistry_Get_DetectsDirectCycle(t *testing.T) {
	reg := New()
	id := Intern("svc.cycle.self")

	require.NoError(t, reg.Bind(id, func(r Resolver) (any, error) {
		return r.Resolve(id)
	}, Singleton))

	_, err := reg.Get(id)
	require.Error(t, err)

	var cyclic CyclicDependencyError
	require.ErrorAs(t, err, &cyclic)
	require.Contains(t, cyclic.Error(), id.Name())
}

func TestRegistry_Get_DetectsIndirectCycle(t *testing.T) {
	reg := New()
	idA := Intern("svc.cycle.a")
	idB := Intern("svc.cycle.b")
	idC := Intern("svc.cycle.c")

	require.NoError(t, reg.Bind(idA, func(r Resolver) (any, error) {
		return r.Resolve(idB)
	}, Transient))
	require.NoError(t, reg.Bind(idB, func(r Resolver) (any, error) {
		return r.Resolve(idC)
	}, Transient))
	require.NoError(t, reg.Bind(idC, func(r Resolver) (any, error) {
		return r.Resolve(idA)
	}, Transient))

	_, err := reg.Get(idA)
	require.Error(t, err)

	var cyclic CyclicDependencyError
	require.ErrorAs(t, err, &cyclic)
	// The reported path walks the whole loop back to the repeated node
	require.GreaterOrEqual(t, len(cyclic.Path), 4)
}

func TestRegistry_Get_FactoryErrorPropagates(t *testing.T) {
	reg := New()
	id := Intern("svc.failing")
	boom := errors.New("boom")

	require.NoError(t, reg.Bind(id, func(Resolver) (any, error) {
		return nil, boom
	}, Singleton))

	_, err := reg.Get(id)
	require.ErrorIs(t, err, boom)

	// A failed construction is not cached; the factory runs again
	_, err = reg.Get(id)
	require.ErrorIs(t, err, boom)
}

func TestRegistry_Install_AllBindingsVisible(t *testing.T) {
	reg := New()
	idA := Intern("svc.install.a")
	idB := Intern("svc.install.b")

	m := Module{
		Name: "test-module",
		Bindings: []Binding{
			{ID: idA, Lifetime: Singleton, Factory: valueFactory("a")},
			{ID: idB, Lifetime: Transient, Factory: valueFactory("b")},
		},
	}
	require.NoError(t, reg.Install(m))

	require.True(t, reg.IsBound(idA))
	require.True(t, reg.IsBound(idB))
}

func TestRegistry_Install_InvalidBindingInstallsNothing(t *testing.T) {
	reg := New()
	idOK := Intern("svc.atomic.ok")
	idBad := Intern("svc.atomic.bad")

	m := Module{
		Name: "broken-module",
		Bindings: []Binding{
			{ID: idOK, Lifetime: Singleton, Factory: valueFactory("ok")},
			{ID: idBad, Lifetime: Singleton, Factory: nil},
		},
	}
	err := reg.Install(m)
	require.Error(t, err)

	var loadErr ModuleLoadError
	require.ErrorAs(t, err, &loadErr)
	require.Equal(t, "broken-module", loadErr.Module)

	// Nothing from the failed module is visible
	require.False(t, reg.IsBound(idOK))
	require.False(t, reg.IsBound(idBad))
}

func TestRegistry_Install_SkipsAlreadyBound(t *testing.T) {
	reg := New()
	id := Intern("svc.install.dup")

	require.NoError(t, reg.Bind(id, valueFactory("original"), Singleton))
	require.NoError(t, reg.Install(Module{
		Name: "dup-module",
		Bindings: []Binding{
			{ID: id, Lifetime: Singleton, Factory: valueFactory("replacement")},
		},
	}))

	got, err := reg.Get(id)
	require.NoError(t, err)
	require.Equal(t, "original", got)
}

func TestRegistry_UnbindAll_ClearsEverything(t *testing.T) {
	reg := New()
	id := Intern("svc.unbind")

	require.NoError(t, reg.Bind(id, valueFactory("v"), Singleton))
	_, err := reg.Get(id)
	require.NoError(t, err)

	reg.UnbindAll()

	require.False(t, reg.IsBound(id))
	require.Empty(t, reg.Singletons())
	_, err = reg.Get(id)
	var notBound NotBoundError
	require.ErrorAs(t, err, &notBound)
}

func TestRegistry_Generation_UniquePerRegistry(t *testing.T) {
	first := New()
	second := New()
	require.NotEmpty(t, first.Generation())
	require.NotEqual(t, first.Generation(), second.Generation())
}

func TestRegistry_Singletons_OnlyConstructedInstances(t *testing.T) {
	reg := New()
	idBuilt := Intern("svc.snapshot.built")
	idLazy := Intern("svc.snapshot.lazy")

	require.NoError(t, reg.Bind(idBuilt, valueFactory("built"), Singleton))
	require.NoError(t, reg.Bind(idLazy, valueFactory("lazy"), Singleton))

	_, err := reg.Get(idBuilt)
	require.NoError(t, err)

	singletons := reg.Singletons()
	require.Len(t, singletons, 1)
	require.Equal(t, "built", singletons[idBuilt])
}

func TestRegistry_BoundIDs_Sorted(t *testing.T) {
	reg := New()
	require.NoError(t, reg.Bind(Intern("svc.sort.b"), valueFactory(2), Transient))
	require.NoError(t, reg.Bind(Intern("svc.sort.a"), valueFactory(1), Transient))
	require.NoError(t, reg.Bind(Intern("svc.sort.c"), valueFactory(3), Transient))

	ids := reg.BoundIDs()
	require.Len(t, ids, 3)
	require.Equal(t, "svc.sort.a", ids[0].Name())
	require.Equal(t, "svc.sort.b", ids[1].Name())
	require.Equal(t, "svc.sort.c", ids[2].Name())
}

// === Property Tests ===

func TestRegistry_Property_SingletonIdentityStable(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		reg := New()

		numBindings := rapid.IntRange(1, 20).Draw(t, "numBindings")
		ids := make([]ID, numBindings)
		for i := 0; i < numBindings; i++ {
			ids[i] = Intern(fmt.Sprintf("prop.singleton.%d", i))
			value := &struct{ i int }{i: i}
			require.NoError(t, reg.Bind(ids[i], valueFactory(value), Singleton))
		}

		seen := make(map[ID]any)
		numGets := rapid.IntRange(1, 100).Draw(t, "numGets")
		for i := 0; i < numGets; i++ {
			id := ids[rapid.IntRange(0, numBindings-1).Draw(t, "pick")]
			got, err := reg.Get(id)
			require.NoError(t, err)
			if prev, ok := seen[id]; ok {
				require.Same(t, prev, got)
			}
			seen[id] = got
		}
	})
}
