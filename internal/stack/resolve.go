package stack

import (
	"fmt"
	"sort"
	"strings"

	"github.com/appforge/appforge/internal/artifact"
)

// CycleError reports a dependency cycle among a backend's generators with
// its full membership.
type CycleError struct {
	Backend string
	Members []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("backend %q: generator dependency cycle: %s",
		e.Backend, strings.Join(e.Members, " -> "))
}

// UnsatisfiedError reports a required artifact key no earlier generator can
// produce.
type UnsatisfiedError struct {
	Backend   string
	Generator string
	Key       artifact.Key
}

func (e *UnsatisfiedError) Error() string {
	return fmt.Sprintf("backend %q: generator %q requires %q, unresolved",
		e.Backend, e.Generator, e.Key)
}

// ResolveOrder computes the execution order of a backend's generators from
// their requires/produces edges. Generators with no dependency relation keep
// their declaration order, so repeated runs of the same backend resolve to
// the identical total order. Cycles and unsatisfiable requires are reported
// as typed errors; both are configuration defects, not runtime ones.
func ResolveOrder(b *Backend) ([]Generator, error) {
	n := len(b.Generators)
	producers := make(map[artifact.Key]int, n)
	for i, g := range b.Generators {
		for _, key := range g.Produces() {
			if _, dup := producers[key]; !dup {
				producers[key] = i
			}
		}
	}

	// deps[i] holds the declaration indexes generator i depends on.
	deps := make([]map[int]bool, n)
	indegree := make([]int, n)
	dependents := make([][]int, n)
	for i, g := range b.Generators {
		deps[i] = make(map[int]bool)
		for _, key := range g.Requires() {
			p, ok := producers[key]
			if !ok {
				return nil, &UnsatisfiedError{Backend: b.ID, Generator: g.ID(), Key: key}
			}
			if p == i {
				continue // self-produced keys impose no ordering
			}
			if !deps[i][p] {
				deps[i][p] = true
				indegree[i]++
				dependents[p] = append(dependents[p], i)
			}
		}
	}

	// Kahn's algorithm, always draining the ready node with the lowest
	// declaration index so ties resolve deterministically.
	ready := make([]int, 0, n)
	for i := 0; i < n; i++ {
		if indegree[i] == 0 {
			ready = append(ready, i)
		}
	}
	order := make([]Generator, 0, n)
	for len(ready) > 0 {
		sort.Ints(ready)
		next := ready[0]
		ready = ready[1:]
		order = append(order, b.Generators[next])
		for _, d := range dependents[next] {
			indegree[d]--
			if indegree[d] == 0 {
				ready = append(ready, d)
			}
		}
	}

	if len(order) < n {
		remaining := make(map[int]bool)
		for i := 0; i < n; i++ {
			if indegree[i] > 0 {
				remaining[i] = true
			}
		}
		// Nodes merely downstream of a cycle also keep indegree > 0;
		// prune nodes with no dependents left so only true cycle
		// members are reported.
		for changed := true; changed; {
			changed = false
			for i := range remaining {
				hasDependent := false
				for _, d := range dependents[i] {
					if remaining[d] {
						hasDependent = true
						break
					}
				}
				if !hasDependent {
					delete(remaining, i)
					changed = true
				}
			}
		}
		idx := make([]int, 0, len(remaining))
		for i := range remaining {
			idx = append(idx, i)
		}
		sort.Ints(idx)
		members := make([]string, 0, len(idx))
		for _, i := range idx {
			members = append(members, b.Generators[i].ID())
		}
		return nil, &CycleError{Backend: b.ID, Members: members}
	}
	return order, nil
}
