package depgraph

import (
	"fmt"
	"strings"

	"github.com/core-tools/hsu-agentplane-go/pkg/logging"
)

// CycleError reports a genuine dependency cycle. Cycle contains only the
// units actually on the cycle, in traversal order.
type CycleError struct {
	Cycle []string
}

func (e *CycleError) Error() string {
	if len(e.Cycle) == 0 {
		return "dependency cycle detected"
	}
	return fmt.Sprintf("dependency cycle detected: %s -> %s", strings.Join(e.Cycle, " -> "), e.Cycle[0])
}

// Resolver computes admissible, deterministic start order for a dependency
// graph: ordered levels where level 0 holds units with no dependencies and
// level k holds units whose dependencies' maximum level is k-1.
type Resolver struct {
	logger logging.Logger
}

func NewResolver(logger logging.Logger) *Resolver {
	return &Resolver{logger: logger}
}

// Resolve levels the graph. Dependency names that resolve to no declared
// unit are treated as already satisfied external dependencies: logged as a
// warning, never a failure. Within a level, declaration order is preserved.
func (r *Resolver) Resolve(names []string, dependencies map[string][]string) ([][]string, error) {
	if len(names) == 0 {
		return nil, nil
	}

	declared := make(map[string]bool, len(names))
	for _, name := range names {
		declared[name] = true
	}

	const (
		unvisited = 0
		visiting  = 1
		done      = 2
	)
	colors := make(map[string]int, len(names))
	levels := make(map[string]int, len(names))
	var stack []string

	var visit func(name string) error
	visit = func(name string) error {
		switch colors[name] {
		case done:
			return nil
		case visiting:
			// Found a back edge: the cycle is the stack suffix starting at
			// the revisited unit.
			for i, member := range stack {
				if member == name {
					cycle := append([]string{}, stack[i:]...)
					return &CycleError{Cycle: cycle}
				}
			}
			return &CycleError{Cycle: []string{name}}
		}

		colors[name] = visiting
		stack = append(stack, name)

		level := 0
		for _, dependency := range dependencies[name] {
			if !declared[dependency] {
				r.logger.Warnf("Unit depends on undeclared unit, treating as satisfied, unit: %s, dependency: %s",
					name, dependency)
				continue
			}
			if err := visit(dependency); err != nil {
				return err
			}
			if levels[dependency] >= level {
				level = levels[dependency] + 1
			}
		}

		stack = stack[:len(stack)-1]
		colors[name] = done
		levels[name] = level
		return nil
	}

	for _, name := range names {
		if err := visit(name); err != nil {
			return nil, err
		}
	}

	maxLevel := 0
	for _, level := range levels {
		if level > maxLevel {
			maxLevel = level
		}
	}

	result := make([][]string, maxLevel+1)
	for _, name := range names {
		level := levels[name]
		result[level] = append(result[level], name)
	}

	r.logger.Debugf("Dependency graph resolved, units: %d, levels: %d", len(names), len(result))
	return result, nil
}
