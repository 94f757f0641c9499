package depgraph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Simple test logger that implements logging.Logger interface
type TestLogger struct{}

func (l *TestLogger) Debugf(format string, args ...interface{}) {}
func (l *TestLogger) Infof(format string, args ...interface{})  {}
func (l *TestLogger) Warnf(format string, args ...interface{})  {}
func (l *TestLogger) Errorf(format string, args ...interface{}) {}

func resolve(t *testing.T, names []string, deps map[string][]string) [][]string {
	levels, err := NewResolver(&TestLogger{}).Resolve(names, deps)
	require.NoError(t, err)
	return levels
}

func TestResolveDiamond(t *testing.T) {
	// A <- B, A <- C, {B,C} <- D
	levels := resolve(t,
		[]string{"a", "b", "c", "d"},
		map[string][]string{
			"b": {"a"},
			"c": {"a"},
			"d": {"b", "c"},
		})

	assert.Equal(t, [][]string{{"a"}, {"b", "c"}, {"d"}}, levels)
}

func TestResolvePreservesDeclarationOrderWithinLevel(t *testing.T) {
	// Units A(no deps), B(deps=[A]), C(deps=[A]): levels [[A],[B,C]] with B
	// before C.
	levels := resolve(t,
		[]string{"a", "b", "c"},
		map[string][]string{
			"b": {"a"},
			"c": {"a"},
		})

	require.Len(t, levels, 2)
	assert.Equal(t, []string{"a"}, levels[0])
	assert.Equal(t, []string{"b", "c"}, levels[1])

	// Reversed declaration order flips the tie-break.
	levels = resolve(t,
		[]string{"c", "b", "a"},
		map[string][]string{
			"b": {"a"},
			"c": {"a"},
		})
	assert.Equal(t, []string{"c", "b"}, levels[1])
}

func TestResolveEveryDependencyLandsLower(t *testing.T) {
	names := []string{"gateway", "vectordb", "embedder", "reranker", "ocr", "asr"}
	deps := map[string][]string{
		"embedder": {"vectordb"},
		"reranker": {"embedder", "vectordb"},
		"gateway":  {"reranker", "asr"},
		"asr":      {"ocr"},
	}

	levels := resolve(t, names, deps)

	position := make(map[string]int)
	for levelIndex, level := range levels {
		for _, name := range level {
			position[name] = levelIndex
		}
	}
	for name, dependencies := range deps {
		for _, dependency := range dependencies {
			assert.Less(t, position[dependency], position[name],
				"dependency %s of %s must land in a strictly lower level", dependency, name)
		}
	}
}

func TestResolveUndeclaredDependencyIsSatisfied(t *testing.T) {
	levels := resolve(t,
		[]string{"a", "b"},
		map[string][]string{
			"a": {"redis"}, // external collaborator, not declared
			"b": {"a"},
		})

	assert.Equal(t, [][]string{{"a"}, {"b"}}, levels)
}

func TestResolveFailsOnCycle(t *testing.T) {
	_, err := NewResolver(&TestLogger{}).Resolve(
		[]string{"a", "b", "c", "standalone"},
		map[string][]string{
			"a": {"c"},
			"b": {"a"},
			"c": {"b"},
		})

	require.Error(t, err)
	var cycleErr *CycleError
	require.ErrorAs(t, err, &cycleErr)

	// The reported cycle contains only units actually on it.
	assert.ElementsMatch(t, []string{"a", "b", "c"}, cycleErr.Cycle)
	assert.NotContains(t, cycleErr.Cycle, "standalone")
}

func TestResolveFailsOnSelfCycleViaPair(t *testing.T) {
	_, err := NewResolver(&TestLogger{}).Resolve(
		[]string{"x", "y"},
		map[string][]string{
			"x": {"y"},
			"y": {"x"},
		})

	require.Error(t, err)
	var cycleErr *CycleError
	require.ErrorAs(t, err, &cycleErr)
	assert.ElementsMatch(t, []string{"x", "y"}, cycleErr.Cycle)
}

func TestResolveEmptyGraph(t *testing.T) {
	levels, err := NewResolver(&TestLogger{}).Resolve(nil, nil)
	require.NoError(t, err)
	assert.Nil(t, levels)
}
