package graph_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/taskcycle/metasched/internal/coreerr"
	"github.com/taskcycle/metasched/internal/graph"
)

func TestParseSimpleEdge(t *testing.T) {
	edges, err := graph.ParseLine("A => B")
	require.NoError(t, err)
	require.Len(t, edges, 1)
	require.Equal(t, "A", edges[0].Left.Name)
	require.Equal(t, "B", edges[0].Right.Name)
}

func TestParseConjunction(t *testing.T) {
	edges, err := graph.ParseLine("A & B => C")
	require.NoError(t, err)
	require.Len(t, edges, 2)
}

func TestParseIntercycleOffset(t *testing.T) {
	edges, err := graph.ParseLine("model(T-6) => model")
	require.NoError(t, err)
	require.Len(t, edges, 1)
	require.Equal(t, -6, edges[0].Left.Offset)
}

func TestPositiveOffsetRejected(t *testing.T) {
	_, err := graph.ParseLine("model(T+6) => model")
	require.Error(t, err)
	var cfgErr *coreerr.SuiteConfigError
	require.ErrorAs(t, err, &cfgErr)
	require.Equal(t, "POSITIVE_OFFSET", cfgErr.Reason)
}

// S6: OR on right is rejected.
func TestOrOnRightRejected(t *testing.T) {
	_, err := graph.ParseLine("A => B | C")
	require.Error(t, err)
	var cfgErr *coreerr.SuiteConfigError
	require.ErrorAs(t, err, &cfgErr)
	require.Equal(t, "OR_ON_RIGHT", cfgErr.Reason)
}

func TestAlternativesOnLeftAllowed(t *testing.T) {
	edges, err := graph.ParseLine("A | B => C")
	require.NoError(t, err)
	require.Len(t, edges, 1)
	require.Equal(t, "B", edges[0].Left.Name) // rightmost chosen by default
}

func TestStarredAlternativeChosen(t *testing.T) {
	edges, err := graph.ParseLine("*A | B => C")
	require.NoError(t, err)
	require.Equal(t, "A", edges[0].Left.Name)
}

func TestNamedOutputReference(t *testing.T) {
	edges, err := graph.ParseLine("A:ready => B")
	require.NoError(t, err)
	require.Equal(t, "ready", edges[0].Left.Output)
}

func TestMultiStageChain(t *testing.T) {
	edges, err := graph.ParseLine("A => B => C")
	require.NoError(t, err)
	require.Len(t, edges, 2)
}

// node := [ MOD '|' ] NAME ...: a tight "MOD|" prefix (no surrounding
// space) names the real task after the pipe and flags it OneOff, rather
// than being parsed as an ordinary '|' alternation between two tasks.
func TestModPrefixSetsOneOffAndKeepsTheNameAfterThePipe(t *testing.T) {
	edges, err := graph.ParseLine("oneoff|foo => bar")
	require.NoError(t, err)
	require.Len(t, edges, 1)
	require.Equal(t, "foo", edges[0].Left.Name)
	require.True(t, edges[0].Left.OneOff)
	require.False(t, edges[0].Right.OneOff)
}

// A loosely-spaced '|' still parses as ordinary alternation, not a MOD
// prefix, since the corpus never writes the MOD separator with spaces.
func TestSpacedPipeStaysOrdinaryAlternationNotModPrefix(t *testing.T) {
	edges, err := graph.ParseLine("A | B => C")
	require.NoError(t, err)
	require.False(t, edges[0].Left.OneOff)
}
