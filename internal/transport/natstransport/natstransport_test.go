package natstransport

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/taskcycle/metasched/internal/identity"
	"github.com/taskcycle/metasched/internal/tag"
)

// subject/sanitize are the only pieces of this package that don't require a
// live NATS connection to exercise; Register/Publish/Deliveries are thin
// wrappers over nats.go and are left to integration testing against a real
// broker, matching the teacher's own natsctx package (no broker-dependent
// unit tests there either).

func TestSanitizeReplacesDotsAndSpaces(t *testing.T) {
	require.Equal(t, "foo_bar_baz", sanitize("foo.bar baz"))
}

func TestSanitizeLeavesOrdinaryNamesUnchanged(t *testing.T) {
	require.Equal(t, "foo123", sanitize("foo123"))
}

func TestSubjectFormatsPrefixNameAndSanitizedTag(t *testing.T) {
	r := &Registry{prefix: "metasched"}
	id := identity.New("my.task", tag.Async(3))
	require.Equal(t, "metasched.my_task."+sanitize(id.Tag.String()), r.subject(id))
}

func TestSubjectIsStableForCyclingTags(t *testing.T) {
	r := &Registry{prefix: "metasched"}
	id := identity.New("foo", tag.Cycling(time.Date(2026, 1, 1, 6, 0, 0, 0, time.UTC)))
	got := r.subject(id)
	require.Equal(t, got, r.subject(id), "subject derivation must be deterministic for the same identity")
	require.NotContains(t, got, " ", "subjects must never contain raw spaces")
}
