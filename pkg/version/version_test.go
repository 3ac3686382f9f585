package version

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestString(t *testing.T) {
	saved := [3]string{Version, Commit, Date}
	t.Cleanup(func() { Version, Commit, Date = saved[0], saved[1], saved[2] })

	Version, Commit, Date = "v1.2.3", "abc123", "2026-03-14"
	assert.Equal(t, "imbi-automations v1.2.3\n  commit: abc123\n  built:  2026-03-14\n", String())
}
