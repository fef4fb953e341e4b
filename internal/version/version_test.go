package version

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStringIncludesBuildMetadata(t *testing.T) {
	Version, Commit = "1.2.3", "abc123"
	out := String()
	assert.True(t, strings.HasPrefix(out, "paycore 1.2.3\n"))
	assert.Contains(t, out, "commit: abc123")
	assert.Contains(t, out, "go: go")
}
