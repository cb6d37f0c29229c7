package dvbrx

import (
	"runtime/debug"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVersionString(t *testing.T) {
	var bi = &debug.BuildInfo{Settings: []debug.BuildSetting{
		{Key: "vcs.time", Value: "2026-01-02T03:04:05Z"},
		{Key: "vcs.revision", Value: "abc123"},
		{Key: "vcs.modified", Value: "true"},
	}}
	assert.Equal(t, "dvbrx - Version !UNKNOWN! (revision abc123-DIRTY, built at 2026-01-02T03:04:05Z)", versionString("dvbrx", bi))

	bi.Settings[2].Value = "maybe"
	assert.Contains(t, versionString("dvbrx", bi), "abc123-UNKNOWNDIRTY")

	assert.Contains(t, versionString("tsdump", nil), "revision UNKNOWN-UNKNOWNDIRTY, built at UNKNOWN")
}
