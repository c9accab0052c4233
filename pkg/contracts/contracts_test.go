package contracts

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetVersionInfo(t *testing.T) {
	info := GetVersionInfo()
	assert.Equal(t, Version, info.Version)
	assert.Equal(t, APIVersion, info.APIVersion)
	assert.NotEmpty(t, info.GoVersion)
	assert.True(t, strings.HasPrefix(GetFullVersionString(), "scriptgate v"+Version))
}
