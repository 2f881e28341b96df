package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLoaderFromExt(t *testing.T) {
	assert.Equal(t, LoaderTS, LoaderFromExt(".mts"))
	assert.Equal(t, LoaderTSX, LoaderFromExt(".tsx"))
	assert.Equal(t, LoaderJSX, LoaderFromExt(".cjs"))
	assert.Equal(t, LoaderJSON, LoaderFromExt(".JSON"))
	assert.Equal(t, LoaderNone, LoaderFromExt(".css"))
	assert.True(t, LoaderFromExt(".cts").IsTypeScript())
	assert.False(t, LoaderFromExt(".js").IsTypeScript())
}

func TestFormatOutputExtension(t *testing.T) {
	assert.Equal(t, ".mjs", FormatESModule.OutputExtension())
	assert.Equal(t, ".cjs", FormatCommonJS.OutputExtension())
	assert.Panics(t, func() { FormatPreserve.OutputExtension() })
}
