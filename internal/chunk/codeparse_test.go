package chunk

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateCodeFenceAcceptsWellFormedGo(t *testing.T) {
	ok, err := validateCodeFence(context.Background(), "go", "func main() {\n\tprintln(\"hi\")\n}\n")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestValidateCodeFenceFlagsMalformedPython(t *testing.T) {
	ok, err := validateCodeFence(context.Background(), "python", "def broken(:\n    pass\n")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestValidateCodeFenceSkipsUnknownLanguage(t *testing.T) {
	ok, err := validateCodeFence(context.Background(), "brainfuck", "+++++[>+++++<-]>.")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestSplitFenceExtractsLanguageAndBody(t *testing.T) {
	lang, body := splitFence("```go\nfunc f() {}\n```")
	assert.Equal(t, "go", lang)
	assert.Equal(t, "func f() {}\n", body)
}

func TestSplitFenceWithNoLanguageTagReturnsEmpty(t *testing.T) {
	lang, _ := splitFence("```\nplain text\n```")
	assert.Equal(t, "", lang)
}
