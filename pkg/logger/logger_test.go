package logger

import (
	"bytes"
	"encoding/json"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInfoCF_JSONIncludesComponentAndFields(t *testing.T) {
	var buf bytes.Buffer
	Configure(&buf, "json")
	SetLevel(INFO)
	t.Cleanup(func() { Configure(os.Stderr, "text") })

	InfoCF("session", "lineage regenerated", map[string]interface{}{"session_key": "conv-1", "turns": 3})

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "session", entry["component"])
	assert.Equal(t, "conv-1", entry["session_key"])
	assert.Equal(t, "lineage regenerated", entry["msg"])
}

func TestDebugCF_SuppressedAtInfo(t *testing.T) {
	var buf bytes.Buffer
	Configure(&buf, "text")
	SetLevel(INFO)
	t.Cleanup(func() { Configure(os.Stderr, "text") })

	DebugCF("proxy", "hidden", nil)
	assert.Empty(t, buf.String())

	SetLevel(DEBUG)
	DebugCF("proxy", "visible", nil)
	assert.True(t, strings.Contains(buf.String(), "visible"))
	SetLevel(INFO)
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, DEBUG, ParseLevel("DEBUG"))
	assert.Equal(t, WARN, ParseLevel("warning"))
	assert.Equal(t, ERROR, ParseLevel(" error "))
	assert.Equal(t, INFO, ParseLevel("bogus"))
}
