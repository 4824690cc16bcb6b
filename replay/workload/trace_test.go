package workload

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadTrace_ParsesOptionalLengths(t *testing.T) {
	input := `{"timestamp": 1500, "requests": [{"prompt": "hi", "Prompt Length": 3, "Output Length": 7}, {"prompt": "yo"}]}

{"timestamp": 0, "requests": []}
`
	batches, err := ReadTrace(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, batches, 2)

	assert.Equal(t, int64(1500), batches[0].TimestampMs)
	require.Len(t, batches[0].Requests, 2)
	require.NotNil(t, batches[0].Requests[0].PromptLength)
	assert.Equal(t, 3, *batches[0].Requests[0].PromptLength)
	assert.Equal(t, 7, *batches[0].Requests[0].OutputLength)
	assert.Nil(t, batches[0].Requests[1].PromptLength)
	assert.Empty(t, batches[1].Requests)
}

func TestReadTrace_MalformedLine_ReportsLineNumber(t *testing.T) {
	input := "{\"timestamp\": 1, \"requests\": []}\n{not json}\n"
	_, err := ReadTrace(strings.NewReader(input))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 2")
}

func TestReadTrace_MissingFields_Rejected(t *testing.T) {
	_, err := ReadTrace(strings.NewReader(`{"requests": [{"prompt": "a"}]}`))
	assert.ErrorContains(t, err, "missing timestamp")

	_, err = ReadTrace(strings.NewReader(`{"timestamp": 1, "requests": [{"Prompt Length": 2}]}`))
	assert.ErrorContains(t, err, "missing prompt")
}

func TestLoadTrace_MissingFile(t *testing.T) {
	_, err := LoadTrace(filepath.Join(t.TempDir(), "absent.jsonl"))
	assert.Error(t, err)
}

func TestWriteCollapsed_RoundTripsThroughLoader(t *testing.T) {
	// GIVEN a collapsed workload written as an artifact
	dir := t.TempDir()
	path := CollapsedPath(filepath.Join(dir, "trace.jsonl"))
	assert.Equal(t, filepath.Join(dir, "trace_collapsed.jsonl"), path)

	cw := CollapsedWorkload{
		{TimestampMs: 0, Requests: prompts("A")},
		{TimestampMs: 1000, Requests: prompts("B", "C")},
	}
	require.NoError(t, WriteCollapsed(path, cw))

	// WHEN it is loaded and collapsed again with the same unit
	batches, err := LoadTrace(path)
	require.NoError(t, err)
	again, err := Collapse(batches, 1000)
	require.NoError(t, err)

	// THEN the workload is unchanged
	assert.Equal(t, cw, again)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(string(data), "\n"))
	assert.Contains(t, string(data), `"Prompt Length":null`)
}
