package metrics

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrite(t *testing.T) {
	Rebases.WithLabelValues("Success").Inc()
	QueueDepth.Set(3)
	RebaseDuration.Observe(0.5)

	var buf bytes.Buffer
	require.NoError(t, Write(&buf))
	out := buf.String()
	assert.Contains(t, out, `snapgraph_rebase_requests_total{status="Success"} `)
	assert.Contains(t, out, "snapgraph_rebase_queue_depth 3\n")
	assert.Contains(t, out, "snapgraph_rebase_duration_seconds_count ")
	QueueDepth.Set(0)
}
