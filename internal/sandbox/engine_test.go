package sandbox

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"scraper-worker-service/internal/entity"
)

func shEngine() *Engine {
	e := NewEngine(zap.NewNop())
	e.command = func(kind entity.ScriptKind, path string, args ...string) *exec.Cmd {
		return exec.Command("/bin/sh", append([]string{path}, args...)...)
	}
	return e
}

func emitterScript(n int) string {
	return scriptHeader + fmt.Sprintf(`i=0
while [ $i -lt %d ]; do
  echo "{\"name\":\"p$i\",\"price\":1}"
  i=$((i+1))
done
`, n)
}

func TestEngineStreamsInBufferedBatches(t *testing.T) {
	e := shEngine()

	var sizes []int
	total, err := e.Run(context.Background(), emitterScript(250), entity.ScriptPython,
		func(ctx context.Context, batch []entity.ExtractedRecord) error {
			sizes = append(sizes, len(batch))
			return nil
		}, nil)
	require.NoError(t, err)

	assert.Equal(t, 250, total)
	require.Len(t, sizes, 3)
	assert.Equal(t, []int{100, 100, 50}, sizes, "two full buffers plus the final partial flush")
}

func TestEngineSinkErrorAbortsRun(t *testing.T) {
	e := shEngine()
	boom := errors.New("staging unavailable")

	flushes := 0
	total, err := e.Run(context.Background(), emitterScript(300)+"sleep 30\n", entity.ScriptPython,
		func(ctx context.Context, batch []entity.ExtractedRecord) error {
			flushes++
			if flushes == 2 {
				return boom
			}
			return nil
		}, nil)

	require.ErrorIs(t, err, boom)
	assert.Equal(t, 100, total, "only the flush that succeeded counts")
}

func TestEngineTimeout(t *testing.T) {
	e := shEngine()
	e.wallClock = 300 * time.Millisecond

	script := scriptHeader + `echo '{"name":"p","price":1}'
sleep 30
`
	start := time.Now()
	_, err := e.Run(context.Background(), script, entity.ScriptPython, nopSink, nil)
	require.ErrorIs(t, err, ErrTimeout)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestEngineNonZeroExit(t *testing.T) {
	e := shEngine()

	script := scriptHeader + `echo 'Traceback: kaboom' >&2
exit 2
`
	_, err := e.Run(context.Background(), script, entity.ScriptPython, nopSink, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exited abnormally")
	assert.Contains(t, err.Error(), "kaboom")
}

func TestEngineForwardsProgress(t *testing.T) {
	e := shEngine()

	script := scriptHeader + `echo 'PROGRESS: page 1 done' >&2
echo '{"name":"p","price":1}'
`
	var progress []string
	total, err := e.Run(context.Background(), script, entity.ScriptPython, nopSink,
		func(msg string) { progress = append(progress, msg) })
	require.NoError(t, err)

	assert.Equal(t, 1, total)
	assert.Equal(t, []string{"page 1 done"}, progress)
}

func TestEngineRejectsBrokenStructure(t *testing.T) {
	e := shEngine()
	_, err := e.Run(context.Background(), "echo nope", entity.ScriptPython, nopSink, nil)
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "missing required"))
}

func nopSink(ctx context.Context, batch []entity.ExtractedRecord) error { return nil }
