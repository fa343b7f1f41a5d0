package sandbox

import (
	"context"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"scraper-worker-service/internal/entity"
)

// scriptHeader satisfies the python structure check; the test scripts
// themselves are driven by /bin/sh.
const scriptHeader = `# def scrape
# def get_metadata
`

func shValidator() *Validator {
	v := NewValidator(zap.NewNop())
	v.command = func(kind entity.ScriptKind, path string, args ...string) *exec.Cmd {
		return exec.Command("/bin/sh", append([]string{path}, args...)...)
	}
	return v
}

func TestCheckStructure(t *testing.T) {
	ok := "def scrape(ctx):\n    pass\ndef get_metadata():\n    pass\n"
	require.NoError(t, CheckStructure(ok, entity.ScriptPython))

	err := CheckStructure("def scrape(ctx):\n    pass\n", entity.ScriptPython)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "get_metadata")

	tsOK := "async function scrape() {}\nfunction getMetadata() {}\n"
	require.NoError(t, CheckStructure(tsOK, entity.ScriptTypeScript))
	require.Error(t, CheckStructure("function nothing() {}", entity.ScriptTypeScript))

	require.Error(t, CheckStructure("   ", entity.ScriptPython))
	require.Error(t, CheckStructure("x", entity.ScriptKind("ruby")))
}

func TestValidateStructuralFailureSkipsExecution(t *testing.T) {
	v := shValidator()
	res, err := v.Validate(context.Background(), "echo should-not-run", entity.ScriptPython)
	require.NoError(t, err)

	assert.False(t, res.Valid)
	require.Error(t, res.Err)
	assert.Contains(t, res.Err.Error(), "missing required")
	assert.Empty(t, res.Records)
}

func TestValidateBatchStreamWithOneMalformedLine(t *testing.T) {
	script := scriptHeader + `case "$1" in
metadata)
  echo '{"name":"Shop scraper","description":"list pages"}'
  ;;
scrape)
  printf '%s\n%s\n%s\n%s\n%s\n' \
    '[{"name":"a1","price":1},{"name":"a2","price":2},{"name":"a3","price":3},{"name":"a4","price":4}]' \
    '[{"name":"b1","price":1},{"name":"b2","price":2},{"name":"b3","price":3},{"name":"b4","price":4}]' \
    '[{"name":"c1","price":1},{"name":"c2","price":2},{"name":"c3","price":3},{"name":"c4","price":4}]' \
    '{"name": busted' \
    '[{"name":"d1","price":1},{"name":"d2","price":2}]'
  sleep 2
  ;;
esac
`
	v := shValidator()
	res, err := v.Validate(context.Background(), script, entity.ScriptPython)
	require.NoError(t, err)

	assert.True(t, res.Valid, "one bad line must not sink the script: %v", res.Err)
	assert.Len(t, res.Records, 14, "all well-formed records are accepted")
	require.Len(t, res.ScriptErrors, 1)
	assert.Contains(t, res.ScriptErrors[0], "parse")
	assert.Equal(t, "Shop scraper", res.Metadata.Name)
}

func TestValidateTimeoutDiscardsRecords(t *testing.T) {
	script := scriptHeader + `case "$1" in
metadata) echo '{}' ;;
scrape)
  echo '{"name":"early","price":1}'
  sleep 30
  ;;
esac
`
	v := shValidator()
	v.wallClock = 300 * time.Millisecond

	start := time.Now()
	res, err := v.Validate(context.Background(), script, entity.ScriptPython)
	require.NoError(t, err)

	assert.Less(t, time.Since(start), 5*time.Second, "kill must be prompt, not waiting out the sleep")
	assert.False(t, res.Valid)
	assert.ErrorIs(t, res.Err, ErrTimeout)
	assert.Empty(t, res.Records, "a timed-out run forfeits its output")
}

func TestValidateCancellationIsNotATimeout(t *testing.T) {
	script := scriptHeader + `case "$1" in
metadata) echo '{}' ;;
scrape)
  echo '{"name":"early","price":1}'
  sleep 30
  ;;
esac
`
	v := shValidator()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(300 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	res, err := v.Validate(ctx, script, entity.ScriptPython)
	require.NoError(t, err)

	assert.Less(t, time.Since(start), 5*time.Second, "cancellation must kill the script promptly")
	assert.False(t, res.Valid)
	assert.NotErrorIs(t, res.Err, ErrTimeout, "a disconnecting caller is not a slow script")
	assert.ErrorIs(t, res.Err, context.Canceled)
	assert.Empty(t, res.Records)
}

func TestValidateZeroOutputIsSoftFailure(t *testing.T) {
	script := scriptHeader + `case "$1" in
metadata) echo '{}' ;;
scrape) : ;;
esac
`
	v := shValidator()
	res, err := v.Validate(context.Background(), script, entity.ScriptPython)
	require.NoError(t, err)

	assert.False(t, res.Valid)
	assert.ErrorIs(t, res.Err, ErrNoRecords)
}

func TestValidateNonZeroExitCapturesStderrTail(t *testing.T) {
	script := scriptHeader + `case "$1" in
metadata) echo '{}' ;;
scrape)
  echo 'ImportError: no module named requests' >&2
  exit 3
  ;;
esac
`
	v := shValidator()
	res, err := v.Validate(context.Background(), script, entity.ScriptPython)
	require.NoError(t, err)

	assert.False(t, res.Valid)
	require.Error(t, res.Err)
	assert.Contains(t, res.Err.Error(), "exited abnormally")
	assert.Contains(t, res.Err.Error(), "ImportError")
}

func TestValidateStderrProtocol(t *testing.T) {
	script := scriptHeader + `case "$1" in
metadata) echo '{}' ;;
scrape)
  echo 'PROGRESS: fetched page 1' >&2
  echo 'ERROR: page 2 returned 404' >&2
  echo 'some library warning' >&2
  echo '{"name":"p","price":2.5}'
  ;;
esac
`
	v := shValidator()
	res, err := v.Validate(context.Background(), script, entity.ScriptPython)
	require.NoError(t, err)

	assert.True(t, res.Valid)
	assert.Contains(t, res.Logs, "fetched page 1")
	assert.Contains(t, res.Logs, "some library warning")
	assert.Contains(t, res.ScriptErrors, "page 2 returned 404")
}

func TestValidateMetadataFailureDegradesToDefaults(t *testing.T) {
	script := scriptHeader + `case "$1" in
metadata) exit 1 ;;
scrape) echo '{"name":"p","price":1}' ;;
esac
`
	v := shValidator()
	res, err := v.Validate(context.Background(), script, entity.ScriptPython)
	require.NoError(t, err)

	assert.True(t, res.Valid, "metadata pre-flight failure must not fail validation")
	assert.Equal(t, defaultMetadata().Name, res.Metadata.Name)

	found := false
	for _, l := range res.Logs {
		if strings.Contains(l, "metadata pre-flight failed") {
			found = true
		}
	}
	assert.True(t, found, "degradation should be visible in the logs")
}

func TestValidateRecordCapKillsButKeepsOutput(t *testing.T) {
	// 12 single-record lines in one write, then a long sleep: the cap
	// fires, the sleep is cut short, everything already written counts
	var b strings.Builder
	b.WriteString(scriptHeader)
	b.WriteString("case \"$1\" in\nmetadata) echo '{}' ;;\nscrape)\n  printf '%s' '")
	for i := 0; i < 12; i++ {
		b.WriteString(`{"name":"p","price":1}` + "\n")
	}
	b.WriteString("'\n  sleep 30\n  ;;\nesac\n")

	v := shValidator()
	start := time.Now()
	res, err := v.Validate(context.Background(), b.String(), entity.ScriptPython)
	require.NoError(t, err)

	assert.Less(t, time.Since(start), 10*time.Second)
	assert.True(t, res.Valid, "a run killed at the sample cap is a pass: %v", res.Err)
	assert.GreaterOrEqual(t, len(res.Records), v.maxRecords)
}
