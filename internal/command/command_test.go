package command

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", Truncate("  short \n", 10))
	long := strings.Repeat("x", 400)
	got := Truncate(long, MaxOutput)
	assert.True(t, strings.HasPrefix(got, strings.Repeat("x", MaxOutput)))
	assert.True(t, strings.HasSuffix(got, "...(truncated)"))
}

func TestError_Message(t *testing.T) {
	err := &Error{Name: "maestro", Args: []string{"test", "flow.yaml"}, ExitCode: 1, Output: "Element not found"}
	assert.Equal(t, "maestro test flow.yaml: exit 1: Element not found", err.Error())

	timedOut := &Error{Name: "adb", TimedOut: true, Err: errors.New("signal: killed")}
	assert.ErrorIs(t, timedOut, ErrTimeout)
}

func TestExec_Run(t *testing.T) {
	if testing.Short() {
		t.Skip("spawns processes")
	}
	x := Exec{}

	out, err := x.Run(context.Background(), time.Second, "sh", "-c", "echo hello")
	require.NoError(t, err)
	assert.Equal(t, "hello\n", string(out))

	_, err = x.Run(context.Background(), time.Second, "sh", "-c", "echo "+strings.Repeat("e", 500)+" >&2; exit 3")
	var cerr *Error
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, 3, cerr.ExitCode)
	assert.LessOrEqual(t, len(cerr.Output), MaxOutput+len("...(truncated)"))

	_, err = x.Run(context.Background(), 50*time.Millisecond, "sleep", "5")
	assert.ErrorIs(t, err, ErrTimeout)
}
