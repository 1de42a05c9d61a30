package worker

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const helperEnv = "MUDRA_HELPER_WORKER"

// TestHelperWorkerProcess is not a real test: StartProcess runs the test
// binary with it selected to stand in for mudra-worker.
func TestHelperWorkerProcess(t *testing.T) {
	if os.Getenv(helperEnv) != "1" {
		return
	}
	_ = WriteMessage(os.Stdout, NewInitResult(false, "model asset not found"))
	_ = WriteMessage(os.Stdout, NewError(errors.New("detector crashed")))
	os.Exit(0)
}

func TestProcessTransport_ReadsOutputWrittenBeforeExit(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping subprocess test in short mode")
	}
	t.Setenv(helperEnv, "1")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p, err := StartProcess(ctx, os.Args[0], []string{"-test.run=^TestHelperWorkerProcess$"}, nil)
	require.NoError(t, err)
	defer p.Close()

	// Give the worker time to exit so its output is only in the pipe.
	time.Sleep(100 * time.Millisecond)

	first := receive(t, p)
	require.Equal(t, TypeInitResult, first.Type)
	assert.False(t, first.InitResult.OK)
	assert.Equal(t, "model asset not found", first.InitResult.Message)

	second := receive(t, p)
	require.Equal(t, TypeError, second.Type)
	assert.Equal(t, "detector crashed", second.Error.Error)

	rctx, rcancel := context.WithTimeout(ctx, 2*time.Second)
	defer rcancel()
	_, err = p.Receive(rctx)
	assert.Error(t, err, "stream ends after the worker exits")
	assert.NotErrorIs(t, err, context.DeadlineExceeded)

	done := make(chan struct{})
	go func() {
		p.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(DefaultStopTimeout + time.Second):
		t.Fatal("Close did not return for an exited worker")
	}
}
