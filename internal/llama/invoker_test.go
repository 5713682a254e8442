package llama

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fake-llama-cli")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755); err != nil {
		t.Fatalf("write fake executable: %v", err)
	}
	return path
}

func newTestInvoker(t *testing.T, script string, timeout time.Duration) *Invoker {
	t.Helper()
	return NewInvoker(writeScript(t, script), "model.gguf", timeout, zerolog.Nop())
}

func TestCompleteParsesOutput(t *testing.T) {
	inv := newTestInvoker(t, `
echo "llama_model_loader: loaded meta data"
echo "system_info: n_threads = 4"
echo "Assistant: Hello there"
echo "eval time =    12.34 ms"
`, time.Minute)

	res, err := inv.Complete(context.Background(), Params{Prompt: "User: hi\nAssistant:"}.WithDefaults())
	require.NoError(t, err)
	assert.Equal(t, "Hello there", res.Content)
	assert.Equal(t, FinishStop, res.FinishReason)
}

func TestCompleteCollectsLinesAfterStart(t *testing.T) {
	inv := newTestInvoker(t, `
echo "Assistant: first line"
echo "second line"
echo "main: done"
`, time.Minute)

	res, err := inv.Complete(context.Background(), Params{Prompt: "x"}.WithDefaults())
	require.NoError(t, err)
	assert.Equal(t, "first line\nsecond line", res.Content)
}

func TestCompletePromptEcho(t *testing.T) {
	inv := newTestInvoker(t, `
echo "Once upon a time there was a dragon"
`, time.Minute)

	res, err := inv.Complete(context.Background(), Params{Prompt: "Once upon a time"}.WithDefaults())
	require.NoError(t, err)
	assert.Equal(t, "there was a dragon", res.Content)
}

func TestCompleteProcessFailure(t *testing.T) {
	inv := newTestInvoker(t, `exit 3`, time.Minute)

	_, err := inv.Complete(context.Background(), Params{Prompt: "x"}.WithDefaults())
	var invErr *InvocationError
	require.ErrorAs(t, err, &invErr)
	assert.Equal(t, KindProcessFailure, invErr.Kind)
}

func TestCompleteParseFailure(t *testing.T) {
	inv := newTestInvoker(t, `
echo "llama_model_loader: loaded"
echo "system_info: n_threads = 4"
`, time.Minute)

	_, err := inv.Complete(context.Background(), Params{Prompt: "never echoed"}.WithDefaults())
	var invErr *InvocationError
	require.ErrorAs(t, err, &invErr)
	assert.Equal(t, KindParseFailure, invErr.Kind)
}

func TestCompleteTimeoutKillsProcess(t *testing.T) {
	inv := newTestInvoker(t, `sleep 30`, 100*time.Millisecond)

	start := time.Now()
	_, err := inv.Complete(context.Background(), Params{Prompt: "x"}.WithDefaults())
	elapsed := time.Since(start)

	var invErr *InvocationError
	require.ErrorAs(t, err, &invErr)
	assert.Equal(t, KindTimeout, invErr.Kind)
	assert.Less(t, elapsed, 10*time.Second, "timed-out process must not be waited to completion")
}

func TestCompleteFinishLength(t *testing.T) {
	inv := newTestInvoker(t, `
echo "Assistant: one two three four"
`, time.Minute)

	res, err := inv.Complete(context.Background(), Params{Prompt: "x", NPredict: 3, Threads: 1, CtxSize: 64, TopK: 1, TopP: 0.5, Temperature: 0.1})
	require.NoError(t, err)
	assert.Equal(t, FinishLength, res.FinishReason)
}

func TestStreamDeliversFragmentsInOrder(t *testing.T) {
	inv := newTestInvoker(t, `
echo "llama_model_loader: loaded"
echo "Assistant: alpha"
echo "beta"
echo "gamma"
`, time.Minute)

	chunks, err := inv.Stream(context.Background(), Params{Prompt: "x"}.WithDefaults())
	require.NoError(t, err)

	var got []string
	for chunk := range chunks {
		require.NoError(t, chunk.Err)
		got = append(got, strings.TrimSpace(chunk.Content))
	}
	assert.Equal(t, []string{"alpha", "beta", "gamma"}, got)
}

func TestStreamSurfacesProcessFailure(t *testing.T) {
	inv := newTestInvoker(t, `
echo "Assistant: partial"
exit 7
`, time.Minute)

	chunks, err := inv.Stream(context.Background(), Params{Prompt: "x"}.WithDefaults())
	require.NoError(t, err)

	var last Chunk
	for chunk := range chunks {
		last = chunk
	}
	var invErr *InvocationError
	require.True(t, errors.As(last.Err, &invErr), "final chunk should carry the failure")
	assert.Equal(t, KindProcessFailure, invErr.Kind)
}

func TestStreamCancelTerminates(t *testing.T) {
	inv := newTestInvoker(t, `
echo "Assistant: first"
sleep 30
echo "never"
`, time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	chunks, err := inv.Stream(ctx, Params{Prompt: "x"}.WithDefaults())
	require.NoError(t, err)

	first, ok := <-chunks
	require.True(t, ok)
	require.NoError(t, first.Err)
	cancel()

	done := make(chan struct{})
	go func() {
		for range chunks {
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("stream did not terminate after cancellation")
	}
}

func TestStartUnknownExecutable(t *testing.T) {
	inv := NewInvoker(filepath.Join(t.TempDir(), "missing"), "model.gguf", time.Minute, zerolog.Nop())
	_, err := inv.Complete(context.Background(), Params{Prompt: "x"}.WithDefaults())
	var invErr *InvocationError
	require.ErrorAs(t, err, &invErr)
	assert.Equal(t, KindProcessFailure, invErr.Kind)
}
