// Package llama invokes a llama-cli style inference executable, one
// process per generation, and turns its stdout into structured results
// or a lazy fragment stream.
package llama

import (
	"bufio"
	"context"
	"errors"
	"io"
	"os/exec"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// DefaultTimeout bounds non-streaming invocations.
const DefaultTimeout = 30 * time.Second

// waitDelay gives the process a grace period to exit after its context
// is canceled before the pipes are forcibly closed.
const waitDelay = 5 * time.Second

const maxLineBytes = 1 << 20

type FinishReason string

const (
	FinishStop   FinishReason = "stop"
	FinishLength FinishReason = "length"
	FinishError  FinishReason = "error"
)

// Result is the outcome of one completed invocation.
type Result struct {
	Content      string
	FinishReason FinishReason
}

// Chunk is one element of a streamed invocation. A Chunk with Err set
// is terminal; the channel closes right after it.
type Chunk struct {
	Content string
	Err     error
}

// Invoker runs the inference executable. Each call owns its process
// start-to-exit; nothing outlives the call.
type Invoker struct {
	executable string
	modelPath  string
	timeout    time.Duration
	log        zerolog.Logger
}

func NewInvoker(executable, modelPath string, timeout time.Duration, log zerolog.Logger) *Invoker {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Invoker{
		executable: executable,
		modelPath:  modelPath,
		timeout:    timeout,
		log:        log.With().Str("component", "llama").Logger(),
	}
}

// Complete runs one blocking generation. The call is bounded by the
// configured timeout; on expiry the process is killed and the call
// fails with Kind(Timeout).
func (inv *Invoker) Complete(ctx context.Context, p Params) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, inv.timeout)
	defer cancel()

	cmd, stdout, err := inv.start(ctx, p)
	if err != nil {
		return nil, err
	}

	parser := &outputParser{prompt: p.Prompt}
	var b strings.Builder
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	for scanner.Scan() {
		if fragment, ok := parser.feed(scanner.Text()); ok {
			b.WriteString(fragment)
			b.WriteByte('\n')
		}
	}
	scanErr := scanner.Err()
	waitErr := cmd.Wait()

	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		inv.log.Warn().Dur("timeout", inv.timeout).Msg("generation timed out, process killed")
		return nil, invocationErr(KindTimeout, ctx.Err())
	}
	if ctx.Err() != nil {
		return nil, invocationErr(KindProcessFailure, ctx.Err())
	}
	if waitErr != nil {
		return nil, invocationErr(KindProcessFailure, waitErr)
	}
	if scanErr != nil {
		return nil, invocationErr(KindProcessFailure, scanErr)
	}
	if !parser.started {
		return nil, invocationErr(KindParseFailure, errors.New("no generated text found in process output"))
	}

	text := strings.TrimSpace(b.String())
	return &Result{Content: text, FinishReason: finishReasonFor(text, p.NPredict)}, nil
}

// Stream runs one generation and returns its text fragments in arrival
// order. The channel closes when the process exits or ctx is canceled;
// cancellation kills the process. The sequence is not restartable.
func (inv *Invoker) Stream(ctx context.Context, p Params) (<-chan Chunk, error) {
	cmd, stdout, err := inv.start(ctx, p)
	if err != nil {
		return nil, err
	}

	out := make(chan Chunk)
	go func() {
		defer close(out)
		parser := &outputParser{prompt: p.Prompt}
		scanner := bufio.NewScanner(stdout)
		scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
		for scanner.Scan() {
			fragment, ok := parser.feed(scanner.Text())
			if !ok {
				continue
			}
			select {
			case out <- Chunk{Content: fragment}:
			case <-ctx.Done():
				_ = cmd.Wait()
				return
			}
		}
		scanErr := scanner.Err()
		waitErr := cmd.Wait()

		var failure error
		switch {
		case ctx.Err() != nil:
			// Canceled mid-stream; the consumer already went away.
			return
		case waitErr != nil:
			failure = invocationErr(KindProcessFailure, waitErr)
		case scanErr != nil:
			failure = invocationErr(KindProcessFailure, scanErr)
		case !parser.started:
			failure = invocationErr(KindParseFailure, errors.New("no generated text found in process output"))
		}
		if failure != nil {
			select {
			case out <- Chunk{Err: failure}:
			case <-ctx.Done():
			}
		}
	}()
	return out, nil
}

func (inv *Invoker) start(ctx context.Context, p Params) (*exec.Cmd, io.Reader, error) {
	cmd := exec.CommandContext(ctx, inv.executable, p.args(inv.modelPath)...)
	cmd.Stderr = io.Discard
	cmd.WaitDelay = waitDelay

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, nil, invocationErr(KindProcessFailure, err)
	}
	if err := cmd.Start(); err != nil {
		return nil, nil, invocationErr(KindProcessFailure, err)
	}
	inv.log.Debug().Int("pid", cmd.Process.Pid).Int("n_predict", p.NPredict).Msg("inference process started")
	return cmd, stdout, nil
}

// finishReasonFor distinguishes a natural stop from hitting the token
// budget, using a whitespace token estimate since the CLI does not
// report counts.
func finishReasonFor(text string, nPredict int) FinishReason {
	if nPredict > 0 && len(strings.Fields(text)) >= nPredict {
		return FinishLength
	}
	return FinishStop
}
