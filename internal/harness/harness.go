package harness

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strconv"

	"github.com/rocicorp/diff-server/internal/engine"
	"github.com/rocicorp/diff-server/internal/session"
	"github.com/rocicorp/diff-server/internal/stream"
)

// harnessToken is the correlation token of the run's only connection.
const harnessToken = "harness-conn"

// Options tunes a run.
type Options struct {
	// Root anchors directory store specs. Empty means a temporary
	// directory removed after the run.
	Root string

	// ChunkSize is the read capacity for steps that leave chunk unset.
	// Zero means stream.DefaultChunkSize.
	ChunkSize int

	// Logger receives protocol logs. Nil discards them.
	Logger *slog.Logger
}

// Harness runs the steps of one scenario on one connection.
type Harness struct {
	client *session.Client
	conn   session.ConnID
	chunk  int
}

// Run executes a scenario with default options.
func Run(scenario *Scenario) (*Result, error) {
	return RunWith(context.Background(), scenario, Options{})
}

// RunWith executes a scenario and returns the result.
//
// The returned error reports a run that could not take place, such as a
// store that would not open. Failed expectations are reported through
// Result.Pass and Result.Errors instead.
func RunWith(ctx context.Context, scenario *Scenario, opts Options) (*Result, error) {
	root := opts.Root
	if root == "" {
		dir, err := os.MkdirTemp("", "repc-harness-")
		if err != nil {
			return nil, fmt.Errorf("failed to create store root: %w", err)
		}
		defer os.RemoveAll(dir)
		root = dir
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	chunk := opts.ChunkSize
	if chunk == 0 {
		chunk = stream.DefaultChunkSize
	}

	client := session.New(engine.SQLite{Root: root},
		session.WithLogger(logger),
		session.WithTokenGenerator(engine.NewFixedGenerator(harnessToken)),
		session.WithMaxExecutions(1),
	)
	conn, err := client.Open(ctx, []byte(scenario.StoreSpec()))
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	h := &Harness{client: client, conn: conn, chunk: chunk}
	result := NewResult(len(scenario.Steps))

	for i, step := range scenario.Steps {
		h.runStep(i, step, result)
	}
	h.checkObjects(ctx, scenario.Objects, result)

	if leaked := client.Stats().Executions; leaked != 0 {
		return nil, fmt.Errorf("%d executions still live after the last step", leaked)
	}
	if err := client.Close(conn); err != nil {
		return nil, fmt.Errorf("failed to close store: %w", err)
	}
	return result, nil
}

// runStep runs one execution through its whole lifecycle. End is called
// whenever Begin succeeded, whatever happens in between.
func (h *Harness) runStep(i int, step Step, result *Result) {
	id, err := h.client.Begin(h.conn, []byte(step.Exec))
	if err != nil {
		result.record(i, OpBegin, outcome(err))
		checkBegin(i, step.Expect, err, result)
		return
	}
	result.record(i, OpBegin, step.Exec)
	if step.Expect != nil && step.Expect.BeginError != "" {
		result.AddError((&AssertionError{
			Step:     i,
			Type:     "begin_error",
			Expected: fmt.Sprintf("begin to fail with %q", step.Expect.BeginError),
			Actual:   "begin succeeded",
		}).Error())
	}

	var out []byte
	var firstErr error

	if step.Input != nil {
		if err := h.client.Write(id, []byte(*step.Input)); err != nil {
			result.record(i, OpWrite, outcome(err))
			firstErr = err
		} else {
			result.record(i, OpWrite, strconv.Itoa(len(*step.Input)))
		}
	}

	if firstErr == nil && step.Read {
		chunk := step.Chunk
		if chunk == 0 {
			chunk = h.chunk
		}
		out, firstErr = stream.ReadAll(&tracingReader{r: h.client, step: i, result: result}, id, chunk)
	}

	if err := h.client.End(id); err != nil {
		result.record(i, OpEnd, outcome(err))
		if firstErr == nil {
			firstErr = err
		}
	} else {
		result.record(i, OpEnd, "ok")
	}

	result.Outputs[i] = string(out)
	checkStep(i, step, out, firstErr, result)
}

// checkObjects verifies the expected stored values, in id order.
func (h *Harness) checkObjects(ctx context.Context, objects map[string]*string, result *Result) {
	ids := make([]string, 0, len(objects))
	for id := range objects {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		payload, err := json.Marshal(map[string]map[string]string{"get": {"id": id}})
		if err != nil {
			result.AddError(fmt.Sprintf("objects[%s]: %v", id, err))
			continue
		}

		out, err := stream.Run(ctx, h.client, h.conn, stream.Request{
			Command:   payload,
			Read:      true,
			ChunkSize: h.chunk,
		})
		if err != nil {
			result.record(-1, OpCheck, id+" "+outcome(err))
		} else {
			result.record(-1, OpCheck, id+" "+strconv.Itoa(len(out)))
		}
		checkObject(id, objects[id], out, err, result)
	}
}

// outcome renders an error for the trace. Messages may embed engine
// detail that varies between versions, so only the code is recorded.
func outcome(err error) string {
	code := session.CodeOf(err)
	if code == "" {
		return "error"
	}
	return "error " + string(code)
}

// tracingReader records every read's byte count.
type tracingReader struct {
	r      stream.Reader
	step   int
	result *Result
}

func (t *tracingReader) Read(id session.ExecID, p []byte) (int, error) {
	n, err := t.r.Read(id, p)
	if err != nil {
		t.result.record(t.step, OpRead, outcome(err))
		return n, err
	}
	t.result.record(t.step, OpRead, strconv.Itoa(n))
	return n, nil
}
