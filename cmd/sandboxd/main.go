// sandboxd evaluates one untrusted code job read from stdin and writes the
// result to stdout as JSON. It is always spawned by the engine with a
// scrubbed environment; the parent enforces the wall-clock kill.
package main

import (
	"encoding/json"
	"io"
	"os"
	"runtime/debug"

	"github.com/agentarena/arena-engine/internal/sandbox"
)

func main() {
	debug.SetMemoryLimit(sandbox.HeapLimitBytes)

	var res sandbox.Result

	payload, err := io.ReadAll(io.LimitReader(os.Stdin, 1<<20))
	if err != nil {
		res.Error = "read job: " + err.Error()
		emit(res)
		return
	}

	var job sandbox.Job
	if err := json.Unmarshal(payload, &job); err != nil {
		res.Error = "decode job: " + err.Error()
		emit(res)
		return
	}

	emit(sandbox.Evaluate(job))
}

func emit(res sandbox.Result) {
	_ = json.NewEncoder(os.Stdout).Encode(res)
}
