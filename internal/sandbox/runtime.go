package sandbox

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dop251/goja"
)

// Evaluate runs the candidate function against each hidden test case inside
// a hardened goja context. The goja runtime exposes only ECMAScript
// built-ins (arithmetic, collections, Math, JSON, RegExp, Date, Symbol,
// error types); there is no filesystem, network, process, module-loading or
// timer surface to remove. Evaluate additionally strips dynamic
// code generation and binds console to no-ops.
//
// Evaluate never panics outward; every failure path returns a zero-pass
// Result with a diagnostic.
func Evaluate(job Job) (res Result) {
	res.Total = len(job.Tests)

	defer func() {
		if r := recover(); r != nil {
			res.Passed = 0
			res.Error = fmt.Sprintf("sandbox fault: %v", r)
		}
	}()

	timeout := time.Duration(job.TimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = InnerBudget
	}

	vm := goja.New()
	hardenRuntime(vm)

	timer := time.AfterFunc(timeout, func() {
		vm.Interrupt("Execution timeout")
	})
	defer timer.Stop()

	start := time.Now()
	finish := func(errMsg string) Result {
		res.ElapsedMs = time.Since(start).Milliseconds()
		res.Error = errMsg
		return res
	}

	if _, err := vm.RunString(job.Code); err != nil {
		if isInterrupt(err) {
			return finish("Execution timeout")
		}
		return finish(fmt.Sprintf("evaluation error: %v", err))
	}

	fn, ok := goja.AssertFunction(vm.Get(job.FunctionName))
	if !ok {
		return finish(fmt.Sprintf("function %q is not defined", job.FunctionName))
	}

	for _, test := range job.Tests {
		args := make([]goja.Value, len(test.Input))
		for i, in := range test.Input {
			args[i] = vm.ToValue(in)
		}

		out, err := fn(goja.Undefined(), args...)
		if err != nil {
			if isInterrupt(err) {
				return finish("Execution timeout")
			}
			// A throwing test case counts as a failure, not a fault.
			continue
		}
		if structurallyEqual(out.Export(), test.Expected) {
			res.Passed++
		}
	}

	return finish("")
}

// hardenRuntime disables dynamic code generation and binds console to no-ops.
func hardenRuntime(vm *goja.Runtime) {
	global := vm.GlobalObject()
	_ = global.Set("eval", goja.Undefined())
	_ = global.Set("Function", goja.Undefined())
	_ = global.Set("WebAssembly", goja.Undefined())

	// Removing the global binding is not enough: the Function constructor
	// stays reachable through any function's prototype chain, e.g.
	// [].constructor.constructor("..."). Replace the constructor slot on
	// every function prototype flavour with a throwing stub.
	const sealConstructors = `
(function() {
	"use strict";
	var blocked = function() { throw new TypeError("dynamic code generation is disabled"); };
	var seal = function(fn) {
		Object.defineProperty(Object.getPrototypeOf(fn), "constructor", {
			value: blocked, writable: false, configurable: false, enumerable: false
		});
	};
	seal(function() {});
	seal(function*() {});
	seal(async function() {});
	seal(async function*() {});
})();
`
	if _, err := vm.RunString(sealConstructors); err != nil {
		panic(fmt.Sprintf("runtime hardening failed: %v", err))
	}

	noop := func(goja.FunctionCall) goja.Value { return goja.Undefined() }
	console := vm.NewObject()
	for _, name := range []string{"log", "info", "warn", "error", "debug"} {
		_ = console.Set(name, noop)
	}
	_ = global.Set("console", console)
}

func isInterrupt(err error) bool {
	var ie *goja.InterruptedError
	return errors.As(err, &ie)
}

// structurallyEqual compares a computed value with the expected one after
// JSON normalisation, so 3 and 3.0 and differently ordered map encodings
// compare equal.
func structurallyEqual(got, want any) bool {
	gotJSON, err := json.Marshal(got)
	if err != nil {
		return false
	}
	wantJSON, err := json.Marshal(want)
	if err != nil {
		return false
	}
	return bytes.Equal(gotJSON, wantJSON)
}
