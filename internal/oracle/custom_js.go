package oracle

import (
	"fmt"

	"github.com/dop251/goja"

	"github.com/fuzzland/ityfuzz-go/internal/ilog"
)

var jsLog = ilog.New("component", "oracle.customjs")

// CustomJSOracle runs a user-supplied JavaScript predicate against a
// transition, the supplemented "custom oracle" feature from
// original_source/src/evm/oracles/custom.rs: the script defines a global
// `check(ctx)` whose result is read as a boolean: a truthy value is a hit,
// null/false/undefined is no hit. The bug id is caller-assigned at
// construction since custom oracles aren't part of the built-in table.
type CustomJSOracle struct {
	id     uint64
	vm     *goja.Runtime
	checkFn goja.Callable
}

// NewCustomJSOracle compiles script and binds it under the given bug id.
func NewCustomJSOracle(id uint64, script string) (*CustomJSOracle, error) {
	vm := goja.New()
	if _, err := vm.RunString(script); err != nil {
		return nil, fmt.Errorf("oracle: custom js compile: %w", err)
	}
	fnVal := vm.Get("check")
	fn, ok := goja.AssertFunction(fnVal)
	if !ok {
		return nil, fmt.Errorf("oracle: custom js script does not define check(ctx)")
	}
	return &CustomJSOracle{id: id, vm: vm, checkFn: fn}, nil
}

func (o *CustomJSOracle) BugID() uint64 { return o.id }

func (o *CustomJSOracle) Check(t Transition) bool {
	ctx := o.vm.NewObject()
	_ = ctx.Set("reverted", t.Result.Reverted)
	_ = ctx.Set("returnDataHex", hexOf(t.Result.ReturnData))
	if t.Input != nil {
		_ = ctx.Set("caller", t.Input.Caller.Hex())
		_ = ctx.Set("contract", t.Input.Contract.Hex())
	}
	if t.Post != nil {
		var bugs []interface{}
		for _, b := range t.Post.TypedBugs() {
			bugs = append(bugs, b)
		}
		_ = ctx.Set("typedBugs", bugs)
	}

	v, err := o.checkFn(goja.Undefined(), ctx)
	if err != nil {
		jsLog.Warn("custom oracle script error", "bug_id", o.id, "err", err)
		return false
	}
	if goja.IsUndefined(v) || goja.IsNull(v) {
		return false
	}
	return v.ToBoolean()
}

func hexOf(b []byte) string {
	const hexdigits = "0123456789abcdef"
	out := make([]byte, 2+len(b)*2)
	out[0], out[1] = '0', 'x'
	for i, c := range b {
		out[2+i*2] = hexdigits[c>>4]
		out[2+i*2+1] = hexdigits[c&0xf]
	}
	return string(out)
}
