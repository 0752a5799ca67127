// Package luafilter hosts the user-supplied Lua predicates that decide which
// reads contribute to a pileup and which pileup rows are emitted.
//
// A predicate is compiled once into an immutable Program that can be shared
// by any number of workers. Each worker owns a private Evaluator, a sandboxed
// Lua state with no file, network, or process access. The read predicate sees
// a global "read" table and the column predicate a global "pile" table; both
// are rebound before every call, so no evaluation can observe a previous
// read's context. Unknown field accesses raise a Lua error, which surfaces as
// an evaluation error rather than a silently skipped read.
package luafilter

import (
	"fmt"
	"strings"

	lua "github.com/yuin/gopher-lua"
	"github.com/yuin/gopher-lua/parse"
)

// Program is a compiled predicate. Immutable and safe to share across
// goroutines; bind it to a state with NewEvaluator.
type Program struct {
	name  string
	proto *lua.FunctionProto
}

// Compile parses and compiles a predicate expression. name labels the
// expression in error messages. The expression must produce its verdict with
// an explicit "return"; requiring the token up front catches a whole class of
// silently-true predicates before any data is read.
func Compile(name, source string) (*Program, error) {
	if !strings.Contains(source, "return") {
		return nil, fmt.Errorf("luafilter.Compile: %s %q must contain 'return'", name, source)
	}
	chunk, err := parse.Parse(strings.NewReader(source), name)
	if err != nil {
		return nil, fmt.Errorf("luafilter.Compile: %s: %v", name, err)
	}
	proto, err := lua.Compile(chunk, name)
	if err != nil {
		return nil, fmt.Errorf("luafilter.Compile: %s: %v", name, err)
	}
	return &Program{name: name, proto: proto}, nil
}

// Evaluator runs compiled predicates in a private sandboxed Lua state. Not
// thread safe; each worker goroutine owns its own instance.
type Evaluator struct {
	state *lua.LState

	readFn *lua.LFunction
	pileFn *lua.LFunction
	readUD *lua.LUserData
	pileUD *lua.LUserData

	// Method values handed out by the __index dispatchers, created once per
	// state so field access does not allocate.
	tagFn    *lua.LFunction
	nProp5Fn *lua.LFunction
	nProp3Fn *lua.LFunction
}

// NewEvaluator creates a sandboxed state and binds the given programs to it.
// Either program may be nil when the corresponding predicate is not
// configured. The caller must Close the evaluator when done.
func NewEvaluator(readProg, pileProg *Program) (*Evaluator, error) {
	state, err := newSandboxedState()
	if err != nil {
		return nil, err
	}
	e := &Evaluator{state: state}
	e.tagFn = state.NewFunction(luaReadTag)
	e.nProp5Fn = state.NewFunction(luaNProportion5)
	e.nProp3Fn = state.NewFunction(luaNProportion3)

	readMT := state.NewTypeMetatable("read")
	state.SetField(readMT, "__index", state.NewFunction(e.readIndex))
	e.readUD = state.NewUserData()
	state.SetMetatable(e.readUD, readMT)
	state.SetGlobal("read", e.readUD)

	pileMT := state.NewTypeMetatable("pile")
	state.SetField(pileMT, "__index", state.NewFunction(luaPileIndex))
	e.pileUD = state.NewUserData()
	state.SetMetatable(e.pileUD, pileMT)
	state.SetGlobal("pile", e.pileUD)

	if readProg != nil {
		e.readFn = state.NewFunctionFromProto(readProg.proto)
	}
	if pileProg != nil {
		e.pileFn = state.NewFunctionFromProto(pileProg.proto)
	}
	return e, nil
}

// EvalRead runs the read predicate against view. The verdict follows Lua
// truthiness: nil and false fail, everything else passes. Any Lua runtime
// error, including an unknown field access, is returned to the caller.
func (e *Evaluator) EvalRead(view *ReadView) (bool, error) {
	if e.readFn == nil {
		return false, fmt.Errorf("luafilter.EvalRead: no read predicate bound")
	}
	e.readUD.Value = view
	return e.eval(e.readFn)
}

// EvalPile runs the column predicate against view.
func (e *Evaluator) EvalPile(view *PileView) (bool, error) {
	if e.pileFn == nil {
		return false, fmt.Errorf("luafilter.EvalPile: no pile predicate bound")
	}
	e.pileUD.Value = view
	return e.eval(e.pileFn)
}

func (e *Evaluator) eval(fn *lua.LFunction) (bool, error) {
	state := e.state
	state.Push(fn)
	if err := state.PCall(0, 1, nil); err != nil {
		return false, err
	}
	ret := state.Get(-1)
	state.Pop(1)
	return lua.LVAsBool(ret), nil
}

// Close releases the underlying Lua state.
func (e *Evaluator) Close() {
	e.state.Close()
}
