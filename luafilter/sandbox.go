package luafilter

import (
	"fmt"
	"os"
	"strings"

	lua "github.com/yuin/gopher-lua"
)

// samFlags are the constants exposed as the Lua "flags" table, for use with
// the "bit" module against read.flags.
var samFlags = map[string]int{
	"paired":        0x1,
	"proper_pair":   0x2,
	"unmapped":      0x4,
	"mate_unmapped": 0x8,
	"reverse":       0x10,
	"mate_reverse":  0x20,
	"read1":         0x40,
	"read2":         0x80,
	"secondary":     0x100,
	"qcfail":        0x200,
	"duplicate":     0x400,
	"supplementary": 0x800,
}

// newSandboxedState builds a Lua state with only the base, table, string, and
// math libraries, no loading of further code, and print rewired to stderr so
// predicate diagnostics cannot corrupt the report stream. string_count, bit,
// and flags are installed as globals for both predicate kinds.
func newSandboxedState() (*lua.LState, error) {
	state := lua.NewState(lua.Options{SkipOpenLibs: true})
	for _, lib := range []struct {
		name string
		open lua.LGFunction
	}{
		{lua.BaseLibName, lua.OpenBase},
		{lua.TabLibName, lua.OpenTable},
		{lua.StringLibName, lua.OpenString},
		{lua.MathLibName, lua.OpenMath},
	} {
		if err := state.CallByParam(lua.P{
			Fn:      state.NewFunction(lib.open),
			NRet:    0,
			Protect: true,
		}, lua.LString(lib.name)); err != nil {
			state.Close()
			return nil, fmt.Errorf("luafilter.newSandboxedState: open %q: %v", lib.name, err)
		}
	}
	// The base library registers ways to pull in arbitrary code; a predicate
	// gets none of them.
	for _, name := range []string{"dofile", "loadfile", "load", "loadstring", "require"} {
		state.SetGlobal(name, lua.LNil)
	}
	state.SetGlobal("print", state.NewFunction(luaPrintStderr))
	state.SetGlobal("string_count", state.NewFunction(luaStringCount))
	state.RegisterModule("bit", bitFuncs)

	flags := state.NewTable()
	for name, value := range samFlags {
		state.SetField(flags, name, lua.LNumber(value))
	}
	state.SetGlobal("flags", flags)
	return state, nil
}

// luaPrintStderr replaces print. Diagnostics go to stderr; stdout belongs to
// the report writer.
func luaPrintStderr(state *lua.LState) int {
	top := state.GetTop()
	parts := make([]string, 0, top)
	for i := 1; i <= top; i++ {
		parts = append(parts, state.ToStringMeta(state.Get(i)).String())
	}
	fmt.Fprintln(os.Stderr, strings.Join(parts, "\t"))
	return 0
}

// luaStringCount implements string_count(haystack, needle): the number of
// occurrences of the single-character needle in haystack.
func luaStringCount(state *lua.LState) int {
	haystack := state.CheckString(1)
	needle := state.CheckString(2)
	if len(needle) != 1 {
		state.ArgError(2, "needle must be a single character")
	}
	state.Push(lua.LNumber(strings.Count(haystack, needle)))
	return 1
}

// bitFuncs is a 32-bit bitwise-operations module in the LuaJIT bit style.
// Results are normalized to signed 32-bit, matching LuaJIT.
var bitFuncs = map[string]lua.LGFunction{
	"band": func(state *lua.LState) int {
		x := uint32(state.CheckInt64(1))
		for i := 2; i <= state.GetTop(); i++ {
			x &= uint32(state.CheckInt64(i))
		}
		state.Push(lua.LNumber(int32(x)))
		return 1
	},
	"bor": func(state *lua.LState) int {
		x := uint32(state.CheckInt64(1))
		for i := 2; i <= state.GetTop(); i++ {
			x |= uint32(state.CheckInt64(i))
		}
		state.Push(lua.LNumber(int32(x)))
		return 1
	},
	"bxor": func(state *lua.LState) int {
		x := uint32(state.CheckInt64(1))
		for i := 2; i <= state.GetTop(); i++ {
			x ^= uint32(state.CheckInt64(i))
		}
		state.Push(lua.LNumber(int32(x)))
		return 1
	},
	"bnot": func(state *lua.LState) int {
		state.Push(lua.LNumber(int32(^uint32(state.CheckInt64(1)))))
		return 1
	},
	"lshift": func(state *lua.LState) int {
		x := uint32(state.CheckInt64(1))
		n := uint(state.CheckInt(2)) & 31
		state.Push(lua.LNumber(int32(x << n)))
		return 1
	},
	"rshift": func(state *lua.LState) int {
		x := uint32(state.CheckInt64(1))
		n := uint(state.CheckInt(2)) & 31
		state.Push(lua.LNumber(int32(x >> n)))
		return 1
	},
}
