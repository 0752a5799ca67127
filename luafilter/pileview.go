package luafilter

import (
	lua "github.com/yuin/gopher-lua"
)

// PileView is the candidate output row, exposed to the column predicate as
// the Lua global "pile".
type PileView struct {
	Pos           int
	Depth         uint32
	A, C, G, T, N uint32
	Fail          uint32
	Ins           uint32
	Del           uint32
	RefSkip       uint32
	RefBase       string
}

// luaPileIndex serves field accesses on the "pile" global.
func luaPileIndex(state *lua.LState) int {
	ud := state.CheckUserData(1)
	view, ok := ud.Value.(*PileView)
	if !ok || view == nil {
		state.RaiseError("pile is not bound")
	}
	switch key := state.CheckString(2); key {
	case "pos":
		state.Push(lua.LNumber(view.Pos))
	case "depth":
		state.Push(lua.LNumber(view.Depth))
	case "a":
		state.Push(lua.LNumber(view.A))
	case "c":
		state.Push(lua.LNumber(view.C))
	case "g":
		state.Push(lua.LNumber(view.G))
	case "t":
		state.Push(lua.LNumber(view.T))
	case "n":
		state.Push(lua.LNumber(view.N))
	case "fail":
		state.Push(lua.LNumber(view.Fail))
	case "ins":
		state.Push(lua.LNumber(view.Ins))
	case "del":
		state.Push(lua.LNumber(view.Del))
	case "ref_skip":
		state.Push(lua.LNumber(view.RefSkip))
	case "ref_base":
		state.Push(lua.LString(view.RefBase))
	default:
		state.RaiseError("pile has no field %q", key)
	}
	return 1
}
