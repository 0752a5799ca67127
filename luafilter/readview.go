package luafilter

import (
	"github.com/grailbio/hts/sam"
	lua "github.com/yuin/gopher-lua"
)

// ReadView is the position-specific projection of one aligned read, exposed
// to the read predicate as the Lua global "read". The pileup walker fills one
// per (read, column) evaluation; nothing here is retained past the call.
type ReadView struct {
	// Rec is the underlying record. qname, cigar, and tag lookups read it
	// directly.
	Rec *sam.Record
	// Seq is the ASCII read sequence, index-aligned with Rec.Qual.
	Seq []byte

	MapQ       int
	Flags      int
	RefID      int
	Start      int // alignment start, 0-based
	Stop       int // alignment end, half-open
	InsertSize int
	Strand     int // +1 forward, -1 reverse, 0 undetermined
	IndelCount int
	SoftClips5 int
	SoftClips3 int
	AvgBQ      float64

	// Site-specific values, all -1 when the read consumes no base at the
	// column (deletion or reference skip).
	Qpos  int
	BQ    int
	Dist5 int
	Dist3 int
}

// readIndex serves field accesses on the "read" global. Unknown names raise,
// so a typo in a predicate aborts the run instead of skewing counts.
func (e *Evaluator) readIndex(state *lua.LState) int {
	view := checkReadView(state)
	switch key := state.CheckString(2); key {
	case "mapping_quality":
		state.Push(lua.LNumber(view.MapQ))
	case "flags":
		state.Push(lua.LNumber(view.Flags))
	case "tid":
		state.Push(lua.LNumber(view.RefID))
	case "start":
		state.Push(lua.LNumber(view.Start))
	case "stop":
		state.Push(lua.LNumber(view.Stop))
	case "length":
		state.Push(lua.LNumber(len(view.Seq)))
	case "insert_size":
		state.Push(lua.LNumber(view.InsertSize))
	case "qname":
		state.Push(lua.LString(view.Rec.Name))
	case "sequence":
		state.Push(lua.LString(view.Seq))
	case "cigar":
		state.Push(lua.LString(view.Rec.Cigar.String()))
	case "strand":
		state.Push(lua.LNumber(view.Strand))
	case "qpos":
		state.Push(lua.LNumber(view.Qpos))
	case "bq":
		state.Push(lua.LNumber(view.BQ))
	case "distance_from_5prime":
		state.Push(lua.LNumber(view.Dist5))
	case "distance_from_3prime":
		state.Push(lua.LNumber(view.Dist3))
	case "indel_count":
		state.Push(lua.LNumber(view.IndelCount))
	case "soft_clips_5_prime":
		state.Push(lua.LNumber(view.SoftClips5))
	case "soft_clips_3_prime":
		state.Push(lua.LNumber(view.SoftClips3))
	case "average_base_quality":
		state.Push(lua.LNumber(view.AvgBQ))
	case "tag":
		state.Push(e.tagFn)
	case "n_proportion_5_prime":
		state.Push(e.nProp5Fn)
	case "n_proportion_3_prime":
		state.Push(e.nProp3Fn)
	default:
		state.RaiseError("read has no field %q", key)
	}
	return 1
}

func checkReadView(state *lua.LState) *ReadView {
	ud := state.CheckUserData(1)
	view, ok := ud.Value.(*ReadView)
	if !ok || view == nil {
		state.RaiseError("read is not bound")
	}
	return view
}

// luaReadTag implements read:tag(name). Missing tags yield nil, never an
// error; predicates test presence with == nil.
func luaReadTag(state *lua.LState) int {
	view := checkReadView(state)
	name := state.CheckString(2)
	if len(name) != 2 {
		state.ArgError(2, "tag name must be two characters")
	}
	aux, ok := view.Rec.Tag([]byte(name))
	if !ok {
		state.Push(lua.LNil)
		return 1
	}
	state.Push(auxToLua(state, aux))
	return 1
}

// auxToLua maps a SAM aux value onto a Lua value: numeric types to number,
// A/Z/H to string, and B arrays to an array-style table.
func auxToLua(state *lua.LState, aux sam.Aux) lua.LValue {
	if aux.Type() == 'A' {
		return lua.LString(string(aux.Value().(byte)))
	}
	switch v := aux.Value().(type) {
	case int8:
		return lua.LNumber(v)
	case uint8:
		return lua.LNumber(v)
	case int16:
		return lua.LNumber(v)
	case uint16:
		return lua.LNumber(v)
	case int32:
		return lua.LNumber(v)
	case uint32:
		return lua.LNumber(v)
	case int:
		return lua.LNumber(v)
	case float32:
		return lua.LNumber(v)
	case float64:
		return lua.LNumber(v)
	case string:
		return lua.LString(v)
	case []int8:
		tbl := state.NewTable()
		for i, x := range v {
			tbl.RawSetInt(i+1, lua.LNumber(x))
		}
		return tbl
	case []uint8:
		tbl := state.NewTable()
		for i, x := range v {
			tbl.RawSetInt(i+1, lua.LNumber(x))
		}
		return tbl
	case []int16:
		tbl := state.NewTable()
		for i, x := range v {
			tbl.RawSetInt(i+1, lua.LNumber(x))
		}
		return tbl
	case []uint16:
		tbl := state.NewTable()
		for i, x := range v {
			tbl.RawSetInt(i+1, lua.LNumber(x))
		}
		return tbl
	case []int32:
		tbl := state.NewTable()
		for i, x := range v {
			tbl.RawSetInt(i+1, lua.LNumber(x))
		}
		return tbl
	case []uint32:
		tbl := state.NewTable()
		for i, x := range v {
			tbl.RawSetInt(i+1, lua.LNumber(x))
		}
		return tbl
	case []float32:
		tbl := state.NewTable()
		for i, x := range v {
			tbl.RawSetInt(i+1, lua.LNumber(x))
		}
		return tbl
	default:
		return lua.LNil
	}
}

// luaNProportion5 implements read:n_proportion_5_prime(n), the fraction of
// N bases among the n sequence bases nearest the 5' end. For reverse-strand
// reads the 5' end is the tail of the stored sequence.
func luaNProportion5(state *lua.LState) int {
	return nProportion(state, true)
}

// luaNProportion3 implements read:n_proportion_3_prime(n).
func luaNProportion3(state *lua.LState) int {
	return nProportion(state, false)
}

func nProportion(state *lua.LState, fivePrime bool) int {
	view := checkReadView(state)
	n := state.CheckInt(2)
	if n <= 0 {
		state.ArgError(2, "window must be positive")
	}
	seq := view.Seq
	if n > len(seq) {
		n = len(seq)
	}
	if n == 0 {
		state.Push(lua.LNumber(0))
		return 1
	}
	fromTail := fivePrime == (view.Flags&int(sam.Reverse) != 0)
	count := 0
	for i := 0; i < n; i++ {
		base := seq[i]
		if fromTail {
			base = seq[len(seq)-1-i]
		}
		if base == 'N' || base == 'n' {
			count++
		}
	}
	state.Push(lua.LNumber(float64(count) / float64(n)))
	return 1
}
