package help

import (
	"github.com/slowlang/helpgen/compiler/layout"
	"github.com/slowlang/helpgen/compiler/mono"
)

// ExpandExpect replaces an Expect node.
// If the condition is false the lookups are appended to the shared buffer as a frame:
//
//	region start  u32
//	region end    u32
//	module id     u32
//	lookup offset ptr width  \ for each lookup
//	lookup var    u32        /
//	lookup values cloned one after another
//
// Buffer words 0 and 1 are the frame count and the next free offset.
// The count is stored last and atomically, it's the commit point of the frame.
//
// Clone procs registered for the lookups are returned.
func (h *CodeGenHelp) ExpandExpect(ids *mono.IdentIDs, x mono.Expect, following mono.Stmt) (mono.Stmt, []NewProc) {
	st, procs := h.expandExpect(ids, x)
	st.Body = following

	return st, procs
}

// expandExpect builds the capture before the continuation is known,
// so clone procs are registered ahead of helpers the continuation needs.
func (h *CodeGenHelp) expandExpect(ids *mono.IdentIDs, x mono.Expect) (mono.Join, []NewProc) {
	g := h.gen(ids)
	before := len(h.procs)

	jp := mono.JoinPointID(g.sym("expect_cont"))

	st := mono.Join{
		ID:        jp,
		Remainder: g.boolSwitch(x.Condition, layout.UNIT, jump(jp), g.captureFrame(x, jp)),
	}

	var procs []NewProc

	for _, p := range h.procs[before:] {
		procs = append(procs, NewProc{Name: p.name, Layout: p.sig})
	}

	return st, procs
}

func (g gen) captureFrame(x mono.Expect, done mono.JoinPointID) mono.Stmt {
	p := g.target.PtrWidth
	n := len(x.Lookups)

	starts := make([]Symbol, n)

	state := func(k func(buf, zero, countOff, count, next Symbol) mono.Stmt) mono.Stmt {
		return g.lowlevel("buffer", layout.OPAQUE_PTR, mono.ExpectStartSharedBuffer, nil, func(buf Symbol) mono.Stmt {
			return g.lit("zero", g.isize, 0, func(zero Symbol) mono.Stmt {
				return g.lowlevel("count", g.isize, mono.PtrLoad, []Symbol{buf, zero}, func(count Symbol) mono.Stmt {
					return g.lit("ptr_width", g.isize, int64(p), func(pw Symbol) mono.Stmt {
						return g.lowlevel("offset", g.isize, mono.PtrLoad, []Symbol{buf, pw}, func(next Symbol) mono.Stmt {
							return k(buf, zero, pw, count, next)
						})
					})
				})
			})
		})
	}

	u32 := func(buf, off Symbol, val uint32, k next) mono.Stmt {
		return g.lit("u32", layout.U32, int64(val), func(v Symbol) mono.Stmt {
			return g.store(buf, off, v, func() mono.Stmt {
				return g.addConst("offset", off, 4, k)
			})
		})
	}

	header := func(buf, off Symbol, k next) mono.Stmt {
		return u32(buf, off, x.Region.Start, func(off Symbol) mono.Stmt {
			return u32(buf, off, x.Region.End, func(off Symbol) mono.Stmt {
				return u32(buf, off, uint32(x.Condition.Module()), k)
			})
		})
	}

	var values func(buf Symbol, i int, off Symbol, k next) mono.Stmt

	values = func(buf Symbol, i int, off Symbol, k next) mono.Stmt {
		if i == n {
			return k(off)
		}

		starts[i] = off

		return g.addConst("extra_start", off, g.in.StackSize(x.LookupLayouts[i]), func(extra Symbol) mono.Stmt {
			return g.clone(buf, cursors{offset: off, extra: extra}, x.Lookups[i], x.LookupLayouts[i], func(e Symbol) mono.Stmt {
				return values(buf, i+1, e, k)
			})
		})
	}

	var pairs func(buf Symbol, i int, off Symbol, k next) mono.Stmt

	pairs = func(buf Symbol, i int, off Symbol, k next) mono.Stmt {
		if i == n {
			return k(off)
		}

		return g.store(buf, off, starts[i], func() mono.Stmt {
			return g.addConst("offset", off, p, func(off Symbol) mono.Stmt {
				return u32(buf, off, x.LookupVars[i], func(off Symbol) mono.Stmt {
					return pairs(buf, i+1, off, k)
				})
			})
		})
	}

	return state(func(buf, zero, nextOff, count, next Symbol) mono.Stmt {
		return header(buf, next, func(afterHeader Symbol) mono.Stmt {
			return g.addConst("values_start", afterHeader, n*(p+4), func(vs Symbol) mono.Stmt {
				return values(buf, 0, vs, func(end Symbol) mono.Stmt {
					return pairs(buf, 0, afterHeader, func(Symbol) mono.Stmt {
						return g.store(buf, nextOff, end, func() mono.Stmt {
							return g.lit("one", g.isize, 1, func(one Symbol) mono.Stmt {
								return g.add("new_count", count, one, func(nc Symbol) mono.Stmt {
									return g.lowlevel("commit", layout.UNIT, mono.PtrStoreAtomic, []Symbol{buf, zero, nc}, func(Symbol) mono.Stmt {
										return g.lowlevel("notify", layout.UNIT, mono.ExpectNotifyParent, []Symbol{buf}, func(Symbol) mono.Stmt {
											return jump(done)
										})
									})
								})
							})
						})
					})
				})
			})
		})
	})
}
