package help

import (
	"tlog.app/go/errors"

	"github.com/slowlang/helpgen/compiler/layout"
	"github.com/slowlang/helpgen/compiler/mono"
)

// cursors are the next write positions in the buffer.
// offset is for the value itself, extra is for the data it points to.
type cursors struct {
	offset Symbol
	extra  Symbol
}

// clone writes value into buf at cur.offset replacing pointers with buffer offsets.
// Pointed to data goes to cur.extra. k gets the extra offset after everything is written.
func (g gen) clone(buf Symbol, cur cursors, value Symbol, l InLayout, k next) mono.Stmt {
	switch x := g.in.Get(l).(type) {
	case layout.Int, layout.Float, layout.Bool, layout.Decimal, layout.OpaquePtr:
		return g.store(buf, cur.offset, value, func() mono.Stmt { return k(cur.extra) })
	case layout.Str:
		return g.cloneStr(buf, cur, value, k)
	case layout.List:
		return g.cloneList(buf, cur, value, x.Elem, k)
	case layout.Struct:
		if g.in.SafeToMemcpy(l) {
			return g.store(buf, cur.offset, value, func() mono.Stmt { return k(cur.extra) })
		}

		load := func(i int, k next) mono.Stmt {
			return g.let("field", x.Fields[i], mono.StructAtIndex{Index: i, FieldLayouts: x.Fields, Structure: value}, k)
		}

		return g.cloneFields(buf, cur.offset, cur.extra, x.Fields, load, k)
	case layout.LambdaSet:
		// closures are never displayed
		return k(cur.extra)
	case layout.Union:
		if layout.TagCount(x.Union) == 0 {
			return mono.Unreachable{}
		}

		if g.in.SafeToMemcpy(l) {
			return g.store(buf, cur.offset, value, func() mono.Stmt { return k(cur.extra) })
		}

		return g.callClone(buf, cur, value, l, k)
	case layout.Boxed:
		return g.store(buf, cur.offset, cur.extra, func() mono.Stmt {
			return g.lit("zero", g.isize, 0, func(zero Symbol) mono.Stmt {
				return g.lowlevel("inner", x.Inner, mono.PtrLoad, []Symbol{value, zero}, func(inner Symbol) mono.Stmt {
					return g.addConst("new_extra", cur.extra, g.in.StackSize(x.Inner), func(ne Symbol) mono.Stmt {
						return g.clone(buf, cursors{offset: cur.extra, extra: ne}, inner, x.Inner, k)
					})
				})
			})
		})
	case layout.RecursivePointer:
		return g.callClone(buf, cur, value, x.Union, k)
	default:
		panic(x)
	}
}

// cloneFields writes fields at their offsets from base, threading the extra offset through.
func (g gen) cloneFields(buf, base, extra Symbol, fields []InLayout, load func(i int, k next) mono.Stmt, k next) mono.Stmt {
	offsets, _, _ := g.in.FieldOffsets(fields)

	var field func(i int, extra Symbol) mono.Stmt

	field = func(i int, extra Symbol) mono.Stmt {
		if i == len(fields) {
			return k(extra)
		}

		return load(i, func(f Symbol) mono.Stmt {
			return g.addConst("field_offset", base, offsets[i], func(off Symbol) mono.Stmt {
				return g.clone(buf, cursors{offset: off, extra: extra}, f, fields[i], func(e Symbol) mono.Stmt {
					return field(i+1, e)
				})
			})
		})
	}

	return field(0, extra)
}

// cloneStr copies small strings as is.
// Big strings become {extra offset, len} with the bytes at extra.
func (g gen) cloneStr(buf Symbol, cur cursors, value Symbol, k next) mono.Stmt {
	fields := []InLayout{layout.OPAQUE_PTR, g.isize}

	return g.let("elements", layout.OPAQUE_PTR, mono.StructAtIndex{Index: 0, FieldLayouts: fields, Structure: value}, func(elements Symbol) mono.Stmt {
		return g.let("len", g.isize, mono.StructAtIndex{Index: 1, FieldLayouts: fields, Structure: value}, func(l Symbol) mono.Stmt {
			return g.lit("zero", g.isize, 0, func(zero Symbol) mono.Stmt {
				return g.lowlevel("is_big_str", layout.BOOL, mono.NumGte, []Symbol{l, zero}, func(big Symbol) mono.Stmt {
					return g.join("str_done", k, func(done mono.JoinPointID) mono.Stmt {
						heap := g.store(buf, cur.offset, cur.extra, func() mono.Stmt {
							return g.addConst("len_offset", cur.offset, g.target.PtrWidth, func(lo Symbol) mono.Stmt {
								return g.store(buf, lo, l, func() mono.Stmt {
									return g.lowlevel("copy", layout.UNIT, mono.Memcpy, []Symbol{buf, cur.extra, elements, l}, func(Symbol) mono.Stmt {
										return g.add("new_extra", cur.extra, l, func(ne Symbol) mono.Stmt {
											return jump(done, ne)
										})
									})
								})
							})
						})

						small := g.store(buf, cur.offset, value, func() mono.Stmt {
							return jump(done, cur.extra)
						})

						return g.boolSwitch(big, g.isize, heap, small)
					})
				})
			})
		})
	})
}

// cloneList writes {extra offset, len, len} and the elements at extra.
// Data elements point to goes after all the elements.
func (g gen) cloneList(buf Symbol, cur cursors, value Symbol, elem InLayout, k next) mono.Stmt {
	fields := []InLayout{layout.OPAQUE_PTR, g.isize, g.isize}
	p := g.target.PtrWidth

	header := func(elements, l Symbol, k func() mono.Stmt) mono.Stmt {
		return g.store(buf, cur.offset, cur.extra, func() mono.Stmt {
			return g.addConst("len_offset", cur.offset, p, func(lo Symbol) mono.Stmt {
				return g.store(buf, lo, l, func() mono.Stmt {
					return g.addConst("cap_offset", cur.offset, 2*p, func(co Symbol) mono.Stmt {
						// only elements we have are copied, capacity is not
						return g.store(buf, co, l, k)
					})
				})
			})
		})
	}

	return g.let("elements", layout.OPAQUE_PTR, mono.StructAtIndex{Index: 0, FieldLayouts: fields, Structure: value}, func(elements Symbol) mono.Stmt {
		return g.let("len", g.isize, mono.StructAtIndex{Index: 1, FieldLayouts: fields, Structure: value}, func(l Symbol) mono.Stmt {
			return header(elements, l, func() mono.Stmt {
				return g.lit("elem_size", g.isize, int64(g.in.StackSize(elem)), func(esize Symbol) mono.Stmt {
					return g.lowlevel("elements_width", g.isize, mono.NumMul, []Symbol{l, esize}, func(width Symbol) mono.Stmt {
						if g.in.SafeToMemcpy(elem) {
							return g.lowlevel("copy", layout.UNIT, mono.Memcpy, []Symbol{buf, cur.extra, elements, width}, func(Symbol) mono.Stmt {
								return g.add("new_extra", cur.extra, width, k)
							})
						}

						return g.add("rest_start", cur.extra, width, func(rest0 Symbol) mono.Stmt {
							return g.join("list_done", k, func(done mono.JoinPointID) mono.Stmt {
								return g.elemLoop(buf, cur.extra, elements, l, esize, elem, rest0, done)
							})
						})
					})
				})
			})
		})
	})
}

func (g gen) elemLoop(buf, start, elements, l, esize Symbol, elem InLayout, rest0 Symbol, done mono.JoinPointID) mono.Stmt {
	loop := mono.JoinPointID(g.sym("elem_loop"))
	index := g.sym("index")
	rest := g.sym("rest")

	body := g.lowlevel("more", layout.BOOL, mono.NumLt, []Symbol{index, l}, func(more Symbol) mono.Stmt {
		step := g.lowlevel("elem_offset", g.isize, mono.NumMul, []Symbol{index, esize}, func(eoff Symbol) mono.Stmt {
			return g.lowlevel("elem", elem, mono.PtrLoad, []Symbol{elements, eoff}, func(el Symbol) mono.Stmt {
				return g.add("dst", start, eoff, func(dst Symbol) mono.Stmt {
					return g.clone(buf, cursors{offset: dst, extra: rest}, el, elem, func(r Symbol) mono.Stmt {
						return g.lit("one", g.isize, 1, func(one Symbol) mono.Stmt {
							return g.add("next_index", index, one, func(ni Symbol) mono.Stmt {
								return jump(loop, ni, r)
							})
						})
					})
				})
			})
		})

		return g.boolSwitch(more, g.isize, step, jump(done, rest))
	})

	return mono.Join{
		ID: loop,
		Params: []mono.Param{
			{Symbol: index, Layout: g.isize},
			{Symbol: rest, Layout: g.isize},
		},
		Body: body,
		Remainder: g.lit("zero", g.isize, 0, func(zero Symbol) mono.Stmt {
			return jump(loop, zero, rest0)
		}),
	}
}

func (g gen) callClone(buf Symbol, cur cursors, value Symbol, union InLayout, k next) mono.Stmt {
	name, _ := g.cloneProc(union)

	_, ul, _ := g.in.UnionOf(union)
	sig := g.procLayout(ul, OpClone)

	return g.callByName("new_extra", name, sig, []Symbol{buf, cur.offset, cur.extra, value}, k)
}

// cloneProc returns the clone proc for the union layout.
// It's registered before the body is built, so recursive occurrences call it.
func (g gen) cloneProc(union InLayout) (Symbol, bool) {
	u, ul, ok := g.in.UnionOf(union)
	if !ok {
		panic(errors.New("clone procs are made for unions, got %v", g.in.String(union)))
	}

	union = ul

	name, isNew := g.request(g.ids, union, OpClone, g.procLayout(union, OpClone))
	if !isNew {
		return name, false
	}

	p := g.procs[g.index[procKey{layout: union, op: OpClone}]]

	body := g.cloneUnion(u, union)

	p.proc = &mono.Proc{
		Name: name,
		Args: []mono.Arg{
			{Layout: layout.OPAQUE_PTR, Symbol: mono.ARG_1},
			{Layout: g.isize, Symbol: mono.ARG_2},
			{Layout: g.isize, Symbol: mono.ARG_3},
			{Layout: union, Symbol: mono.ARG_4},
		},
		Body:          body,
		RetLayout:     g.isize,
		SelfRecursive: layout.IsPointer(u),
	}

	return name, true
}

func (g gen) cloneUnion(u layout.UnionLayout, ul InLayout) mono.Stmt {
	buf, off, extra, value := mono.ARG_1, mono.ARG_2, mono.ARG_3, mono.ARG_4

	if layout.TagCount(u) == 0 {
		return mono.Unreachable{}
	}

	tagLayout := layout.TagIDLayout(u)

	load := func(id int) func(i int, k next) mono.Stmt {
		fields := layout.VariantFields(u, id)

		return func(i int, k next) mono.Stmt {
			return g.let("field", fields[i], mono.UnionAtIndex{Structure: value, TagID: id, Union: ul, Index: i}, k)
		}
	}

	dispatch := func(ids []int, branch func(id int) mono.Stmt) mono.Stmt {
		return g.let("tag_id", tagLayout, mono.GetTagID{Structure: value, Union: ul}, func(tag Symbol) mono.Stmt {
			br := make([]mono.Branch, len(ids))

			for i, id := range ids {
				br[i] = mono.Branch{Value: uint64(id), Body: branch(id)}
			}

			return mono.Switch{
				Cond:       tag,
				CondLayout: tagLayout,
				Branches:   br,
				Default:    mono.Unreachable{},
				RetLayout:  g.isize,
			}
		})
	}

	// pointer encodings: the value is at extra and extra is moved past the pointee
	pointee, _ := g.in.PointeeSizeAndAlignment(u)
	inPointee := layout.Discriminant(u, g.target) == layout.TagInPointee

	variant := func(id int) mono.Stmt {
		return g.writePointer(u, id, buf, off, extra, func(at Symbol) mono.Stmt {
			return g.addConst("new_extra", at, pointee, func(ne Symbol) mono.Stmt {
				return g.cloneFields(buf, at, ne, layout.VariantFields(u, id), load(id), func(e Symbol) mono.Stmt {
					if !inPointee {
						return ret(e)
					}

					return g.lit("tag_id", tagLayout, int64(id), func(tag Symbol) mono.Stmt {
						return g.addConst("tag_offset", at, g.in.PointeeTagOffset(u), func(to Symbol) mono.Stmt {
							return g.store(buf, to, tag, func() mono.Stmt { return ret(e) })
						})
					})
				})
			})
		})
	}

	null := func() mono.Stmt {
		return g.lit("null", g.isize, 0, func(zero Symbol) mono.Stmt {
			return g.store(buf, off, zero, func() mono.Stmt { return ret(extra) })
		})
	}

	nullable := func(nonNull mono.Stmt) mono.Stmt {
		return g.lowlevel("is_null", layout.BOOL, mono.IsNull, []Symbol{value}, func(isNull Symbol) mono.Stmt {
			return g.boolSwitch(isNull, g.isize, null(), nonNull)
		})
	}

	switch u := u.(type) {
	case layout.NonRecursive:
		tagOffset := g.in.NonRecursiveTagOffset(u)

		return dispatch(layout.NonNullTagIDs(u), func(id int) mono.Stmt {
			return g.cloneFields(buf, off, extra, u.Tags[id], load(id), func(e Symbol) mono.Stmt {
				return g.lit("tag_id", tagLayout, int64(id), func(tag Symbol) mono.Stmt {
					return g.addConst("tag_offset", off, tagOffset, func(to Symbol) mono.Stmt {
						return g.store(buf, to, tag, func() mono.Stmt { return ret(e) })
					})
				})
			})
		})
	case layout.Recursive:
		return dispatch(layout.NonNullTagIDs(u), variant)
	case layout.NonNullableUnwrapped:
		return variant(0)
	case layout.NullableWrapped:
		return nullable(dispatch(layout.NonNullTagIDs(u), variant))
	case layout.NullableUnwrapped:
		return nullable(variant(1 - layout.NullID(u)))
	default:
		panic(u)
	}
}

// writePointer writes the buffer "pointer" to the pointee at off and passes the pointee offset to k.
// If the tag id is stored in the pointer, the pointee offset is aligned to the pointer width
// and the word is offset | tag id, the same way pointers are tagged in memory.
func (g gen) writePointer(u layout.UnionLayout, id int, buf, off, extra Symbol, k next) mono.Stmt {
	if !layout.StoresTagIDInPointer(u, g.target) {
		return g.store(buf, off, extra, func() mono.Stmt { return k(extra) })
	}

	mask := g.target.TagMask()

	return g.addConst("unaligned", extra, int(mask), func(x Symbol) mono.Stmt {
		return g.lit("align_mask", g.isize, ^int64(mask), func(am Symbol) mono.Stmt {
			return g.lowlevel("pointee", g.isize, mono.NumBitAnd, []Symbol{x, am}, func(at Symbol) mono.Stmt {
				return g.lit("tag_id", g.isize, int64(id), func(tag Symbol) mono.Stmt {
					return g.add("tagged", at, tag, func(w Symbol) mono.Stmt {
						return g.store(buf, off, w, func() mono.Stmt { return k(at) })
					})
				})
			})
		})
	})
}
