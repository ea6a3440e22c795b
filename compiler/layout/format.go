package layout

// String prints the layout in the syntax Parse reads.
func (in *Interner) String(l InLayout) string {
	return string(in.AppendLayout(nil, l))
}

func (in *Interner) AppendLayout(b []byte, l InLayout) []byte {
	fields := func(b []byte, open, close byte, l []InLayout) []byte {
		b = append(b, open)

		for i, f := range l {
			if i != 0 {
				b = append(b, ", "...)
			}

			b = in.AppendLayout(b, f)
		}

		return append(b, close)
	}

	variants := func(b []byte, tags [][]InLayout) []byte {
		b = append(b, '[')

		for i, t := range tags {
			if i != 0 {
				b = append(b, " | "...)
			}

			b = fields(b, '(', ')', t)
		}

		return append(b, ']')
	}

	switch x := in.Get(l).(type) {
	case Int:
		return append(b, x.Width.String()...)
	case Float:
		return append(b, x.Width.String()...)
	case Bool:
		return append(b, "Bool"...)
	case Decimal:
		return append(b, "Dec"...)
	case Str:
		return append(b, "Str"...)
	case OpaquePtr:
		return append(b, "Ptr"...)
	case List:
		return fields(append(b, "List"...), '(', ')', []InLayout{x.Elem})
	case Boxed:
		return fields(append(b, "Box"...), '(', ')', []InLayout{x.Inner})
	case LambdaSet:
		return fields(append(b, "Fn"...), '(', ')', []InLayout{x.Runtime})
	case RecursivePointer:
		return append(b, '*')
	case Struct:
		return fields(b, '{', '}', x.Fields)
	case Union:
		if u, ok := x.Union.(NonRecursive); ok {
			return variants(b, u.Tags)
		}

		tags := make([][]InLayout, TagCount(x.Union))
		for id := range tags {
			tags[id] = VariantFields(x.Union, id)
		}

		return variants(append(b, "rec"...), tags)
	default:
		panic(x)
	}
}
