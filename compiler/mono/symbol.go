package mono

import (
	"strconv"
	"strings"

	"github.com/nikandfor/hacked/hfmt"

	"tlog.app/go/tlog/tlwire"
)

type (
	ModuleID uint32
	IdentID  uint32

	// Symbol is a module-qualified identifier.
	Symbol uint64

	// IdentIDs allocates identifiers of one module.
	// Names may repeat, ids never do.
	IdentIDs struct {
		names []string
	}
)

const BuiltinModule ModuleID = 0

// Argument symbols shared by all generated procs.
var (
	ARG_1 = NewSymbol(BuiltinModule, 1)
	ARG_2 = NewSymbol(BuiltinModule, 2)
	ARG_3 = NewSymbol(BuiltinModule, 3)
	ARG_4 = NewSymbol(BuiltinModule, 4)
)

var builtinNames = []string{"#builtin", "#arg1", "#arg2", "#arg3", "#arg4"}

func NewSymbol(m ModuleID, id IdentID) Symbol {
	return Symbol(uint64(m)<<32 | uint64(id))
}

func (s Symbol) Module() ModuleID { return ModuleID(s >> 32) }
func (s Symbol) Ident() IdentID   { return IdentID(s) }

func (s Symbol) String() string {
	if s.Module() == BuiltinModule && int(s.Ident()) < len(builtinNames) {
		return builtinNames[s.Ident()]
	}

	return strconv.FormatUint(uint64(s.Module()), 10) + "." + strconv.FormatUint(uint64(s.Ident()), 10)
}

func (s Symbol) TlogAppend(b []byte) []byte {
	var e tlwire.Encoder

	return e.AppendFormat(b, "%v", s.String())
}

func NewIdentIDs() *IdentIDs {
	// id 0 is never handed out
	return &IdentIDs{names: []string{""}}
}

func (ids *IdentIDs) Add(name string) IdentID {
	id := IdentID(len(ids.names))
	ids.names = append(ids.names, name)

	return id
}

func (ids *IdentIDs) Name(id IdentID) (string, bool) {
	if id == 0 || int(id) >= len(ids.names) {
		return "", false
	}

	return ids.names[id], true
}

func (ids *IdentIDs) Len() int { return len(ids.names) - 1 }

// SymbolName is a printable name of s.
// Names starting with # are unique and printed as is, others get the ident id appended.
func (ids *IdentIDs) SymbolName(s Symbol) string {
	if ids == nil || s.Module() == BuiltinModule {
		return s.String()
	}

	name, ok := ids.Name(s.Ident())
	if !ok {
		return s.String()
	}

	if strings.HasPrefix(name, "#") {
		return name
	}

	return string(hfmt.Appendf(nil, "%s.%d", name, s.Ident()))
}
