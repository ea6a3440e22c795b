package layout

import "tlog.app/go/errors"

type (
	Target struct {
		Arch     string
		PtrWidth int
	}
)

var (
	X86_64  = Target{Arch: "x86_64", PtrWidth: 8}
	Aarch64 = Target{Arch: "aarch64", PtrWidth: 8}
	X86_32  = Target{Arch: "x86_32", PtrWidth: 4}
	Wasm32  = Target{Arch: "wasm32", PtrWidth: 4}
)

func TargetFromArch(arch string) (Target, error) {
	for _, t := range []Target{X86_64, Aarch64, X86_32, Wasm32} {
		if t.Arch == arch {
			return t, nil
		}
	}

	return Target{}, errors.New("unsupported architecture: %q", arch)
}

// TagMask is the set of low pointer bits free for a tag id.
// Heap allocations are aligned to the pointer width.
func (t Target) TagMask() uint64 {
	return uint64(t.PtrWidth - 1)
}

func (t Target) String() string {
	return t.Arch
}
