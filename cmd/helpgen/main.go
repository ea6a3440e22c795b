package main

import (
	"context"
	"os"

	"nikand.dev/go/cli"
	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/slowlang/helpgen/compiler/help"
	"github.com/slowlang/helpgen/compiler/layout"
	"github.com/slowlang/helpgen/compiler/llvm"
	"github.com/slowlang/helpgen/compiler/mono"
)

const home mono.ModuleID = 1

func main() {
	rcCmd := &cli.Command{
		Name:        "rc",
		Description: "generate refcount helpers for layouts",
		Action:      rcAct,
		Args:        cli.Args{},
		Flags: []*cli.Flag{
			cli.NewFlag("op", "dec", "refcount operation: inc or dec"),
		},
	}

	cloneCmd := &cli.Command{
		Name:        "clone",
		Description: "generate snapshot clone helpers for layouts",
		Action:      cloneAct,
		Args:        cli.Args{},
	}

	expectCmd := &cli.Command{
		Name:        "expect",
		Description: "expand an expect capturing a lookup of each layout",
		Action:      expectAct,
		Args:        cli.Args{},
	}

	app := &cli.Command{
		Name:        "helpgen",
		Description: "helpgen prints runtime helper procs generated for value layouts",
		Flags: []*cli.Flag{
			cli.NewFlag("target", "x86_64", "target architecture: x86_64, aarch64, x86_32, wasm32"),
			cli.NewFlag("llvm", false, "print LLVM IR instead of mono IR"),
			cli.NewFlag("log", "", "tlog verbosity topics"),
			cli.HelpFlag,
		},
		Before: before,
		Commands: []*cli.Command{
			rcCmd,
			cloneCmd,
			expectCmd,
		},
	}

	cli.RunAndExit(app, os.Args, os.Environ())
}

func before(c *cli.Command) error {
	tlog.SetVerbosity(c.String("log"))

	return nil
}

type session struct {
	ctx context.Context

	in  *layout.Interner
	ids *mono.IdentIDs
	h   *help.CodeGenHelp
}

func newSession(c *cli.Command) (*session, error) {
	t, err := layout.TargetFromArch(c.String("target"))
	if err != nil {
		return nil, err
	}

	ctx := context.Background()
	ctx = tlog.ContextWithSpan(ctx, tlog.Root())

	in := layout.NewInterner(t)

	return &session{
		ctx: ctx,
		in:  in,
		ids: mono.NewIdentIDs(),
		h:   help.New(home, in),
	}, nil
}

func (s *session) layouts(args []string) ([]layout.InLayout, error) {
	if len(args) == 0 {
		return nil, errors.New("layout expected")
	}

	ls := make([]layout.InLayout, len(args))

	for i, a := range args {
		l, err := layout.Parse(s.in, a)
		if err != nil {
			return nil, errors.Wrap(err, "parse %q", a)
		}

		ls[i] = l
	}

	return ls, nil
}

func rcAct(c *cli.Command) (err error) {
	s, err := newSession(c)
	if err != nil {
		return err
	}

	var op help.Op

	switch q := c.String("op"); q {
	case "inc":
		op = help.OpInc
	case "dec":
		op = help.OpDec
	default:
		return errors.New("unsupported op: %q", q)
	}

	ls, err := s.layouts(c.Args)
	if err != nil {
		return err
	}

	for i, l := range ls {
		if !s.h.LayoutIsSupported(l) {
			return errors.New("%v: refcounting is not supported", c.Args[i])
		}

		s.h.Request(s.ids, l, op)
	}

	return s.print(c, s.h.GenerateProcs(s.ctx, s.ids))
}

func cloneAct(c *cli.Command) (err error) {
	s, err := newSession(c)
	if err != nil {
		return err
	}

	ls, err := s.layouts(c.Args)
	if err != nil {
		return err
	}

	for i, l := range ls {
		if _, _, ok := s.in.UnionOf(l); !ok {
			return errors.New("%v: clone procs are made for unions, other layouts are cloned inline", c.Args[i])
		}

		s.h.Request(s.ids, l, help.OpClone)
	}

	return s.print(c, s.h.GenerateProcs(s.ctx, s.ids))
}

// expectAct builds
//
//	proc expect_main(cond: Bool, a1: L1, ...) { expect cond [a1, ...]; ret {} }
//
// and prints it expanded, followed by the helpers it needs.
func expectAct(c *cli.Command) (err error) {
	s, err := newSession(c)
	if err != nil {
		return err
	}

	ls, err := s.layouts(c.Args)
	if err != nil {
		return err
	}

	sym := func(name string) mono.Symbol {
		return mono.NewSymbol(home, s.ids.Add(name))
	}

	cond := sym("cond")
	unit := sym("unit")

	p := mono.Proc{
		Name:      sym("#expect_main"),
		Args:      []mono.Arg{{Layout: layout.BOOL, Symbol: cond}},
		RetLayout: layout.UNIT,
	}

	x := mono.Expect{
		Condition: cond,
		Region:    mono.Region{Start: 0, End: uint32(len(c.Args))},
		Next: mono.Let{
			Symbol: unit,
			Expr:   mono.Struct{},
			Layout: layout.UNIT,
			Next:   mono.Ret{Symbol: unit},
		},
	}

	for i, l := range ls {
		a := sym("lookup")

		p.Args = append(p.Args, mono.Arg{Layout: l, Symbol: a})

		x.Lookups = append(x.Lookups, a)
		x.LookupLayouts = append(x.LookupLayouts, l)
		x.LookupVars = append(x.LookupVars, uint32(i))
	}

	p.Body = x

	p, _, err = s.h.ExpandProc(s.ids, &p)
	if err != nil {
		return errors.Wrap(err, "expand")
	}

	procs := append([]mono.Proc{p}, s.h.GenerateProcs(s.ctx, s.ids)...)

	return s.print(c, procs)
}

func (s *session) print(c *cli.Command, procs []mono.Proc) (err error) {
	var b []byte

	if c.Bool("llvm") {
		m, err := llvm.Lower(s.ctx, s.in, s.ids, procs)
		if err != nil {
			return errors.Wrap(err, "lower")
		}

		b = append(b, m.String()...)
	} else {
		b, err = mono.Format(s.ctx, nil, s.in, s.ids, procs)
		if err != nil {
			return errors.Wrap(err, "format")
		}
	}

	_, err = os.Stdout.Write(b)

	return err
}
