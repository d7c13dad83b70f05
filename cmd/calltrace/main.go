package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"text/tabwriter"

	"github.com/willibrandon/calltrace/internal/config"
	"github.com/willibrandon/calltrace/internal/logging"
	"github.com/willibrandon/calltrace/internal/telemetry"
	"github.com/willibrandon/calltrace/pkg/debugger"
	"github.com/willibrandon/calltrace/pkg/recorder"
	"github.com/willibrandon/calltrace/pkg/replay"
	"github.com/willibrandon/calltrace/pkg/store"
	"github.com/willibrandon/calltrace/pkg/trace"
	"github.com/willibrandon/calltrace/pkg/version"
)

// errDegraded makes check exit non-zero without printing an extra error
var errDegraded = errors.New("replay degraded")

type app struct {
	cfg *config.Config
	log *logging.Logger
	out io.Writer
	in  io.Reader
}

func usage(w io.Writer) {
	fmt.Fprintln(w, "Usage: calltrace [-config file] <command> [args]")
	fmt.Fprintln(w, "\nCommands:")
	fmt.Fprintln(w, "  inspect <trace>               Summarize a trace")
	fmt.Fprintln(w, "  validate <trace>              Check a trace against the schema")
	fmt.Fprintln(w, "  convert [flags] <in> <out>    Re-encode a trace")
	fmt.Fprintln(w, "  steps <trace>                 Print the replay order")
	fmt.Fprintln(w, "  check <trace>                 Dry-run replay and report divergences")
	fmt.Fprintln(w, "  debug <trace>                 Step through a dry-run replay interactively")
	fmt.Fprintln(w, "  journal [flags] <file> <out>  Rebuild a trace from an entry journal")
	fmt.Fprintln(w, "  store put|get|list|rm         Manage the trace database")
	fmt.Fprintln(w, "  version                       Print version information")
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

func run(args []string, in io.Reader, out, errOut io.Writer) int {
	fs := flag.NewFlagSet("calltrace", flag.ContinueOnError)
	fs.SetOutput(errOut)
	configPath := fs.String("config", os.Getenv(config.EnvPrefix+"CONFIG"), "configuration file (toml, yaml or json)")
	fs.Usage = func() { usage(errOut) }
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() == 0 {
		usage(errOut)
		return 2
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(errOut, "Error: %v\n", err)
		return 1
	}
	l, err := logging.New(cfg.Logging("calltrace"))
	if err != nil {
		fmt.Fprintf(errOut, "Error: %v\n", err)
		return 1
	}
	defer l.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	shutdown, err := telemetry.Setup(ctx, telemetry.Options{
		Enabled:     cfg.Telemetry.Enabled,
		Endpoint:    cfg.Telemetry.Endpoint,
		ServiceName: cfg.Telemetry.ServiceName,
	})
	if err != nil {
		l.Warn("telemetry disabled", "error", err)
	}
	defer func() {
		if err := shutdown(context.Background()); err != nil {
			l.Warn("telemetry shutdown", "error", err)
		}
	}()

	a := &app{cfg: cfg, log: l, out: out, in: in}
	cmd, rest := fs.Arg(0), fs.Args()[1:]
	if err := a.dispatch(ctx, cmd, rest); err != nil {
		if !errors.Is(err, errDegraded) {
			fmt.Fprintf(errOut, "Error: %v\n", err)
		}
		return 1
	}
	return 0
}

func (a *app) dispatch(ctx context.Context, cmd string, args []string) error {
	switch cmd {
	case "inspect":
		return a.inspect(args)
	case "validate":
		return a.validate(args)
	case "convert":
		return a.convert(args)
	case "steps":
		return a.steps(args)
	case "check":
		return a.check(ctx, args)
	case "debug":
		return a.debug(ctx, args)
	case "journal":
		return a.journal(args)
	case "store":
		return a.store(ctx, args)
	case "version":
		fmt.Fprintln(a.out, version.GetVersionInfo())
		return nil
	case "help":
		usage(a.out)
		return nil
	}
	return fmt.Errorf("unknown command %q", cmd)
}

func oneArg(cmd string, args []string) (string, error) {
	if len(args) != 1 {
		return "", fmt.Errorf("usage: calltrace %s <trace>", cmd)
	}
	return args[0], nil
}

func (a *app) inspect(args []string) error {
	path, err := oneArg("inspect", args)
	if err != nil {
		return err
	}
	tr, err := trace.LoadFile(path)
	if err != nil {
		return err
	}

	fmt.Fprintf(a.out, "Trace version %d: %d calls, %d callbacks\n", tr.Version, tr.Len(trace.Call), tr.Len(trace.Callback))
	tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "METHOD\tCALLS\tCALLBACKS")
	for _, s := range tr.Summary() {
		fmt.Fprintf(tw, "%s\t%d\t%d\n", s.Name, s.Calls, s.Callbacks)
	}
	return tw.Flush()
}

func (a *app) validate(args []string) error {
	path, err := oneArg("validate", args)
	if err != nil {
		return err
	}
	if _, err := trace.LoadFile(path); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "%s: valid\n", path)
	return nil
}

func (a *app) convert(args []string) error {
	opts := a.cfg.TraceOptions()
	fs := flag.NewFlagSet("convert", flag.ContinueOnError)
	fs.SetOutput(a.out)
	format := fs.String("format", opts.Format.String(), "output format: json or cbor")
	compression := fs.String("compression", opts.Compression.String(), "output compression: none or zstd")
	indent := fs.Bool("indent", opts.Indent, "indent JSON output")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 2 {
		return errors.New("usage: calltrace convert [flags] <in> <out>")
	}

	var perr error
	if opts.Format, perr = trace.ParseFormat(*format); perr != nil {
		return perr
	}
	if opts.Compression, perr = trace.ParseCompression(*compression); perr != nil {
		return perr
	}
	opts.Indent = *indent

	tr, err := trace.LoadFile(fs.Arg(0))
	if err != nil {
		return err
	}
	if err := trace.SaveFile(fs.Arg(1), tr, opts); err != nil {
		return err
	}
	a.log.Info("converted trace", "in", fs.Arg(0), "out", fs.Arg(1), "format", opts.Format.String(), "compression", opts.Compression.String())
	return nil
}

func (a *app) steps(args []string) error {
	path, err := oneArg("steps", args)
	if err != nil {
		return err
	}
	tr, err := trace.LoadFile(path)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "STEP\tSEQ\tMETHOD\tARGS\tRET")
	for _, s := range replay.Order(tr) {
		ret := "-"
		if s.Record.Ret != nil {
			ret = s.Record.Ret.String()
		}
		fmt.Fprintf(tw, "%d\t%d\t%s\t%v\t%s\n", s.Index, s.Record.Seq, s.Name, s.Record.Args, ret)
	}
	return tw.Flush()
}

func (a *app) replayOptions() ([]replay.Option, *replay.BreakpointManager, error) {
	opts, bm, err := a.cfg.ReplayOptions()
	if err != nil {
		return nil, nil, err
	}
	return append(opts, replay.WithLogger(a.log.WithComponent("replay").Logger)), bm, nil
}

func (a *app) check(ctx context.Context, args []string) error {
	path, err := oneArg("check", args)
	if err != nil {
		return err
	}
	tr, err := trace.LoadFile(path)
	if err != nil {
		return err
	}
	opts, _, err := a.replayOptions()
	if err != nil {
		return err
	}
	// a batch check runs straight through
	opts = append(opts, replay.WithBreakpoints(nil))

	report, err := replay.DryRun(ctx, tr, opts...)
	if err != nil && !errors.Is(err, replay.ErrDivergence) {
		return err
	}
	debugger.PrintReport(a.out, report)
	if report.Degraded || len(report.Unresolved) > 0 || len(report.Unconsumed) > 0 {
		return errDegraded
	}
	return nil
}

func (a *app) debug(ctx context.Context, args []string) error {
	path, err := oneArg("debug", args)
	if err != nil {
		return err
	}
	tr, err := trace.LoadFile(path)
	if err != nil {
		return err
	}
	opts, bm, err := a.replayOptions()
	if err != nil {
		return err
	}
	r, err := replay.NewDryRun(tr, opts...)
	if err != nil {
		return err
	}
	debugger.NewCLI(r, bm, a.out).Start(ctx, a.in)
	return nil
}

func (a *app) journal(args []string) error {
	fs := flag.NewFlagSet("journal", flag.ContinueOnError)
	fs.SetOutput(a.out)
	compression := fs.String("journal-compression", a.cfg.Trace.Compression, "journal compression: none or zstd")
	verify := fs.Bool("verify", false, "only check the journal for tampering")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if (*verify && fs.NArg() != 1) || (!*verify && fs.NArg() != 2) {
		return errors.New("usage: calltrace journal [-verify] [-journal-compression c] <journal> [out]")
	}
	ct, err := trace.ParseCompression(*compression)
	if err != nil {
		return err
	}

	var entries []trace.Entry
	if a.cfg.Secure() {
		sec, err := a.cfg.SecurityOptions()
		if err != nil {
			return err
		}
		sink, err := recorder.NewSecureFileSinkWithOptions(fs.Arg(0), recorder.SecureFileSinkOptions{
			SecurityOptions: sec,
			CompressionType: ct,
			Logger:          a.log.WithComponent("journal").Logger,
		})
		if err != nil {
			return err
		}
		defer sink.Close()

		tampered, err := sink.DetectTampering()
		if err != nil {
			return err
		}
		if tampered {
			a.log.Warn("journal failed integrity check; tampered entries are dropped", "journal", fs.Arg(0))
			if *verify {
				return recorder.ErrTampered
			}
		}
		if *verify {
			fmt.Fprintf(a.out, "%s: intact\n", fs.Arg(0))
			return nil
		}
		entries = sink.Entries()
	} else {
		if *verify {
			return errors.New("journal verification needs security.integrity enabled")
		}
		sink, err := recorder.NewFileSinkWithOptions(fs.Arg(0), recorder.FileSinkOptions{
			CompressionType: ct,
			Logger:          a.log.WithComponent("journal").Logger,
		})
		if err != nil {
			return err
		}
		defer sink.Close()
		if entries, err = sink.ReadEntries(); err != nil {
			return err
		}
	}

	tr := trace.FromEntries(entries)
	if err := trace.SaveFile(fs.Arg(1), tr, a.cfg.TraceOptions()); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Wrote %d entries to %s\n", len(entries), fs.Arg(1))
	return nil
}

func (a *app) store(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return errors.New("usage: calltrace store put|get|list|rm")
	}
	db, err := store.Open(a.cfg.Store.Path)
	if err != nil {
		return err
	}
	defer db.Close()

	sub, args := args[0], args[1:]
	switch sub {
	case "put":
		fs := flag.NewFlagSet("store put", flag.ContinueOnError)
		fs.SetOutput(a.out)
		id := fs.String("id", "", "trace id (generated when empty)")
		name := fs.String("name", "", "descriptive name")
		if err := fs.Parse(args); err != nil {
			return err
		}
		if fs.NArg() != 1 {
			return errors.New("usage: calltrace store put [-id id] [-name name] <trace>")
		}
		tr, err := trace.LoadFile(fs.Arg(0))
		if err != nil {
			return err
		}
		stored, err := db.Put(ctx, *id, *name, tr)
		if err != nil {
			return err
		}
		fmt.Fprintln(a.out, stored)
		return nil
	case "get":
		if len(args) != 2 {
			return errors.New("usage: calltrace store get <id> <out>")
		}
		tr, err := db.Get(ctx, args[0])
		if err != nil {
			return err
		}
		return trace.SaveFile(args[1], tr, a.cfg.TraceOptions())
	case "list", "ls":
		metas, err := db.List(ctx)
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tNAME\tCALLS\tCALLBACKS\tSIZE\tCREATED")
		for _, m := range metas {
			fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\t%s\n", m.ID, m.Name, m.Calls, m.Callbacks, m.Size, m.CreatedAt.Format("2006-01-02 15:04:05"))
		}
		return tw.Flush()
	case "rm", "delete":
		if len(args) != 1 {
			return errors.New("usage: calltrace store rm <id>")
		}
		return db.Delete(ctx, args[0])
	}
	return fmt.Errorf("unknown store command %q", sub)
}
