// Command boxctl is a debug/operator CLI around the client package: it
// spawns a supervisor, sends one sandboxed-execution request built from
// flags, waits for the outcome, and reports it the way sysbox-fs's own
// CLI reports a daemon's lifecycle events.
package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/google/uuid"
	"github.com/pkg/profile"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli"

	"github.com/boxd/boxd/client"
	"github.com/boxd/boxd/domain"
)

var version = "dev" // populated at build time

func main() {
	// Must run before anything else: this re-exec hop is what actually
	// starts the supervisor (see client.Init's doc comment).
	client.Init()

	app := cli.NewApp()
	app.Name = "boxctl"
	app.Usage = "run a command inside a boxd sandbox"
	app.Version = version

	app.Flags = []cli.Flag{
		cli.StringFlag{Name: "log-level", Value: "info", Usage: "debug, info, warning, error, fatal"},
		cli.BoolFlag{Name: "cpu-profiling", Hidden: true},
		cli.BoolFlag{Name: "memory-profiling", Hidden: true},
	}

	app.Before = func(ctx *cli.Context) error {
		logrus.SetOutput(os.Stderr)
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
		lvl, err := logrus.ParseLevel(ctx.GlobalString("log-level"))
		if err != nil {
			return fmt.Errorf("log-level %q not recognized", ctx.GlobalString("log-level"))
		}
		logrus.SetLevel(lvl)
		return nil
	}

	app.Commands = []cli.Command{runCommand()}

	if err := app.Run(os.Args); err != nil {
		logrus.Fatal(err)
	}
}

func runCommand() cli.Command {
	return cli.Command{
		Name:      "run",
		Usage:     "run argv[0] argv[1:]... inside a fresh sandbox",
		ArgsUsage: "<path> [args...]",
		Flags: []cli.Flag{
			cli.StringSliceFlag{Name: "env", Usage: "NAME=VALUE, repeatable"},
			cli.DurationFlag{Name: "time-limit", Usage: "wall-clock deadline, e.g. 30s"},
			cli.DurationFlag{Name: "cpu-time-limit", Usage: "cgroup cpu.stat-polled deadline"},
			cli.Uint64Flag{Name: "memory-limit", Usage: "memory.max in bytes, 0 = unset"},
			cli.Uint64Flag{Name: "swap-limit", Usage: "memory.swap.max in bytes, 0 = unset"},
			cli.Uint64Flag{Name: "pids-limit", Usage: "pids.max, 0 = unset"},
			cli.Uint64Flag{Name: "uid", Usage: "inside uid, defaults to the caller's own"},
			cli.Uint64Flag{Name: "gid", Usage: "inside gid, defaults to the caller's own"},
			cli.BoolFlag{Name: "no-default-seccomp", Usage: "don't rely on the tracee's built-in default filter (informational only; the tracee always applies one when the request carries no seccomp fd)"},
		},
		Action: runAction,
	}
}

func runAction(ctx *cli.Context) error {
	argv := []string(ctx.Args())
	if len(argv) == 0 {
		return fmt.Errorf("boxctl run: missing <path> [args...]")
	}

	prof, err := runProfiler(ctx.Parent())
	if err != nil {
		return err
	}
	if prof != nil {
		defer prof.Stop()
	}

	c, err := client.New()
	if err != nil {
		return fmt.Errorf("spawn supervisor: %w", err)
	}
	defer c.Close()

	opts := domain.RequestOptions{
		Env:     ctx.StringSlice("env"),
		Cgroup:  cgroupFromFlags(ctx),
		Prlimit: domain.Prlimit{},
	}
	if d := ctx.Duration("time-limit"); d > 0 {
		opts.TimeLimit = &d
	}
	if d := ctx.Duration("cpu-time-limit"); d > 0 {
		opts.CPUTimeLimit = &d
	}
	if ctx.IsSet("uid") {
		uid := uint32(ctx.Uint64("uid"))
		opts.Namespaces.User.InsideUID = &uid
	}
	if ctx.IsSet("gid") {
		gid := uint32(ctx.Uint64("gid"))
		opts.Namespaces.User.InsideGID = &gid
	}

	exe := domain.ExecutableSelector{Path: argv[0]}

	// A correlation id purely for log-line grouping across the request's
	// lifetime; the wire protocol itself carries no request id field.
	reqID := uuid.New().String()
	logrus.WithField("request_id", reqID).Debugf("sending request: %s", strconv.Quote(argv[0]))
	handle, err := c.SendRequest(exe, argv, opts.Env, opts)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}

	res, err := handle.AwaitResult()
	if err != nil {
		return fmt.Errorf("await result: %w", err)
	}
	logrus.WithField("request_id", reqID).Debug("result received")

	return reportResult(res)
}

func cgroupFromFlags(ctx *cli.Context) domain.Cgroup {
	var cg domain.Cgroup
	if v := ctx.Uint64("memory-limit"); v != 0 {
		cg.MemoryLimitInBytes = &v
	}
	if v := ctx.Uint64("swap-limit"); v != 0 {
		cg.SwapLimitInBytes = &v
	}
	if v := ctx.Uint64("pids-limit"); v != 0 {
		v32 := uint32(v)
		cg.ProcessNumLimit = &v32
	}
	return cg
}

func reportResult(res domain.Result) error {
	switch v := res.(type) {
	case *domain.OkResult:
		fmt.Fprintf(os.Stdout,
			"exit code=%d status=%d runtime=%s cpu_user=%dus cpu_sys=%dus peak_mem=%dB\n",
			v.Si.Code, v.Si.Status, v.Runtime, v.Cgroup.CPUTime.UserUsec, v.Cgroup.CPUTime.SystemUsec, v.Cgroup.PeakMemoryBytes,
		)
		if v.Si.Status != 0 {
			os.Exit(int(v.Si.Status))
		}
		return nil
	case *domain.ErrorResult:
		fmt.Fprintln(os.Stderr, v.Description)
		os.Exit(1)
		return nil
	default:
		return fmt.Errorf("boxctl: unrecognized result type %T", res)
	}
}

// runProfiler mirrors the teacher's mutually-exclusive cpu/memory
// profiling flags, started here rather than left to pprof's default
// sigterm hook so boxctl's own exit path controls when profiling stops.
func runProfiler(ctx *cli.Context) (interface{ Stop() }, error) {
	cpuOn := ctx.Bool("cpu-profiling")
	memOn := ctx.Bool("memory-profiling")
	if cpuOn && memOn {
		return nil, fmt.Errorf("unsupported combination: cpu and memory profiling")
	}
	if !cpuOn && !memOn {
		return nil, nil
	}
	if cpuOn {
		return profile.Start(profile.CPUProfile, profile.ProfilePath("."), profile.NoShutdownHook), nil
	}
	return profile.Start(profile.MemProfile, profile.ProfilePath("."), profile.NoShutdownHook), nil
}
