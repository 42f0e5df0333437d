// Command swiftapctl lists, creates, configures and taps virtual TAP
// adapters.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/netip"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/SyNdicateFoundation/swiftap"
	"github.com/SyNdicateFoundation/swiftap/swiftconfig"
	"github.com/SyNdicateFoundation/swiftap/swiftypes"
	"github.com/SyNdicateFoundation/swiftap/swiftutils"
)

const usage = `usage: swiftapctl [flags] <command> [args]

commands:
  list                          list adapters
  info <name>                   show MTU, driver version and MAC
  create [name]                 create an adapter
  delete <name>                 delete an adapter
  rename <name> <new-name>      change an adapter's friendly name
  up <name> | down <name>       set media status
  set-ip <name> <addr> <mask>   assign a static IPv4 address
  dump <name>                   print received frames until interrupted

flags:
`

var errUsage = errors.New("invalid arguments")

func main() {
	if err := run(os.Args[1:], os.Stdout, os.Stderr); err != nil {
		if !errors.Is(err, errUsage) {
			fmt.Fprintln(os.Stderr, "swiftapctl:", err)
		}
		os.Exit(1)
	}
}

func run(args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("swiftapctl", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprint(stderr, usage)
		fs.PrintDefaults()
	}

	var (
		configPath = fs.String("config", "", "YAML configuration file")
		logLevel   = fs.String("log-level", "", "log level: debug, info, warn, error")
		count      = fs.Int("count", 0, "dump: stop after this many frames (0 = unlimited)")
	)
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return errUsage
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return errUsage
	}

	file := &swiftconfig.File{}
	if *configPath != "" {
		var err error
		if file, err = swiftconfig.Load(*configPath); err != nil {
			return err
		}
	}
	if *logLevel != "" {
		file.Log.Level = *logLevel
	}

	logger, closeLog, err := newLogger(file.Log, stderr)
	if err != nil {
		return err
	}
	defer closeLog()

	cfg, err := swiftconfig.New(append(file.Options(), swiftconfig.WithLogger(logger))...)
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	m, err := swiftap.NewManager(cfg)
	if err != nil {
		return err
	}

	cmd, rest := fs.Arg(0), fs.Args()[1:]
	if err := checkArgs(cmd, rest); err != nil {
		fs.Usage()
		return err
	}

	switch cmd {
	case "list":
		return list(m, stdout)
	case "info":
		return info(m, rest[0], stdout)
	case "create":
		name := ""
		if len(rest) > 0 {
			name = rest[0]
		}
		return create(m, name, stdout)
	case "delete":
		return m.Delete(rest[0])
	case "rename":
		return withInterface(m, rest[0], func(s *swiftap.SwiftInterface) error {
			return s.SetAdapterName(context.Background(), rest[1])
		})
	case "up", "down":
		status := swiftypes.InterfaceUp
		if cmd == "down" {
			status = swiftypes.InterfaceDown
		}
		return withInterface(m, rest[0], func(s *swiftap.SwiftInterface) error {
			return s.SetStatus(status)
		})
	case "set-ip":
		return setIP(m, rest[0], rest[1], rest[2])
	case "dump":
		return dump(m, rest[0], *count, stdout, logger)
	}
	return errUsage
}

// checkArgs validates the argument count of cmd.
func checkArgs(cmd string, rest []string) error {
	want := map[string][2]int{
		"list":   {0, 0},
		"info":   {1, 1},
		"create": {0, 1},
		"delete": {1, 1},
		"rename": {2, 2},
		"up":     {1, 1},
		"down":   {1, 1},
		"set-ip": {3, 3},
		"dump":   {1, 1},
	}
	n, ok := want[cmd]
	if !ok {
		return fmt.Errorf("%w: unknown command %q", errUsage, cmd)
	}
	if len(rest) < n[0] || len(rest) > n[1] {
		return fmt.Errorf("%w: %s takes %d to %d arguments", errUsage, cmd, n[0], n[1])
	}
	return nil
}

func newLogger(cfg swiftconfig.LogFile, stderr io.Writer) (*slog.Logger, func(), error) {
	var level slog.Level
	if cfg.Level != "" {
		if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
			return nil, nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
		}
	} else {
		level = slog.LevelWarn
	}

	var (
		w       io.Writer = stderr
		closeFn           = func() {}
	)
	if cfg.Path != "" {
		lj := &lumberjack.Logger{
			Filename:   cfg.Path,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
		}
		w = lj
		closeFn = func() { _ = lj.Close() }
	}

	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})), closeFn, nil
}

func list(m *swiftap.Manager, out io.Writer) error {
	ids, err := m.ListAdapters()
	if err != nil {
		return err
	}
	for _, id := range ids {
		fmt.Fprintf(out, "%s\t%s\n", id.InstanceID, id.FriendlyName)
	}
	return nil
}

func info(m *swiftap.Manager, name string, out io.Writer) error {
	return withInterface(m, name, func(s *swiftap.SwiftInterface) error {
		md, err := s.GetMetadata()
		if err != nil {
			return err
		}
		id := s.Identity()
		fmt.Fprintf(out, "name:     %s\ninstance: %s\nmtu:      %d\nversion:  %s\nmac:      %s\n",
			id.FriendlyName, id.InstanceID, md.MTU, md.Version, md.MAC)
		return nil
	})
}

func create(m *swiftap.Manager, name string, out io.Writer) error {
	s, err := m.Create(name)
	if err != nil {
		return err
	}
	defer s.Close()
	fmt.Fprintln(out, s.Identity())
	return nil
}

func setIP(m *swiftap.Manager, name, addr, mask string) error {
	a, err := netip.ParseAddr(addr)
	if err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}
	k, err := netip.ParseAddr(mask)
	if err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}
	return withInterface(m, name, func(s *swiftap.SwiftInterface) error {
		return s.SetIP(a, k)
	})
}

func withInterface(m *swiftap.Manager, name string, fn func(*swiftap.SwiftInterface) error) error {
	s, err := m.Open(name)
	if err != nil {
		return err
	}
	defer s.Close()
	return fn(s)
}

// dump prints one line per received frame until interrupted or until
// limit frames have been read.
func dump(m *swiftap.Manager, name string, limit int, out io.Writer, log *slog.Logger) error {
	s, err := m.Open(name)
	if err != nil {
		return err
	}
	defer s.Close()

	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(sigCtx)
	defer cancel()

	var frames, bytes atomic.Int64
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer cancel()
		for limit == 0 || frames.Load() < int64(limit) {
			f, err := s.ReadFrameContext(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				if swiftypes.IsRetryable(err) {
					continue
				}
				return err
			}
			frames.Add(1)
			bytes.Add(int64(len(f)))
			fmt.Fprintf(out, "%s %s\n", time.Now().Format("15:04:05.000000"), swiftutils.Describe(f))
		}
		return nil
	})

	g.Go(func() error {
		t := time.NewTicker(10 * time.Second)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-t.C:
				log.Info("dump progress", "adapter", name, "frames", frames.Load(), "bytes", bytes.Load())
			}
		}
	})

	err = g.Wait()
	log.Info("dump finished", "adapter", name, "frames", frames.Load(), "bytes", bytes.Load())
	return err
}
