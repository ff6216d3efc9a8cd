package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	shade "github.com/megalithic/shade-sub001"
	"github.com/megalithic/shade-sub001/internal/config"
	"github.com/megalithic/shade-sub001/internal/wire"
)

// cliFlags carries the parsed command line.
type cliFlags struct {
	configPath string
	socket     string
	wait       bool
	logLevel   string

	evalExpr string
	command  string
	execSrc  string
	serve    bool
}

func parseFlags(args []string) (cliFlags, error) {
	var f cliFlags
	fs := flag.NewFlagSet("shade-nvim", flag.ContinueOnError)
	fs.StringVar(&f.configPath, "config", "", "config file path (default: "+config.DefaultPath()+")")
	fs.StringVar(&f.socket, "socket", "", "editor socket path (overrides config and "+config.EnvSocket+")")
	fs.BoolVar(&f.wait, "wait", false, "wait for the socket to appear before connecting")
	fs.StringVar(&f.logLevel, "log-level", "", "log level: debug, info, warn, error")
	fs.StringVar(&f.evalExpr, "eval", "", "evaluate an expression and print the result")
	fs.StringVar(&f.command, "command", "", "run an ex command")
	fs.StringVar(&f.execSrc, "exec", "", "run a block of ex commands and print the output")
	fs.BoolVar(&f.serve, "serve", false, "stay connected and serve the bridge until interrupted")
	if err := fs.Parse(args); err != nil {
		return f, err
	}
	if fs.NArg() > 0 {
		return f, fmt.Errorf("unexpected arguments: %s", strings.Join(fs.Args(), " "))
	}
	return f, nil
}

// mergeFlags folds command-line overrides into the loaded config.
func mergeFlags(cfg config.Config, f cliFlags) (config.Config, error) {
	if f.socket != "" {
		if !config.ValidSocketPath(f.socket) {
			return cfg, fmt.Errorf("--socket %q is not an absolute socket path or named pipe", f.socket)
		}
		cfg.Socket = f.socket
	}
	if f.wait {
		cfg.WaitForSocket = true
	}
	if f.logLevel != "" {
		if _, err := config.ParseLogLevel(f.logLevel); err != nil {
			return cfg, err
		}
		cfg.LogLevel = f.logLevel
	}
	return cfg, nil
}

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "shade-nvim:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	f, err := parseFlags(args)
	if err != nil {
		return err
	}

	configPath := f.configPath
	if configPath == "" {
		configPath = config.DefaultPath()
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	cfg, err = mergeFlags(cfg, f)
	if err != nil {
		return err
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: cfg.Level(),
	})))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := shade.New(cfg)
	if err := app.Start(ctx); err != nil {
		return err
	}
	defer app.Shutdown()

	client := app.Client()

	switch {
	case f.evalExpr != "":
		res, err := client.Eval(ctx, f.evalExpr)
		if err != nil {
			return err
		}
		return printValue(os.Stdout, res)
	case f.command != "":
		return client.Command(ctx, f.command)
	case f.execSrc != "":
		out, err := client.Exec(ctx, f.execSrc)
		if err != nil {
			return err
		}
		fmt.Println(out)
		return nil
	case f.serve:
		if url := app.BridgeURL(); url != "" {
			slog.Info("[app] bridge serving", "url", url)
		}
		<-ctx.Done()
		slog.Info("[app] interrupted, shutting down")
		return nil
	default:
		// No operation given: a successful connect is the whole job, which
		// makes the bare invocation a health check.
		fmt.Println("connected:", cfg.Socket)
		return nil
	}
}

// printValue renders a wire value as JSON, matching what scripts expect to
// parse.
func printValue(w *os.File, v wire.Value) error {
	enc := json.NewEncoder(w)
	return enc.Encode(wire.ToNative(v))
}
