// Command posecontrol serves pose-controlled game sessions and replays
// recorded pose streams.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// BuildDate can be set at build time via ldflags
var (
	Version   = "0.1.0"
	BuildDate = "unknown"
)

const usage = `Usage: posecontrol [flags] <command> [args]

Commands:
  serve               run the HTTP and WebSocket server
  replay <file>       replay a JSON-lines pose recording and print gestures
  highscore           print the best stored score
  session <id>        print the stored history of a session
  version             print the version

Flags:
`

func main() {
	flags := pflag.NewFlagSet("posecontrol", pflag.ContinueOnError)
	configDir := flags.String("config-dir", ".", "directory containing posecontrol.cfg.json")
	flags.String("log-level", "", "log level (debug, info, warn, error)")
	flags.String("addr", "", "listen address for serve")
	flags.String("storage", "", "storage backend (memory, sqlite, postgres)")
	asJSON := flags.Bool("json", false, "print replay results as JSON")
	flags.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		flags.PrintDefaults()
	}

	if err := flags.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			return
		}
		os.Exit(2)
	}

	bindFlag("logLevel", flags.Lookup("log-level"))
	bindFlag("server.address", flags.Lookup("addr"))
	bindFlag("storage.type", flags.Lookup("storage"))

	args := flags.Args()
	if len(args) == 0 {
		flags.Usage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := setup(*configDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "startup failed: %v\n", err)
		os.Exit(1)
	}
	defer app.close()

	switch args[0] {
	case "serve":
		err = app.serve(ctx)
	case "replay":
		if len(args) < 2 {
			err = fmt.Errorf("replay: missing recording file")
			break
		}
		err = app.replay(ctx, args[1], *asJSON)
	case "highscore":
		err = app.highScore()
	case "session":
		if len(args) < 2 {
			err = fmt.Errorf("session: missing session id")
			break
		}
		err = app.session(args[1])
	case "version":
		fmt.Printf("posecontrol %s (built %s)\n", Version, BuildDate)
	default:
		err = fmt.Errorf("unknown command %q", args[0])
	}

	if err != nil {
		app.logger.Error("Command failed", "command", args[0], "error", err)
		fmt.Fprintln(os.Stderr, err)
		app.close()
		os.Exit(1)
	}
}

// bindFlag binds f into viper only when it was set, so config file values
// stay in effect otherwise.
func bindFlag(key string, f *pflag.Flag) {
	if f == nil || !f.Changed {
		return
	}
	if err := viper.BindPFlag(key, f); err != nil {
		panic(fmt.Errorf("binding flag %s: %w", f.Name, err))
	}
}
