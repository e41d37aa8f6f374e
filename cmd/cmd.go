package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/qorix-group/message-passing/config"
)

const (
	ServiceName      = "message-passing-example"
	ServiceNamespace = "qorix-group"
)

var (
	version        = "0.0.0"
	commit         = "hash"
	commitDate     = time.Now().String()
	branch         = "branch"
	buildTimestamp = ""
)

// Run builds and executes the example binary's CLI.
func Run() error {
	app := &cli.App{
		Name:  ServiceName,
		Usage: "Example service built on the message-passing engine",
		Commands: []*cli.Command{
			serveCmd(),
			pingCmd(),
		},
	}

	return app.Run(os.Args)
}

var configFileFlag = &cli.StringFlag{
	Name:  "config_file",
	Usage: "Path to the configuration file (TOML/YAML/JSON)",
}

// serveCmd starts the example echo server, its debug HTTP surface, and
// blocks until interrupted.
func serveCmd() *cli.Command {
	return &cli.Command{
		Name:    "serve",
		Aliases: []string{"s"},
		Usage:   "Run the example echo server",
		Flags:   []cli.Flag{configFileFlag},
		Action: func(c *cli.Context) error {
			cfg, err := config.Load(c.String("config_file"))
			if err != nil {
				return err
			}
			app := NewApp(cfg)

			if err := app.Start(c.Context); err != nil {
				return err
			}

			stop := make(chan os.Signal, 1)
			signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
			<-stop

			slog.Info("shutting down")
			return app.Stop(context.Background())
		},
	}
}

// pingCmd dials the example server once and prints the echoed reply, useful
// for smoke-testing a running serve instance.
func pingCmd() *cli.Command {
	return &cli.Command{
		Name:  "ping",
		Usage: "Send one REQUEST to a running example server and print the reply",
		Flags: []cli.Flag{
			configFileFlag,
			&cli.StringFlag{
				Name:  "message",
				Usage: "Payload to send",
				Value: "ping",
			},
		},
		Action: func(c *cli.Context) error {
			cfg, err := config.Load(c.String("config_file"))
			if err != nil {
				return err
			}
			return RunPing(cfg, c.String("message"))
		},
	}
}
