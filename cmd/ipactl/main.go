// Command ipactl downloads a package into the library and shows its progress
// in the terminal.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/jaki95/ipa-library/config"
	"github.com/jaki95/ipa-library/internal/app"
	"github.com/jaki95/ipa-library/internal/download"
	"github.com/k0kubun/go-ansi"
	"github.com/schollz/progressbar/v3"
)

func main() {
	configPath := flag.String("config", "./config/config.yaml", "Path to the config file")
	name := flag.String("name", "", "Display name (defaults to the one advertised by the source)")

	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage of %s: [flags] <url>\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}

	os.Exit(run(*configPath, download.Request{URL: flag.Arg(0), Name: *name}))
}

func run(configPath string, req download.Request) int {
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		return 1
	}

	// Keep the terminal for the progress bar
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise: %v\n", err)
		return 1
	}
	defer a.Close()

	id, err := a.Downloads.Start(ctx, req)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to start download: %v\n", err)
		return 1
	}

	bar := progressbar.NewOptions(
		progressScale,
		progressbar.OptionSetWriter(ansi.NewAnsiStdout()),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetTheme(progressbar.ThemeASCII),
		progressbar.OptionFullWidth(),
		progressbar.OptionSetPredictTime(false),
		progressbar.OptionSetDescription("[cyan][1/1][reset] Resolving..."),
	)

	status, err := follow(ctx, a.Activities.Downloads(), id, bar)
	fmt.Println()
	if ctx.Err() != nil {
		a.Downloads.Cancel(id)
	}
	return finish(os.Stdout, os.Stderr, a.Library, id, status, err)
}
