package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"clipcast/internal/app"
	"clipcast/internal/config"
)

func main() {
	var (
		cfgPath      string
		once         bool
		channel      string
		topic        string
		dryRun       bool
		listChannels bool
		writeSample  string
	)
	flag.StringVar(&cfgPath, "config", "./config.yaml", "path to config file (yaml or json)")
	flag.BoolVar(&once, "once", false, "run a single publish for one channel and exit")
	flag.StringVar(&channel, "channel", "", "channel for -once (default: first configured)")
	flag.StringVar(&topic, "topic", "", "explicit topic for -once (skips selection)")
	flag.BoolVar(&dryRun, "dry-run", false, "with -once: generate only, do not upload")
	flag.BoolVar(&listChannels, "list-channels", false, "print configured channels and exit")
	flag.StringVar(&writeSample, "write-sample-config", "", "write a sample config to the given path and exit")
	flag.Parse()

	if writeSample != "" {
		if err := config.WriteSample(writeSample); err != nil {
			fmt.Println("fatal:", err)
			os.Exit(1)
		}
		fmt.Println("sample config written to", writeSample)
		return
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := app.New(cfgPath)
	if err != nil {
		fmt.Println("fatal:", err)
		os.Exit(1)
	}

	if listChannels {
		for _, job := range a.Channels() {
			fmt.Printf("%-20s %s\n", job.ChannelID, job.Spec)
		}
		_ = a.Stop(context.Background())
		return
	}

	if once {
		res, err := a.RunOnce(ctx, channel, topic, dryRun)
		_ = a.Stop(context.Background())
		switch {
		case err != nil:
			fmt.Println("run failed:", err)
			os.Exit(1)
		case res.Skipped:
			fmt.Println("skipped: daily quota reached for", res.ChannelID)
		case res.RemoteID != "":
			fmt.Printf("published %q as https://youtu.be/%s\n", res.Topic, res.RemoteID)
		default:
			fmt.Printf("generated %q at %s (dry run)\n", res.Topic, res.ArtifactPath)
		}
		return
	}

	if err := a.Start(ctx); err != nil {
		fmt.Println("fatal start:", err)
		os.Exit(1)
	}

	<-ctx.Done()
	_ = a.Stop(context.Background())
}
