// Command spellcache runs the spellcache service. It reads text from stdin, one document per
// line, and prints the words missing from the dictionary.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spellcache/spellcache/internal/adapter"
	"github.com/spellcache/spellcache/internal/config"
)

var (
	configPath = flag.String("config", "", "Path to the YAML configuration file.")
	showStats  = flag.Bool("stats", false, "Print cache statistics to stderr on exit.")
)

func main() {
	flag.Parse()

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "spellcache: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := config.NewDefault()
	if *configPath != "" {
		if err := cfg.LoadFromFile(*configPath); err != nil {
			return err
		}
	}
	if err := cfg.LoadFromEnv(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc, err := adapter.New(ctx, cfg)
	if err != nil {
		return err
	}
	if err := svc.Start(ctx); err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := svc.Stop(shutdownCtx); err != nil {
			fmt.Fprintf(os.Stderr, "spellcache: shutdown: %v\n", err)
		}
		if *showStats {
			stats := svc.Cache().GetStats()
			fmt.Fprintf(os.Stderr, "cache: size=%d max=%d requests=%d hit_rate=%.2f evictions=%d\n",
				stats.Size, stats.MaxSize, stats.TotalRequests, stats.HitRate, stats.Evictions)
		}
	}()

	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() { // stdin reads cannot be interrupted, so they run apart from the signal wait
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErr <- scanner.Err()
	}()

	out := bufio.NewWriter(os.Stdout)
	defer out.Flush()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-scanErr:
					return err
				default:
					return nil
				}
			}
			result := svc.Check(ctx, line)
			if len(result.Unknown) > 0 {
				fmt.Fprintln(out, strings.Join(result.Unknown, " "))
			}
			if len(result.Unchecked) > 0 {
				fmt.Fprintf(out, "# unchecked: %s\n", strings.Join(result.Unchecked, " "))
			}
			out.Flush()
		}
	}
}
