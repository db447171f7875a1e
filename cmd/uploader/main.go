package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/ilkin0/chunkup/internal/client"
	"github.com/ilkin0/chunkup/internal/config"
	"github.com/ilkin0/chunkup/internal/logger"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
)

type options struct {
	client.Options
	ServerURL      string
	StateDir       string
	RequestTimeout time.Duration
	ChunkSize      string
	LogLevel       string
	ShowHistory    bool
	ClearQueue     bool
}

func (o *options) AddFlags(fs *pflag.FlagSet) {
	fs.StringVar(&o.ServerURL, "server", o.ServerURL, "upload server base URL")
	fs.StringVar(&o.StateDir, "state-dir", o.StateDir, "directory for the persisted queue and history")
	fs.StringVar(&o.OwnerID, "owner", o.OwnerID, "owner id sent with every upload")
	fs.StringVar(&o.ChunkSize, "chunk-size", o.ChunkSize, "chunk size, e.g. 5MiB")
	fs.IntVar(&o.MaxConcurrent, "concurrency", o.MaxConcurrent, "files uploaded at once")
	fs.IntVar(&o.MaxRetries, "retries", o.MaxRetries, "retries per chunk")
	fs.DurationVar(&o.RetryBaseDelay, "retry-delay", o.RetryBaseDelay, "base delay for exponential backoff")
	fs.DurationVar(&o.RequestTimeout, "timeout", o.RequestTimeout, "per-request timeout")
	fs.StringVar(&o.LogLevel, "log-level", o.LogLevel, "log level (debug, info, warn, error)")
	fs.BoolVar(&o.ShowHistory, "history", false, "print completed uploads and exit")
	fs.BoolVar(&o.ClearQueue, "clear", false, "forget every incomplete upload and exit")
}

func main() {
	_ = godotenv.Load()

	cfg, err := config.LoadClient()
	if err != nil {
		fmt.Fprintln(os.Stderr, "invalid configuration:", err)
		os.Exit(2)
	}

	o := &options{
		Options:        client.OptionsFromConfig(cfg),
		ServerURL:      cfg.ServerURL,
		StateDir:       cfg.StateDir,
		RequestTimeout: cfg.RequestTimeout,
		ChunkSize:      humanize.IBytes(uint64(cfg.ChunkSize)),
		LogLevel:       "warn",
	}
	o.AddFlags(pflag.CommandLine)
	pflag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: %s [flags] [file ...]\n", os.Args[0])
		pflag.PrintDefaults()
	}
	pflag.Parse()

	chunkSize, err := humanize.ParseBytes(o.ChunkSize)
	if err != nil || chunkSize == 0 {
		fmt.Fprintf(os.Stderr, "invalid --chunk-size %q\n", o.ChunkSize)
		os.Exit(2)
	}
	o.Options.ChunkSize = int64(chunkSize)

	slog.SetDefault(logger.New("development", o.LogLevel))

	if err := run(o, pflag.Args()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(o *options, paths []string) error {
	store, err := client.NewStore(o.StateDir)
	if err != nil {
		return err
	}

	if o.ShowHistory {
		return printHistory(store)
	}

	c := client.NewCoordinator(client.NewHTTPTransport(o.ServerURL, o.RequestTimeout), store, o.Options)
	if o.ClearQueue {
		return c.ClearAll()
	}

	restored, err := c.Restore()
	if err != nil {
		return fmt.Errorf("failed to restore queue: %w", err)
	}
	if restored > 0 {
		fmt.Printf("restored %d incomplete upload(s)\n", restored)
	}

	for _, path := range paths {
		spec, err := client.FileSpecFromPath(path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "skipping %s: %v\n", path, err)
			continue
		}
		if _, err := c.Enqueue(spec); err != nil {
			fmt.Fprintf(os.Stderr, "skipping %s: %v\n", path, err)
		}
	}

	// restored failures get another chance alongside the new files
	for _, f := range c.Files() {
		if f.Status == client.StatusError && f.Source != nil {
			if err := c.Resume(context.Background(), f.ID); err != nil {
				fmt.Fprintf(os.Stderr, "cannot resume %s: %v\n", f.Name, err)
			}
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	done := make(chan struct{})
	go printEvents(c, done)

	c.ProcessQueue()
	waitErr := c.Wait(ctx)
	c.Close()
	close(done)

	if waitErr != nil {
		fmt.Println("\ninterrupted, incomplete uploads will resume on the next run")
		return nil
	}
	return summarize(c.Files())
}

func printEvents(c *client.Coordinator, done <-chan struct{}) {
	names := make(map[string]string)
	name := func(id string) string {
		if n, ok := names[id]; ok {
			return n
		}
		if f, ok := c.File(id); ok {
			names[id] = f.Name
			return f.Name
		}
		return id
	}

	for {
		select {
		case <-done:
			return
		case e := <-c.Events():
			switch e.Kind {
			case client.EventProgress:
				fmt.Printf("%s: %d/%d chunks\n", name(e.FileID), e.UploadedChunks, e.TotalChunks)
			case client.EventRetry:
				fmt.Printf("%s: chunk %d failed, retry %d\n", name(e.FileID), e.ChunkIndex, e.Attempt)
			case client.EventCompleted:
				fmt.Printf("%s: %s\n", name(e.FileID), e.Message)
			case client.EventStatus:
				if e.Status == client.StatusError {
					fmt.Printf("%s: %s\n", name(e.FileID), e.Message)
				}
			}
		}
	}
}

func summarize(files []client.UploadFile) error {
	failed := 0
	for _, f := range files {
		switch f.Status {
		case client.StatusCompleted:
			fmt.Printf("done   %-40s %10s  %s\n", f.Name, humanize.IBytes(uint64(f.Size)), f.FilePath)
		case client.StatusError:
			failed++
			fmt.Printf("failed %-40s %10s  %s\n", f.Name, humanize.IBytes(uint64(f.Size)), f.ErrorMessage)
		default:
			fmt.Printf("%-6s %-40s %10s\n", f.Status, f.Name, humanize.IBytes(uint64(f.Size)))
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d upload(s) failed", failed)
	}
	return nil
}

func printHistory(store *client.Store) error {
	history, err := store.History()
	if err != nil {
		return err
	}
	if len(history) == 0 {
		fmt.Println("no completed uploads")
		return nil
	}
	for _, h := range history {
		note := ""
		if h.Duplicate {
			note = " (already uploaded)"
		}
		fmt.Printf("%s  %-40s %10s  %s%s\n",
			h.CompletedAt.Format(time.DateTime), h.Name, humanize.IBytes(uint64(h.Size)), h.FilePath, note)
	}
	return nil
}
