package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/ochronus/goboxsync/internal/app"
	"github.com/ochronus/goboxsync/internal/config"
	"github.com/ochronus/goboxsync/internal/delta"
	"github.com/ochronus/goboxsync/internal/http"
	"github.com/ochronus/goboxsync/internal/metrics"
	"github.com/ochronus/goboxsync/internal/services/dropbox"
	"github.com/ochronus/goboxsync/internal/store"
	"github.com/ochronus/goboxsync/internal/transfer"
	"github.com/ochronus/goboxsync/internal/upload"
	"github.com/spf13/cobra"
)

type uploadOptions struct {
	mode       string
	rev        string
	chunkSize  int
	checkpoint string
}

type uploadManyOptions struct {
	dest string
	mode string
}

type feedOptions struct {
	scope  string
	cursor string
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// loadContainer loads and validates the client configuration and builds the container
func loadContainer(ctx context.Context) (*app.Container, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	container, err := app.NewContainer(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to build container: %w", err)
	}
	return container, nil
}

func uploadOptionsFor(container *app.Container) upload.Options {
	return upload.Options{
		Policy:  container.RetryPolicy,
		TTL:     container.Config.SessionTTLDuration(),
		Logger:  container.Logger,
		Metrics: container.Metrics,
	}
}

func deltaOptionsFor(container *app.Container) delta.Options {
	return delta.Options{
		Policy:  container.RetryPolicy,
		Logger:  container.Logger,
		Metrics: container.Metrics,
		Slack:   container.Config.SlackDuration(),
	}
}

// serveMetrics exposes the container's registry when metrics_address is set
func serveMetrics(ctx context.Context, container *app.Container) {
	addr := container.Config.MetricsAddress
	if addr == "" {
		return
	}
	go func() {
		if err := metrics.Serve(ctx, addr, container.Registry, container.Logger); err != nil {
			container.Logger.Errorf("metrics server: %v", err)
		}
	}()
}

func runUpload(cmd *cobra.Command, args []string, opts uploadOptions) error {
	ctx, stop := signalContext()
	defer stop()

	container, err := loadContainer(ctx)
	if err != nil {
		return err
	}

	mode, err := dropbox.ParseWriteMode(opts.mode, opts.rev)
	if err != nil {
		return err
	}
	chunkSize := opts.chunkSize
	if chunkSize == 0 {
		chunkSize = container.Config.ChunkSize
	}
	if chunkSize < config.MinChunkSize || chunkSize > config.MaxChunkSize {
		return fmt.Errorf("chunk size must be between %d and %d bytes", config.MinChunkSize, config.MaxChunkSize)
	}

	uploader := upload.NewUploader(container.Client, chunkSize, uploadOptionsFor(container))
	commit := dropbox.CommitInfo{Path: args[1], Mode: mode}

	var (
		md      *dropbox.Metadata
		started = time.Now()
	)
	cp, resumable, err := loadCheckpoint(opts.checkpoint)
	if err != nil {
		return err
	}
	if resumable {
		container.Logger.Infof("Resuming session %s at offset %d", cp.SessionID, cp.Offset)
		started = cp.Started
		md, err = resumeFile(ctx, uploader, cp, args[0], commit)
		if err != nil && sessionGone(err) {
			container.Logger.Warnf("Session %s can no longer be resumed, starting over: %v", cp.SessionID, err)
			started = time.Now()
			md, err = uploader.UploadFile(ctx, args[0], commit)
		}
	} else {
		md, err = uploader.UploadFile(ctx, args[0], commit)
	}

	if err != nil {
		var uerr *upload.Error
		if opts.checkpoint != "" && errors.As(err, &uerr) && uerr.SessionID != "" {
			saved := upload.Checkpoint{SessionID: uerr.SessionID, Offset: uerr.Offset, ChunkSize: chunkSize, Started: started}
			if serr := saveCheckpoint(opts.checkpoint, saved); serr != nil {
				container.Logger.Errorf("Failed to save checkpoint: %v", serr)
			} else {
				container.Logger.Infof("Saved checkpoint to %s, run again to resume", opts.checkpoint)
			}
		}
		return err
	}

	if opts.checkpoint != "" {
		if err := os.Remove(opts.checkpoint); err != nil && !os.IsNotExist(err) {
			container.Logger.Warnf("Failed to remove checkpoint: %v", err)
		}
	}
	fmt.Printf("%s rev=%s size=%d\n", md.PathDisplay, md.Rev, md.Size)
	return nil
}

func resumeFile(ctx context.Context, uploader *upload.Uploader, cp upload.Checkpoint, localPath string, commit dropbox.CommitInfo) (*dropbox.Metadata, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if info, err := f.Stat(); err == nil {
		mtime := info.ModTime().UTC().Truncate(time.Second)
		commit.ClientModified = &mtime
	}
	return uploader.Resume(ctx, cp, f, commit)
}

// sessionGone reports whether a checkpointed session expired or is unknown to the server
func sessionGone(err error) bool {
	if errors.Is(err, upload.ErrSessionExpired) {
		return true
	}
	var apiErr *dropbox.APIError
	return errors.As(err, &apiErr) && apiErr.IsNotFound()
}

// loadCheckpoint reads a saved checkpoint; a missing file means a fresh upload
func loadCheckpoint(path string) (upload.Checkpoint, bool, error) {
	var cp upload.Checkpoint
	if path == "" {
		return cp, false, nil
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cp, false, nil
	}
	if err != nil {
		return cp, false, fmt.Errorf("failed to read checkpoint: %w", err)
	}
	if err := json.Unmarshal(data, &cp); err != nil {
		return cp, false, fmt.Errorf("failed to parse checkpoint: %w", err)
	}
	return cp, cp.SessionID != "", nil
}

func saveCheckpoint(path string, cp upload.Checkpoint) error {
	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

func runUploadMany(cmd *cobra.Command, args []string, opts uploadManyOptions) error {
	ctx, stop := signalContext()
	defer stop()

	container, err := loadContainer(ctx)
	if err != nil {
		return err
	}
	mode, err := dropbox.ParseWriteMode(opts.mode, "")
	if err != nil {
		return err
	}

	var targets []transfer.Target
	for _, local := range args {
		planned, err := transfer.Plan(local, opts.dest, mode, container.Config.SkipNames)
		if err != nil {
			return fmt.Errorf("failed to plan %s: %w", local, err)
		}
		targets = append(targets, planned...)
	}
	container.Logger.Infof("Uploading %d files with %d workers", len(targets), container.Config.UploadWorkers)

	serveMetrics(ctx, container)

	manager := transfer.NewManager(container)
	if err := manager.StartWithContext(ctx); err != nil {
		return fmt.Errorf("failed to start transfer manager: %w", err)
	}
	defer manager.Stop()

	failed := 0
	for _, r := range manager.UploadAll(ctx, targets) {
		if r.Status != transfer.StatusSuccess {
			failed++
			fmt.Printf("FAILED %s: %v\n", r.Target.Local, r.Err)
			continue
		}
		fmt.Printf("%s rev=%s size=%d (%s)\n", r.Metadata.PathDisplay, r.Metadata.Rev, r.Metadata.Size, r.Duration.Round(time.Millisecond))
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d uploads failed", failed, len(targets))
	}
	return nil
}

func runDownload(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()

	container, err := loadContainer(ctx)
	if err != nil {
		return err
	}

	body, md, err := container.Client.Download(ctx, args[0])
	if err != nil {
		return err
	}
	defer body.Close()

	to := args[1]
	if err := os.MkdirAll(filepath.Dir(to), 0755); err != nil {
		return err
	}
	tmpPath := to + ".downloading"
	tmpFile, err := os.Create(tmpPath)
	if err != nil {
		return err
	}
	if _, err := io.Copy(tmpFile, body); err != nil {
		tmpFile.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("download failed: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, to); err != nil {
		return err
	}
	fmt.Printf("%s rev=%s size=%d -> %s\n", md.PathDisplay, md.Rev, md.Size, to)
	return nil
}

// resolveFeed picks the scope and starting cursor from the flags. Without an
// explicit scope a saved cursor keeps its own.
func resolveFeed(cmd *cobra.Command, opts feedOptions) (delta.Scope, delta.Cursor, error) {
	scope := delta.NewScope(opts.scope)
	var cursor delta.Cursor
	if opts.cursor != "" {
		c, err := delta.DecodeCursor(opts.cursor)
		if err != nil {
			return scope, cursor, err
		}
		cursor = c
		if !cmd.Flags().Changed("scope") {
			scope = cursor.Scope
		}
	}
	return scope, cursor, nil
}

func runDelta(cmd *cobra.Command, opts feedOptions) error {
	ctx, stop := signalContext()
	defer stop()

	container, err := loadContainer(ctx)
	if err != nil {
		return err
	}
	scope, cursor, err := resolveFeed(cmd, opts)
	if err != nil {
		return err
	}

	pager := delta.NewPager(container.Client, deltaOptionsFor(container))
	for {
		page, err := pager.FetchPage(ctx, cursor, scope)
		if err != nil {
			if cursor.IsZero() {
				return err
			}
			return fmt.Errorf("%w (resume with --cursor %s)", err, delta.EncodeCursor(cursor))
		}
		if page.Reset {
			fmt.Println("reset")
		}
		for _, entry := range page.Entries {
			printEntry(entry)
		}
		cursor = page.Next
		if !page.HasMore {
			break
		}
	}
	fmt.Printf("cursor %s\n", delta.EncodeCursor(cursor))
	return nil
}

func printEntry(entry dropbox.DeltaEntry) {
	switch {
	case entry.Metadata == nil:
		fmt.Printf("- %s\n", entry.Path)
	case entry.Metadata.IsFolder():
		fmt.Printf("+ %s/\n", entry.Metadata.PathDisplay)
	default:
		fmt.Printf("+ %s rev=%s size=%d\n", entry.Metadata.PathDisplay, entry.Metadata.Rev, entry.Metadata.Size)
	}
}

func runLatestCursor(cmd *cobra.Command, opts feedOptions) error {
	ctx, stop := signalContext()
	defer stop()

	container, err := loadContainer(ctx)
	if err != nil {
		return err
	}

	cursor, err := delta.NewPager(container.Client, deltaOptionsFor(container)).LatestCursor(ctx, delta.NewScope(opts.scope))
	if err != nil {
		return err
	}
	fmt.Println(delta.EncodeCursor(cursor))
	return nil
}

func runWatch(cmd *cobra.Command, opts feedOptions) error {
	ctx, stop := signalContext()
	defer stop()

	container, err := loadContainer(ctx)
	if err != nil {
		return err
	}
	scope, cursor, err := resolveFeed(cmd, opts)
	if err != nil {
		return err
	}

	serveMetrics(ctx, container)

	dopts := deltaOptionsFor(container)
	pager := delta.NewPager(container.Client, dopts)
	watcher := delta.NewWatcher(container.Client, dopts)
	timeout := time.Duration(container.Config.LongPoll.Timeout) * time.Second
	follower := delta.NewFollower(pager, watcher, timeout, dopts)

	container.Logger.Infof("Watching %s for changes", scope)
	err = follower.Run(ctx, cursor, scope, delta.NewMirror(), func(result *delta.SweepResult, mirror *delta.Mirror) error {
		if result.Reset {
			fmt.Println("reset")
		}
		fmt.Printf("%d changes, %d paths tracked, cursor %s\n", result.Entries, mirror.Len(), delta.EncodeCursor(result.Cursor))
		return nil
	})
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.ValidateServer(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	container, err := app.NewContainer(ctx, cfg, app.WithTokenValidation(false))
	if err != nil {
		return fmt.Errorf("failed to build container: %w", err)
	}
	container.Logger.Infof("Starting goboxsync server, version %s", version)
	if cfg.Server.FailEvery > 0 {
		container.Logger.Warnf("Fault injection enabled: every %d chunk requests fail (lose_response=%t)", cfg.Server.FailEvery, cfg.Server.LoseResponse)
	}

	st := store.New(store.Options{
		PageLimit:    cfg.Server.PageLimit,
		HistoryLimit: cfg.Server.HistoryLimit,
	})
	server := http.NewServer(container, st)
	return server.StartWithContext(ctx)
}
