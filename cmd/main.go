package main

import (
	"fmt"
	"os"

	"github.com/ochronus/goboxsync/internal/config"
	"github.com/ochronus/goboxsync/internal/utils"
	"github.com/spf13/cobra"
)

const version = "0.1.0"

var configPath string

func main() {
	// Get default config path
	defaultConfigPath, err := config.DefaultConfigPath()
	if err != nil {
		defaultConfigPath = "./config.toml"
	}

	// Root command
	rootCmd := &cobra.Command{
		Use:          "goboxsync",
		Short:        "Resumable uploads and change-feed sync for Dropbox-style storage",
		Long:         "Client for a Dropbox-style file API: chunked resumable uploads, delta paging and long-poll change watching, plus a local server implementing the same API for development.",
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", defaultConfigPath, "Path to config file")

	// Upload command
	var uploadOpts uploadOptions
	uploadCmd := &cobra.Command{
		Use:   "upload <local-file> <remote-path>",
		Short: "Upload a file through a resumable upload session",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUpload(cmd, args, uploadOpts)
		},
	}
	uploadCmd.Flags().StringVar(&uploadOpts.mode, "mode", "add", "Write mode: add, overwrite or update")
	uploadCmd.Flags().StringVar(&uploadOpts.rev, "rev", "", "Revision expected at the remote path (update mode)")
	uploadCmd.Flags().IntVar(&uploadOpts.chunkSize, "chunk-size", 0, "Chunk size in bytes (default from config)")
	uploadCmd.Flags().StringVar(&uploadOpts.checkpoint, "checkpoint", "", "File to save the session to on failure and resume from")

	// Upload-many command
	var manyOpts uploadManyOptions
	uploadManyCmd := &cobra.Command{
		Use:   "upload-many <path>...",
		Short: "Upload files and directory trees in parallel",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUploadMany(cmd, args, manyOpts)
		},
	}
	uploadManyCmd.Flags().StringVar(&manyOpts.dest, "dest", "/", "Remote folder to upload into")
	uploadManyCmd.Flags().StringVar(&manyOpts.mode, "mode", "add", "Write mode: add or overwrite")

	// Download command
	downloadCmd := &cobra.Command{
		Use:   "download <remote-path> <local-file>",
		Short: "Download a file",
		Args:  cobra.ExactArgs(2),
		RunE:  runDownload,
	}

	// Delta command
	var deltaOpts feedOptions
	deltaCmd := &cobra.Command{
		Use:   "delta",
		Short: "Page through the change feed and print the entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDelta(cmd, deltaOpts)
		},
	}
	deltaCmd.Flags().StringVar(&deltaOpts.scope, "scope", "", "Path prefix to restrict the feed to")
	deltaCmd.Flags().StringVar(&deltaOpts.cursor, "cursor", "", "Saved cursor to continue from")

	// Latest-cursor command
	var latestOpts feedOptions
	latestCursorCmd := &cobra.Command{
		Use:   "latest-cursor",
		Short: "Print a cursor positioned at the current end of the feed",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLatestCursor(cmd, latestOpts)
		},
	}
	latestCursorCmd.Flags().StringVar(&latestOpts.scope, "scope", "", "Path prefix to restrict the feed to")

	// Watch command
	var watchOpts feedOptions
	watchCmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow the change feed, printing changes as they happen",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(cmd, watchOpts)
		},
	}
	watchCmd.Flags().StringVar(&watchOpts.scope, "scope", "", "Path prefix to restrict the feed to")
	watchCmd.Flags().StringVar(&watchOpts.cursor, "cursor", "", "Saved cursor to continue from (default: full sweep)")

	// Serve command
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run a local in-memory server implementing the API",
		RunE:  runServe,
	}

	// Generate-config command
	var token string
	generateConfigCmd := &cobra.Command{
		Use:   "generate-config",
		Short: "Generate config",
		RunE: func(cmd *cobra.Command, args []string) error {
			return utils.GenerateConfig(configPath, token)
		},
	}
	generateConfigCmd.Flags().StringVar(&token, "token", "", "Access token to write (default: generate one)")

	// Version command
	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print the version number",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("goboxsync version %s\n", version)
		},
	}

	rootCmd.AddCommand(uploadCmd)
	rootCmd.AddCommand(uploadManyCmd)
	rootCmd.AddCommand(downloadCmd)
	rootCmd.AddCommand(deltaCmd)
	rootCmd.AddCommand(latestCursorCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(generateConfigCmd)
	rootCmd.AddCommand(versionCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
