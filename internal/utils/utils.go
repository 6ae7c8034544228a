package utils

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

const configTemplate = `# Required. Access token sent as a bearer token with every API request
access_token = "{{ACCESS_TOKEN}}"

# Optional log level, default "info"
loglevel = "info"

# Optional endpoints, default to the public API hosts. Point all three at a local
# 'goboxsync serve' instance for development, e.g. "http://127.0.0.1:9190"
# api_url = "https://api.dropboxapi.com"
# content_url = "https://content.dropboxapi.com"
# notify_url = "https://notify.dropboxapi.com"

# Optional request timeout in secs, default 30. Long-polls are bounded by [longpoll] instead.
request_timeout = 30

# Optional upload chunk size in bytes, default 4194304 (4 MiB). At most 157286400 (150 MiB).
chunk_size = 4194304

# Optional upload session lifetime in hours, default 24. Sessions older than this are not resumed.
session_ttl = 24

# Optional number of upload workers, default 4. This controls how many files 'upload-many' sends in parallel.
upload_workers = 4

# Optional skip names when uploading directories, default [".git", ".DS_Store"]
skip_names = [".git", ".DS_Store"]

# Optional address for the prometheus /metrics endpoint of long-running commands, e.g. ":9191"
metrics_address = ""

[retry]
# Optional. Attempts per request including the first one, default 5
max_attempts = 5
# Optional backoff base and ceiling in milliseconds, default 200 and 30000
base_delay_ms = 200
max_delay_ms = 30000

[longpoll]
# Optional long-poll timeout hint in secs, between 1 and 480, default 30
timeout = 30
# Optional network slack in secs added on top of the timeout, default 10
slack = 10

[server]
# Settings for 'goboxsync serve', the local development server
bind_address = "127.0.0.1"
port = 9190
# Required by serve. Token clients must present.
token = "{{ACCESS_TOKEN}}"
# Optional maximum number of entries per delta page, default 1000
page_limit = 1000
# Optional fault injection: fail every n-th chunk request with a 500, default 0 (off)
fail_every = 0
# Optional. Apply the chunk before failing, so the client sees a lost response, default false
lose_response = false
# Optional change log length that triggers compaction and a reset for old cursors, default 0 (never)
history_limit = 0
`

// RenderConfig fills the config template with token
func RenderConfig(token string) string {
	return strings.ReplaceAll(configTemplate, "{{ACCESS_TOKEN}}", token)
}

// GenerateConfig writes a configuration file. Without a token a random one
// is generated, suitable for a local serve instance.
func GenerateConfig(configPath, token string) error {
	fmt.Printf("Generating config %s\n", configPath)

	if token == "" {
		token = uuid.NewString()
		fmt.Printf("Generated access token: %s\n", token)
	}
	config := RenderConfig(token)

	// Check if config file already exists and back it up
	if _, err := os.Stat(configPath); err == nil {
		backupPath := configPath + ".bak"
		fmt.Printf("Backing up config %s\n", configPath)
		if err := os.Rename(configPath, backupPath); err != nil {
			return fmt.Errorf("failed to backup config: %w", err)
		}
	}

	// Create parent directory if it doesn't exist
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	fmt.Printf("Writing %s\n", configPath)
	if err := os.WriteFile(configPath, []byte(config), 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}
