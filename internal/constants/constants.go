// Package constants contains application-wide constants to avoid magic numbers and strings.
package constants

import "time"

// Application defaults
const (
	DefaultPort                = "8080"
	DefaultDBPath              = "inkqueue.db"
	DefaultLibraryDir          = "library"
	DefaultProviderURL         = "http://127.0.0.1:8000"
	DefaultDownloadConcurrency = 2
	DefaultPollInterval        = 5 * time.Second
	DefaultStallTimeout        = 30 * time.Minute
	DefaultPageDelay           = 250 * time.Millisecond
	DefaultHTTPTimeout         = 30 * time.Second
	DefaultRetryCount          = 3
	DefaultRetryBase           = 1 * time.Second
	DefaultRecoveryPolicy      = RecoveryFail
	DefaultArchiveTemplate     = "{{.Series}}/{{.Chapter}}"
	DefaultPageListCacheTTL    = 24 * time.Hour
)

// Startup recovery policies for records left in_progress by a previous process.
const (
	RecoveryFail    = "fail"
	RecoveryRequeue = "requeue"
)

// Live progress
const (
	HubBufferSize          = 256
	SyncReconnectDelay     = 5 * time.Second
	SyncTerminalGrace      = 5 * time.Second
	WSWriteTimeout         = 10 * time.Second
	WSPongTimeout          = 60 * time.Second
	WSPingInterval         = (WSPongTimeout * 9) / 10
	WSMaxMessageSize       = 4096
	MaxStatusMessageLength = 200
)


// File Extensions
const (
	ExtCBZ  = ".cbz"
	ExtZIP  = ".zip"
	ExtJPG  = ".jpg"
	ExtPNG  = ".png"
	ExtGIF  = ".gif"
	ExtWEBP = ".webp"
)

// File Permissions
const (
	DirPermissions  = 0755
	FilePermissions = 0644
)

// Characters to sanitize from filesystem paths
const InvalidPathChars = "<>:\"/\\|?*"
