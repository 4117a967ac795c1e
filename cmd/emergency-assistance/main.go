package main

import (
	"flag"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/Satoshi-Niina/Emergency-Assistance-sub007/internal/api"
	"github.com/Satoshi-Niina/Emergency-Assistance-sub007/internal/genai"
	"github.com/Satoshi-Niina/Emergency-Assistance-sub007/internal/images"
	"github.com/Satoshi-Niina/Emergency-Assistance-sub007/internal/lockfile"
	"github.com/Satoshi-Niina/Emergency-Assistance-sub007/internal/notify"
	"github.com/Satoshi-Niina/Emergency-Assistance-sub007/internal/store"
	"github.com/Satoshi-Niina/Emergency-Assistance-sub007/internal/util"
	"github.com/joho/godotenv"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for Emergency Assistance state data
	DefaultStateDir = "/var/lib/emergency-assistance"
	// DefaultFlowSubdir is the subdirectory for file-backed flow records
	DefaultFlowSubdir = "flows"
	// DefaultImageSubdir is the subdirectory for step image assets
	DefaultImageSubdir = "images"
)

func main() {
	// Initialize structured logger
	initializeLogger()

	// Load environment configuration
	config := loadEnvironmentConfig()

	// Parse command line flags
	flags := parseCommandLineFlags(config)

	// Ensure required directories exist
	if err := ensureDirectoriesExist(flags); err != nil {
		slog.Error("Failed to create required directories", "error", err)
		os.Exit(1)
	}

	// Lock the state directory against a second instance
	lock, err := lockfile.AcquireLock(*flags.stateDir)
	if err != nil {
		slog.Error("Failed to lock state directory", "error", err)
		os.Exit(1)
	}
	defer lock.Release()

	// Build module options
	storeOpts := buildStoreOptions(flags)
	genaiOpts := buildGenAIOptions(flags)
	notifyOpts := buildNotifyOptions(config)
	imageOpts := buildImageOptions(flags)
	apiOpts := buildAPIOptions(flags)

	// Start the service
	slog.Info("Bootstrapping Emergency Assistance with configured modules")
	slog.Debug("Module options counts",
		"store", len(storeOpts), "genai", len(genaiOpts), "notify", len(notifyOpts), "images", len(imageOpts), "api", len(apiOpts))
	slog.Debug("Final configuration", "state_dir", *flags.stateDir, "dsn_set", *flags.flowDSN != "", "api_addr", *flags.apiAddr)
	if err := api.Run(storeOpts, genaiOpts, notifyOpts, imageOpts, apiOpts); err != nil {
		slog.Error("Emergency Assistance failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("Emergency Assistance exited successfully")
}

// Config holds environment configuration
type Config struct {
	FlowDSN              string
	DatabaseURL          string
	StateDir             string
	ImageDir             string
	OpenAIKey            string
	OpenAIModel          string
	APIAddr              string
	TwilioAccountSID     string
	TwilioAuthToken      string
	TwilioFromNumber     string
	EmergencyContact     string
	NotificationsEnabled bool
}

// Flags holds command line flag values
type Flags struct {
	stateDir    *string
	flowDSN     *string
	imageDir    *string
	openaiKey   *string
	openaiModel *string
	apiAddr     *string
}

// initializeLogger sets up structured logging with debug level
func initializeLogger() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	slog.SetDefault(logger)
}

// loadEnvironmentConfig loads configuration from environment variables and .env file
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}

	config := Config{
		FlowDSN:              os.Getenv("FLOW_STORE_DSN"),
		DatabaseURL:          os.Getenv("DATABASE_URL"),
		StateDir:             os.Getenv("EMERGENCY_ASSISTANCE_STATE_DIR"),
		ImageDir:             os.Getenv("IMAGE_DIR"),
		OpenAIKey:            os.Getenv("OPENAI_API_KEY"),
		OpenAIModel:          os.Getenv("OPENAI_MODEL"),
		APIAddr:              os.Getenv("API_ADDR"),
		TwilioAccountSID:     os.Getenv("TWILIO_ACCOUNT_SID"),
		TwilioAuthToken:      os.Getenv("TWILIO_AUTH_TOKEN"),
		TwilioFromNumber:     os.Getenv("TWILIO_FROM_NUMBER"),
		EmergencyContact:     os.Getenv("EMERGENCY_CONTACT_NUMBER"),
		NotificationsEnabled: util.ParseBoolEnv("EMERGENCY_NOTIFICATIONS_ENABLED", true),
	}

	// Set default state directory if not specified
	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
		slog.Debug("No EMERGENCY_ASSISTANCE_STATE_DIR set, using default", "default_state_dir", config.StateDir)
	} else {
		slog.Debug("EMERGENCY_ASSISTANCE_STATE_DIR found in environment", "state_dir", config.StateDir)
	}

	// Fall back to DATABASE_URL when no flow-specific DSN is set
	if config.FlowDSN == "" && config.DatabaseURL != "" {
		config.FlowDSN = config.DatabaseURL
		slog.Debug("Using DATABASE_URL as FLOW_STORE_DSN", "dsn_set", true)
	}

	if config.ImageDir == "" {
		config.ImageDir = filepath.Join(config.StateDir, DefaultImageSubdir)
	}

	slog.Debug("environment variables loaded",
		"FLOW_STORE_DSN_SET", config.FlowDSN != "",
		"DATABASE_URL_SET", config.DatabaseURL != "",
		"EMERGENCY_ASSISTANCE_STATE_DIR", config.StateDir,
		"IMAGE_DIR", config.ImageDir,
		"OPENAI_API_KEY_SET", config.OpenAIKey != "",
		"API_ADDR", config.APIAddr,
		"TWILIO_ACCOUNT_SID_SET", config.TwilioAccountSID != "",
		"EMERGENCY_CONTACT_NUMBER_SET", config.EmergencyContact != "",
		"EMERGENCY_NOTIFICATIONS_ENABLED", config.NotificationsEnabled)

	return config
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(config Config) Flags {
	flags := Flags{
		stateDir:    flag.String("state-dir", config.StateDir, "state directory for Emergency Assistance data (overrides $EMERGENCY_ASSISTANCE_STATE_DIR)"),
		flowDSN:     flag.String("flow-dsn", config.FlowDSN, "flow store DSN; empty for file storage, a path for SQLite, postgres:// for PostgreSQL (overrides $FLOW_STORE_DSN or $DATABASE_URL)"),
		imageDir:    flag.String("image-dir", config.ImageDir, "directory for step image assets (overrides $IMAGE_DIR)"),
		openaiKey:   flag.String("openai-api-key", config.OpenAIKey, "OpenAI API key (overrides $OPENAI_API_KEY)"),
		openaiModel: flag.String("openai-model", config.OpenAIModel, "OpenAI chat model (overrides $OPENAI_MODEL)"),
		apiAddr:     flag.String("api-addr", config.APIAddr, "API server address (overrides $API_ADDR)"),
	}

	flag.Parse()

	slog.Debug("flags parsed",
		"stateDir", *flags.stateDir,
		"flowDSN_set", *flags.flowDSN != "",
		"imageDir", *flags.imageDir,
		"openaiKeySet", *flags.openaiKey != "",
		"apiAddr", *flags.apiAddr)

	// Keep the image directory under the state directory when only the
	// latter was overridden.
	if *flags.imageDir == filepath.Join(config.StateDir, DefaultImageSubdir) && *flags.stateDir != config.StateDir {
		*flags.imageDir = filepath.Join(*flags.stateDir, DefaultImageSubdir)
		slog.Debug("Updated image directory based on state directory", "image_dir", *flags.imageDir)
	}

	return flags
}

// ensureDirectoriesExist creates necessary directories for file-based storage
func ensureDirectoriesExist(flags Flags) error {
	dirs := []string{*flags.stateDir, *flags.imageDir}
	switch store.DetectDSNType(*flags.flowDSN) {
	case store.DSNTypeFile:
		dirs = append(dirs, filepath.Join(*flags.stateDir, DefaultFlowSubdir))
	case store.DSNTypeSQLite:
		dirs = append(dirs, filepath.Dir(*flags.flowDSN))
	}
	for _, dir := range dirs {
		slog.Debug("Creating directory", "dir", dir)
		if err := os.MkdirAll(dir, 0755); err != nil {
			slog.Error("Failed to create directory", "error", err, "dir", dir)
			return err
		}
	}
	return nil
}

// buildStoreOptions constructs flow store configuration options
func buildStoreOptions(flags Flags) []store.Option {
	var storeOpts []store.Option
	if *flags.flowDSN != "" {
		slog.Debug("Configuring database flow store", "dsn_type", store.DetectDSNType(*flags.flowDSN))
		storeOpts = append(storeOpts, store.WithDSN(*flags.flowDSN))
	} else {
		flowDir := filepath.Join(*flags.stateDir, DefaultFlowSubdir)
		slog.Debug("No flow store DSN provided, using file storage", "flow_dir", flowDir)
		storeOpts = append(storeOpts, store.WithDir(flowDir))
	}
	return storeOpts
}

// buildGenAIOptions constructs GenAI configuration options. A nil result
// disables the collaborator entirely.
func buildGenAIOptions(flags Flags) []genai.Option {
	var genaiOpts []genai.Option
	if *flags.openaiKey == "" {
		slog.Warn("No OpenAI API key configured, GenAI collaborator disabled")
		return nil
	}
	genaiOpts = append(genaiOpts, genai.WithAPIKey(*flags.openaiKey))
	if *flags.openaiModel != "" {
		genaiOpts = append(genaiOpts, genai.WithModel(*flags.openaiModel))
	}
	return genaiOpts
}

// buildNotifyOptions constructs emergency notifier options. A nil result
// selects the log-only notifier.
func buildNotifyOptions(config Config) []notify.Option {
	if !config.NotificationsEnabled {
		slog.Warn("Emergency notifications disabled by configuration")
		return nil
	}
	if config.TwilioAccountSID == "" || config.TwilioAuthToken == "" {
		slog.Warn("No Twilio credentials configured, emergency halts will be logged only")
		return nil
	}
	return []notify.Option{
		notify.WithAccountSID(config.TwilioAccountSID),
		notify.WithAuthToken(config.TwilioAuthToken),
		notify.WithFrom(config.TwilioFromNumber),
		notify.WithTo(config.EmergencyContact),
	}
}

// buildImageOptions constructs image service configuration options
func buildImageOptions(flags Flags) []images.Option {
	return []images.Option{images.WithDir(*flags.imageDir)}
}

// buildAPIOptions constructs API server configuration options
func buildAPIOptions(flags Flags) []api.Option {
	var apiOpts []api.Option
	if *flags.apiAddr != "" {
		apiOpts = append(apiOpts, api.WithAddr(*flags.apiAddr))
	}
	return apiOpts
}
