package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/RyanZurrin/CNN-Diffusion-MRIBrain-Segmentation-HCP/config"
	"github.com/RyanZurrin/CNN-Diffusion-MRIBrain-Segmentation-HCP/journal"
	"github.com/RyanZurrin/CNN-Diffusion-MRIBrain-Segmentation-HCP/logger"
	"github.com/RyanZurrin/CNN-Diffusion-MRIBrain-Segmentation-HCP/processor"
	"github.com/RyanZurrin/CNN-Diffusion-MRIBrain-Segmentation-HCP/remote"
)

func main() {
	// Define CLI flags
	var (
		// General flags
		dryRun = flag.Bool("dry-run", false, "Run in dry-run mode (no transfers, no transform) (env: DRY_RUN)")

		// Logger flags
		logLevel = flag.String("log-level", "", "Log level: silent, error, info, debug, verbose (env: LOG_LEVEL)")

		// Pipeline flags
		caselist   = flag.String("caselist", "", "Path or remote key of the caselist file (env: CASELIST_FILE)")
		groupName  = flag.String("group", "", "Cohort/group name to process (env: GROUP_NAME)")
		localRoot  = flag.String("local-root", "", "Local working storage root (env: LOCAL_DATA_ROOT)")
		remoteRoot = flag.String("remote-root", "", "Dataset key prefix on the remote store (env: REMOTE_DATA_ROOT)")
		startIndex = flag.Int("start", 0, "1-based inclusive caselist window start (env: START_INDEX)")
		endIndex   = flag.Int("end", 0, "Inclusive caselist window end, 0 = last line (env: END_INDEX)")
		batchSize  = flag.Int("batch-size", 0, "Subjects staged per batch (env: BATCH_SIZE)")
		modelDir   = flag.String("model-dir", "", "Trained model directory passed to the transform (env: MODEL_DIR)")
		command    = flag.String("transform-command", "", "External transform executable (env: TRANSFORM_COMMAND)")
		parallel   = flag.Bool("parallel", true, "Fan per-subject transfers out over workers (env: MULTIPROCESSING)")

		// Remote flags
		remoteType    = flag.String("remote-type", "", "Remote store type: s3, ftp (env: REMOTE_TYPE)")
		remoteWorkers = flag.Int("remote-workers", 0, "Number of concurrent transfer workers (env: REMOTE_WORKER_COUNT)")
		remoteRetries = flag.Int("remote-max-retries", 0, "Max retries for remote operations (env: REMOTE_MAX_RETRIES)")
		remoteTimeout = flag.Int("remote-timeout", 0, "Remote operation timeout in seconds (env: REMOTE_TIMEOUT_SECONDS)")
		remoteMaxRPS  = flag.Int("remote-max-rps", 0, "Max requests per second to the remote (0 = no limit) (env: REMOTE_MAX_RPS)")

		// S3 flags
		s3Region    = flag.String("s3-region", "", "S3 region (env: S3_REGION)")
		s3Bucket    = flag.String("s3-bucket", "", "S3 bucket name (env: S3_BUCKET)")
		s3AccessKey = flag.String("s3-access-key", "", "S3 access key ID (env: S3_ACCESS_KEY_ID)")
		s3SecretKey = flag.String("s3-secret-key", "", "S3 secret access key (env: S3_SECRET_ACCESS_KEY)")
		s3Endpoint  = flag.String("s3-endpoint", "", "S3 endpoint URL (env: S3_ENDPOINT)")

		// FTP flags
		ftpHost     = flag.String("ftp-host", "", "FTP server host (env: FTP_HOST)")
		ftpPort     = flag.Int("ftp-port", 0, "FTP server port (env: FTP_PORT)")
		ftpUsername = flag.String("ftp-username", "", "FTP username (env: FTP_USERNAME)")
		ftpPassword = flag.String("ftp-password", "", "FTP password (env: FTP_PASSWORD)")
		ftpBasePath = flag.String("ftp-base-path", "", "FTP base path (env: FTP_BASE_PATH)")
		ftpUseTLS   = flag.Bool("ftp-use-tls", false, "Use FTPS (env: FTP_USE_TLS)")

		// Journal flags
		journalPath   = flag.String("journal-path", "", "Path to outcome journal database (env: JOURNAL_BBOLT_PATH)")
		journalBucket = flag.String("journal-bucket", "", "Journal bucket name (env: JOURNAL_BBOLT_BUCKET)")

		// General flags
		showHelp = flag.Bool("help", false, "Show help message")
	)

	flag.Parse()

	if *showHelp {
		printHelp()
		os.Exit(0)
	}

	// Load base configuration from environment variables
	cfg, err := config.LoadFromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config from environment: %v\n", err)
		os.Exit(1)
	}

	// Override with CLI flags if provided
	applyFlags(cfg, flagValues{
		dryRun:        *dryRun,
		logLevel:      *logLevel,
		caselist:      *caselist,
		groupName:     *groupName,
		localRoot:     *localRoot,
		remoteRoot:    *remoteRoot,
		startIndex:    *startIndex,
		endIndex:      *endIndex,
		batchSize:     *batchSize,
		modelDir:      *modelDir,
		command:       *command,
		parallel:      *parallel,
		remoteType:    *remoteType,
		remoteWorkers: *remoteWorkers,
		remoteRetries: *remoteRetries,
		remoteTimeout: *remoteTimeout,
		remoteMaxRPS:  *remoteMaxRPS,
		s3Region:      *s3Region,
		s3Bucket:      *s3Bucket,
		s3AccessKey:   *s3AccessKey,
		s3SecretKey:   *s3SecretKey,
		s3Endpoint:    *s3Endpoint,
		ftpHost:       *ftpHost,
		ftpPort:       *ftpPort,
		ftpUsername:   *ftpUsername,
		ftpPassword:   *ftpPassword,
		ftpBasePath:   *ftpBasePath,
		ftpUseTLS:     *ftpUseTLS,
		journalPath:   *journalPath,
		journalBucket: *journalBucket,
	})

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Configuration validation error: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.NewLogger(&cfg.Logger)
	log.Info("Starting batch masking orchestrator")
	log.Debug("Configuration loaded and validated")

	// Initialize remote store
	log.Debug("Initializing remote store...")
	store, err := remote.CreateStore(&cfg.Remote, log)
	if err != nil {
		log.Error("Failed to create remote store: %v", err)
		os.Exit(1)
	}
	defer func() {
		log.Debug("Closing remote store...")
		if err := store.Close(); err != nil {
			log.Error("Error closing remote store: %v", err)
		}
	}()
	log.Info("Remote store initialized: type=%s", cfg.Remote.RemoteType)

	// Initialize outcome journal
	log.Debug("Initializing journal...")
	jrnl, err := journal.Create(&cfg.Journal)
	if err != nil {
		log.Error("Failed to create journal: %v", err)
		os.Exit(1)
	}
	defer func() {
		log.Debug("Closing journal...")
		if err := jrnl.Close(); err != nil {
			log.Error("Error closing journal: %v", err)
		}
	}()
	log.Info("Journal initialized: type=%s", cfg.Journal.JournalType)

	// Create processor
	log.Debug("Creating processor...")
	if cfg.DryRun {
		log.Info("Running in DRY-RUN mode - no transfers and no transform execution")
	}
	runner, err := processor.NewRunner(store, jrnl, nil, &cfg.Pipeline, cfg.Remote.Common.WorkerCount, log, cfg.DryRun)
	if err != nil {
		log.Error("Failed to create processor: %v", err)
		os.Exit(1)
	}

	// Set up signal handling for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	// Run processor in a goroutine
	errChan := make(chan error, 1)
	go func() {
		log.Info("Starting processing run...")
		errChan <- runner.Run(ctx)
	}()

	// Wait for completion or interruption
	select {
	case err := <-errChan:
		if err != nil {
			log.Error("Processing run failed: %v", err)
			os.Exit(1)
		}
		log.Info("Processing run completed successfully")
	case sig := <-sigChan:
		log.Info("Received signal %v, initiating graceful shutdown...", sig)
		cancel()

		// Wait for the processor to finish the current batch boundary
		err := <-errChan
		if err != nil && err != context.Canceled {
			log.Error("Error during shutdown: %v", err)
			os.Exit(1)
		}
		log.Info("Shutdown completed")
	}
}

type flagValues struct {
	dryRun        bool
	logLevel      string
	caselist      string
	groupName     string
	localRoot     string
	remoteRoot    string
	startIndex    int
	endIndex      int
	batchSize     int
	modelDir      string
	command       string
	parallel      bool
	remoteType    string
	remoteWorkers int
	remoteRetries int
	remoteTimeout int
	remoteMaxRPS  int
	s3Region      string
	s3Bucket      string
	s3AccessKey   string
	s3SecretKey   string
	s3Endpoint    string
	ftpHost       string
	ftpPort       int
	ftpUsername   string
	ftpPassword   string
	ftpBasePath   string
	ftpUseTLS     bool
	journalPath   string
	journalBucket string
}

func applyFlags(cfg *config.AppConfig, flags flagValues) {
	// General
	if flag.Lookup("dry-run").Value.String() == "true" {
		cfg.DryRun = flags.dryRun
	}

	// Logger
	if flags.logLevel != "" {
		cfg.Logger.Level = config.LogLevel(flags.logLevel)
	}

	// Pipeline
	if flags.caselist != "" {
		cfg.Pipeline.CaselistPath = flags.caselist
	}
	if flags.groupName != "" {
		cfg.Pipeline.GroupName = flags.groupName
	}
	if flags.localRoot != "" {
		cfg.Pipeline.LocalRoot = flags.localRoot
	}
	if flags.remoteRoot != "" {
		cfg.Pipeline.RemoteRoot = flags.remoteRoot
	}
	if flags.startIndex > 0 {
		cfg.Pipeline.StartIndex = flags.startIndex
	}
	if flags.endIndex > 0 {
		cfg.Pipeline.EndIndex = flags.endIndex
	}
	if flags.batchSize > 0 {
		cfg.Pipeline.BatchSize = flags.batchSize
	}
	if flags.modelDir != "" {
		cfg.Pipeline.ModelDir = flags.modelDir
	}
	if flags.command != "" {
		cfg.Pipeline.TransformCommand = flags.command
	}
	if flag.Lookup("parallel").Value.String() == "false" {
		cfg.Pipeline.Parallel = flags.parallel
	}

	// Derived paths depend on LocalRoot, so re-apply defaults after overrides
	cfg.Pipeline.ApplyDefaults()

	// Remote
	if flags.remoteType != "" {
		cfg.Remote.RemoteType = config.RemoteType(flags.remoteType)
	}
	if flags.remoteWorkers > 0 {
		cfg.Remote.Common.WorkerCount = flags.remoteWorkers
	}
	if flags.remoteRetries > 0 {
		cfg.Remote.Common.MaxRetries = flags.remoteRetries
	}
	if flags.remoteTimeout > 0 {
		cfg.Remote.Common.TimeoutSeconds = flags.remoteTimeout
	}
	if flags.remoteMaxRPS > 0 {
		cfg.Remote.Common.MaxRPS = flags.remoteMaxRPS
	}

	// S3
	if flags.s3Region != "" {
		cfg.Remote.S3.Region = flags.s3Region
	}
	if flags.s3Bucket != "" {
		cfg.Remote.S3.Bucket = flags.s3Bucket
	}
	if flags.s3AccessKey != "" {
		cfg.Remote.S3.AccessKeyID = flags.s3AccessKey
	}
	if flags.s3SecretKey != "" {
		cfg.Remote.S3.SecretAccessKey = flags.s3SecretKey
	}
	if flags.s3Endpoint != "" {
		cfg.Remote.S3.Endpoint = flags.s3Endpoint
	}

	// FTP
	if flags.ftpHost != "" {
		cfg.Remote.FTP.Host = flags.ftpHost
	}
	if flags.ftpPort > 0 {
		cfg.Remote.FTP.Port = flags.ftpPort
	}
	if flags.ftpUsername != "" {
		cfg.Remote.FTP.Username = flags.ftpUsername
	}
	if flags.ftpPassword != "" {
		cfg.Remote.FTP.Password = flags.ftpPassword
	}
	if flags.ftpBasePath != "" {
		cfg.Remote.FTP.BasePath = flags.ftpBasePath
	}
	if flag.Lookup("ftp-use-tls").Value.String() == "true" {
		cfg.Remote.FTP.UseTLS = flags.ftpUseTLS
	}

	// Journal
	if flags.journalPath != "" {
		cfg.Journal.Bbolt.Path = flags.journalPath
	}
	if flags.journalBucket != "" {
		cfg.Journal.Bbolt.Bucket = flags.journalBucket
	}
}

func printHelp() {
	fmt.Println("Batch Diffusion MRI Masking Orchestrator")
	fmt.Println()
	fmt.Println("Usage: dwi-masking [options]")
	fmt.Println()
	fmt.Println("Configuration can be provided via environment variables or command-line flags.")
	fmt.Println("Command-line flags take precedence over environment variables.")
	fmt.Println()
	fmt.Println("Options:")
	flag.PrintDefaults()
	fmt.Println()
	fmt.Println("Example:")
	fmt.Println("  dwi-masking --caselist=cases.txt --group=HCPD --local-root=/data/work \\")
	fmt.Println("      --remote-root=datasets/hcp --s3-bucket=my-bucket --model-dir=/models/cnn \\")
	fmt.Println("      --transform-command=dwi_masking.py")
	fmt.Println()
	fmt.Println("Environment Variables:")
	fmt.Println("  DRY_RUN                  - Run in dry-run mode (true/false)")
	fmt.Println("  LOG_LEVEL                - Log level (silent, error, info, debug, verbose)")
	fmt.Println("  CASELIST_FILE            - Path or remote key of the caselist file")
	fmt.Println("  GROUP_NAME               - Cohort/group name to process")
	fmt.Println("  LOCAL_DATA_ROOT          - Local working storage root")
	fmt.Println("  REMOTE_DATA_ROOT         - Dataset key prefix on the remote store")
	fmt.Println("  START_INDEX              - 1-based inclusive caselist window start")
	fmt.Println("  END_INDEX                - Inclusive caselist window end (0 = last line)")
	fmt.Println("  BATCH_SIZE               - Subjects staged per batch")
	fmt.Println("  MODEL_DIR                - Trained model directory passed to the transform")
	fmt.Println("  TRANSFORM_COMMAND        - External transform executable")
	fmt.Println("  MULTIPROCESSING          - Fan per-subject transfers out over workers (true/false)")
	fmt.Println("  REMOTE_TYPE              - Remote store type (s3, ftp)")
	fmt.Println("  REMOTE_WORKER_COUNT      - Number of concurrent transfer workers")
	fmt.Println("  REMOTE_MAX_RETRIES       - Max retries for remote operations")
	fmt.Println("  REMOTE_TIMEOUT_SECONDS   - Remote operation timeout in seconds")
	fmt.Println("  REMOTE_MAX_RPS           - Max requests per second to the remote (0 = no limit)")
	fmt.Println("  S3_REGION                - S3 region")
	fmt.Println("  S3_BUCKET                - S3 bucket name")
	fmt.Println("  S3_ACCESS_KEY_ID         - S3 access key ID")
	fmt.Println("  S3_SECRET_ACCESS_KEY     - S3 secret access key")
	fmt.Println("  S3_ENDPOINT              - S3 endpoint URL")
	fmt.Println("  FTP_HOST                 - FTP server host")
	fmt.Println("  FTP_PORT                 - FTP server port")
	fmt.Println("  FTP_USERNAME             - FTP username")
	fmt.Println("  FTP_PASSWORD             - FTP password")
	fmt.Println("  FTP_BASE_PATH            - FTP base path")
	fmt.Println("  FTP_USE_TLS              - Use FTPS (true/false)")
	fmt.Println("  JOURNAL_BBOLT_PATH       - Path to the outcome journal database")
	fmt.Println("  JOURNAL_BBOLT_BUCKET     - Journal bucket name")
}
