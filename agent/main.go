package main

import (
	"flag"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/herdctl/herd/pkg/config"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	configPath  = flag.String("config", "/etc/herd/agent.yaml", "Config file path")
	serverURL   = flag.String("server", "", "Coordinator URL (overrides config)")
	enrollToken = flag.String("token", "", "One-time registration token (register and exit)")
	interval    = flag.Duration("interval", 0, "Heartbeat interval (overrides config)")
	screenshots = flag.Bool("screenshots", false, "Enable screenshot capture on registration")
	Version     = "dev"
)

type Agent struct {
	config *config.AgentConfig
	client *http.Client
	retry  *retrier
}

func main() {
	flag.Parse()

	configureAgentLogger()
	log.Info().Str("version", Version).Msg("herd-agent starting")

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}

	// CLI overrides
	if *serverURL != "" {
		cfg.Server.URL = *serverURL
	}
	if *interval > 0 {
		cfg.Heartbeat.Interval = int(interval.Seconds())
	}

	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid config")
	}
	applyAgentLogging(cfg.Logging)

	agent := &Agent{
		config: cfg,
		client: &http.Client{
			Timeout: time.Duration(cfg.Server.RequestTimeout) * time.Second,
		},
		retry: newRetrier(cfg.Server.RetryInitialMs, cfg.Server.RetryMaxMs, cfg.Server.RetryMaxRetries),
	}

	// Registration mode: exchange the token for credentials and exit.
	if *enrollToken != "" {
		if err := agent.registerAndSave(*enrollToken); err != nil {
			log.Fatal().Err(err).Msg("Registration failed")
		}
		fmt.Printf("Registered successfully. Computer ID: %d\n", cfg.Auth.ComputerID)
		fmt.Printf("Credentials written to %s\n", *configPath)
		return
	}

	if err := cfg.ValidateCredentials(); err != nil {
		log.Error().Err(err).Msg("No credentials found")
		fmt.Fprintf(os.Stderr, "\nTo register this agent:\n")
		fmt.Fprintf(os.Stderr, "  sudo herd-agent --server http://SERVER:8080 --token YOUR_TOKEN\n\n")
		fmt.Fprintf(os.Stderr, "Generate a token with: herdctl tokens generate\n")
		os.Exit(1)
	}

	log.Info().
		Uint("computer_id", cfg.Auth.ComputerID).
		Str("server", cfg.Server.URL).
		Int("interval_s", cfg.Heartbeat.Interval).
		Msg("Agent configured")

	agent.run()
}

func (a *Agent) registerAndSave(token string) error {
	hostname, err := os.Hostname()
	if err != nil {
		return fmt.Errorf("failed to get hostname: %w", err)
	}
	if err := a.register(token, hostname); err != nil {
		return err
	}
	a.config.Screenshots.Enable = *screenshots
	if err := a.config.Save(*configPath); err != nil {
		return fmt.Errorf("registered but failed to save config: %w", err)
	}
	log.Info().Uint("computer_id", a.config.Auth.ComputerID).Msg("Registration successful")
	return nil
}

// run drives the heartbeat loop until SIGINT/SIGTERM. The first heartbeat
// fires immediately so a restarted agent shows up online without waiting a
// full interval.
func (a *Agent) run() {
	stop := make(chan struct{})
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigs
		log.Info().Str("signal", sig.String()).Msg("Shutting down")
		close(stop)
	}()

	if a.config.Screenshots.Enable {
		go a.runScreenshotLoop(stop)
	}

	jitter := time.Duration(a.config.Heartbeat.Jitter) * time.Second
	ticker := time.NewTicker(time.Duration(a.config.Heartbeat.Interval) * time.Second)
	defer ticker.Stop()

	a.heartbeat()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if jitter > 0 {
				time.Sleep(time.Duration(rand.Int63n(int64(jitter))))
			}
			a.heartbeat()
		}
	}
}

func (a *Agent) heartbeat() {
	ip := getLocalIP()
	version := Version
	desktopUser := currentDesktopUser()

	commands, err := a.sendHeartbeat(heartbeatRequest{
		IPAddress:          &ip,
		AgentVersion:       &version,
		CurrentDesktopUser: &desktopUser,
		Users:              a.reportedUsers(),
	})
	if err != nil {
		log.Error().Err(err).Msg("Heartbeat failed")
		return
	}

	for _, cmd := range commands {
		log.Info().
			Uint("command_id", cmd.ID).
			Str("type", cmd.Type).
			Str("target_user", cmd.TargetUser).
			Msg("Received command")
		a.executeCommand(cmd)
	}
}

// reportedUsers always returns a non-nil slice: an empty report is an
// assertion that the host has no regular accounts, not a skipped sync.
func (a *Agent) reportedUsers() []userInfo {
	users := collectUsers()
	if users == nil {
		users = []userInfo{}
	}
	return users
}

func configureAgentLogger() {
	zerolog.TimeFieldFormat = time.RFC3339
	zerolog.DurationFieldUnit = time.Millisecond

	level := zerolog.InfoLevel
	if raw := strings.ToLower(strings.TrimSpace(os.Getenv("HERD_AGENT_LOG_LEVEL"))); raw != "" {
		if parsed, err := zerolog.ParseLevel(raw); err == nil {
			level = parsed
		}
	}

	format := strings.ToLower(strings.TrimSpace(os.Getenv("HERD_AGENT_LOG_FORMAT")))
	logger := newAgentLogger(format)
	log.Logger = logger.Level(level)
	zerolog.SetGlobalLevel(level)
}

func applyAgentLogging(cfg config.LoggingConfig) {
	level := zerolog.InfoLevel
	if parsed, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(cfg.Level))); err == nil {
		level = parsed
	}

	format := "console"
	if cfg.JSON {
		format = "json"
	}

	logger := newAgentLogger(format)
	log.Logger = logger.Level(level)
	zerolog.SetGlobalLevel(level)
}

func newAgentLogger(format string) zerolog.Logger {
	if format == "json" {
		return zerolog.New(os.Stdout).With().Timestamp().Logger()
	}
	writer := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	return zerolog.New(writer).With().Timestamp().Logger()
}
