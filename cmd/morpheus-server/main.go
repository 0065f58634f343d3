package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aspect-build/morpheus/internal/approval"
	"github.com/aspect-build/morpheus/internal/audit"
	"github.com/aspect-build/morpheus/internal/discord"
	"github.com/aspect-build/morpheus/internal/gatekeeper"
	"github.com/aspect-build/morpheus/internal/logx"
	"github.com/aspect-build/morpheus/internal/pickup"
	"github.com/aspect-build/morpheus/internal/server"
	"github.com/aspect-build/morpheus/internal/server/handler"
	"github.com/aspect-build/morpheus/internal/tracing"
	"github.com/aspect-build/morpheus/internal/vault"
	"github.com/aspect-build/morpheus/internal/version"
)

const shutdownTimeout = 15 * time.Second

func main() {
	showVersion := flag.Bool("version", false, "Print version and exit")
	verbose := flag.Bool("verbose", false, "Enable verbose debug logs (same as --log-level debug)")
	logLevel := flag.String("log-level", "", "Log level: debug|info|warn|error (or MORPHEUS_LOG_LEVEL)")
	flag.BoolVar(showVersion, "v", false, "Print version and exit")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "%s\n\n", version.String("morpheus-server"))
		fmt.Fprintf(os.Stderr, "Morpheus guards vault credentials behind a human approval in Discord.\n\n")
		fmt.Fprintf(os.Stderr, "Environment variables:\n")
		fmt.Fprintf(os.Stderr, "  MORPHEUS_API_KEY             Pre-shared API key (min 16 chars, required)\n")
		fmt.Fprintf(os.Stderr, "  DISCORD_BOT_TOKEN            Discord bot token (required)\n")
		fmt.Fprintf(os.Stderr, "  DISCORD_APPROVER_ID          User id allowed to approve (required)\n")
		fmt.Fprintf(os.Stderr, "  DISCORD_APPROVAL_CHANNEL_ID  Channel for approval prompts\n")
		fmt.Fprintf(os.Stderr, "  DISCORD_LOG_CHANNEL_ID       Channel for the request log\n")
		fmt.Fprintf(os.Stderr, "  VAULTWARDEN_URL              Vault server URL\n")
		fmt.Fprintf(os.Stderr, "  VAULTWARDEN_EMAIL            Vault account email (required)\n")
		fmt.Fprintf(os.Stderr, "  VAULTWARDEN_MASTER_PASSWORD  Vault master password (required)\n")
		fmt.Fprintf(os.Stderr, "  BW_BINARY                    Vault CLI binary (default: bw)\n")
		fmt.Fprintf(os.Stderr, "  VAULT_COMMAND_TIMEOUT        Per-command timeout (default: 30s)\n")
		fmt.Fprintf(os.Stderr, "  APPROVAL_TIMEOUT_SECONDS     Approval window (default: 600)\n")
		fmt.Fprintf(os.Stderr, "  MORPHEUS_LISTEN_ADDR         Listen address (default: 0.0.0.0:8000)\n")
		fmt.Fprintf(os.Stderr, "  MORPHEUS_DB_PATH             Audit database path (default: morpheus.db)\n")
		fmt.Fprintf(os.Stderr, "  MORPHEUS_TRACE_OUTPUT        Trace output: stdout or a file path (default: off)\n")
		fmt.Fprintf(os.Stderr, "  MORPHEUS_CORS_ORIGINS        Comma-separated allowed CORS origins\n")
		fmt.Fprintf(os.Stderr, "  MORPHEUS_TRUSTED_PROXIES     Comma-separated proxy IPs/CIDRs allowed to set X-Forwarded-For\n")
		fmt.Fprintf(os.Stderr, "  MORPHEUS_ENV_FILE            Dotenv file read at startup (default: .env)\n")
		fmt.Fprintf(os.Stderr, "  MORPHEUS_LOG_LEVEL           Log level: debug|info|warn|error (default: info)\n")
		fmt.Fprintf(os.Stderr, "\nFlags:\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String("morpheus-server"))
		os.Exit(0)
	}

	if err := logx.Configure(*logLevel, *verbose); err != nil {
		log.Fatalf("configure logging: %v", err)
	}

	cfg, err := server.LoadConfig()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logx.AddSecrets(cfg.APIKey, cfg.DiscordToken, cfg.VaultPassword)

	if err := tracing.Init("morpheus-server", version.Version, cfg.TraceOutput); err != nil {
		log.Fatalf("init tracing: %v", err)
	}

	store, err := audit.NewStore(cfg.DBPath)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer store.Close()

	vaultClient := vault.NewClient(vault.NewExecRunner(cfg.BWBinary), vault.ClientConfig{
		ServerURL:      cfg.VaultURL,
		Email:          cfg.VaultEmail,
		MasterPassword: cfg.VaultPassword,
		CommandTimeout: cfg.VaultCommandTimeout,
	})
	session := vault.NewSession(vaultClient)
	lookup := vault.NewLookup(session)

	approvals := approval.NewCoordinator()
	pickups, err := pickup.NewStore()
	if err != nil {
		log.Fatalf("create pickup store: %v", err)
	}

	bot, err := discord.New(discord.Config{
		Token:             cfg.DiscordToken,
		ApprovalChannelID: cfg.ApprovalChannelID,
		LogChannelID:      cfg.LogChannelID,
		ApproverID:        cfg.ApproverID,
	}, approvals)
	if err != nil {
		log.Fatalf("create discord bot: %v", err)
	}
	if cfg.ApprovalChannelID == "" {
		logx.Warnf("DISCORD_APPROVAL_CHANNEL_ID is not set; requests without auto-approve will be denied")
	}
	if err := bot.Open(); err != nil {
		logx.Errorf("discord connect failed: %v", err)
	}
	defer bot.Close()

	gk := gatekeeper.New(lookup, approvals, pickups, bot, audit.Fanout{store, bot},
		gatekeeper.WithApprovalTimeout(cfg.ApprovalTimeout))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if _, err := session.EnsureSession(ctx); err != nil {
		logx.Errorf("vault connection failed: %v", err)
	} else {
		logx.Infof("vault connection successful")
	}

	r := server.NewRouter(handler.Deps{
		Gatekeeper: gk,
		Pickups:    pickups,
		Services:   lookup,
		Chat:       bot,
		Audit:      store,
	}, cfg)
	logx.Infof("server config: vault_url=%s approval_timeout=%s db=%s", cfg.VaultURL, cfg.ApprovalTimeout, cfg.DBPath)

	srv := &http.Server{Addr: cfg.ListenAddr, Handler: r}
	errCh := make(chan error, 1)
	go func() {
		log.Printf("morpheus-server listening on %s", cfg.ListenAddr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server error: %v", err)
		}
	case <-ctx.Done():
	}

	logx.Infof("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logx.Warnf("http shutdown: %v", err)
	}
	if err := session.Logout(shutdownCtx); err != nil {
		logx.Warnf("vault logout: %v", err)
	}
	if err := tracing.Shutdown(shutdownCtx); err != nil {
		logx.Warnf("tracing shutdown: %v", err)
	}
}
