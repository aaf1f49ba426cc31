package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"sith/backend/internal/config"
	"sith/backend/internal/logger"
	"sith/backend/internal/notify"
	"sith/backend/internal/service"
	pgstore "sith/backend/internal/store/postgres"
)

// Supported subcommands:
// - warn: mail the owners of inactive accounts and record the warning
// - dump: empty the accounts warned long enough ago

type dumper interface {
	WarnInactiveAccounts(ctx context.Context, dryRun bool) (service.DumpReport, error)
	DumpAccounts(ctx context.Context, dryRun bool) (service.DumpReport, error)
}

func main() {
	if len(os.Args) < 2 {
		printUsage(os.Stderr)
		os.Exit(1)
	}

	cfg := config.Load()
	log, err := logger.NewZapLog(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: invalid LOG_LEVEL: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	svc, closeFn, err := buildService(ctx, cfg, log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = closeFn() }()

	if err := run(ctx, os.Args[1:], svc, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func buildService(ctx context.Context, cfg config.Config, log *zap.Logger) (*service.Service, func() error, error) {
	if cfg.DatabaseURL == "" {
		return nil, nil, errors.New("DATABASE_URL is required")
	}
	repo, err := pgstore.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to open postgres")
	}
	log.Info("repository: postgres")

	var notifier notify.Notifier = notify.LogNotifier{Log: log}
	if cfg.SMTPHost != "" {
		notifier = notify.NewSMTPMailer(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPassword, cfg.MailFrom)
		log.Info("mail: smtp", zap.String("host", cfg.SMTPHost))
	}
	svc := service.New(repo, cfg.Counter, service.Deps{Notifier: notifier, Logger: log})
	return svc, repo.Close, nil
}

func run(ctx context.Context, args []string, svc dumper, out io.Writer) error {
	if len(args) == 0 {
		printUsage(out)
		return errors.New("missing subcommand")
	}

	cmd := flag.NewFlagSet(args[0], flag.ContinueOnError)
	cmd.SetOutput(out)
	dryRun := cmd.Bool("dry-run", false, "Report what would happen without writing or mailing")

	var action func(context.Context, bool) (service.DumpReport, error)
	switch args[0] {
	case "warn":
		action = svc.WarnInactiveAccounts
	case "dump":
		action = svc.DumpAccounts
	default:
		printUsage(out)
		return errors.Errorf("unknown subcommand %q", args[0])
	}
	if err := cmd.Parse(args[1:]); err != nil {
		return errors.Wrapf(err, "failed to parse %s flags", args[0])
	}

	report, err := action(ctx, *dryRun)
	if err != nil {
		return errors.Wrapf(err, "%s failed", args[0])
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return errors.Wrap(enc.Encode(report), "failed to write report")
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "usage: accountdump <warn|dump> [--dry-run]")
	fmt.Fprintln(w, "  warn  mail the customers whose account has been inactive too long")
	fmt.Fprintln(w, "  dump  empty the accounts of customers warned long enough ago")
}
