// Command ledgerctl is the operator CLI of the bankroll ledger: balance audits,
// bankroll and statistics reads, manual settlement and one-off sweeps.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/olekukonko/tablewriter"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/cypherlabdev/bankroll-ledger-service/internal/cache"
	"github.com/cypherlabdev/bankroll-ledger-service/internal/config"
	"github.com/cypherlabdev/bankroll-ledger-service/internal/locks"
	"github.com/cypherlabdev/bankroll-ledger-service/internal/models"
	"github.com/cypherlabdev/bankroll-ledger-service/internal/scheduler"
	"github.com/cypherlabdev/bankroll-ledger-service/internal/service"
	"github.com/cypherlabdev/bankroll-ledger-service/internal/store/sqlstore"
)

const usage = `usage: ledgerctl [-config path] <command> [args]

commands:
  audit <account-id>                         reconcile balance against the ledger
  bankroll <account-id>                      show balance, exposure and profit/loss
  stats [-league L] [-bet-type T] <account-id>
                                             show account statistics
  settle [-closing-price P] <bet-id> <won|lost|pushed> <actual-return>
                                             settle a bet manually
  sweep                                      run one scheduler sweep
`

// app holds the services a command needs
type app struct {
	store      *sqlstore.SQLStore
	accounts   *service.AccountService
	statistics *service.StatisticsService
	scheduler  *scheduler.Scheduler
	closers    []func() error
}

func main() {
	_ = godotenv.Load()

	if err := run(context.Background(), os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "ledgerctl:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("ledgerctl", flag.ContinueOnError)
	configPath := fs.String("config", os.Getenv("BANKROLL_LEDGER_CONFIG"), "path to config file")
	verbose := fs.Bool("verbose", false, "log to stderr")
	fs.SetOutput(out)
	fs.Usage = func() { fmt.Fprint(out, usage) }
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return errors.New("missing command")
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		return err
	}

	logger := zerolog.Nop()
	if *verbose {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).With().Timestamp().Logger()
	}

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.close()

	cmd, rest := fs.Arg(0), fs.Args()[1:]
	switch cmd {
	case "audit":
		return a.audit(ctx, rest, out)
	case "bankroll":
		return a.bankroll(ctx, rest, out)
	case "stats":
		return a.stats(ctx, rest, out)
	case "settle":
		return a.settle(ctx, rest, out)
	case "sweep":
		return a.sweep(ctx, out)
	default:
		fs.Usage()
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func newApp(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*app, error) {
	st, err := sqlstore.Open(ctx, sqlstore.Config{
		Driver:       cfg.Database.Driver,
		DSN:          cfg.Database.DSN,
		MaxOpenConns: cfg.Database.MaxOpenConns,
		LockTimeout:  cfg.Database.LockTimeout,
	}, logger)
	if err != nil {
		return nil, err
	}
	a := &app{store: st, closers: []func() error{st.Close}}

	// redis locking shares the server client and read cache
	var locker service.Locker = locks.NewMemoryLocker(cfg.Locks.Timeout)
	var readCache service.Cache
	if cfg.Locks.Backend == "redis" {
		redisCache := cache.NewRedisCache(cache.RedisCacheConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			TTL:      cfg.Redis.TTL,
		}, logger)
		a.closers = append(a.closers, redisCache.Close)
		if err := redisCache.Ping(ctx); err != nil {
			a.close()
			return nil, fmt.Errorf("redis: %w", err)
		}
		locker = locks.NewRedisLocker(redisCache.Client(), locks.RedisLockerConfig{
			TTL:           cfg.Locks.TTL,
			Timeout:       cfg.Locks.Timeout,
			RetryInterval: cfg.Locks.RetryInterval,
		}, logger)
		readCache = redisCache
	}

	params := cfg.Settlement.ToSettlementParams()
	a.statistics = service.NewStatisticsService(st, readCache, params.Tilt, logger)
	settlement := service.NewSettlementService(st, locker, a.statistics, readCache, nil, params, logger)
	a.accounts = service.NewAccountService(st, locker, readCache, nil, params, logger)
	a.scheduler = scheduler.New(st, settlement, cfg.Scheduler.ToSchedulerConfig(), nil, logger)
	return a, nil
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func (a *app) audit(ctx context.Context, args []string, out io.Writer) error {
	id, err := parseID(args)
	if err != nil {
		return err
	}

	report, err := a.accounts.AuditReconcile(ctx, id)
	if report != nil {
		table := tablewriter.NewWriter(out)
		table.Header("Account", "Settled bets", "Expected", "Actual", "Discrepancy", "Balanced")
		table.Append(
			report.AccountID.String(),
			fmt.Sprintf("%d", report.SettledBets),
			report.ExpectedBalance.StringFixed(2),
			report.ActualBalance.StringFixed(2),
			report.Discrepancy.StringFixed(2),
			yesNo(report.Balanced),
		)
		table.Render()
	}
	return err
}

func (a *app) bankroll(ctx context.Context, args []string, out io.Writer) error {
	id, err := parseID(args)
	if err != nil {
		return err
	}

	status, err := a.accounts.GetBankrollStatus(ctx, id)
	if err != nil {
		return err
	}

	table := tablewriter.NewWriter(out)
	table.Header("Balance", "Baseline", "Pending", "Available", "P/L", "P/L %", "Unit")
	table.Append(
		status.Balance.StringFixed(2),
		status.Baseline.StringFixed(2),
		fmt.Sprintf("%s (%d)", status.PendingStake.StringFixed(2), status.PendingBets),
		status.Available.StringFixed(2),
		status.ProfitLoss.StringFixed(2),
		status.ProfitLossPct.StringFixed(2)+"%",
		status.UnitSize.StringFixed(2),
	)
	table.Render()
	return nil
}

func (a *app) stats(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("stats", flag.ContinueOnError)
	fs.SetOutput(out)
	league := fs.String("league", "", "only bets in this league")
	betType := fs.String("bet-type", "", "only bets of this market")
	if err := fs.Parse(args); err != nil {
		return err
	}
	id, err := parseID(fs.Args())
	if err != nil {
		return err
	}

	snap, err := a.statistics.GetStatistics(ctx, id, models.StatisticsFilter{League: *league, BetType: strings.ToLower(*betType)})
	if err != nil {
		return err
	}

	clv := "-"
	if snap.AverageCLV != nil {
		clv = fmt.Sprintf("%+.2f%% (%d)", *snap.AverageCLV*100, snap.CLVBets)
	}

	table := tablewriter.NewWriter(out)
	table.Header("Bets", "W-L-P", "Win %", "ROI %", "Staked", "P/L", "Streak", "Best/Worst", "Tilt", "Avg CLV")
	table.Append(
		fmt.Sprintf("%d", snap.TotalBets),
		fmt.Sprintf("%d-%d-%d", snap.Wins, snap.Losses, snap.Pushes),
		fmt.Sprintf("%.1f", snap.WinRate*100),
		fmt.Sprintf("%.1f", snap.ROI*100),
		snap.TotalStaked.StringFixed(2),
		snap.TotalProfitLoss.StringFixed(2),
		streak(snap.CurrentStreak),
		fmt.Sprintf("W%d / L%d", snap.LongestWinStreak, snap.LongestLossStreak),
		fmt.Sprintf("%.0f", snap.TiltScore),
		clv,
	)
	table.Render()
	return nil
}

func (a *app) settle(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("settle", flag.ContinueOnError)
	fs.SetOutput(out)
	closing := fs.Int("closing-price", 0, "closing American price for CLV")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 3 {
		return errors.New("settle needs <bet-id> <outcome> <actual-return>")
	}

	id, err := uuid.Parse(fs.Arg(0))
	if err != nil {
		return fmt.Errorf("invalid bet id: %w", err)
	}
	outcome, err := models.ParseOutcome(strings.ToLower(fs.Arg(1)))
	if err != nil {
		return err
	}
	ret, err := decimal.NewFromString(fs.Arg(2))
	if err != nil {
		return fmt.Errorf("invalid actual return: %w", err)
	}

	req := models.SettlementRequest{BetID: id, Outcome: outcome, ActualReturn: ret, Source: models.SourceUser}
	if *closing != 0 {
		req.ClosingPrice = closing
	}

	result, err := a.scheduler.SettleNow(ctx, req)
	if err != nil {
		return err
	}

	table := tablewriter.NewWriter(out)
	table.Header("Bet", "Outcome", "Return", "P/L", "Balance", "Settled at")
	table.Append(
		result.Bet.ID.String(),
		string(outcome),
		ret.StringFixed(2),
		result.ProfitLoss.StringFixed(2),
		result.Balance.StringFixed(2),
		result.SettledAt.Format(time.RFC3339),
	)
	table.Render()
	return nil
}

func (a *app) sweep(ctx context.Context, out io.Writer) error {
	report, err := a.scheduler.Sweep(ctx)
	if err != nil {
		return err
	}

	table := tablewriter.NewWriter(out)
	table.Header("Scanned", "Settled", "Already settled", "Skipped", "Quarantined", "Contended", "Failed", "Took")
	table.Append(
		fmt.Sprintf("%d", report.Scanned),
		fmt.Sprintf("%d", report.Settled),
		fmt.Sprintf("%d", report.AlreadySettled),
		fmt.Sprintf("%d", report.Skipped),
		fmt.Sprintf("%d", report.Quarantined),
		fmt.Sprintf("%d", report.RetryExhausted),
		fmt.Sprintf("%d", report.Failed),
		report.Duration.Round(time.Millisecond).String(),
	)
	table.Render()

	for _, q := range a.scheduler.Quarantined() {
		fmt.Fprintf(out, "quarantined %s: %s\n", q.BetID, q.Reason)
	}
	return nil
}

func parseID(args []string) (uuid.UUID, error) {
	if len(args) != 1 {
		return uuid.Nil, errors.New("expected exactly one id")
	}
	id, err := uuid.Parse(args[0])
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid id %q: %w", args[0], err)
	}
	return id, nil
}

func streak(s models.Streak) string {
	switch s.Type {
	case models.OutcomeWon:
		return fmt.Sprintf("W%d", s.Length)
	case models.OutcomeLost:
		return fmt.Sprintf("L%d", s.Length)
	default:
		return "-"
	}
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "NO"
}
