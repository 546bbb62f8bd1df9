package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/fastprodman/balancesync/internal/api/ws"
	"github.com/fastprodman/balancesync/internal/clients/bankhttp"
	"github.com/fastprodman/balancesync/internal/clients/banksim"
	"github.com/fastprodman/balancesync/internal/infra/logging"
	"github.com/fastprodman/balancesync/internal/money"
	"github.com/fastprodman/balancesync/internal/services/ledger"
	"github.com/fastprodman/balancesync/internal/services/reconcile"
	"github.com/fastprodman/balancesync/internal/services/session"
	"github.com/fastprodman/balancesync/pkg/envconf"
	"github.com/fastprodman/balancesync/pkg/shutdownqueue"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"
)

type options struct {
	kind        string
	amount      string
	description string
	location    string
	listen      string
	simulate    bool
	simCash     string
	simBank     string
}

// flow is one money flow requested on the command line.
type flow struct {
	kind   ledger.Kind
	amount money.Money
	note   session.Note
}

func main() {
	var opts options

	flag.StringVar(&opts.kind, "kind", "", "Money flow to run: "+kindList())
	flag.StringVar(&opts.amount, "amount", "", "Amount of the money flow, e.g. 400.00")
	flag.StringVar(&opts.description, "desc", "", "Description shown in the history")
	flag.StringVar(&opts.location, "location", "", "Location shown in the history")
	flag.StringVar(&opts.listen, "listen", "", "Serve the live balance stream on this address, e.g. :8090")
	flag.BoolVar(&opts.simulate, "simulate", false, "Use an in-memory bank instead of BANK_URL")
	flag.StringVar(&opts.simCash, "sim-cash", "1000", "Initial cash of the simulated bank")
	flag.StringVar(&opts.simBank, "sim-bank", "0", "Initial bank balance of the simulated bank")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := run(ctx, opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error running session: %v\n", err)
		//nolint:gocritic
		os.Exit(1)
	}
}

func run(ctx context.Context, opts options) (retErr error) {
	_ = godotenv.Load()

	cfg := new(sessionConfig)

	err := envconf.Load(cfg)
	if err != nil {
		return fmt.Errorf("init config: %w", err)
	}

	log := logging.SetupText(os.Stderr, cfg.LogLevel)

	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()

		serr := shutdownqueue.Shutdown(shutdownCtx)
		if serr != nil {
			retErr = errors.Join(retErr, serr)
		}
	}()

	f, err := parseFlow(opts)
	if err != nil {
		return err
	}

	backend, err := newBackend(cfg, opts)
	if err != nil {
		return err
	}

	store, err := openStore(ctx, cfg.Store)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}

	s := session.New(cfg.SessionID, backend, store, cfg.Session, log)

	g, gctx := errgroup.WithContext(ctx)
	runCtx, cancelRun := context.WithCancel(gctx)

	g.Go(func() error {
		err := s.Run(runCtx)
		if errors.Is(err, context.Canceled) {
			return nil
		}

		return err
	})

	if opts.listen != "" {
		srv := ws.NewServer(opts.listen, ws.NewHub(s, log))

		g.Go(func() error {
			log.Info("serving balance stream", slog.String("addr", opts.listen))

			serr := srv.ListenAndServe()
			if serr != nil && !errors.Is(serr, http.ErrServerClosed) {
				return fmt.Errorf("stream server: %w", serr)
			}

			return nil
		})

		g.Go(func() error {
			<-runCtx.Done()

			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
			defer cancel()

			return srv.Shutdown(shutdownCtx)
		})
	}

	g.Go(func() error {
		if opts.listen == "" {
			defer cancelRun()
		}

		err := drive(runCtx, s, f, cfg, log)
		if err != nil {
			cancelRun()

			return err
		}

		if opts.listen != "" {
			<-runCtx.Done()
		}

		return nil
	})

	err = g.Wait()
	cancelRun()

	return err
}

// drive resumes the session, reconciles it with the bank, runs the requested
// flow and prints the outcome.
func drive(ctx context.Context, s *session.Session, f *flow, cfg *sessionConfig, log *slog.Logger) error {
	resumed, err := s.Resume(ctx)
	if err != nil {
		return fmt.Errorf("resume session: %w", err)
	}

	log.Info("session ready", slog.Bool("resumed", resumed), slog.Int("pending", len(s.Pending())))

	err = s.Reconcile(ctx)
	if err != nil {
		// offline start: work from the local snapshot
		log.Warn("initial reconcile failed", logging.Err(err))
	}

	if f != nil {
		tx, err := s.Submit(f.kind, f.amount, f.note)
		if err != nil {
			return fmt.Errorf("%s: %w", f.kind, err)
		}

		log.Info("transaction applied locally", slog.String("tx", tx.ID.String()))
	}

	waitCtx, cancel := context.WithTimeout(ctx, cfg.ResolveTimeout)
	defer cancel()

	err = s.WaitIdle(waitCtx)
	if err != nil {
		log.Warn("transactions still pending", logging.Err(err))
	}

	degraded, perr := s.Degraded()
	if degraded {
		log.Warn("session state is not persisted", logging.Err(perr))
	}

	printSnapshot(os.Stdout, s.Snapshot())
	printHistory(os.Stdout, s.History())

	return nil
}

func parseFlow(opts options) (*flow, error) {
	if opts.kind == "" {
		return nil, nil
	}

	kind := ledger.Kind(opts.kind)
	if !kind.Valid() {
		return nil, fmt.Errorf("unknown kind %q, want one of %s", opts.kind, kindList())
	}

	amount, err := money.Parse(opts.amount)
	if err != nil {
		return nil, fmt.Errorf("parse amount: %w", err)
	}

	return &flow{
		kind:   kind,
		amount: amount,
		note:   session.Note{Description: opts.description, Location: opts.location},
	}, nil
}

func newBackend(cfg *sessionConfig, opts options) (reconcile.Backend, error) {
	if !opts.simulate {
		return bankhttp.New(cfg.Bank), nil
	}

	cash, err := money.Parse(opts.simCash)
	if err != nil {
		return nil, fmt.Errorf("parse sim-cash: %w", err)
	}

	bank, err := money.Parse(opts.simBank)
	if err != nil {
		return nil, fmt.Errorf("parse sim-bank: %w", err)
	}

	return banksim.New(ledger.Balances{Cash: cash, BankBalance: bank}), nil
}

func kindList() string {
	out := ""

	for i, k := range ledger.Kinds {
		if i > 0 {
			out += ", "
		}

		out += string(k)
	}

	return out
}
