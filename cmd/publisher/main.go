package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	flag "github.com/spf13/pflag"
	"github.com/vocdoni/davinci-publisher/circuits/isodd"
	"github.com/vocdoni/davinci-publisher/log"
	"github.com/vocdoni/davinci-publisher/prover"
	"github.com/vocdoni/davinci-publisher/publisher"
	"github.com/vocdoni/davinci-publisher/seal"
	"github.com/vocdoni/davinci-publisher/storage"
	"github.com/vocdoni/davinci-publisher/types"
	"github.com/vocdoni/davinci-publisher/verifier"
	"github.com/vocdoni/davinci-publisher/web3"
)

// verifierVersion is the version of the verifier routine the registry
// contract routes the is-odd seals to.
const verifierVersion = 1

// exit codes
const (
	exitFailure   = 1
	exitConfig    = 2
	exitRetryable = 75 // EX_TEMPFAIL
)

// Services holds the components of a publisher process
type Services struct {
	Storage   *storage.Storage
	Client    *web3.Client
	Publisher *publisher.Publisher
}

func main() {
	os.Exit(run())
}

// run executes the command and returns its exit code. The logger is acquired
// here and released on every return path.
func run() int {
	cfg, err := loadConfig(os.Args[1:])
	if errors.Is(err, flag.ErrHelp) {
		return 0
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		return exitConfig
	}
	if err := validateConfig(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		return exitConfig
	}

	closeLog := log.Init(cfg.Log.Level, cfg.Log.Output)
	defer func() {
		if err := closeLog(); err != nil {
			fmt.Fprintf(os.Stderr, "failed to close log output: %v\n", err)
		}
	}()
	log.Infow("starting davinci-publisher", "version", Version)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	services, err := setupServices(ctx, cfg)
	if err != nil {
		log.Errorw(err, "failed to setup services")
		return exitFailure
	}
	defer shutdownServices(services)

	if cfg.Reconcile {
		if err := reconcile(ctx, cfg, services); err != nil {
			log.Errorw(err, "reconciliation failed")
			return exitFailure
		}
		return 0
	}
	return publish(ctx, cfg, services)
}

// setupServices initializes the ledger, the prover, the chain client and the
// publisher.
func setupServices(ctx context.Context, cfg *Config) (*Services, error) {
	services := &Services{}
	net, err := network(cfg)
	if err != nil {
		return nil, err
	}
	contract, err := net.ResolveContract(cfg.Web3.Contract)
	if err != nil {
		return nil, err
	}

	log.Infow("initializing storage", "datadir", cfg.Datadir)
	if services.Storage, err = storage.Open(filepath.Join(cfg.Datadir, "ledger")); err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	signer, err := web3.NewSignerFromHex(cfg.Web3.PrivKey)
	if err != nil {
		shutdownServices(services)
		return nil, fmt.Errorf("failed to load private key: %w", err)
	}
	services.Client, err = web3.Dial(ctx, cfg.Web3.RPC, signer, web3.Config{
		ChainID:       net.ChainID,
		Contract:      contract,
		Confirmations: net.Confirmations,
	})
	if err != nil {
		shutdownServices(services)
		return nil, fmt.Errorf("failed to initialize web3 client: %w", err)
	}
	if err := services.Client.WaitReady(ctx); err != nil {
		shutdownServices(services)
		return nil, err
	}
	if cfg.Reconcile {
		return services, nil
	}

	log.Infow("loading prover", "program", isodd.Name, "keys", cfg.Prover.Keys)
	local, err := prover.NewLocal(cfg.Prover.Keys, isodd.Program{})
	if err != nil {
		shutdownServices(services)
		return nil, fmt.Errorf("failed to initialize prover: %w", err)
	}
	programID := prover.ProgramIDFromName(isodd.Name)
	router, registry, err := verifier.FromLocal(local, verifierVersion, programID)
	if err != nil {
		shutdownServices(services)
		return nil, fmt.Errorf("failed to load verifier: %w", err)
	}
	for _, e := range registry.Entries() {
		log.Infow("seal selector registered",
			"selector", e.Selector.String(),
			"kind", e.Kind.String(),
			"version", e.Version,
			"verifier", e.VerifierDigest.Hex())
	}

	opts := publisher.Options{
		Program:        programID,
		ConfirmTimeout: cfg.Confirm.Timeout,
		Observer:       publisher.NewLogObserver(),
		Recorder:       services.Storage,
	}
	if cfg.Preflight {
		opts.Preflight = router
	}
	services.Publisher, err = publisher.New(local, seal.NewEncoder(registry), services.Client, opts)
	if err != nil {
		shutdownServices(services)
		return nil, fmt.Errorf("failed to initialize publisher: %w", err)
	}
	return services, nil
}

// publish runs one publish and maps its outcome to an exit code.
func publish(ctx context.Context, cfg *Config, services *Services) int {
	value, err := types.ParseValue(cfg.Input)
	if err != nil {
		log.Errorw(err, "invalid input")
		return exitConfig
	}
	run, err := services.Publisher.Publish(ctx, value)
	if err != nil {
		var f *publisher.Failure
		if errors.As(err, &f) {
			if f.Kind.OutcomeUnknown() {
				log.Warnw("transaction outcome unknown, run with --reconcile later; do not resubmit",
					"run", run.ID.String(), "tx", f.TxHash.Hex())
			}
			if f.RetrySafe() {
				return exitRetryable
			}
		}
		return exitFailure
	}
	stored, err := services.Client.Value(ctx)
	if err != nil {
		log.Warnw("could not read back the registry value", "error", err.Error())
		return 0
	}
	log.Infow("registry value", "value", stored.Dec(), "tx", run.TxHash.Hex())
	return 0
}

// reconcile re-checks the runs left with an unknown outcome.
func reconcile(ctx context.Context, cfg *Config, services *Services) error {
	updated, err := publisher.Reconcile(ctx, services.Client, services.Storage, cfg.Confirm.Timeout)
	for _, rec := range updated {
		log.Infow("run reconciled",
			"run", rec.ID,
			"tx", rec.TxHash.Hex(),
			"state", rec.State,
			"kind", rec.Kind,
			"pending", rec.Pending)
	}
	if err != nil {
		return err
	}
	log.Infow("reconciliation finished", "runs", len(updated))
	return nil
}

// shutdownServices releases the services in reverse order of creation
func shutdownServices(services *Services) {
	if services == nil {
		return
	}
	if services.Client != nil {
		services.Client.Close()
	}
	if services.Storage != nil {
		if err := services.Storage.Close(); err != nil {
			log.Errorw(err, "failed to close storage")
		}
	}
}
