// Package certpublish parses publisher command flags and runs one publishing
// pass over the certificate and CID documents.
package certpublish

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	entrypoint "github.com/louisbranch/certpublish/internal/platform/cmd"
	apperrors "github.com/louisbranch/certpublish/internal/platform/errors"
	"github.com/louisbranch/certpublish/internal/services/publisher/app"
	"github.com/louisbranch/certpublish/internal/services/publisher/chain/ethereum"
	"github.com/louisbranch/certpublish/internal/services/publisher/chain/memory"
	"github.com/louisbranch/certpublish/internal/services/publisher/domain"
	"github.com/louisbranch/certpublish/internal/services/publisher/input"
	journalsqlite "github.com/louisbranch/certpublish/internal/services/publisher/storage/sqlite"
)

const (
	envFileVar     = "CERTPUBLISH_ENV_FILE"
	defaultEnvFile = ".env"
)

// Config holds publisher command configuration.
type Config struct {
	CertificatesPath string        `env:"CERTPUBLISH_CERTIFICATES_PATH" envDefault:"all_certificates.json"`
	CIDsPath         string        `env:"CERTPUBLISH_CIDS_PATH" envDefault:"CID-CERTIFICATES.json"`
	RPCURL           string        `env:"CERTPUBLISH_RPC_URL"`
	PrivateKey       string        `env:"CERTPUBLISH_PRIVATE_KEY"`
	ContractAddress  string        `env:"CERTPUBLISH_CONTRACT_ADDRESS"`
	ChainID          int64         `env:"CERTPUBLISH_CHAIN_ID" envDefault:"0"`
	DialTimeout      time.Duration `env:"CERTPUBLISH_DIAL_TIMEOUT" envDefault:"10s"`
	JournalPath      string        `env:"CERTPUBLISH_JOURNAL_PATH"`
	DryRun           bool          `env:"CERTPUBLISH_DRY_RUN" envDefault:"false"`
	ValidateCIDs     bool          `env:"CERTPUBLISH_VALIDATE_CIDS" envDefault:"false"`
	History          int
}

// ParseConfig parses the env file, environment and flags into a Config. The
// private key is read from the environment only.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	envFile, ok := os.LookupEnv(envFileVar)
	if !ok {
		envFile = defaultEnvFile
	}
	if err := entrypoint.ParseConfig(&cfg, envFile); err != nil {
		return Config{}, err
	}
	fs.StringVar(&cfg.CertificatesPath, "certificates", cfg.CertificatesPath, "Certificates JSON array path")
	fs.StringVar(&cfg.CIDsPath, "cids", cfg.CIDsPath, "CID records JSON array path")
	fs.StringVar(&cfg.RPCURL, "rpc-url", cfg.RPCURL, "Ethereum JSON-RPC endpoint")
	fs.StringVar(&cfg.ContractAddress, "contract", cfg.ContractAddress, "Certificate registry contract address")
	fs.Int64Var(&cfg.ChainID, "chain-id", cfg.ChainID, "Chain id; 0 asks the node")
	fs.DurationVar(&cfg.DialTimeout, "dial-timeout", cfg.DialTimeout, "RPC dial and chain id timeout")
	fs.StringVar(&cfg.JournalPath, "journal", cfg.JournalPath, "SQLite publish journal path; empty disables it")
	fs.BoolVar(&cfg.DryRun, "dry-run", cfg.DryRun, "Publish to an in-memory registry instead of the chain")
	fs.BoolVar(&cfg.ValidateCIDs, "validate-cids", cfg.ValidateCIDs, "Reject CIDs that do not decode before minting")
	fs.IntVar(&cfg.History, "history", 0, "Print the last N journal rows and exit")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run executes one publishing pass and writes the summary to out.
func Run(ctx context.Context, cfg Config, out io.Writer) error {
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceCertPublish, func(ctx context.Context) error {
		if cfg.History > 0 {
			return printHistory(ctx, cfg, out)
		}
		return publish(ctx, cfg, out)
	})
}

func publish(ctx context.Context, cfg Config, out io.Writer) error {
	// Both documents are checked before any chain interaction.
	docs, err := input.Load(cfg.CertificatesPath, cfg.CIDsPath)
	if err != nil {
		return err
	}
	cids := domain.NewCIDIndex(docs.CIDs)
	log.Printf("loaded %d certificates and %d cid records for %d terrains", len(docs.Certificates), len(docs.CIDs), cids.Len())
	if docs.SkippedCIDs > 0 {
		log.Printf("skipped %d malformed cid records", docs.SkippedCIDs)
	}

	var contract app.Contract
	var ledger *memory.Ledger
	if cfg.DryRun {
		ledger, err = openLedger(cfg)
		if err != nil {
			return err
		}
		contract = ledger
	} else {
		client, err := dialRegistry(ctx, cfg)
		if err != nil {
			return err
		}
		defer client.Close()
		contract = client
	}

	decoder, err := ethereum.NewLogDecoder()
	if err != nil {
		return err
	}

	runID := uuid.NewString()
	opts := app.Options{
		ValidateCIDs: cfg.ValidateCIDs,
		Decoder:      decoder,
		RunID:        runID,
	}
	if strings.TrimSpace(cfg.JournalPath) != "" {
		store, err := openJournal(ctx, cfg.JournalPath)
		if err != nil {
			return err
		}
		defer func() {
			if closeErr := store.Close(); closeErr != nil {
				log.Printf("close publish journal: %v", closeErr)
			}
		}()
		opts.Journal = store
	}

	log.Printf("starting run %s", runID)
	summary, runErr := app.New(contract, opts).Run(ctx, docs.Certificates, cids)
	fmt.Fprintf(out, "run %s: %s\n", runID, summary)
	if ledger != nil {
		printLedger(out, ledger)
	}
	return runErr
}

func openLedger(cfg Config) (*memory.Ledger, error) {
	owner := common.Address{}
	if strings.TrimSpace(cfg.PrivateKey) != "" {
		signer, err := ethereum.SignerAddress(cfg.PrivateKey)
		if err != nil {
			return nil, err
		}
		owner = signer
	}
	log.Printf("dry run: publishing to an in-memory registry")
	return memory.NewLedger(owner), nil
}

func dialRegistry(ctx context.Context, cfg Config) (*ethereum.Client, error) {
	client, err := ethereum.Dial(ctx, ethereum.Config{
		RPCURL:          cfg.RPCURL,
		PrivateKey:      cfg.PrivateKey,
		ContractAddress: cfg.ContractAddress,
		ChainID:         cfg.ChainID,
		DialTimeout:     cfg.DialTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("connect to registry: %w", err)
	}
	log.Printf("publishing to %s as %s", client.ContractAddress().Hex(), client.Signer().Hex())
	return client, nil
}

// printLedger lists the dry-run registry state after the run.
func printLedger(out io.Writer, ledger *memory.Ledger) {
	for _, cert := range ledger.Certificates() {
		line := fmt.Sprintf("dry-run %s\t%s\tlat=%d lon=%d ndvi=%d", cert.TerrainID, cert.Status, cert.Lat, cert.Lon, cert.NDVI)
		if cert.MintedNFT {
			line += fmt.Sprintf("\ttoken=%s cid=%s", cert.TokenID, cert.CIDPdf)
		}
		fmt.Fprintln(out, line)
	}
}

func openJournal(ctx context.Context, path string) (*journalsqlite.Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create journal dir: %w", err)
		}
	}
	store, err := journalsqlite.Open(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("open publish journal: %w", err)
	}
	return store, nil
}

func printHistory(ctx context.Context, cfg Config, out io.Writer) error {
	if strings.TrimSpace(cfg.JournalPath) == "" {
		return apperrors.New(apperrors.CodeConfigInvalid, "history requires a journal path")
	}
	store, err := openJournal(ctx, cfg.JournalPath)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := store.Close(); closeErr != nil {
			log.Printf("close publish journal: %v", closeErr)
		}
	}()

	records, err := store.ListRecent(ctx, cfg.History)
	if err != nil {
		return err
	}
	for _, record := range records {
		line := fmt.Sprintf("%s\t%s\t%s\t%s",
			record.CreatedAt.Format(time.RFC3339),
			record.RunID,
			record.TerrainID,
			record.Outcome,
		)
		if record.TokenID != "" {
			line += "\ttoken=" + record.TokenID
		}
		if record.TxHash != "" {
			line += "\ttx=" + record.TxHash
		}
		if record.ErrorCode != "" {
			line += "\terror=" + record.ErrorCode + ": " + record.LastError
		}
		fmt.Fprintln(out, line)
	}
	return nil
}
