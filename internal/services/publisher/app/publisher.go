// Package app runs the certificate publishing workflow: upsert every
// certificate, then mint a token for each suitable parcel that has a CID and
// has not been minted yet.
package app

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	apperrors "github.com/louisbranch/certpublish/internal/platform/errors"
	"github.com/louisbranch/certpublish/internal/services/publisher/domain"
	"github.com/louisbranch/certpublish/internal/services/publisher/storage"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	tracerName     = "github.com/louisbranch/certpublish/internal/services/publisher/app"
	recordSpanName = "certpublish.record"
)

// Contract is the certificate registry the publisher writes to. Write calls
// return once the transaction is confirmed.
type Contract interface {
	UpsertCertificate(ctx context.Context, cert domain.ChainCertificate) error
	GetCertificate(ctx context.Context, terrainID string) (domain.OnChainCertificate, error)
	MintForSuitable(ctx context.Context, terrainID, cid string) (domain.TxResult, error)
}

// Options tunes a Publisher. The zero value is usable.
type Options struct {
	// ValidateCIDs rejects CIDs that do not decode before minting.
	ValidateCIDs bool
	// Decoder decodes raw mint logs when the client reports no events.
	Decoder domain.LogDecoder
	// Journal, when set, receives one row per processed record.
	Journal storage.JournalStore
	// RunID groups journal rows of one run.
	RunID string
	// Tracer starts the per-record spans; defaults to the global provider.
	Tracer trace.Tracer
	// Logf receives progress lines; defaults to log.Printf.
	Logf func(string, ...any)
	// Now stamps journal rows; defaults to time.Now.
	Now func() time.Time
}

// Publisher processes certificate records strictly in order.
type Publisher struct {
	contract     Contract
	decoder      domain.LogDecoder
	journal      storage.JournalStore
	runID        string
	validateCIDs bool
	tracer       trace.Tracer
	logf         func(string, ...any)
	now          func() time.Time
}

// New builds a Publisher over contract.
func New(contract Contract, opts Options) *Publisher {
	if opts.Tracer == nil {
		opts.Tracer = otel.Tracer(tracerName)
	}
	if opts.Logf == nil {
		opts.Logf = log.Printf
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Publisher{
		contract:     contract,
		decoder:      opts.Decoder,
		journal:      opts.Journal,
		runID:        strings.TrimSpace(opts.RunID),
		validateCIDs: opts.ValidateCIDs,
		tracer:       opts.Tracer,
		logf:         opts.Logf,
		now:          opts.Now,
	}
}

// Summary counts what a run did.
type Summary struct {
	Records              int
	Upserted             int
	Minted               int
	SkippedNotSuitable   int
	SkippedAlreadyMinted int
	SkippedMissingCID    int
	Failed               int
	UnknownTokenIDs      int
}

// Skipped is the number of records that were upserted but not minted.
func (s Summary) Skipped() int {
	return s.SkippedNotSuitable + s.SkippedAlreadyMinted + s.SkippedMissingCID
}

func (s Summary) String() string {
	return fmt.Sprintf(
		"records=%d upserted=%d minted=%d skipped=%d (not_suitable=%d already_minted=%d missing_cid=%d) failed=%d unknown_token_ids=%d",
		s.Records,
		s.Upserted,
		s.Minted,
		s.Skipped(),
		s.SkippedNotSuitable,
		s.SkippedAlreadyMinted,
		s.SkippedMissingCID,
		s.Failed,
		s.UnknownTokenIDs,
	)
}

func (s *Summary) add(result recordResult) {
	s.Records++
	if result.upserted {
		s.Upserted++
	}
	switch result.outcome {
	case storage.OutcomeMinted:
		s.Minted++
		if result.tokenID == domain.UnknownTokenID {
			s.UnknownTokenIDs++
		}
	case storage.OutcomeSkippedNotSuitable:
		s.SkippedNotSuitable++
	case storage.OutcomeSkippedAlreadyMinted:
		s.SkippedAlreadyMinted++
	case storage.OutcomeSkippedMissingCID:
		s.SkippedMissingCID++
	default:
		s.Failed++
	}
}

// Run publishes certs in order. Record failures are logged and counted; the
// only error Run returns is the context's, when the run is cut short. The
// summary line is logged either way.
func (p *Publisher) Run(ctx context.Context, certs []domain.CertificateRecord, cids domain.CIDIndex) (Summary, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	var summary Summary
	var runErr error
	for _, cert := range certs {
		if err := ctx.Err(); err != nil {
			runErr = err
			break
		}
		result := p.publishOne(ctx, cert, cids)
		summary.add(result)
		if result.err != nil && ctx.Err() != nil {
			runErr = ctx.Err()
			break
		}
	}

	p.logf("all done: %s", summary)
	if runErr != nil {
		return summary, fmt.Errorf("publish interrupted after %d of %d records: %w", summary.Records, len(certs), runErr)
	}
	return summary, nil
}

type recordResult struct {
	outcome  string
	status   string
	tokenID  string
	txHash   string
	cid      string
	path     domain.ExtractionPath
	upserted bool
	err      error
}

func (r *recordResult) fail(code apperrors.Code, message string, err error) {
	if coded := apperrors.CodeOf(err); coded != apperrors.CodeUnknown {
		code = coded
	}
	r.outcome = storage.OutcomeFailed
	r.err = apperrors.Wrap(code, message, err)
}

func (p *Publisher) publishOne(ctx context.Context, rec domain.CertificateRecord, cids domain.CIDIndex) recordResult {
	ctx, span := p.tracer.Start(ctx, recordSpanName, trace.WithAttributes(
		attribute.String("terrain.id", rec.TerrainID),
	))
	defer span.End()

	result := p.process(ctx, rec, cids)
	span.SetAttributes(attribute.String("publish.outcome", result.outcome))
	if result.err != nil {
		span.RecordError(result.err)
		span.SetStatus(codes.Error, result.err.Error())
		p.logf("error processing terrain %s: %v", rec.TerrainID, result.err)
	}
	p.record(ctx, rec, result)
	return result
}

func (p *Publisher) process(ctx context.Context, rec domain.CertificateRecord, cids domain.CIDIndex) recordResult {
	var result recordResult
	p.logf("uploading certificate data for terrain %s", rec.TerrainID)

	cert, err := domain.ToChainCertificate(rec)
	if err != nil {
		result.fail(apperrors.CodeRecordInvalid, "malformed record", err)
		return result
	}
	result.status = cert.Status

	if err := p.contract.UpsertCertificate(ctx, cert); err != nil {
		result.fail(apperrors.CodeUpsertFailed, "upsert certificate", err)
		return result
	}
	result.upserted = true
	p.logf("certificate data added for terrain %s", cert.TerrainID)

	if cert.Status != domain.StatusSuitable {
		p.logf("terrain %s not suitable, skipping mint", cert.TerrainID)
		result.outcome = storage.OutcomeSkippedNotSuitable
		return result
	}

	onChain, err := p.contract.GetCertificate(ctx, cert.TerrainID)
	if err != nil {
		result.fail(apperrors.CodeCertificateReadFailed, "read certificate", err)
		return result
	}
	if onChain.MintedNFT {
		p.logf("nft already minted for terrain %s, skipping mint", cert.TerrainID)
		result.outcome = storage.OutcomeSkippedAlreadyMinted
		return result
	}

	cid, ok := cids.Lookup(cert.TerrainID)
	if !ok {
		p.logf("warning: cid not found for suitable terrain %s, skipping mint", cert.TerrainID)
		result.outcome = storage.OutcomeSkippedMissingCID
		return result
	}
	result.cid = cid
	if p.validateCIDs {
		if err := domain.ValidateCID(cid); err != nil {
			result.fail(apperrors.CodeCIDInvalid, "malformed record", err)
			return result
		}
	}

	tx, err := p.contract.MintForSuitable(ctx, cert.TerrainID, cid)
	if err != nil {
		result.fail(apperrors.CodeMintFailed, "mint nft", err)
		return result
	}

	extraction := domain.ExtractTokenID(tx, p.decoder)
	if extraction.Path == domain.PathManual {
		p.logf("no events in mint result for terrain %s, decoded logs manually", cert.TerrainID)
	}
	if !extraction.Found {
		p.logf("warning: could not decode token id for terrain %s", cert.TerrainID)
	}
	p.logf("nft minted for terrain %s with token id %s and cid %s", cert.TerrainID, extraction.TokenID, cid)

	result.outcome = storage.OutcomeMinted
	result.tokenID = extraction.TokenID
	result.txHash = tx.TxHash
	result.path = extraction.Path
	return result
}
