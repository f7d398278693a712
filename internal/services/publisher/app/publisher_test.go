package app

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	apperrors "github.com/louisbranch/certpublish/internal/platform/errors"
	"github.com/louisbranch/certpublish/internal/services/publisher/domain"
	"github.com/louisbranch/certpublish/internal/services/publisher/storage"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

const validCID = "QmYwAPJzv5CZsnA625s3Xf2nemtYgPpHdWEz79ojWnPbdG"

type mintCall struct {
	terrainID string
	cid       string
}

type fakeContract struct {
	upserts    []domain.ChainCertificate
	reads      []string
	mints      []mintCall
	minted     map[string]bool
	upsertErr  map[string]error
	readErr    error
	mintErr    error
	mintResult domain.TxResult
	onUpsert   func(terrainID string)
}

func (f *fakeContract) UpsertCertificate(ctx context.Context, cert domain.ChainCertificate) error {
	f.upserts = append(f.upserts, cert)
	if f.onUpsert != nil {
		f.onUpsert(cert.TerrainID)
		if err := ctx.Err(); err != nil {
			return err
		}
	}
	return f.upsertErr[cert.TerrainID]
}

func (f *fakeContract) GetCertificate(_ context.Context, terrainID string) (domain.OnChainCertificate, error) {
	f.reads = append(f.reads, terrainID)
	if f.readErr != nil {
		return domain.OnChainCertificate{}, f.readErr
	}
	return domain.OnChainCertificate{TerrainID: terrainID, MintedNFT: f.minted[terrainID]}, nil
}

func (f *fakeContract) MintForSuitable(_ context.Context, terrainID, cid string) (domain.TxResult, error) {
	f.mints = append(f.mints, mintCall{terrainID: terrainID, cid: cid})
	if f.mintErr != nil {
		return domain.TxResult{}, f.mintErr
	}
	return f.mintResult, nil
}

type fakeJournal struct {
	records []storage.PublishRecord
	err     error
}

func (j *fakeJournal) RecordPublish(ctx context.Context, record storage.PublishRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if j.err != nil {
		return j.err
	}
	j.records = append(j.records, record)
	return nil
}

func (j *fakeJournal) ListRecent(context.Context, int) ([]storage.PublishRecord, error) {
	return j.records, nil
}

type logBuffer struct {
	lines []string
}

func (b *logBuffer) logf(format string, args ...any) {
	b.lines = append(b.lines, fmt.Sprintf(format, args...))
}

func (b *logBuffer) contains(substr string) bool {
	for _, line := range b.lines {
		if strings.Contains(line, substr) {
			return true
		}
	}
	return false
}

func t1Record() domain.CertificateRecord {
	return domain.CertificateRecord{
		TerrainID: "T1",
		CenterLat: 12.345678,
		CenterLon: 98.765432,
		MeanNDVI:  0.6543,
		Status:    "Suitable ",
		Date:      "2024-01-01",
	}
}

func transferResult(tokenID int64) domain.TxResult {
	return domain.TxResult{TxHash: fmt.Sprintf("0x%x", tokenID), Events: []domain.Event{{
		Name: domain.TransferEvent,
		Args: []any{common.Address{}, common.HexToAddress("0xabc"), big.NewInt(tokenID)},
	}}}
}

func newTestPublisher(contract Contract, opts Options) (*Publisher, *logBuffer) {
	logs := &logBuffer{}
	opts.Logf = logs.logf
	return New(contract, opts), logs
}

func TestRunMintsSuitableCertificate(t *testing.T) {
	contract := &fakeContract{mintResult: transferResult(7)}
	publisher, logs := newTestPublisher(contract, Options{})
	cids := domain.NewCIDIndex([]domain.CidRecord{{TerrainID: "T1", CID: "bafy123"}})

	summary, err := publisher.Run(context.Background(), []domain.CertificateRecord{t1Record()}, cids)
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	want := domain.ChainCertificate{
		TerrainID: "T1",
		Lat:       12345678,
		Lon:       98765432,
		NDVI:      6543,
		Status:    "suitable",
		Date:      "2024-01-01",
	}
	if len(contract.upserts) != 1 || contract.upserts[0] != want {
		t.Fatalf("upserts = %+v, want [%+v]", contract.upserts, want)
	}
	if len(contract.mints) != 1 || contract.mints[0] != (mintCall{terrainID: "T1", cid: "bafy123"}) {
		t.Fatalf("mints = %+v, want one T1/bafy123 mint", contract.mints)
	}
	if summary.Minted != 1 || summary.Upserted != 1 || summary.Records != 1 {
		t.Fatalf("summary = %+v", summary)
	}
	if !logs.contains("nft minted for terrain T1 with token id 7 and cid bafy123") {
		t.Fatalf("logs = %v, want mint line", logs.lines)
	}
	if !logs.contains("all done: records=1") {
		t.Fatalf("logs = %v, want summary line", logs.lines)
	}
}

func TestRunSkipsAlreadyMinted(t *testing.T) {
	contract := &fakeContract{minted: map[string]bool{"T1": true}}
	publisher, logs := newTestPublisher(contract, Options{})
	cids := domain.NewCIDIndex([]domain.CidRecord{{TerrainID: "T1", CID: "bafy123"}})

	summary, err := publisher.Run(context.Background(), []domain.CertificateRecord{t1Record()}, cids)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(contract.upserts) != 1 {
		t.Fatalf("upserts = %d, want 1", len(contract.upserts))
	}
	if len(contract.mints) != 0 {
		t.Fatalf("mints = %+v, want none", contract.mints)
	}
	if summary.SkippedAlreadyMinted != 1 {
		t.Fatalf("skipped already minted = %d, want 1", summary.SkippedAlreadyMinted)
	}
	if !logs.contains("nft already minted for terrain T1") {
		t.Fatalf("logs = %v, want skip line", logs.lines)
	}
}

func TestRunSkipsNotSuitableWithoutReading(t *testing.T) {
	contract := &fakeContract{}
	publisher, _ := newTestPublisher(contract, Options{})
	rec := t1Record()
	rec.Status = " UNSUITABLE"

	summary, err := publisher.Run(context.Background(), []domain.CertificateRecord{rec}, domain.NewCIDIndex(nil))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(contract.reads) != 0 || len(contract.mints) != 0 {
		t.Fatalf("reads = %v, mints = %v, want none", contract.reads, contract.mints)
	}
	if contract.upserts[0].Status != "unsuitable" {
		t.Fatalf("status = %q, want %q", contract.upserts[0].Status, "unsuitable")
	}
	if summary.SkippedNotSuitable != 1 || summary.Skipped() != 1 {
		t.Fatalf("summary = %+v", summary)
	}
}

func TestRunMissingCIDKeepsUpsert(t *testing.T) {
	contract := &fakeContract{}
	publisher, logs := newTestPublisher(contract, Options{})
	cids := domain.NewCIDIndex([]domain.CidRecord{{TerrainID: "T9", CID: validCID}})

	summary, err := publisher.Run(context.Background(), []domain.CertificateRecord{t1Record()}, cids)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(contract.upserts) != 1 {
		t.Fatalf("upserts = %d, want 1", len(contract.upserts))
	}
	if len(contract.mints) != 0 {
		t.Fatalf("mints = %+v, want none", contract.mints)
	}
	if summary.SkippedMissingCID != 1 || summary.Failed != 0 {
		t.Fatalf("summary = %+v", summary)
	}
	if !logs.contains("cid not found for suitable terrain T1") {
		t.Fatalf("logs = %v, want warning", logs.lines)
	}
}

func TestRunContinuesAfterUpsertFailure(t *testing.T) {
	contract := &fakeContract{
		upsertErr:  map[string]error{"T1": errors.New("execution reverted")},
		mintResult: transferResult(3),
	}
	publisher, logs := newTestPublisher(contract, Options{})
	second := t1Record()
	second.TerrainID = "T2"
	cids := domain.NewCIDIndex([]domain.CidRecord{{TerrainID: "T2", CID: validCID}})

	summary, err := publisher.Run(context.Background(), []domain.CertificateRecord{t1Record(), second}, cids)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(contract.upserts) != 2 {
		t.Fatalf("upserts = %d, want 2", len(contract.upserts))
	}
	if len(contract.mints) != 1 || contract.mints[0].terrainID != "T2" {
		t.Fatalf("mints = %+v, want T2 only", contract.mints)
	}
	if summary.Failed != 1 || summary.Minted != 1 || summary.Upserted != 1 {
		t.Fatalf("summary = %+v", summary)
	}
	if !logs.contains("error processing terrain T1: upsert certificate: execution reverted") {
		t.Fatalf("logs = %v, want error line", logs.lines)
	}
}

func TestRunRejectsMalformedRecord(t *testing.T) {
	contract := &fakeContract{}
	journal := &fakeJournal{}
	publisher, _ := newTestPublisher(contract, Options{Journal: journal, RunID: "run"})
	rec := t1Record()
	rec.CenterLat = math.NaN()

	summary, err := publisher.Run(context.Background(), []domain.CertificateRecord{rec}, domain.NewCIDIndex(nil))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(contract.upserts) != 0 {
		t.Fatalf("upserts = %d, want 0", len(contract.upserts))
	}
	if summary.Failed != 1 {
		t.Fatalf("failed = %d, want 1", summary.Failed)
	}
	if got := journal.records[0].ErrorCode; got != string(apperrors.CodeRecordInvalid) {
		t.Fatalf("error code = %q, want %q", got, apperrors.CodeRecordInvalid)
	}
	if journal.records[0].CenterWKT != "" {
		t.Fatalf("center wkt = %q, want empty", journal.records[0].CenterWKT)
	}
}

func TestRunIsolatesUndecodedRecord(t *testing.T) {
	contract := &fakeContract{mintResult: transferResult(1)}
	journal := &fakeJournal{}
	publisher, logs := newTestPublisher(contract, Options{Journal: journal, RunID: "run"})
	bad := domain.CertificateRecord{
		TerrainID: "T2",
		Status:    "suitable",
		DecodeErr: errors.New("decode certificate element 1: center_lat is required"),
	}
	third := t1Record()
	third.TerrainID = "T3"
	cids := domain.NewCIDIndex([]domain.CidRecord{{TerrainID: "T1", CID: "bafy123"}, {TerrainID: "T3", CID: "bafy456"}})

	summary, err := publisher.Run(context.Background(), []domain.CertificateRecord{t1Record(), bad, third}, cids)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(contract.upserts) != 2 || contract.upserts[0].TerrainID != "T1" || contract.upserts[1].TerrainID != "T3" {
		t.Fatalf("upserts = %+v, want T1 and T3", contract.upserts)
	}
	if summary.Records != 3 || summary.Failed != 1 || summary.Minted != 2 {
		t.Fatalf("summary = %+v", summary)
	}
	if got := journal.records[1].ErrorCode; got != string(apperrors.CodeRecordInvalid) {
		t.Fatalf("journal[1].error_code = %q, want %q", got, apperrors.CodeRecordInvalid)
	}
	if !logs.contains("error processing terrain T2: malformed record: decode certificate element 1") {
		t.Fatalf("logs = %v, want malformed record line", logs.lines)
	}
}

func TestRunValidatesCIDsWhenEnabled(t *testing.T) {
	contract := &fakeContract{mintResult: transferResult(1)}
	publisher, _ := newTestPublisher(contract, Options{ValidateCIDs: true})
	second := t1Record()
	second.TerrainID = "T2"
	cids := domain.NewCIDIndex([]domain.CidRecord{
		{TerrainID: "T1", CID: "bafy123"},
		{TerrainID: "T2", CID: validCID},
	})

	summary, err := publisher.Run(context.Background(), []domain.CertificateRecord{t1Record(), second}, cids)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(contract.mints) != 1 || contract.mints[0].terrainID != "T2" {
		t.Fatalf("mints = %+v, want T2 only", contract.mints)
	}
	if summary.Failed != 1 || summary.Minted != 1 {
		t.Fatalf("summary = %+v", summary)
	}
}

func TestRunMintFailureCodes(t *testing.T) {
	tests := []struct {
		name    string
		mintErr error
		want    apperrors.Code
		txHash  string
	}{
		{name: "plain", mintErr: errors.New("insufficient funds"), want: apperrors.CodeMintFailed},
		{
			name:    "reverted",
			mintErr: apperrors.WrapWithMetadata(apperrors.CodeTransactionReverted, "transaction 0x1 reverted", map[string]string{"tx_hash": "0x1"}, nil),
			want:    apperrors.CodeTransactionReverted,
			txHash:  "0x1",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			contract := &fakeContract{mintErr: tc.mintErr}
			journal := &fakeJournal{}
			publisher, _ := newTestPublisher(contract, Options{Journal: journal, RunID: "run"})
			cids := domain.NewCIDIndex([]domain.CidRecord{{TerrainID: "T1", CID: "bafy123"}})

			summary, err := publisher.Run(context.Background(), []domain.CertificateRecord{t1Record()}, cids)
			if err != nil {
				t.Fatalf("run: %v", err)
			}
			if summary.Failed != 1 || summary.Upserted != 1 {
				t.Fatalf("summary = %+v", summary)
			}
			record := journal.records[0]
			if record.Outcome != storage.OutcomeFailed || record.ErrorCode != string(tc.want) {
				t.Fatalf("journal = %+v, want failed %s", record, tc.want)
			}
			if record.CID != "bafy123" {
				t.Fatalf("journal cid = %q, want bafy123", record.CID)
			}
			if record.TxHash != tc.txHash {
				t.Fatalf("journal tx hash = %q, want %q", record.TxHash, tc.txHash)
			}
		})
	}
}

func TestRunUnknownTokenID(t *testing.T) {
	contract := &fakeContract{mintResult: domain.TxResult{Logs: []types.Log{{Index: 0}}}}
	publisher, logs := newTestPublisher(contract, Options{})
	cids := domain.NewCIDIndex([]domain.CidRecord{{TerrainID: "T1", CID: "bafy123"}})

	summary, err := publisher.Run(context.Background(), []domain.CertificateRecord{t1Record()}, cids)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if summary.Minted != 1 || summary.UnknownTokenIDs != 1 || summary.Failed != 0 {
		t.Fatalf("summary = %+v", summary)
	}
	if !logs.contains("could not decode token id for terrain T1") {
		t.Fatalf("logs = %v, want warning", logs.lines)
	}
	if !logs.contains("with token id unknown") {
		t.Fatalf("logs = %v, want unknown token id", logs.lines)
	}
}

type transferDecoder struct{}

func (transferDecoder) DecodeLog(log types.Log) (domain.Event, bool) {
	if log.Index != 1 {
		return domain.Event{}, false
	}
	return domain.Event{Name: domain.TransferEvent, Named: map[string]any{"tokenId": big.NewInt(11)}}, true
}

func TestRunManualDecode(t *testing.T) {
	contract := &fakeContract{mintResult: domain.TxResult{Logs: []types.Log{{Index: 0}, {Index: 1}}}}
	journal := &fakeJournal{}
	publisher, _ := newTestPublisher(contract, Options{Decoder: transferDecoder{}, Journal: journal, RunID: "run"})
	cids := domain.NewCIDIndex([]domain.CidRecord{{TerrainID: "T1", CID: "bafy123"}})

	if _, err := publisher.Run(context.Background(), []domain.CertificateRecord{t1Record()}, cids); err != nil {
		t.Fatalf("run: %v", err)
	}
	record := journal.records[0]
	if record.TokenID != "11" || record.DecodePath != string(domain.PathManual) {
		t.Fatalf("journal = %+v, want token 11 via manual", record)
	}
}

func TestRunStopsWhenCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	contract := &fakeContract{onUpsert: func(string) { cancel() }}
	journal := &fakeJournal{}
	publisher, logs := newTestPublisher(contract, Options{Journal: journal, RunID: "run"})
	second := t1Record()
	second.TerrainID = "T2"

	summary, err := publisher.Run(ctx, []domain.CertificateRecord{t1Record(), second}, domain.NewCIDIndex(nil))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context canceled", err)
	}
	if len(contract.upserts) != 1 {
		t.Fatalf("upserts = %d, want 1", len(contract.upserts))
	}
	if summary.Records != 1 || summary.Failed != 1 {
		t.Fatalf("summary = %+v", summary)
	}
	if len(journal.records) != 1 {
		t.Fatalf("journal rows = %d, want interrupted record journaled", len(journal.records))
	}
	if !logs.contains("all done: records=1") {
		t.Fatalf("logs = %v, want summary line", logs.lines)
	}
}

func TestRunJournalsOutcomesWithTrace(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	contract := &fakeContract{
		upsertErr:  map[string]error{"T3": errors.New("nonce too low")},
		mintResult: transferResult(4),
	}
	journal := &fakeJournal{}
	publisher, _ := newTestPublisher(contract, Options{
		Journal: journal,
		RunID:   "run-1",
		Tracer:  provider.Tracer("test"),
		Now:     func() time.Time { return now },
	})
	notSuitable := t1Record()
	notSuitable.TerrainID = "T2"
	notSuitable.Status = "unsuitable"
	failing := t1Record()
	failing.TerrainID = "T3"
	cids := domain.NewCIDIndex([]domain.CidRecord{{TerrainID: "T1", CID: "bafy123"}})

	if _, err := publisher.Run(context.Background(), []domain.CertificateRecord{t1Record(), notSuitable, failing}, cids); err != nil {
		t.Fatalf("run: %v", err)
	}

	if len(journal.records) != 3 {
		t.Fatalf("journal rows = %d, want 3", len(journal.records))
	}
	wantOutcomes := []string{storage.OutcomeMinted, storage.OutcomeSkippedNotSuitable, storage.OutcomeFailed}
	for i, want := range wantOutcomes {
		if journal.records[i].Outcome != want {
			t.Fatalf("journal[%d].outcome = %q, want %q", i, journal.records[i].Outcome, want)
		}
		if journal.records[i].RunID != "run-1" || !journal.records[i].CreatedAt.Equal(now) {
			t.Fatalf("journal[%d] = %+v", i, journal.records[i])
		}
	}
	minted := journal.records[0]
	if minted.TxHash != "0x4" {
		t.Fatalf("minted tx hash = %q, want 0x4", minted.TxHash)
	}
	if minted.TokenID != "4" || minted.DecodePath != string(domain.PathStructured) || minted.Status != "suitable" {
		t.Fatalf("minted row = %+v", minted)
	}
	if !strings.HasPrefix(minted.CenterWKT, "SRID=4326;POINT") || !strings.Contains(minted.CenterWKT, "98.765432 12.345678") {
		t.Fatalf("center wkt = %q", minted.CenterWKT)
	}
	if journal.records[2].ErrorCode != string(apperrors.CodeUpsertFailed) {
		t.Fatalf("failed row code = %q, want %q", journal.records[2].ErrorCode, apperrors.CodeUpsertFailed)
	}

	spans := recorder.Ended()
	if len(spans) != 3 {
		t.Fatalf("spans = %d, want 3", len(spans))
	}
	for i, span := range spans {
		if span.Name() != recordSpanName {
			t.Fatalf("span[%d] name = %q, want %q", i, span.Name(), recordSpanName)
		}
		if got := span.SpanContext().TraceID().String(); got != journal.records[i].TraceID {
			t.Fatalf("span[%d] trace id = %s, journal has %s", i, got, journal.records[i].TraceID)
		}
		if got := span.SpanContext().SpanID().String(); got != journal.records[i].SpanID {
			t.Fatalf("span[%d] span id = %s, journal has %s", i, got, journal.records[i].SpanID)
		}
	}
	if spans[2].Status().Code != codes.Error {
		t.Fatalf("failed span status = %v, want error", spans[2].Status().Code)
	}
	var terrain string
	for _, attr := range spans[0].Attributes() {
		if attr.Key == "terrain.id" {
			terrain = attr.Value.AsString()
		}
	}
	if terrain != "T1" {
		t.Fatalf("terrain.id = %q, want T1", terrain)
	}
}

func TestRunJournalFailureDoesNotFailRecord(t *testing.T) {
	contract := &fakeContract{mintResult: transferResult(2)}
	journal := &fakeJournal{err: errors.New("disk full")}
	publisher, logs := newTestPublisher(contract, Options{Journal: journal, RunID: "run"})
	cids := domain.NewCIDIndex([]domain.CidRecord{{TerrainID: "T1", CID: "bafy123"}})

	summary, err := publisher.Run(context.Background(), []domain.CertificateRecord{t1Record()}, cids)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if summary.Minted != 1 || summary.Failed != 0 {
		t.Fatalf("summary = %+v", summary)
	}
	if !logs.contains("record journal for terrain T1: disk full") {
		t.Fatalf("logs = %v, want journal error", logs.lines)
	}
}

func TestRunEmptyInput(t *testing.T) {
	publisher, logs := newTestPublisher(&fakeContract{}, Options{})
	summary, err := publisher.Run(context.Background(), nil, domain.NewCIDIndex(nil))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if summary != (Summary{}) {
		t.Fatalf("summary = %+v, want zero", summary)
	}
	if !logs.contains("all done: records=0") {
		t.Fatalf("logs = %v, want summary line", logs.lines)
	}
}
