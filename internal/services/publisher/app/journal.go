package app

import (
	"context"
	"fmt"
	"math"

	apperrors "github.com/louisbranch/certpublish/internal/platform/errors"
	"github.com/louisbranch/certpublish/internal/services/publisher/domain"
	"github.com/louisbranch/certpublish/internal/services/publisher/storage"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/wkt"
	"go.opentelemetry.io/otel/trace"
)

// wgs84 is the SRID of the certificate center coordinates.
const wgs84 = 4326

func (p *Publisher) record(ctx context.Context, rec domain.CertificateRecord, result recordResult) {
	if p.journal == nil {
		return
	}

	entry := storage.PublishRecord{
		RunID:      p.runID,
		TerrainID:  rec.TerrainID,
		Outcome:    result.outcome,
		Status:     result.status,
		TokenID:    result.tokenID,
		TxHash:     result.txHash,
		CID:        result.cid,
		DecodePath: string(result.path),
		CenterWKT:  centerWKT(rec),
		CreatedAt:  p.now().UTC(),
	}
	if sc := trace.SpanFromContext(ctx).SpanContext(); sc.IsValid() {
		entry.TraceID = sc.TraceID().String()
		entry.SpanID = sc.SpanID().String()
	}
	if result.err != nil {
		entry.ErrorCode = string(apperrors.CodeOf(result.err))
		entry.LastError = result.err.Error()
		if entry.TxHash == "" {
			entry.TxHash = apperrors.MetadataOf(result.err, "tx_hash")
		}
	}

	// An interrupted record is still journaled.
	if err := p.journal.RecordPublish(context.WithoutCancel(ctx), entry); err != nil {
		p.logf("record journal for terrain %s: %v", rec.TerrainID, err)
	}
}

// centerWKT renders the parcel center as EWKT, or "" when the coordinates
// cannot form a point.
func centerWKT(rec domain.CertificateRecord) string {
	for _, v := range []float64{rec.CenterLon, rec.CenterLat} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return ""
		}
	}
	point, err := geom.NewPoint(geom.XY).SetCoords(geom.Coord{rec.CenterLon, rec.CenterLat})
	if err != nil {
		return ""
	}
	point.SetSRID(wgs84)
	text, err := wkt.Marshal(point)
	if err != nil {
		return ""
	}
	return fmt.Sprintf("SRID=%d;%s", point.SRID(), text)
}
