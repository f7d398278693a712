package domain

import (
	"fmt"
	"math"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

const (
	coordinateScale = 1e6
	ndviScale       = 1e4
)

var statusCaser = cases.Lower(language.Und)

// NormalizeStatus lowercases and trims a certificate status.
func NormalizeStatus(status string) string {
	return strings.TrimSpace(statusCaser.String(status))
}

// ScaleCoordinate converts degrees to the contract's micro-degree integers.
func ScaleCoordinate(degrees float64) (int64, error) {
	return scale(degrees, coordinateScale)
}

// ScaleNDVI converts an NDVI value to the contract's 1e4 fixed point.
func ScaleNDVI(ndvi float64) (int64, error) {
	return scale(ndvi, ndviScale)
}

// scale rounds half toward positive infinity so negative coordinates land on
// the same integers the contract has always received.
func scale(value, factor float64) (int64, error) {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return 0, fmt.Errorf("value %v is not finite", value)
	}
	scaled := math.Floor(value*factor + 0.5)
	if scaled > math.MaxInt64 || scaled < math.MinInt64 {
		return 0, fmt.Errorf("value %v overflows fixed point", value)
	}
	return int64(scaled), nil
}

// ToChainCertificate builds the upsert payload for rec.
func ToChainCertificate(rec CertificateRecord) (ChainCertificate, error) {
	if rec.DecodeErr != nil {
		return ChainCertificate{}, rec.DecodeErr
	}
	if strings.TrimSpace(rec.TerrainID) == "" {
		return ChainCertificate{}, fmt.Errorf("terrain id is required")
	}
	lat, err := ScaleCoordinate(rec.CenterLat)
	if err != nil {
		return ChainCertificate{}, fmt.Errorf("center_lat: %w", err)
	}
	lon, err := ScaleCoordinate(rec.CenterLon)
	if err != nil {
		return ChainCertificate{}, fmt.Errorf("center_lon: %w", err)
	}
	ndvi, err := ScaleNDVI(rec.MeanNDVI)
	if err != nil {
		return ChainCertificate{}, fmt.Errorf("mean_ndvi: %w", err)
	}
	return ChainCertificate{
		TerrainID: rec.TerrainID,
		Lat:       lat,
		Lon:       lon,
		NDVI:      ndvi,
		Status:    NormalizeStatus(rec.Status),
		Date:      rec.Date,
	}, nil
}
