// Package domain holds the certificate publishing model: input records, their
// fixed-point on-chain form, and the token-id extraction rules for mint
// transactions.
package domain

// StatusSuitable is the normalized status that makes a parcel mintable.
const StatusSuitable = "suitable"

// UnknownTokenID is reported when a mint succeeded but no token id could be
// recovered from its result.
const UnknownTokenID = "unknown"

// CertificateRecord is one land-parcel certificate from the input document.
// DecodeErr is set when the document element could not be read as a
// complete certificate; such a record fails on its own when processed.
type CertificateRecord struct {
	TerrainID string
	CenterLat float64
	CenterLon float64
	MeanNDVI  float64
	Status    string
	Date      string
	DecodeErr error
}

// CidRecord links a terrain to the content identifier of its certificate PDF.
type CidRecord struct {
	TerrainID string `json:"terrain_id"`
	CID       string `json:"cid"`
}

// ChainCertificate is the fixed-point form of a certificate as sent to the
// contract: lat/lon scaled by 1e6, ndvi by 1e4, status normalized.
type ChainCertificate struct {
	TerrainID string
	Lat       int64
	Lon       int64
	NDVI      int64
	Status    string
	Date      string
}

// OnChainCertificate is the contract's view of a terrain certificate.
type OnChainCertificate struct {
	TerrainID string
	Lat       int64
	Lon       int64
	NDVI      int64
	Status    string
	Date      string
	CIDPdf    string
	MintedNFT bool
	TokenID   string
}

// MintOutcome describes one completed mint.
type MintOutcome struct {
	TerrainID string
	TokenID   string
	CID       string
	Path      ExtractionPath
}
