// Package input loads the certificate and CID documents. Each document must
// be a JSON array; anything else stops the run before any chain call is
// made. Elements are decoded one by one so a bad element only affects itself.
package input

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	apperrors "github.com/louisbranch/certpublish/internal/platform/errors"
	"github.com/louisbranch/certpublish/internal/services/publisher/domain"
)

// Documents holds both loaded input documents.
type Documents struct {
	Certificates []domain.CertificateRecord
	CIDs         []domain.CidRecord
	// SkippedCIDs counts CID elements that were not {terrain_id, cid} objects.
	SkippedCIDs int
}

// certificateElement tracks which numeric fields were present.
type certificateElement struct {
	TerrainID string   `json:"terrain_id"`
	CenterLat *float64 `json:"center_lat"`
	CenterLon *float64 `json:"center_lon"`
	MeanNDVI  *float64 `json:"mean_ndvi"`
	Status    string   `json:"status"`
	Date      string   `json:"date"`
}

// Load reads the certificates document and then the CID document.
func Load(certificatesPath, cidsPath string) (Documents, error) {
	certElements, err := readArray(certificatesPath)
	if err != nil {
		return Documents{}, err
	}
	cidElements, err := readArray(cidsPath)
	if err != nil {
		return Documents{}, err
	}

	docs := Documents{
		Certificates: make([]domain.CertificateRecord, 0, len(certElements)),
		CIDs:         make([]domain.CidRecord, 0, len(cidElements)),
	}
	for i, raw := range certElements {
		docs.Certificates = append(docs.Certificates, decodeCertificate(i, raw))
	}
	for _, raw := range cidElements {
		var record domain.CidRecord
		if err := json.Unmarshal(raw, &record); err != nil || record.TerrainID == "" {
			docs.SkippedCIDs++
			continue
		}
		docs.CIDs = append(docs.CIDs, record)
	}
	return docs, nil
}

// decodeCertificate never fails; problems are carried on the record. Type
// errors on one field still leave the other fields, such as terrain_id, set.
func decodeCertificate(index int, raw json.RawMessage) domain.CertificateRecord {
	var element certificateElement
	decodeErr := json.Unmarshal(raw, &element)
	record := domain.CertificateRecord{
		TerrainID: element.TerrainID,
		Status:    element.Status,
		Date:      element.Date,
	}
	if decodeErr != nil {
		record.DecodeErr = fmt.Errorf("decode certificate element %d: %w", index, decodeErr)
		return record
	}

	fields := []struct {
		name   string
		value  *float64
		target *float64
	}{
		{name: "center_lat", value: element.CenterLat, target: &record.CenterLat},
		{name: "center_lon", value: element.CenterLon, target: &record.CenterLon},
		{name: "mean_ndvi", value: element.MeanNDVI, target: &record.MeanNDVI},
	}
	for _, field := range fields {
		if field.value == nil {
			record.DecodeErr = fmt.Errorf("decode certificate element %d: %s is required", index, field.name)
			return record
		}
		*field.target = *field.value
	}
	return record
}

func readArray(path string) ([]json.RawMessage, error) {
	name := filepath.Base(path)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInputDecode, fmt.Sprintf("read %s", name), err)
	}

	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return nil, apperrors.New(apperrors.CodeInputNotArray, fmt.Sprintf("decode %s: expected a JSON array", name))
	}

	elements := []json.RawMessage{}
	if err := json.Unmarshal(trimmed, &elements); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInputDecode, fmt.Sprintf("decode %s", name), err)
	}
	return elements, nil
}
