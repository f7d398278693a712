// Package errors provides coded errors for the publisher. A Code is stable
// and machine-readable; it is what the journal stores for a failed record.
package errors

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an error without a code.
	CodeUnknown Code = "UNKNOWN"

	// Input errors, fatal before any chain interaction.
	CodeInputNotArray Code = "INPUT_NOT_ARRAY"
	CodeInputDecode   Code = "INPUT_DECODE"

	// Configuration errors, fatal.
	CodeConfigInvalid Code = "CONFIG_INVALID"

	// Per-record errors.
	CodeRecordInvalid         Code = "RECORD_INVALID"
	CodeUpsertFailed          Code = "UPSERT_FAILED"
	CodeCertificateReadFailed Code = "CERTIFICATE_READ_FAILED"
	CodeCIDInvalid            Code = "CID_INVALID"
	CodeMintFailed            Code = "MINT_FAILED"
	CodeTransactionReverted   Code = "TRANSACTION_REVERTED"
)
