package domain

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/core/types"
)

// TransferEvent is the token-issuance event a mint emits.
const TransferEvent = "Transfer"

const (
	transferTokenIDPosition = 2
	transferTokenIDField    = "tokenId"
)

// Event is a decoded contract event. Args holds positional arguments in ABI
// order; Named holds the same values by argument name. Either may be empty.
type Event struct {
	Name  string
	Args  []any
	Named map[string]any
}

// ResultKind tags which shape a transaction result carries.
type ResultKind int

const (
	// KindRawLogs means only undecoded receipt logs are available.
	KindRawLogs ResultKind = iota
	// KindStructuredEvents means the client already decoded the events.
	KindStructuredEvents
)

// TxResult is the confirmed outcome of a mint transaction. A client fills
// Events when it decodes events itself and Logs when it only has the receipt.
type TxResult struct {
	TxHash string
	Events []Event
	Logs   []types.Log
}

// Kind resolves the result shape once: a non-empty event list wins.
func (r TxResult) Kind() ResultKind {
	if len(r.Events) > 0 {
		return KindStructuredEvents
	}
	return KindRawLogs
}

// LogDecoder decodes a raw log against the contract interface. A log that
// does not belong to the interface returns false; that is not an error.
type LogDecoder interface {
	DecodeLog(log types.Log) (Event, bool)
}

// ExtractionPath records which branch produced a token id.
type ExtractionPath string

const (
	PathStructured ExtractionPath = "structured"
	PathManual     ExtractionPath = "manual"
)

// Extraction is the terminal state of token-id extraction.
type Extraction struct {
	TokenID string
	Path    ExtractionPath
	Found   bool
}

// ExtractTokenID recovers the minted token id from result. It always returns;
// when nothing matches TokenID is UnknownTokenID and Found is false.
func ExtractTokenID(result TxResult, decoder LogDecoder) Extraction {
	if result.Kind() == KindStructuredEvents {
		return fromStructured(result.Events)
	}
	return fromLogs(result.Logs, decoder)
}

func fromStructured(events []Event) Extraction {
	out := Extraction{TokenID: UnknownTokenID, Path: PathStructured}
	for _, event := range events {
		if event.Name != TransferEvent {
			continue
		}
		// Only the first Transfer is considered, even if its id is unreadable.
		if id, ok := transferTokenID(event); ok {
			out.TokenID = id
			out.Found = true
		}
		return out
	}
	return out
}

func fromLogs(logs []types.Log, decoder LogDecoder) Extraction {
	out := Extraction{TokenID: UnknownTokenID, Path: PathManual}
	if decoder == nil {
		return out
	}
	for _, log := range logs {
		event, ok := decoder.DecodeLog(log)
		if !ok || event.Name != TransferEvent {
			continue
		}
		id, ok := formatTokenID(event.Named[transferTokenIDField])
		if !ok {
			continue
		}
		out.TokenID = id
		out.Found = true
		return out
	}
	return out
}

func transferTokenID(event Event) (string, bool) {
	if len(event.Args) > transferTokenIDPosition {
		return formatTokenID(event.Args[transferTokenIDPosition])
	}
	return formatTokenID(event.Named[transferTokenIDField])
}

func formatTokenID(value any) (string, bool) {
	switch v := value.(type) {
	case *big.Int:
		if v == nil {
			return "", false
		}
		return v.String(), true
	case uint64:
		return fmt.Sprintf("%d", v), true
	case int64:
		return fmt.Sprintf("%d", v), true
	case int:
		return fmt.Sprintf("%d", v), true
	case string:
		v = strings.TrimSpace(v)
		return v, v != ""
	case fmt.Stringer:
		s := strings.TrimSpace(v.String())
		return s, s != ""
	default:
		return "", false
	}
}
