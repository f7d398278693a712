package ethereum

import (
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/louisbranch/certpublish/internal/services/publisher/domain"
)

// LogDecoder decodes receipt logs against the registry ABI.
type LogDecoder struct {
	abi abi.ABI
}

// NewLogDecoder builds a decoder for the registry events.
func NewLogDecoder() (*LogDecoder, error) {
	parsed, err := parseABI()
	if err != nil {
		return nil, err
	}
	return &LogDecoder{abi: parsed}, nil
}

// DecodeLog decodes one log. Logs emitted by other interfaces, or whose
// topics do not fit the event signature, report false.
func (d *LogDecoder) DecodeLog(log types.Log) (domain.Event, bool) {
	if d == nil || len(log.Topics) == 0 {
		return domain.Event{}, false
	}
	event, err := d.abi.EventByID(log.Topics[0])
	if err != nil {
		return domain.Event{}, false
	}

	named := make(map[string]any, len(event.Inputs))
	if len(log.Data) > 0 {
		if err := d.abi.UnpackIntoMap(named, event.Name, log.Data); err != nil {
			return domain.Event{}, false
		}
	}
	var indexed abi.Arguments
	for _, input := range event.Inputs {
		if input.Indexed {
			indexed = append(indexed, input)
		}
	}
	if err := abi.ParseTopicsIntoMap(named, indexed, log.Topics[1:]); err != nil {
		return domain.Event{}, false
	}

	args := make([]any, 0, len(event.Inputs))
	for _, input := range event.Inputs {
		args = append(args, named[input.Name])
	}
	return domain.Event{Name: event.Name, Args: args, Named: named}, true
}

var _ domain.LogDecoder = (*LogDecoder)(nil)
