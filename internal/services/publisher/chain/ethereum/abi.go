package ethereum

import (
	"fmt"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// Contract method names of the deployed land certificate registry.
const (
	methodUpsertCertificate = "addOrUpdateCertificate"
	methodGetCertificate    = "getCertificate"
	methodMintForSuitable   = "mintNFTForSuitableLand"
)

// ContractABI is the subset of the registry interface the publisher calls.
const ContractABI = `[
  {
    "type": "function",
    "name": "addOrUpdateCertificate",
    "stateMutability": "nonpayable",
    "inputs": [
      {"name": "terrainId", "type": "string"},
      {"name": "lat", "type": "int256"},
      {"name": "lon", "type": "int256"},
      {"name": "ndvi", "type": "int256"},
      {"name": "status", "type": "string"},
      {"name": "date", "type": "string"}
    ],
    "outputs": []
  },
  {
    "type": "function",
    "name": "mintNFTForSuitableLand",
    "stateMutability": "nonpayable",
    "inputs": [
      {"name": "terrainId", "type": "string"},
      {"name": "cidPdf", "type": "string"}
    ],
    "outputs": [{"name": "", "type": "uint256"}]
  },
  {
    "type": "function",
    "name": "getCertificate",
    "stateMutability": "view",
    "inputs": [{"name": "terrainId", "type": "string"}],
    "outputs": [
      {"name": "", "type": "string"},
      {"name": "", "type": "int256"},
      {"name": "", "type": "int256"},
      {"name": "", "type": "int256"},
      {"name": "", "type": "string"},
      {"name": "", "type": "string"},
      {"name": "", "type": "string"},
      {"name": "", "type": "bool"},
      {"name": "", "type": "uint256"}
    ]
  },
  {
    "type": "event",
    "name": "Transfer",
    "anonymous": false,
    "inputs": [
      {"name": "from", "type": "address", "indexed": true},
      {"name": "to", "type": "address", "indexed": true},
      {"name": "tokenId", "type": "uint256", "indexed": true}
    ]
  }
]`

var (
	parsedOnce sync.Once
	parsedABI  abi.ABI
	parsedErr  error
)

// parseABI parses ContractABI once per process.
func parseABI() (abi.ABI, error) {
	parsedOnce.Do(func() {
		parsedABI, parsedErr = abi.JSON(strings.NewReader(ContractABI))
		if parsedErr != nil {
			parsedErr = fmt.Errorf("parse contract abi: %w", parsedErr)
		}
	})
	return parsedABI, parsedErr
}
