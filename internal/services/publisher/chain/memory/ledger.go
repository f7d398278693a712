// Package memory is an in-process certificate registry for dry runs. It
// mirrors the contract rules and reports mint results as decoded events.
package memory

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/louisbranch/certpublish/internal/services/publisher/domain"
)

// Ledger keeps certificates in memory. It is safe for concurrent use.
type Ledger struct {
	mu        sync.Mutex
	owner     common.Address
	certs     map[string]domain.OnChainCertificate
	nextToken int64
}

// NewLedger returns an empty ledger; minted tokens go to owner.
func NewLedger(owner common.Address) *Ledger {
	return &Ledger{
		owner:     owner,
		certs:     make(map[string]domain.OnChainCertificate),
		nextToken: 1,
	}
}

// UpsertCertificate stores cert, keeping any mint state already recorded.
func (l *Ledger) UpsertCertificate(ctx context.Context, cert domain.ChainCertificate) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if cert.TerrainID == "" {
		return fmt.Errorf("terrain id is required")
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	current := l.certs[cert.TerrainID]
	current.TerrainID = cert.TerrainID
	current.Lat = cert.Lat
	current.Lon = cert.Lon
	current.NDVI = cert.NDVI
	current.Status = cert.Status
	current.Date = cert.Date
	l.certs[cert.TerrainID] = current
	return nil
}

// GetCertificate returns the stored certificate. Unknown terrains read as
// the zero certificate, like an unset contract mapping.
func (l *Ledger) GetCertificate(ctx context.Context, terrainID string) (domain.OnChainCertificate, error) {
	if err := ctx.Err(); err != nil {
		return domain.OnChainCertificate{}, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	cert := l.certs[terrainID]
	if cert.TokenID == "" {
		cert.TokenID = "0"
	}
	return cert, nil
}

// MintForSuitable assigns the next token id to a suitable, unminted terrain.
func (l *Ledger) MintForSuitable(ctx context.Context, terrainID, cid string) (domain.TxResult, error) {
	if err := ctx.Err(); err != nil {
		return domain.TxResult{}, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	cert, ok := l.certs[terrainID]
	if !ok {
		return domain.TxResult{}, fmt.Errorf("certificate %s not found", terrainID)
	}
	if cert.Status != domain.StatusSuitable {
		return domain.TxResult{}, fmt.Errorf("terrain %s is not suitable", terrainID)
	}
	if cert.MintedNFT {
		return domain.TxResult{}, fmt.Errorf("nft already minted for terrain %s", terrainID)
	}

	tokenID := l.nextToken
	l.nextToken++
	cert.CIDPdf = cid
	cert.MintedNFT = true
	cert.TokenID = fmt.Sprintf("%d", tokenID)
	l.certs[terrainID] = cert

	token := big.NewInt(tokenID)
	from := common.Address{}
	return domain.TxResult{
		TxHash: crypto.Keccak256Hash([]byte(terrainID), token.Bytes()).Hex(),
		Events: []domain.Event{{
			Name: domain.TransferEvent,
			Args: []any{from, l.owner, token},
			Named: map[string]any{
				"from":    from,
				"to":      l.owner,
				"tokenId": token,
			},
		}},
	}, nil
}

// Certificates returns every stored certificate ordered by terrain id.
func (l *Ledger) Certificates() []domain.OnChainCertificate {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]domain.OnChainCertificate, 0, len(l.certs))
	for _, cert := range l.certs {
		out = append(out, cert)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TerrainID < out[j].TerrainID })
	return out
}
