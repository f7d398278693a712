// Package ethereum talks to the land certificate registry over JSON-RPC,
// signing transactions with a configured key and waiting for each receipt.
package ethereum

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	apperrors "github.com/louisbranch/certpublish/internal/platform/errors"
	"github.com/louisbranch/certpublish/internal/platform/timeouts"
	"github.com/louisbranch/certpublish/internal/services/publisher/domain"
)

// Config selects the endpoint, signer, and registry.
type Config struct {
	RPCURL          string
	PrivateKey      string
	ContractAddress string
	// ChainID zero means ask the node.
	ChainID     int64
	DialTimeout time.Duration
}

// boundContract is the part of *bind.BoundContract the client uses.
type boundContract interface {
	Transact(opts *bind.TransactOpts, method string, params ...interface{}) (*types.Transaction, error)
	Call(opts *bind.CallOpts, results *[]interface{}, method string, params ...interface{}) error
}

// receiptWaiter blocks until tx is mined and returns its receipt.
type receiptWaiter func(ctx context.Context, tx *types.Transaction) (*types.Receipt, error)

// Client is a registry client bound to one signer.
type Client struct {
	rpc       *ethclient.Client
	contract  boundContract
	waitMined receiptWaiter
	auth      *bind.TransactOpts
	address   common.Address
}

// Dial validates cfg, connects to the node and resolves the chain id.
func Dial(ctx context.Context, cfg Config) (*Client, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	rpcURL := strings.TrimSpace(cfg.RPCURL)
	if rpcURL == "" {
		return nil, apperrors.New(apperrors.CodeConfigInvalid, "rpc url is required")
	}
	address, err := parseContractAddress(cfg.ContractAddress)
	if err != nil {
		return nil, err
	}
	key, err := parsePrivateKey(cfg.PrivateKey)
	if err != nil {
		return nil, err
	}
	parsed, err := parseABI()
	if err != nil {
		return nil, err
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = timeouts.ChainDial
	}

	dialCtx, cancel := context.WithTimeout(ctx, cfg.DialTimeout)
	defer cancel()

	rpc, err := ethclient.DialContext(dialCtx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dial rpc: %w", err)
	}
	chainID := big.NewInt(cfg.ChainID)
	if cfg.ChainID <= 0 {
		chainID, err = rpc.ChainID(dialCtx)
		if err != nil {
			rpc.Close()
			return nil, fmt.Errorf("read chain id: %w", err)
		}
	}
	auth, err := bind.NewKeyedTransactorWithChainID(key, chainID)
	if err != nil {
		rpc.Close()
		return nil, fmt.Errorf("build transactor: %w", err)
	}

	return &Client{
		rpc:      rpc,
		contract: bind.NewBoundContract(address, parsed, rpc, rpc, rpc),
		waitMined: func(ctx context.Context, tx *types.Transaction) (*types.Receipt, error) {
			return bind.WaitMined(ctx, rpc, tx)
		},
		auth:    auth,
		address: address,
	}, nil
}

// Close releases the RPC connection.
func (c *Client) Close() {
	if c == nil || c.rpc == nil {
		return
	}
	c.rpc.Close()
}

// Signer returns the account that signs transactions.
func (c *Client) Signer() common.Address {
	return c.auth.From
}

// ContractAddress returns the registry address.
func (c *Client) ContractAddress() common.Address {
	return c.address
}

// UpsertCertificate adds or replaces the certificate and waits for the receipt.
func (c *Client) UpsertCertificate(ctx context.Context, cert domain.ChainCertificate) error {
	_, err := c.transact(ctx, methodUpsertCertificate,
		cert.TerrainID,
		big.NewInt(cert.Lat),
		big.NewInt(cert.Lon),
		big.NewInt(cert.NDVI),
		cert.Status,
		cert.Date,
	)
	return err
}

// GetCertificate reads the registry's view of terrainID.
func (c *Client) GetCertificate(ctx context.Context, terrainID string) (domain.OnChainCertificate, error) {
	var out []interface{}
	if err := c.contract.Call(&bind.CallOpts{Context: ctx}, &out, methodGetCertificate, terrainID); err != nil {
		return domain.OnChainCertificate{}, fmt.Errorf("call %s: %w", methodGetCertificate, err)
	}
	return decodeCertificate(out)
}

// MintForSuitable mints the terrain token. The result carries the receipt
// logs only; go-ethereum receipts have no decoded events.
func (c *Client) MintForSuitable(ctx context.Context, terrainID, cid string) (domain.TxResult, error) {
	receipt, err := c.transact(ctx, methodMintForSuitable, terrainID, cid)
	if err != nil {
		return domain.TxResult{}, err
	}
	logs := make([]types.Log, 0, len(receipt.Logs))
	for _, log := range receipt.Logs {
		if log != nil {
			logs = append(logs, *log)
		}
	}
	return domain.TxResult{TxHash: receipt.TxHash.Hex(), Logs: logs}, nil
}

func (c *Client) transact(ctx context.Context, method string, params ...interface{}) (*types.Receipt, error) {
	opts := *c.auth
	opts.Context = ctx
	tx, err := c.contract.Transact(&opts, method, params...)
	if err != nil {
		return nil, fmt.Errorf("send %s: %w", method, err)
	}
	receipt, err := c.waitMined(ctx, tx)
	if err != nil {
		return nil, fmt.Errorf("wait for %s %s: %w", method, tx.Hash().Hex(), err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return nil, apperrors.WrapWithMetadata(
			apperrors.CodeTransactionReverted,
			fmt.Sprintf("%s transaction %s reverted", method, tx.Hash().Hex()),
			map[string]string{"tx_hash": tx.Hash().Hex()},
			nil,
		)
	}
	return receipt, nil
}

func parseContractAddress(value string) (common.Address, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return common.Address{}, apperrors.New(apperrors.CodeConfigInvalid, "contract address is required")
	}
	if !common.IsHexAddress(value) {
		return common.Address{}, apperrors.New(apperrors.CodeConfigInvalid, fmt.Sprintf("contract address %q is not a hex address", value))
	}
	return common.HexToAddress(value), nil
}

// parsePrivateKey accepts the key with or without 0x. Errors never echo it.
func parsePrivateKey(value string) (*ecdsa.PrivateKey, error) {
	value = strings.TrimSpace(value)
	value = strings.TrimPrefix(strings.TrimPrefix(value, "0x"), "0X")
	if value == "" {
		return nil, apperrors.New(apperrors.CodeConfigInvalid, "private key is required")
	}
	key, err := crypto.HexToECDSA(value)
	if err != nil {
		return nil, apperrors.New(apperrors.CodeConfigInvalid, "private key is not a valid secp256k1 hex key")
	}
	return key, nil
}

// SignerAddress returns the account address of a hex private key.
func SignerAddress(privateKey string) (common.Address, error) {
	key, err := parsePrivateKey(privateKey)
	if err != nil {
		return common.Address{}, err
	}
	return crypto.PubkeyToAddress(key.PublicKey), nil
}

// decodeCertificate maps the getCertificate tuple
// (terrainId, lat, lon, ndvi, status, date, cidPdf, mintedNFT, tokenId).
func decodeCertificate(out []interface{}) (domain.OnChainCertificate, error) {
	if len(out) != 9 {
		return domain.OnChainCertificate{}, fmt.Errorf("decode certificate: got %d values, want 9", len(out))
	}
	var cert domain.OnChainCertificate
	var ok bool
	if cert.TerrainID, ok = out[0].(string); !ok {
		return domain.OnChainCertificate{}, fieldTypeError("terrainId", out[0])
	}
	ints := []*int64{&cert.Lat, &cert.Lon, &cert.NDVI}
	names := []string{"lat", "lon", "ndvi"}
	for i, target := range ints {
		value, ok := out[i+1].(*big.Int)
		if !ok || value == nil {
			return domain.OnChainCertificate{}, fieldTypeError(names[i], out[i+1])
		}
		if !value.IsInt64() {
			return domain.OnChainCertificate{}, fmt.Errorf("decode certificate: %s %s overflows int64", names[i], value)
		}
		*target = value.Int64()
	}
	if cert.Status, ok = out[4].(string); !ok {
		return domain.OnChainCertificate{}, fieldTypeError("status", out[4])
	}
	if cert.Date, ok = out[5].(string); !ok {
		return domain.OnChainCertificate{}, fieldTypeError("date", out[5])
	}
	if cert.CIDPdf, ok = out[6].(string); !ok {
		return domain.OnChainCertificate{}, fieldTypeError("cidPdf", out[6])
	}
	if cert.MintedNFT, ok = out[7].(bool); !ok {
		return domain.OnChainCertificate{}, fieldTypeError("mintedNFT", out[7])
	}
	tokenID, ok := out[8].(*big.Int)
	if !ok || tokenID == nil {
		return domain.OnChainCertificate{}, fieldTypeError("tokenId", out[8])
	}
	cert.TokenID = tokenID.String()
	return cert, nil
}

func fieldTypeError(field string, value interface{}) error {
	return fmt.Errorf("decode certificate: %s has type %T", field, value)
}
