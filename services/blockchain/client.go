package blockchain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"license-accrual/pkg/config"
	"license-accrual/pkg/errutil"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("blockchain",
	fx.Provide(
		NewEthClient,
		NewClient,
		func(c *Client) Validator { return c },
	),
)

// ChainReader is the subset of ethclient.Client the client needs.
type ChainReader interface {
	TransactionByHash(ctx context.Context, hash common.Hash) (tx *types.Transaction, isPending bool, err error)
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	BlockNumber(ctx context.Context) (uint64, error)
}

type Validator interface {
	ValidateTransfer(ctx context.Context, hash, expectedAddress string, expectedAmount, tolerancePercent decimal.Decimal) ValidationResult
}

var transferTopic = crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))

var (
	ErrTransactionFailed = errors.New("transaction failed on chain")
	ErrTransferNotFound  = errors.New("no matching token transfer event")
)

type TransactionDetails struct {
	Hash          string
	Pending       bool
	Succeeded     bool
	To            string
	BlockNumber   uint64
	CurrentBlock  uint64
	Confirmations uint64

	receipt *types.Receipt
}

type TokenTransfer struct {
	Contract    string
	From        string
	To          string
	Value       *big.Int
	Amount      decimal.Decimal
	LogIndex    uint
	BlockNumber uint64
}

// ValidationResult is the outcome of one on-chain check. Error is empty when
// Valid is true. Retryable marks failures that may clear on a later attempt.
type ValidationResult struct {
	Valid         bool
	Amount        *decimal.Decimal
	Recipient     string
	Confirmations uint64
	Error         string
	Retryable     bool
}

type Client struct {
	reader           ChainReader
	network          Network
	contract         common.Address
	minConfirmations uint64
	timeout          time.Duration
}

func NewEthClient(lc fx.Lifecycle, cfg *config.Config) (ChainReader, error) {
	network, err := ResolveNetwork(cfg)
	if err != nil {
		return nil, err
	}

	client, err := ethclient.Dial(network.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("dial %s rpc: %w", network.Name, err)
	}

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			client.Close()
			return nil
		},
	})

	zap.L().Info("[Blockchain] rpc client ready",
		zap.String("network", network.Name),
		zap.Int64("chain_id", network.ChainID),
		zap.Bool("testnet", network.IsTestnet),
	)
	return client, nil
}

func NewClient(cfg *config.Config, reader ChainReader) (*Client, error) {
	network, err := ResolveNetwork(cfg)
	if err != nil {
		return nil, err
	}
	if !common.IsHexAddress(network.TokenContract) {
		return nil, fmt.Errorf("invalid token contract %q", network.TokenContract)
	}

	minConfirmations := cfg.Blockchain.MinConfirmations
	if minConfirmations == 0 {
		minConfirmations = 3
	}
	timeout := cfg.Blockchain.RPCTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &Client{
		reader:           reader,
		network:          network,
		contract:         common.HexToAddress(network.TokenContract),
		minConfirmations: minConfirmations,
		timeout:          timeout,
	}, nil
}

func (c *Client) Network() Network {
	return c.network
}

// rpcError maps transport failures onto errutil statuses so callers can tell
// transient conditions from permanent ones.
func rpcError(op string, err error) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return errutil.Timeout(fmt.Sprintf("%s: rpc timeout", op), err)
	case errors.Is(err, ethereum.NotFound):
		return errutil.NotFound(fmt.Sprintf("%s: not found", op), err)
	default:
		return errutil.BadGateway(fmt.Sprintf("%s: rpc request failed", op), err)
	}
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, c.timeout)
}

func (c *Client) GetTransactionDetails(ctx context.Context, hash string) (*TransactionDetails, error) {
	if !ValidTxHash(hash) {
		return nil, errutil.BadRequest("invalid transaction hash", nil)
	}
	txHash := common.HexToHash(hash)

	callCtx, cancel := c.withTimeout(ctx)
	tx, pending, err := c.reader.TransactionByHash(callCtx, txHash)
	cancel()
	if err != nil {
		return nil, rpcError("get transaction", err)
	}

	details := &TransactionDetails{Hash: txHash.Hex(), Pending: pending}
	if to := tx.To(); to != nil {
		details.To = to.Hex()
	}
	if pending {
		return details, nil
	}

	callCtx, cancel = c.withTimeout(ctx)
	receipt, err := c.reader.TransactionReceipt(callCtx, txHash)
	cancel()
	if err != nil {
		return nil, rpcError("get receipt", err)
	}

	callCtx, cancel = c.withTimeout(ctx)
	current, err := c.reader.BlockNumber(callCtx)
	cancel()
	if err != nil {
		return nil, rpcError("get block number", err)
	}

	details.receipt = receipt
	details.Succeeded = receipt.Status == types.ReceiptStatusSuccessful
	if receipt.BlockNumber != nil {
		details.BlockNumber = receipt.BlockNumber.Uint64()
	}
	details.CurrentBlock = current
	details.Confirmations = Confirmations(current, details.BlockNumber)

	return details, nil
}

// Confirmations counts the including block itself: current - block + 1.
func Confirmations(current, block uint64) uint64 {
	if block == 0 || current < block {
		return 0
	}
	return current - block + 1
}

func (c *Client) GetTokenTransfer(ctx context.Context, hash, contract string) (*TokenTransfer, error) {
	if !ValidTxHash(hash) {
		return nil, errutil.BadRequest("invalid transaction hash", nil)
	}

	callCtx, cancel := c.withTimeout(ctx)
	receipt, err := c.reader.TransactionReceipt(callCtx, common.HexToHash(hash))
	cancel()
	if err != nil {
		return nil, rpcError("get receipt", err)
	}

	transfers := c.transfers(receipt, common.HexToAddress(contract))
	if len(transfers) == 0 {
		return nil, ErrTransferNotFound
	}
	return &transfers[0], nil
}

func (c *Client) transfers(receipt *types.Receipt, contract common.Address) []TokenTransfer {
	var out []TokenTransfer
	for _, l := range receipt.Logs {
		if l == nil || l.Address != contract || len(l.Topics) != 3 || l.Topics[0] != transferTopic {
			continue
		}
		if len(l.Data) != 32 {
			continue
		}
		value := new(big.Int).SetBytes(l.Data)
		out = append(out, TokenTransfer{
			Contract:    l.Address.Hex(),
			From:        common.BytesToAddress(l.Topics[1].Bytes()).Hex(),
			To:          common.BytesToAddress(l.Topics[2].Bytes()).Hex(),
			Value:       value,
			Amount:      ToDecimal(value, c.network.TokenDecimals),
			LogIndex:    l.Index,
			BlockNumber: l.BlockNumber,
		})
	}
	return out
}

// ValidateTransfer checks that hash is a successful, sufficiently confirmed
// token transfer of about expectedAmount to expectedAddress.
func (c *Client) ValidateTransfer(ctx context.Context, hash, expectedAddress string, expectedAmount, tolerancePercent decimal.Decimal) ValidationResult {
	ctx, span := otel.Tracer("blockchain").Start(ctx, "ValidateTransfer")
	defer span.End()
	span.SetAttributes(attribute.String("tx_hash", hash), attribute.String("network", c.network.Name))

	details, err := c.GetTransactionDetails(ctx, hash)
	if err != nil {
		status := errutil.StatusOf(err)
		return ValidationResult{
			Error:     err.Error(),
			Retryable: status.Transient() || status == errutil.StatusNotFound,
		}
	}

	if details.Pending {
		return ValidationResult{
			Error:     fmt.Sprintf("Insufficient confirmations: transaction pending (0/%d)", c.minConfirmations),
			Retryable: true,
		}
	}

	if !details.Succeeded {
		return ValidationResult{Error: ErrTransactionFailed.Error(), Confirmations: details.Confirmations}
	}

	transfers := c.transfers(details.receipt, c.contract)
	if len(transfers) == 0 {
		return ValidationResult{Error: ErrTransferNotFound.Error(), Confirmations: details.Confirmations}
	}

	transfer := transfers[0]
	for _, t := range transfers {
		if strings.EqualFold(t.To, expectedAddress) {
			transfer = t
			break
		}
	}

	amount := transfer.Amount
	result := ValidationResult{
		Amount:        &amount,
		Recipient:     transfer.To,
		Confirmations: details.Confirmations,
	}

	if !strings.EqualFold(transfer.To, expectedAddress) {
		result.Error = fmt.Sprintf("Recipient mismatch: expected %s, got %s", expectedAddress, transfer.To)
		return result
	}

	if !WithinTolerance(expectedAmount, amount, tolerancePercent) {
		lo, hi := ToleranceBounds(expectedAmount, tolerancePercent)
		result.Error = fmt.Sprintf("Amount mismatch: expected %s (allowed %s..%s), got %s",
			expectedAmount.String(), lo.String(), hi.String(), amount.String())
		return result
	}

	if details.Confirmations < c.minConfirmations {
		result.Error = fmt.Sprintf("Insufficient confirmations: %d/%d", details.Confirmations, c.minConfirmations)
		result.Retryable = true
		return result
	}

	result.Valid = true
	return result
}
