package blockchain

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"license-accrual/pkg/config"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

const testHash = "0x5c504ed432cb51138bcf09aa5e8a410dd4a1e204ef84bfed1be16dfba1b22060"

var (
	depositAddr = common.HexToAddress("0x1111111111111111111111111111111111111111")
	otherAddr   = common.HexToAddress("0x2222222222222222222222222222222222222222")
	senderAddr  = common.HexToAddress("0x3333333333333333333333333333333333333333")
)

type fakeChain struct {
	tx         *types.Transaction
	pending    bool
	receipt    *types.Receipt
	block      uint64
	txErr      error
	receiptErr error
	blockErr   error
	block2     func(ctx context.Context) error
}

func (f *fakeChain) TransactionByHash(ctx context.Context, hash common.Hash) (*types.Transaction, bool, error) {
	if f.block2 != nil {
		if err := f.block2(ctx); err != nil {
			return nil, false, err
		}
	}
	if f.txErr != nil {
		return nil, false, f.txErr
	}
	return f.tx, f.pending, nil
}

func (f *fakeChain) TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	if f.receiptErr != nil {
		return nil, f.receiptErr
	}
	return f.receipt, nil
}

func (f *fakeChain) BlockNumber(ctx context.Context) (uint64, error) {
	if f.blockErr != nil {
		return 0, f.blockErr
	}
	return f.block, nil
}

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Blockchain.Network = "testnet"
	cfg.Blockchain.MinConfirmations = 3
	cfg.Blockchain.RPCTimeout = time.Second
	return cfg
}

func units(amount string) *big.Int {
	return ToBaseUnits(decimal.RequireFromString(amount), 18)
}

func transferLog(contract, to common.Address, value *big.Int) *types.Log {
	return &types.Log{
		Address: contract,
		Topics: []common.Hash{
			transferTopic,
			common.BytesToHash(senderAddr.Bytes()),
			common.BytesToHash(to.Bytes()),
		},
		Data:        common.LeftPadBytes(value.Bytes(), 32),
		BlockNumber: 100,
	}
}

func newChain(t *testing.T, to common.Address, amount string, current uint64) (*fakeChain, common.Address) {
	t.Helper()

	contract := common.HexToAddress(Networks["testnet"].TokenContract)
	return &fakeChain{
		tx: types.NewTx(&types.LegacyTx{Nonce: 1, To: &contract, Gas: 60000, GasPrice: big.NewInt(1), Value: big.NewInt(0)}),
		receipt: &types.Receipt{
			Status:      types.ReceiptStatusSuccessful,
			BlockNumber: big.NewInt(100),
			Logs:        []*types.Log{transferLog(contract, to, units(amount))},
		},
		block: current,
	}, contract
}

func newTestClient(t *testing.T, chain ChainReader) *Client {
	t.Helper()

	c, err := NewClient(testConfig(), chain)
	require.NoError(t, err)
	return c
}

var (
	fiveHundred = decimal.NewFromInt(500)
	onePercent  = decimal.NewFromInt(1)
)

func TestValidateTransferValid(t *testing.T) {
	chain, _ := newChain(t, depositAddr, "500", 102)
	c := newTestClient(t, chain)

	res := c.ValidateTransfer(context.Background(), testHash, depositAddr.Hex(), fiveHundred, onePercent)
	require.True(t, res.Valid, res.Error)
	require.Empty(t, res.Error)
	require.Equal(t, uint64(3), res.Confirmations)
	require.NotNil(t, res.Amount)
	require.True(t, res.Amount.Equal(fiveHundred))
}

func TestValidateTransferRecipientIsCaseInsensitive(t *testing.T) {
	chain, _ := newChain(t, depositAddr, "500", 110)
	c := newTestClient(t, chain)

	res := c.ValidateTransfer(context.Background(), testHash, strings.ToLower(depositAddr.Hex()), fiveHundred, onePercent)
	require.True(t, res.Valid, res.Error)
}

func TestValidateTransferToleranceBoundary(t *testing.T) {
	cases := []struct {
		amount string
		valid  bool
	}{
		{"495", true},
		{"505", true},
		{"494.9", false},
		{"505.1", false},
	}

	for _, tc := range cases {
		t.Run(tc.amount, func(t *testing.T) {
			chain, _ := newChain(t, depositAddr, tc.amount, 110)
			c := newTestClient(t, chain)

			res := c.ValidateTransfer(context.Background(), testHash, depositAddr.Hex(), fiveHundred, onePercent)
			require.Equal(t, tc.valid, res.Valid, res.Error)
			if !tc.valid {
				require.Contains(t, res.Error, "Amount mismatch")
				require.False(t, res.Retryable)
			}
		})
	}
}

func TestValidateTransferRecipientMismatch(t *testing.T) {
	chain, _ := newChain(t, otherAddr, "500", 110)
	c := newTestClient(t, chain)

	res := c.ValidateTransfer(context.Background(), testHash, depositAddr.Hex(), fiveHundred, onePercent)
	require.False(t, res.Valid)
	require.False(t, res.Retryable)
	require.True(t, strings.HasPrefix(res.Error, "Recipient mismatch"), res.Error)
	require.Equal(t, otherAddr.Hex(), res.Recipient)
}

func TestValidateTransferInsufficientConfirmations(t *testing.T) {
	chain, _ := newChain(t, depositAddr, "500", 101)
	c := newTestClient(t, chain)

	res := c.ValidateTransfer(context.Background(), testHash, depositAddr.Hex(), fiveHundred, onePercent)
	require.False(t, res.Valid)
	require.True(t, res.Retryable)
	require.Equal(t, uint64(2), res.Confirmations)
	require.Contains(t, res.Error, "Insufficient confirmations: 2/3")
}

func TestValidateTransferFailedOnChain(t *testing.T) {
	chain, _ := newChain(t, depositAddr, "500", 110)
	chain.receipt.Status = types.ReceiptStatusFailed
	c := newTestClient(t, chain)

	res := c.ValidateTransfer(context.Background(), testHash, depositAddr.Hex(), fiveHundred, onePercent)
	require.False(t, res.Valid)
	require.False(t, res.Retryable)
	require.Equal(t, "transaction failed on chain", res.Error)
}

func TestValidateTransferIgnoresOtherContracts(t *testing.T) {
	chain, _ := newChain(t, depositAddr, "500", 110)
	chain.receipt.Logs = []*types.Log{transferLog(otherAddr, depositAddr, units("500"))}
	c := newTestClient(t, chain)

	res := c.ValidateTransfer(context.Background(), testHash, depositAddr.Hex(), fiveHundred, onePercent)
	require.False(t, res.Valid)
	require.False(t, res.Retryable)
	require.Equal(t, ErrTransferNotFound.Error(), res.Error)
}

func TestValidateTransferPicksMatchingRecipient(t *testing.T) {
	chain, contract := newChain(t, otherAddr, "1", 110)
	chain.receipt.Logs = append(chain.receipt.Logs, transferLog(contract, depositAddr, units("500")))
	c := newTestClient(t, chain)

	res := c.ValidateTransfer(context.Background(), testHash, depositAddr.Hex(), fiveHundred, onePercent)
	require.True(t, res.Valid, res.Error)
}

func TestValidateTransferPending(t *testing.T) {
	chain, _ := newChain(t, depositAddr, "500", 110)
	chain.pending = true
	c := newTestClient(t, chain)

	res := c.ValidateTransfer(context.Background(), testHash, depositAddr.Hex(), fiveHundred, onePercent)
	require.False(t, res.Valid)
	require.True(t, res.Retryable)
}

func TestValidateTransferRPCErrors(t *testing.T) {
	t.Run("timeout", func(t *testing.T) {
		chain, _ := newChain(t, depositAddr, "500", 110)
		chain.receiptErr = context.DeadlineExceeded
		c := newTestClient(t, chain)

		res := c.ValidateTransfer(context.Background(), testHash, depositAddr.Hex(), fiveHundred, onePercent)
		require.False(t, res.Valid)
		require.True(t, res.Retryable)
		require.Contains(t, res.Error, "timeout")
	})

	t.Run("slow node hits per-call deadline", func(t *testing.T) {
		chain, _ := newChain(t, depositAddr, "500", 110)
		chain.block2 = func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		}
		cfg := testConfig()
		cfg.Blockchain.RPCTimeout = 10 * time.Millisecond
		c, err := NewClient(cfg, chain)
		require.NoError(t, err)

		res := c.ValidateTransfer(context.Background(), testHash, depositAddr.Hex(), fiveHundred, onePercent)
		require.True(t, res.Retryable)
		require.Contains(t, res.Error, "timeout")
	})

	t.Run("not indexed yet", func(t *testing.T) {
		chain, _ := newChain(t, depositAddr, "500", 110)
		chain.txErr = ethereum.NotFound
		c := newTestClient(t, chain)

		res := c.ValidateTransfer(context.Background(), testHash, depositAddr.Hex(), fiveHundred, onePercent)
		require.True(t, res.Retryable)
	})

	t.Run("transport", func(t *testing.T) {
		chain, _ := newChain(t, depositAddr, "500", 110)
		chain.blockErr = errors.New("503 Service Unavailable")
		c := newTestClient(t, chain)

		res := c.ValidateTransfer(context.Background(), testHash, depositAddr.Hex(), fiveHundred, onePercent)
		require.True(t, res.Retryable)
	})

	t.Run("malformed hash", func(t *testing.T) {
		chain, _ := newChain(t, depositAddr, "500", 110)
		c := newTestClient(t, chain)

		res := c.ValidateTransfer(context.Background(), "0xdeadbeef", depositAddr.Hex(), fiveHundred, onePercent)
		require.False(t, res.Retryable)
		require.Contains(t, res.Error, "invalid transaction hash")
	})
}

func TestGetTokenTransfer(t *testing.T) {
	chain, contract := newChain(t, depositAddr, "12.5", 110)
	c := newTestClient(t, chain)

	transfer, err := c.GetTokenTransfer(context.Background(), testHash, contract.Hex())
	require.NoError(t, err)
	require.Equal(t, depositAddr.Hex(), transfer.To)
	require.Equal(t, senderAddr.Hex(), transfer.From)
	require.Equal(t, "12.5", transfer.Amount.String())

	_, err = c.GetTokenTransfer(context.Background(), testHash, otherAddr.Hex())
	require.ErrorIs(t, err, ErrTransferNotFound)
}

func TestGetTransactionDetails(t *testing.T) {
	chain, contract := newChain(t, depositAddr, "500", 104)
	c := newTestClient(t, chain)

	details, err := c.GetTransactionDetails(context.Background(), testHash)
	require.NoError(t, err)
	require.True(t, details.Succeeded)
	require.Equal(t, uint64(100), details.BlockNumber)
	require.Equal(t, uint64(5), details.Confirmations)
	require.Equal(t, contract.Hex(), details.To)
}

func TestConfirmations(t *testing.T) {
	require.Equal(t, uint64(3), Confirmations(102, 100))
	require.Equal(t, uint64(1), Confirmations(100, 100))
	require.Equal(t, uint64(0), Confirmations(99, 100))
	require.Equal(t, uint64(0), Confirmations(99, 0))
}

func TestResolveNetwork(t *testing.T) {
	cfg := &config.Config{}
	n, err := ResolveNetwork(cfg)
	require.NoError(t, err)
	require.True(t, n.IsTestnet)

	cfg.AppEnv = "production"
	n, err = ResolveNetwork(cfg)
	require.NoError(t, err)
	require.Equal(t, int64(56), n.ChainID)

	cfg.Blockchain.RPCURL = "http://localhost:8545"
	n, err = ResolveNetwork(cfg)
	require.NoError(t, err)
	require.Equal(t, "http://localhost:8545", n.RPCURL)

	cfg.Blockchain.Network = "solana"
	_, err = ResolveNetwork(cfg)
	require.Error(t, err)
}
