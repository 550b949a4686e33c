package ledger

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"

	"github.com/keeperlabs/orderkeeper/params"
)

// Minimal surface of the order-book contract. The keeper never deploys or
// upgrades it; it only reads orders and submits match/cancel transactions.
const orderBookABI = `[
  {"type":"function","name":"nextOrderId","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"orders","stateMutability":"view","inputs":[{"name":"","type":"uint256"}],"outputs":[
    {"name":"maker","type":"address"},
    {"name":"tokenIn","type":"address"},
    {"name":"tokenOut","type":"address"},
    {"name":"amountIn","type":"uint256"},
    {"name":"targetPrice","type":"uint256"},
    {"name":"expiry","type":"uint256"},
    {"name":"filled","type":"bool"},
    {"name":"cancelled","type":"bool"},
    {"name":"kind","type":"uint8"}
  ]},
  {"type":"function","name":"matchOrders","stateMutability":"nonpayable","inputs":[{"name":"buyId","type":"uint256"},{"name":"sellId","type":"uint256"}],"outputs":[]},
  {"type":"function","name":"cancelOrder","stateMutability":"nonpayable","inputs":[{"name":"orderId","type":"uint256"}],"outputs":[]}
]`

// EthGateway implements Gateway against an EVM order-book contract over
// JSON-RPC. Mutations are signed with the keeper's key and awaited to
// inclusion, so callers observe the post-state on the next read.
type EthGateway struct {
	client   *ethclient.Client
	contract *bind.BoundContract
	auth     *bind.TransactOpts
	addr     common.Address
	log      *zap.Logger
}

var _ Gateway = (*EthGateway)(nil)

// Dial connects to the RPC endpoint and binds the order-book contract.
func Dial(ctx context.Context, cfg params.Ledger, log *zap.Logger) (*EthGateway, error) {
	client, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", cfg.RPCURL, err)
	}

	parsed, err := abi.JSON(strings.NewReader(orderBookABI))
	if err != nil {
		return nil, fmt.Errorf("parse order book abi: %w", err)
	}

	key, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.KeeperKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("parse keeper key: %w", err)
	}
	auth, err := bind.NewKeyedTransactorWithChainID(key, big.NewInt(cfg.ChainID))
	if err != nil {
		return nil, fmt.Errorf("build transactor: %w", err)
	}

	addr := common.HexToAddress(cfg.ContractAddr)
	contract := bind.NewBoundContract(addr, parsed, client, client, client)

	log.Info("ledger_connected",
		zap.String("rpc", cfg.RPCURL),
		zap.String("contract", addr.Hex()),
		zap.String("keeper", crypto.PubkeyToAddress(key.PublicKey).Hex()))

	return &EthGateway{client: client, contract: contract, auth: auth, addr: addr, log: log}, nil
}

func (g *EthGateway) Close() { g.client.Close() }

func (g *EthGateway) NextOrderID(ctx context.Context) (uint64, error) {
	var out []interface{}
	if err := g.contract.Call(&bind.CallOpts{Context: ctx}, &out, "nextOrderId"); err != nil {
		return 0, fmt.Errorf("nextOrderId: %w", err)
	}
	next, ok := out[0].(*big.Int)
	if !ok || next == nil {
		return 0, fmt.Errorf("nextOrderId: unexpected return %T", out[0])
	}
	return next.Uint64(), nil
}

func (g *EthGateway) GetOrder(ctx context.Context, id uint64) (*OrderRecord, error) {
	var out []interface{}
	err := g.contract.Call(&bind.CallOpts{Context: ctx}, &out, "orders", new(big.Int).SetUint64(id))
	if err != nil {
		return nil, fmt.Errorf("orders(%d): %w", id, err)
	}
	if len(out) < 9 {
		return nil, fmt.Errorf("orders(%d): short return of %d fields", id, len(out))
	}

	rec := &OrderRecord{
		ID:          id,
		Maker:       asAddress(out[0]),
		TokenIn:     asAddress(out[1]),
		TokenOut:    asAddress(out[2]),
		AmountIn:    asDecimal(out[3]),
		TargetPrice: asDecimal(out[4]),
		Filled:      asBool(out[6]),
		Cancelled:   asBool(out[7]),
	}
	if expiry, ok := out[5].(*big.Int); ok && expiry != nil && expiry.IsInt64() {
		rec.Expiry = expiry.Int64()
	}
	if kind, ok := out[8].(uint8); ok {
		rec.Kind = kind
	}
	return rec, nil
}

func (g *EthGateway) MatchOrders(ctx context.Context, buyID, sellID uint64) error {
	tx, err := g.transact(ctx, "matchOrders",
		new(big.Int).SetUint64(buyID), new(big.Int).SetUint64(sellID))
	if err != nil {
		return fmt.Errorf("matchOrders(%d,%d): %w", buyID, sellID, err)
	}
	g.log.Debug("match_submitted",
		zap.Uint64("buy", buyID), zap.Uint64("sell", sellID),
		zap.String("tx", tx.Hash().Hex()))
	return nil
}

func (g *EthGateway) CancelOrder(ctx context.Context, id uint64) error {
	tx, err := g.transact(ctx, "cancelOrder", new(big.Int).SetUint64(id))
	if err != nil {
		return fmt.Errorf("cancelOrder(%d): %w", id, err)
	}
	g.log.Debug("cancel_submitted", zap.Uint64("order", id), zap.String("tx", tx.Hash().Hex()))
	return nil
}

// transact submits one state-changing call and waits for its receipt. The
// planner depends on each mutation completing before it makes the next
// decision, so there is deliberately no fire-and-forget path here.
func (g *EthGateway) transact(ctx context.Context, method string, args ...interface{}) (*types.Transaction, error) {
	opts := *g.auth
	opts.Context = ctx

	tx, err := g.contract.Transact(&opts, method, args...)
	if err != nil {
		return nil, err
	}
	receipt, err := bind.WaitMined(ctx, g.client, tx)
	if err != nil {
		return nil, fmt.Errorf("wait mined %s: %w", tx.Hash().Hex(), err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return nil, fmt.Errorf("tx %s reverted", tx.Hash().Hex())
	}
	return tx, nil
}

func asAddress(v interface{}) string {
	if addr, ok := v.(common.Address); ok {
		return addr.Hex()
	}
	return ""
}

func asDecimal(v interface{}) string {
	if n, ok := v.(*big.Int); ok && n != nil {
		return n.String()
	}
	return ""
}

func asBool(v interface{}) bool {
	b, _ := v.(bool)
	return b
}
