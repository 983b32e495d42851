package scan

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/Vimbi/cryptocurrency-investments-sub000/configuration"
	"github.com/Vimbi/cryptocurrency-investments-sub000/observability"
)

// erc20TransferTopic is keccak256("Transfer(address,address,uint256)").
const erc20TransferTopic = "0xddf252ad1be2c89b69c2b068fc378daa952ba7f163c4a11628f55a4df523b3ef"

// bep20Decimals is the decimal count of the tracked BEP-20 token.
const bep20Decimals = 18

// BSCClient reads an etherscan-compatible proxy API. The token transfer
// is reconstructed from the receipt's Transfer event log.
type BSCClient struct {
	log  *logrus.Logger
	cfg  configuration.Chain
	http *http.Client
	base string
}

func NewBSCClient(obs *observability.Observability, cfg configuration.Chain) *BSCClient {
	return &BSCClient{
		log:  obs.Log(),
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.RequestTimeout},
		base: strings.TrimRight(cfg.Endpoint, "/"),
	}
}

type bscProxyResponse struct {
	Result json.RawMessage `json:"result"`
}

type bscLog struct {
	Address string   `json:"address"`
	Topics  []string `json:"topics"`
	Data    string   `json:"data"`
}

type bscReceipt struct {
	Status      string   `json:"status"`
	BlockNumber string   `json:"blockNumber"`
	Logs        []bscLog `json:"logs"`
}

func (c *BSCClient) FetchTransaction(ctx context.Context, txID string) (*ChainTx, error) {
	url := fmt.Sprintf("%s/api?module=proxy&action=eth_getTransactionReceipt&txhash=%s&apikey=%s",
		c.base, txID, c.cfg.APIKey)
	body, found, err := fetchBody(ctx, c.http, url)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}

	envelope := bscProxyResponse{}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, errors.Wrap(err, "failed to decode proxy envelope")
	}
	if string(envelope.Result) == "null" || len(envelope.Result) == 0 {
		// the node has not seen the hash yet
		return nil, nil
	}
	receipt := bscReceipt{}
	if err := json.Unmarshal(envelope.Result, &receipt); err != nil {
		return nil, errors.Wrap(err, "failed to decode receipt")
	}

	blockNumber, err := parseHexInt(receipt.BlockNumber)
	if err != nil {
		return nil, err
	}
	tip, err := c.latestBlock(ctx)
	if err != nil {
		return nil, err
	}

	chainTx := &ChainTx{
		Hash:          txID,
		Success:       receipt.Status == "0x1",
		Confirmations: tip - blockNumber + 1,
	}
	transfer := pickTransferLog(receipt, c.cfg.TokenContract)
	if transfer != nil {
		chainTx.From = topicAddress(transfer.Topics[1])
		chainTx.To = topicAddress(transfer.Topics[2])
		chainTx.TokenContract = transfer.Address
		// the symbol and type are known only through the contract; a
		// transfer emitted by any other contract stays unidentified
		if strings.EqualFold(transfer.Address, c.cfg.TokenContract) {
			chainTx.TokenSymbol = c.cfg.TokenSymbol
			chainTx.TokenType = c.cfg.TokenType
		}
		chainTx.Amount, err = scaleTokenAmount(transfer.Data, bep20Decimals)
		if err != nil {
			return nil, err
		}
	}
	return chainTx, nil
}

// pickTransferLog returns the Transfer event emitted by the wanted
// contract, falling back to the first Transfer event so a mismatch is
// still reported with the observed contract.
func pickTransferLog(receipt bscReceipt, wantContract string) *bscLog {
	var first *bscLog
	for i := range receipt.Logs {
		entry := &receipt.Logs[i]
		if len(entry.Topics) != 3 || !strings.EqualFold(entry.Topics[0], erc20TransferTopic) {
			continue
		}
		if strings.EqualFold(entry.Address, wantContract) {
			return entry
		}
		if first == nil {
			first = entry
		}
	}
	return first
}

func (c *BSCClient) latestBlock(ctx context.Context) (int64, error) {
	url := fmt.Sprintf("%s/api?module=proxy&action=eth_blockNumber&apikey=%s", c.base, c.cfg.APIKey)
	body, found, err := fetchBody(ctx, c.http, url)
	if err != nil {
		return 0, err
	}
	if !found {
		return 0, errors.New("block number endpoint not found")
	}
	envelope := struct {
		Result string `json:"result"`
	}{}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return 0, errors.Wrap(err, "failed to decode block number")
	}
	return parseHexInt(envelope.Result)
}

func parseHexInt(hex string) (int64, error) {
	value, ok := new(big.Int).SetString(strings.TrimPrefix(hex, "0x"), 16)
	if !ok {
		return 0, errors.Errorf("malformed hex quantity %q", hex)
	}
	return value.Int64(), nil
}

// topicAddress extracts the 20-byte address from a 32-byte indexed topic.
func topicAddress(topic string) string {
	clean := strings.TrimPrefix(topic, "0x")
	if len(clean) < 40 {
		return topic
	}
	return "0x" + clean[len(clean)-40:]
}

// scaleTokenAmount converts a hex token amount with the given decimals to
// 1e-8 coin units.
func scaleTokenAmount(hexData string, decimals int) (int64, error) {
	raw, ok := new(big.Int).SetString(strings.TrimPrefix(hexData, "0x"), 16)
	if !ok {
		return 0, errors.Errorf("malformed token amount %q", hexData)
	}
	shift := decimals - 8
	scaled := new(big.Int).Set(raw)
	switch {
	case shift > 0:
		scaled.Div(scaled, new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(shift)), nil))
	case shift < 0:
		scaled.Mul(scaled, new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(-shift)), nil))
	}
	if !scaled.IsInt64() {
		return 0, errors.Errorf("token amount %s overflows", raw)
	}
	return scaled.Int64(), nil
}
