package scan

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/Vimbi/cryptocurrency-investments-sub000/configuration"
	"github.com/Vimbi/cryptocurrency-investments-sub000/observability"
)

// trc20Decimals is the decimal count of the tracked TRC-20 token.
const trc20Decimals = 6

// TRONClient reads a tronscan-compatible transaction-info API.
type TRONClient struct {
	log  *logrus.Logger
	cfg  configuration.Chain
	http *http.Client
	base string
}

func NewTRONClient(obs *observability.Observability, cfg configuration.Chain) *TRONClient {
	return &TRONClient{
		log:  obs.Log(),
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.RequestTimeout},
		base: strings.TrimRight(cfg.Endpoint, "/"),
	}
}

type tronTransferInfo struct {
	AmountStr       string `json:"amount_str"`
	FromAddress     string `json:"from_address"`
	ToAddress       string `json:"to_address"`
	Symbol          string `json:"symbol"`
	ContractAddress string `json:"contract_address"`
}

type tronTx struct {
	Hash          string             `json:"hash"`
	Confirmed     bool               `json:"confirmed"`
	Confirmations int64              `json:"confirmations"`
	ContractRet   string             `json:"contractRet"`
	Transfers     []tronTransferInfo `json:"trc20TransferInfo"`
}

func (c *TRONClient) FetchTransaction(ctx context.Context, txID string) (*ChainTx, error) {
	url := fmt.Sprintf("%s/api/transaction-info?hash=%s", c.base, txID)
	body, found, err := fetchBody(ctx, c.http, url)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}

	tx := tronTx{}
	if err := json.Unmarshal(body, &tx); err != nil {
		return nil, errors.Wrap(err, "failed to decode tron transaction")
	}
	if tx.Hash == "" {
		// tronscan answers 200 with an empty object for unknown hashes
		return nil, nil
	}

	chainTx := &ChainTx{
		Hash:          tx.Hash,
		Success:       tx.ContractRet == "SUCCESS",
		Confirmations: tx.Confirmations,
	}
	if len(tx.Transfers) > 0 {
		first := tx.Transfers[0]
		chainTx.From = first.FromAddress
		chainTx.To = first.ToAddress
		chainTx.TokenSymbol = first.Symbol
		chainTx.TokenContract = first.ContractAddress
		// the token type is implied by the contract, never by the symbol
		if strings.EqualFold(first.ContractAddress, c.cfg.TokenContract) {
			chainTx.TokenType = c.cfg.TokenType
		}
		raw, err := strconv.ParseInt(first.AmountStr, 10, 64)
		if err != nil {
			return nil, errors.Wrapf(err, "malformed tron amount %q", first.AmountStr)
		}
		chainTx.Amount = scaleDecimalAmount(raw, trc20Decimals)
	}
	return chainTx, nil
}

// scaleDecimalAmount converts an integer amount with the given decimals
// to 1e-8 coin units.
func scaleDecimalAmount(raw int64, decimals int) int64 {
	shift := 8 - decimals
	scaled := raw
	for i := 0; i < shift; i++ {
		scaled *= 10
	}
	for i := 0; i < -shift; i++ {
		scaled /= 10
	}
	return scaled
}
