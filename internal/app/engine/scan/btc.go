package scan

import (
	"context"
	"encoding/json"
	"fmt"
	"io/ioutil"
	"net/http"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/Vimbi/cryptocurrency-investments-sub000/configuration"
	"github.com/Vimbi/cryptocurrency-investments-sub000/internal/app/engine"
	"github.com/Vimbi/cryptocurrency-investments-sub000/observability"
)

// BTCClient reads a Blockstream-compatible esplora API. Amounts arrive in
// satoshi, which is already the 1e-8 scale ChainTx wants.
type BTCClient struct {
	log      *logrus.Logger
	cfg      configuration.Chain
	http     *http.Client
	tipURL   string
	txFormat string
}

func NewBTCClient(obs *observability.Observability, cfg configuration.Chain) *BTCClient {
	base := strings.TrimRight(cfg.Endpoint, "/")
	return &BTCClient{
		log:      obs.Log(),
		cfg:      cfg,
		http:     &http.Client{Timeout: cfg.RequestTimeout},
		tipURL:   base + "/blocks/tip/height",
		txFormat: base + "/tx/%s",
	}
}

type btcStatus struct {
	Confirmed   bool  `json:"confirmed"`
	BlockHeight int64 `json:"block_height"`
}

type btcVin struct {
	Prevout struct {
		ScriptpubkeyAddress string `json:"scriptpubkey_address"`
	} `json:"prevout"`
}

type btcVout struct {
	ScriptpubkeyAddress string `json:"scriptpubkey_address"`
	Value               int64  `json:"value"`
}

type btcTx struct {
	Txid   string    `json:"txid"`
	Status btcStatus `json:"status"`
	Vin    []btcVin  `json:"vin"`
	Vout   []btcVout `json:"vout"`
}

func (c *BTCClient) FetchTransaction(ctx context.Context, txID string) (*ChainTx, error) {
	body, found, err := fetchBody(ctx, c.http, fmt.Sprintf(c.txFormat, txID))
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}

	tx := btcTx{}
	if err := json.Unmarshal(body, &tx); err != nil {
		return nil, errors.Wrap(err, "failed to decode btc transaction")
	}

	confirmations := int64(0)
	if tx.Status.Confirmed {
		tipBody, _, err := fetchBody(ctx, c.http, c.tipURL)
		if err != nil {
			return nil, err
		}
		var tip int64
		if _, err := fmt.Sscanf(strings.TrimSpace(string(tipBody)), "%d", &tip); err != nil {
			return nil, errors.Wrap(err, "failed to parse tip height")
		}
		confirmations = tip - tx.Status.BlockHeight + 1
	}

	// pick the output paying the platform address; fall back to the
	// largest output so the verdict can report the actual destination
	out := pickBTCOutput(tx.Vout, c.cfg.DepositAddress)

	from := ""
	if len(tx.Vin) > 0 {
		from = tx.Vin[0].Prevout.ScriptpubkeyAddress
	}
	// native coin payment, no token identity to report
	return &ChainTx{
		Hash:          tx.Txid,
		Success:       true,
		Confirmations: confirmations,
		From:          from,
		To:            out.ScriptpubkeyAddress,
		Amount:        out.Value,
	}, nil
}

func pickBTCOutput(vout []btcVout, preferred string) btcVout {
	best := btcVout{}
	for _, out := range vout {
		if strings.EqualFold(out.ScriptpubkeyAddress, preferred) {
			return out
		}
		if out.Value > best.Value {
			best = out
		}
	}
	return best
}

// fetchBody does one GET and classifies the failure modes: 404 means the
// chain does not know the resource, 429 and 5xx are transient.
func fetchBody(ctx context.Context, client *http.Client, url string) ([]byte, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, false, errors.Wrap(err, "failed to build explorer request")
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, false, engine.TransientScanf("explorer request failed: %v", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, false, nil
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, false, engine.TransientScanf("explorer rate limited the request")
	case resp.StatusCode >= 500:
		return nil, false, engine.TransientScanf("explorer returned %d", resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return nil, false, errors.Errorf("explorer returned %d for %s", resp.StatusCode, url)
	}

	body, err := ioutil.ReadAll(resp.Body)
	if err != nil {
		return nil, false, engine.TransientScanf("failed to read explorer response: %v", err)
	}
	return body, true, nil
}
