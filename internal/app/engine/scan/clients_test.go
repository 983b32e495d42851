package scan

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Vimbi/cryptocurrency-investments-sub000/configuration"
	"github.com/Vimbi/cryptocurrency-investments-sub000/internal/app/engine"
	"github.com/Vimbi/cryptocurrency-investments-sub000/observability"
)

func chainConfig(endpoint string) configuration.Chain {
	return configuration.Chain{
		Endpoint:       endpoint,
		APIKey:         "test-key",
		DepositAddress: "bc1qplatform",
		RequestTimeout: 5 * time.Second,
	}
}

func TestBTCClientFetchesConfirmedTx(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/tx/deadbeef", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{
			"txid": "deadbeef",
			"status": {"confirmed": true, "block_height": 800000},
			"vin": [{"prevout": {"scriptpubkey_address": "bc1qsender"}}],
			"vout": [
				{"scriptpubkey_address": "bc1qchange", "value": 99},
				{"scriptpubkey_address": "bc1qplatform", "value": 250000}
			]
		}`)
	})
	mux.HandleFunc("/blocks/tip/height", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "800005")
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	client := NewBTCClient(observability.Make("debug", "text"), chainConfig(server.URL))
	tx, err := client.FetchTransaction(context.Background(), "deadbeef")
	require.NoError(t, err)
	require.NotNil(t, tx)
	require.True(t, tx.Success)
	require.Equal(t, int64(6), tx.Confirmations)
	require.Equal(t, "bc1qsender", tx.From)
	require.Equal(t, "bc1qplatform", tx.To)
	require.Equal(t, int64(250000), tx.Amount)
}

func TestBTCClientUnknownHash(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	defer server.Close()

	client := NewBTCClient(observability.Make("debug", "text"), chainConfig(server.URL))
	tx, err := client.FetchTransaction(context.Background(), "unknown")
	require.NoError(t, err)
	require.Nil(t, tx)
}

func TestBTCClientRateLimitedIsTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	client := NewBTCClient(observability.Make("debug", "text"), chainConfig(server.URL))
	_, err := client.FetchTransaction(context.Background(), "any")
	require.True(t, engine.IsTransientScan(err))
}

func TestBTCClientServerErrorIsTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	client := NewBTCClient(observability.Make("debug", "text"), chainConfig(server.URL))
	_, err := client.FetchTransaction(context.Background(), "any")
	require.True(t, engine.IsTransientScan(err))
}

func TestBSCClientParsesTransferLog(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("action") {
		case "eth_getTransactionReceipt":
			// 5 tokens with 18 decimals
			fmt.Fprint(w, `{"result": {
				"status": "0x1",
				"blockNumber": "0x1e8480",
				"logs": [{
					"address": "0xtoken",
					"topics": [
						"0xddf252ad1be2c89b69c2b068fc378daa952ba7f163c4a11628f55a4df523b3ef",
						"0x000000000000000000000000aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa",
						"0x000000000000000000000000bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"
					],
					"data": "0x4563918244f40000"
				}]
			}}`)
		case "eth_blockNumber":
			fmt.Fprint(w, `{"result": "0x1e848a"}`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	cfg := chainConfig(server.URL)
	cfg.TokenSymbol = "USDT"
	cfg.TokenType = "BEP-20"
	cfg.TokenContract = "0xtoken"
	client := NewBSCClient(observability.Make("debug", "text"), cfg)

	tx, err := client.FetchTransaction(context.Background(), "0xhash")
	require.NoError(t, err)
	require.NotNil(t, tx)
	require.True(t, tx.Success)
	require.Equal(t, int64(11), tx.Confirmations)
	require.Equal(t, "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa", tx.From)
	require.Equal(t, "0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb", tx.To)
	// 0x4563918244f40000 = 5e18 wei-scale units → 5e8 in 1e-8 units
	require.Equal(t, int64(500000000), tx.Amount)
	require.Equal(t, "0xtoken", tx.TokenContract)
	require.Equal(t, "USDT", tx.TokenSymbol)
	require.Equal(t, "BEP-20", tx.TokenType)
}

func TestBSCClientForeignContractStaysUnidentified(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("action") {
		case "eth_getTransactionReceipt":
			// a Transfer event from some other BEP-20 contract paying
			// the platform address
			fmt.Fprint(w, `{"result": {
				"status": "0x1",
				"blockNumber": "0x1e8480",
				"logs": [{
					"address": "0xevilcoin",
					"topics": [
						"0xddf252ad1be2c89b69c2b068fc378daa952ba7f163c4a11628f55a4df523b3ef",
						"0x000000000000000000000000aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa",
						"0x000000000000000000000000bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"
					],
					"data": "0x4563918244f40000"
				}]
			}}`)
		case "eth_blockNumber":
			fmt.Fprint(w, `{"result": "0x1e848a"}`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	cfg := chainConfig(server.URL)
	cfg.TokenSymbol = "USDT"
	cfg.TokenType = "BEP-20"
	cfg.TokenContract = "0xtoken"
	client := NewBSCClient(observability.Make("debug", "text"), cfg)

	tx, err := client.FetchTransaction(context.Background(), "0xhash")
	require.NoError(t, err)
	require.NotNil(t, tx)
	require.Equal(t, "0xevilcoin", tx.TokenContract)
	require.Empty(t, tx.TokenSymbol)
	require.Empty(t, tx.TokenType)

	verdict, messages := Evaluate(depositTransfer(), tx, cfg)
	require.Equal(t, VerdictCancel, verdict)
	require.NotEmpty(t, messages)
}

func TestBSCClientPrefersConfiguredContractLog(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("action") {
		case "eth_getTransactionReceipt":
			fmt.Fprint(w, `{"result": {
				"status": "0x1",
				"blockNumber": "0x1e8480",
				"logs": [
					{
						"address": "0xothercoin",
						"topics": [
							"0xddf252ad1be2c89b69c2b068fc378daa952ba7f163c4a11628f55a4df523b3ef",
							"0x000000000000000000000000cccccccccccccccccccccccccccccccccccccccc",
							"0x000000000000000000000000dddddddddddddddddddddddddddddddddddddddd"
						],
						"data": "0x01"
					},
					{
						"address": "0xtoken",
						"topics": [
							"0xddf252ad1be2c89b69c2b068fc378daa952ba7f163c4a11628f55a4df523b3ef",
							"0x000000000000000000000000aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa",
							"0x000000000000000000000000bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"
						],
						"data": "0x4563918244f40000"
					}
				]
			}}`)
		case "eth_blockNumber":
			fmt.Fprint(w, `{"result": "0x1e848a"}`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	cfg := chainConfig(server.URL)
	cfg.TokenSymbol = "USDT"
	cfg.TokenType = "BEP-20"
	cfg.TokenContract = "0xtoken"
	client := NewBSCClient(observability.Make("debug", "text"), cfg)

	tx, err := client.FetchTransaction(context.Background(), "0xhash")
	require.NoError(t, err)
	require.Equal(t, "0xtoken", tx.TokenContract)
	require.Equal(t, int64(500000000), tx.Amount)
}

func TestBSCClientPendingHash(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"result": null}`)
	}))
	defer server.Close()

	client := NewBSCClient(observability.Make("debug", "text"), chainConfig(server.URL))
	tx, err := client.FetchTransaction(context.Background(), "0xpending")
	require.NoError(t, err)
	require.Nil(t, tx)
}

func TestTRONClientParsesTransfer(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/transaction-info", r.URL.Path)
		fmt.Fprint(w, `{
			"hash": "tronhash",
			"confirmed": true,
			"confirmations": 25,
			"contractRet": "SUCCESS",
			"trc20TransferInfo": [{
				"amount_str": "5000000",
				"from_address": "TSender",
				"to_address": "TPlatform",
				"symbol": "USDT",
				"contract_address": "TUsdtContract"
			}]
		}`)
	}))
	defer server.Close()

	cfg := chainConfig(server.URL)
	cfg.TokenType = "TRC-20"
	cfg.TokenContract = "TUsdtContract"
	client := NewTRONClient(observability.Make("debug", "text"), cfg)

	tx, err := client.FetchTransaction(context.Background(), "tronhash")
	require.NoError(t, err)
	require.NotNil(t, tx)
	require.True(t, tx.Success)
	require.Equal(t, int64(25), tx.Confirmations)
	require.Equal(t, "TPlatform", tx.To)
	// 5 USDT with 6 decimals → 5e8 in 1e-8 units
	require.Equal(t, int64(500000000), tx.Amount)
	require.Equal(t, "TUsdtContract", tx.TokenContract)
	require.Equal(t, "USDT", tx.TokenSymbol)
	require.Equal(t, "TRC-20", tx.TokenType)
}

func TestTRONClientForeignContractHasNoType(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{
			"hash": "tronhash",
			"confirmed": true,
			"confirmations": 25,
			"contractRet": "SUCCESS",
			"trc20TransferInfo": [{
				"amount_str": "5000000",
				"from_address": "TSender",
				"to_address": "TPlatform",
				"symbol": "USDT",
				"contract_address": "TImpostor"
			}]
		}`)
	}))
	defer server.Close()

	cfg := chainConfig(server.URL)
	cfg.TokenType = "TRC-20"
	cfg.TokenContract = "TUsdtContract"
	client := NewTRONClient(observability.Make("debug", "text"), cfg)

	tx, err := client.FetchTransaction(context.Background(), "tronhash")
	require.NoError(t, err)
	require.Equal(t, "TImpostor", tx.TokenContract)
	require.Empty(t, tx.TokenType)

	verdict, _ := Evaluate(depositTransfer(), tx, cfg)
	require.Equal(t, VerdictCancel, verdict)
}

func TestTRONClientEmptyObjectMeansUnknown(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{}`)
	}))
	defer server.Close()

	client := NewTRONClient(observability.Make("debug", "text"), chainConfig(server.URL))
	tx, err := client.FetchTransaction(context.Background(), "nothing")
	require.NoError(t, err)
	require.Nil(t, tx)
}

func TestScaleDecimalAmount(t *testing.T) {
	require.Equal(t, int64(500000000), scaleDecimalAmount(5000000, 6))
	require.Equal(t, int64(250000), scaleDecimalAmount(250000, 8))
	require.Equal(t, int64(5), scaleDecimalAmount(500, 10))
}

func TestScaleTokenAmount(t *testing.T) {
	// 5e18 with 18 decimals → 5e8
	amount, err := scaleTokenAmount("0x4563918244f40000", 18)
	require.NoError(t, err)
	require.Equal(t, int64(500000000), amount)

	_, err = scaleTokenAmount("0xzz", 18)
	require.Error(t, err)
}
