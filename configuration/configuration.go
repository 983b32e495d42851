package configuration

import (
	"time"

	"github.com/Vimbi/cryptocurrency-investments-sub000/internal/pkg/cycle"
)

type Configuration struct {
	Log              Log
	DB               DB
	API              API
	Transfer         Transfer
	InternalTransfer InternalTransfer
	Referral         Referral
	Investment       Investment
	Scanner          Scanner
	Scheduler        Scheduler
}

type Log struct {
	Level  string
	Format string
}

type DB struct {
	URL      string
	PoolSize int
	Attempts cycle.Limit
	// Interval between failed connection attempts
	AttemptInterval time.Duration
}

type API struct {
	Addr string
}

// Transfer holds external deposit/withdrawal limits. Amounts are platform
// minor units.
type Transfer struct {
	MinDepositAmount    int64
	MinWithdrawalAmount int64
	// Ceiling for transfer requests created by one user per calendar day
	MaxDailyRequests int
	// amount + pending deposits + balance + active investment must stay under this
	MaxTotalFunds int64
	// How long a pending transfer waits for its txId before expiring
	Lifetime     time.Duration
	CodeLifetime time.Duration
}

type InternalTransfer struct {
	MinAmount    int64
	MaxAmount    int64
	CodeLifetime time.Duration
}

type Referral struct {
	MaxLevel int
}

type Investment struct {
	// Replenishment is rejected when the investment is due within this buffer
	ReplenishDueBuffer time.Duration
}

type Scanner struct {
	Workers   int
	QueueSize int
	BTC       Chain
	BSC       Chain
	TRON      Chain
}

// Chain describes one read-only blockchain explorer and the validation
// parameters for transfers on that network.
type Chain struct {
	Endpoint            string
	APIKey              string
	DepositAddress      string
	MinConfirmations    int64
	TokenSymbol         string
	TokenType           string
	// Contract emitting the token's transfer events. Empty for native coins.
	TokenContract       string
	RequiresFromAddress bool
	RequestTimeout      time.Duration
	CacheSize           int
}

type Scheduler struct {
	// Hour of day (server local time) the accrual and completion jobs fire
	AccrualHour int
	// Daily jobs are re-checked this often
	TickInterval time.Duration
	// Expired one-time codes are deleted this often
	SweepInterval time.Duration
	// Pending transfers with a txId are re-enqueued for scanning this often
	RequeueInterval time.Duration
}

func Default() *Configuration {
	return &Configuration{
		Log: Log{
			Level:  "debug",
			Format: "text",
		},
		DB: DB{
			URL:             "postgres://postgres@localhost/postgres?sslmode=disable",
			PoolSize:        100,
			Attempts:        5,
			AttemptInterval: 3 * time.Second,
		},
		API: API{
			Addr: ":8080",
		},
		Transfer: Transfer{
			MinDepositAmount:    1000,
			MinWithdrawalAmount: 1000,
			MaxDailyRequests:    5,
			MaxTotalFunds:       100000000,
			Lifetime:            2 * time.Hour,
			CodeLifetime:        15 * time.Minute,
		},
		InternalTransfer: InternalTransfer{
			MinAmount:    100,
			MaxAmount:    10000000,
			CodeLifetime: 15 * time.Minute,
		},
		Referral: Referral{
			MaxLevel: 5,
		},
		Investment: Investment{
			ReplenishDueBuffer: time.Hour,
		},
		Scanner: Scanner{
			Workers:   2,
			QueueSize: 1024,
			BTC: Chain{
				Endpoint:            "https://btc.explorer.example",
				MinConfirmations:    2,
				RequiresFromAddress: false,
				RequestTimeout:      10 * time.Second,
				CacheSize:           1024,
			},
			BSC: Chain{
				Endpoint:            "https://api.bscscan.example/api",
				MinConfirmations:    10,
				TokenSymbol:         "USDT",
				TokenType:           "BEP-20",
				TokenContract:       "0x55d398326f99059fF775485246999027B3197955",
				RequiresFromAddress: true,
				RequestTimeout:      10 * time.Second,
				CacheSize:           1024,
			},
			TRON: Chain{
				Endpoint:            "https://api.trongrid.example",
				MinConfirmations:    19,
				TokenSymbol:         "USDT",
				TokenType:           "TRC-20",
				TokenContract:       "TR7NHqjeKQxGTCi8q8ZY4pL8otSzgjLj6t",
				RequiresFromAddress: true,
				RequestTimeout:      10 * time.Second,
				CacheSize:           1024,
			},
		},
		Scheduler: Scheduler{
			AccrualHour:     12,
			TickInterval:    time.Minute,
			SweepInterval:   10 * time.Minute,
			RequeueInterval: time.Minute,
		},
	}
}
