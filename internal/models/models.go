package models

import "time"

type UserRole string

const (
	RoleUser       UserRole = "user"
	RoleAdmin      UserRole = "admin"
	RoleSuperAdmin UserRole = "superadmin"
)

type User struct {
	tableName struct{} `sql:"users"` //nolint: unused,structcheck

	ID        string    `sql:"id,pk"`
	ParentID  *string   `sql:"parent_id"`
	Role      UserRole  `sql:"role,notnull"`
	CreatedAt time.Time `sql:"created_at,notnull"`
}

// TransactionType classifies a ledger entry. The sign of the amount is
// derived from the type: income types increase the spendable balance,
// consumption types decrease it. Amounts themselves are always positive.
type TransactionType string

const (
	TxTypeDeposit     TransactionType = "deposit"
	TxTypeWithdrawal  TransactionType = "withdrawal"
	TxTypeIncome      TransactionType = "income"
	TxTypeReward      TransactionType = "reward"
	TxTypeFine        TransactionType = "fine"
	TxTypeInternalOut TransactionType = "internal_out"
	TxTypeInternalIn  TransactionType = "internal_in"
)

func (t TransactionType) Known() bool {
	switch t {
	case TxTypeDeposit, TxTypeWithdrawal, TxTypeIncome, TxTypeReward,
		TxTypeFine, TxTypeInternalOut, TxTypeInternalIn:
		return true
	}
	return false
}

func (t TransactionType) Income() bool {
	switch t {
	case TxTypeDeposit, TxTypeIncome, TxTypeReward, TxTypeInternalIn:
		return true
	}
	return false
}

func (t TransactionType) Consumption() bool {
	switch t {
	case TxTypeWithdrawal, TxTypeFine, TxTypeInternalOut:
		return true
	}
	return false
}

// Transaction is an append-only ledger row. Rows are never updated or
// deleted; transfer-linked rows stop counting towards the balance when
// their transfer leaves the completed status.
type Transaction struct {
	tableName struct{} `sql:"transactions"` //nolint: unused,structcheck

	ID                      string          `sql:"id,pk"`
	UserID                  string          `sql:"user_id,notnull"`
	Amount                  int64           `sql:"amount,notnull"`
	Type                    TransactionType `sql:"type,notnull"`
	TransferID              *string         `sql:"transfer_id"`
	InvestmentID            *string         `sql:"investment_id"`
	InvestmentTransactionID *string         `sql:"investment_transaction_id"`
	OriginTransactionID     *string         `sql:"origin_transaction_id"`
	ReferralLevelPercentage *int64          `sql:"referral_level_percentage"`
	CreatedAt               time.Time       `sql:"created_at,notnull"`
}

// AccountStatement closes the ledger for everything before Date.
// Date is the first day of a month; ClosingBalance is the spendable
// balance at that instant, TotalIncome/TotalConsumption cover the single
// month ending at Date. One row per (user, month), immutable.
type AccountStatement struct {
	tableName struct{} `sql:"account_statements"` //nolint: unused,structcheck

	ID               string    `sql:"id,pk"`
	UserID           string    `sql:"user_id,notnull"`
	Date             time.Time `sql:"date,notnull"`
	ClosingBalance   int64     `sql:"closing_balance,notnull"`
	TotalIncome      int64     `sql:"total_income,notnull"`
	TotalConsumption int64     `sql:"total_consumption,notnull"`
	CreatedAt        time.Time `sql:"created_at,notnull"`
}

type Investment struct {
	tableName struct{} `sql:"investments"` //nolint: unused,structcheck

	ID          string     `sql:"id,pk"`
	UserID      string     `sql:"user_id,notnull"`
	ProductID   string     `sql:"product_id,notnull"`
	StartDate   time.Time  `sql:"start_date,notnull"`
	DueDate     time.Time  `sql:"due_date,notnull"`
	Amount      int64      `sql:"amount,notnull"`
	Income      int64      `sql:"income,notnull"`
	Fine        int64      `sql:"fine,notnull"`
	CreatedAt   time.Time  `sql:"created_at,notnull"`
	UpdatedAt   time.Time  `sql:"updated_at,notnull"`
	CompletedAt *time.Time `sql:"completed_at"`
	CanceledAt  *time.Time `sql:"canceled_at"`
}

// Open reports whether the investment is still accruing. At most one open
// investment may exist per user.
func (i *Investment) Open() bool {
	return i.CompletedAt == nil && i.CanceledAt == nil
}

type InvestmentTxType string

const (
	InvestmentTxDeposit    InvestmentTxType = "deposit"
	InvestmentTxIncome     InvestmentTxType = "income"
	InvestmentTxWithdrawal InvestmentTxType = "withdrawal"
	InvestmentTxFine       InvestmentTxType = "fine"
)

type InvestmentTransaction struct {
	tableName struct{} `sql:"investment_transactions"` //nolint: unused,structcheck

	ID                string           `sql:"id,pk"`
	InvestmentID      string           `sql:"investment_id,notnull"`
	Type              InvestmentTxType `sql:"type,notnull"`
	Amount            int64            `sql:"amount,notnull"`
	EarningsSettingID *string          `sql:"earnings_setting_id"`
	CreatedAt         time.Time        `sql:"created_at,notnull"`
}

type Network string

const (
	NetworkBTC  Network = "btc"
	NetworkBSC  Network = "bsc"
	NetworkTRON Network = "tron"
)

func (n Network) Known() bool {
	return n == NetworkBTC || n == NetworkBSC || n == NetworkTRON
}

type TransferType string

const (
	TransferDeposit    TransferType = "deposit"
	TransferWithdrawal TransferType = "withdrawal"
)

type TransferStatus string

const (
	TransferPending   TransferStatus = "pending"
	TransferProcessed TransferStatus = "processed"
	TransferCompleted TransferStatus = "completed"
	TransferCanceled  TransferStatus = "canceled"
)

// Transfer is an external deposit or withdrawal request against one of the
// supported chains. Amount is in platform minor units, CurrencyAmount in
// coin minor units at the fixed rate captured by RateID.
type Transfer struct {
	tableName struct{} `sql:"transfers"` //nolint: unused,structcheck

	ID                string         `sql:"id,pk"`
	UserID            string         `sql:"user_id,notnull"`
	Network           Network        `sql:"network,notnull"`
	Type              TransferType   `sql:"type,notnull"`
	Status            TransferStatus `sql:"status,notnull"`
	Amount            int64          `sql:"amount,notnull"`
	CurrencyAmount    int64          `sql:"currency_amount,notnull"`
	RateID            string         `sql:"rate_id,notnull"`
	TxID              *string        `sql:"tx_id"`
	FromAddress       *string        `sql:"from_address"`
	WithdrawalAddress *string        `sql:"withdrawal_address"`
	Note              string         `sql:"note"`
	CreatedAt         time.Time      `sql:"created_at,notnull"`
	UpdatedAt         time.Time      `sql:"updated_at,notnull"`
	EndedAt           time.Time      `sql:"ended_at,notnull"`
	CompletedAt       *time.Time     `sql:"completed_at"`
}

func (t *Transfer) Terminal() bool {
	return t.Status == TransferCompleted || t.Status == TransferCanceled
}

func (t *Transfer) Expired(now time.Time) bool {
	return now.After(t.EndedAt)
}

// TransferInfo keeps scanner retry bookkeeping for one transfer.
type TransferInfo struct {
	tableName struct{} `sql:"transfer_infos"` //nolint: unused,structcheck

	TransferID string    `sql:"transfer_id,pk"`
	Attempts   int       `sql:"attempts,notnull"`
	Messages   []string  `sql:"messages,array"`
	UpdatedAt  time.Time `sql:"updated_at,notnull"`
}

// TransferCode is a one-time withdrawal authorization code. It is consumed
// exactly once by linking it to the transfer it authorized.
type TransferCode struct {
	tableName struct{} `sql:"transfer_codes"` //nolint: unused,structcheck

	ID         string    `sql:"id,pk"`
	UserID     string    `sql:"user_id,notnull"`
	Code       string    `sql:"code,notnull"`
	ExpiresAt  time.Time `sql:"expires_at,notnull"`
	TransferID *string   `sql:"transfer_id"`
	CreatedAt  time.Time `sql:"created_at,notnull"`
}

// TransactionCode authorizes one internal peer-to-peer transaction.
type TransactionCode struct {
	tableName struct{} `sql:"transaction_codes"` //nolint: unused,structcheck

	ID            string    `sql:"id,pk"`
	UserID        string    `sql:"user_id,notnull"`
	Code          string    `sql:"code,notnull"`
	ExpiresAt     time.Time `sql:"expires_at,notnull"`
	TransactionID *string   `sql:"transaction_id"`
	CreatedAt     time.Time `sql:"created_at,notnull"`
}

// ReferralLevel is static cascade configuration. Percentage is in
// hundredths of a percent: 10000 = 100.00%.
type ReferralLevel struct {
	tableName struct{} `sql:"referral_levels"` //nolint: unused,structcheck

	Level      int   `sql:"level,pk"`
	Percentage int64 `sql:"percentage,notnull"`
	Active     bool  `sql:"active,notnull"`
}

// Product is an investment tier. Price is the largest total principal the
// tier holds; an investment migrates to the next tier when cumulative
// deposits grow past it.
type Product struct {
	tableName struct{} `sql:"products"` //nolint: unused,structcheck

	ID       string `sql:"id,pk"`
	Name     string `sql:"name,notnull"`
	Price    int64  `sql:"price,notnull"`
	TermDays int    `sql:"term_days,notnull"`
	Prolongs bool   `sql:"prolongs,notnull"`
}

type ProductEarningsSetting struct {
	tableName struct{} `sql:"product_earnings_settings"` //nolint: unused,structcheck

	ID         string    `sql:"id,pk"`
	ProductID  string    `sql:"product_id,notnull"`
	Date       time.Time `sql:"date,notnull"`
	Percentage int64     `sql:"percentage,notnull"`
}

// NetworkRate fixes the platform-currency price of one whole coin.
// Rate is platform minor units per coin; a transfer keeps the rate it was
// created with for its whole life.
type NetworkRate struct {
	tableName struct{} `sql:"network_rates"` //nolint: unused,structcheck

	ID        string    `sql:"id,pk"`
	Network   Network   `sql:"network,notnull"`
	Rate      int64     `sql:"rate,notnull"`
	CreatedAt time.Time `sql:"created_at,notnull"`
}
