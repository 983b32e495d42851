package scan

import (
	"fmt"
	"strings"

	"github.com/Vimbi/cryptocurrency-investments-sub000/configuration"
	"github.com/Vimbi/cryptocurrency-investments-sub000/internal/models"
)

// ChainTx is an on-chain transaction normalized across explorers.
// Amount is scaled to 1e-8 coin units regardless of the chain's native
// decimals.
type ChainTx struct {
	Hash          string
	Success       bool
	Confirmations int64
	From          string
	To            string
	Amount        int64
	TokenSymbol   string
	TokenType     string
	// TokenContract is the contract that emitted the transfer event,
	// as observed on chain. Empty for native coin payments.
	TokenContract string
}

type Verdict int

const (
	// VerdictRetry leaves the transfer open for a later pass.
	VerdictRetry Verdict = iota
	// VerdictComplete finalizes the transfer and writes its ledger row.
	VerdictComplete
	// VerdictCancel cancels the transfer with the collected mismatches.
	VerdictCancel
)

// Evaluate compares the on-chain transaction with the transfer and the
// chain configuration. Permanent mismatches cancel; a missing transaction
// or too few confirmations retry.
func Evaluate(t *models.Transfer, chainTx *ChainTx, cfg configuration.Chain) (Verdict, []string) {
	if chainTx == nil {
		return VerdictRetry, []string{"transaction not found on chain"}
	}

	var mismatches []string
	if !chainTx.Success {
		mismatches = append(mismatches, "transaction failed on chain")
	}
	if cfg.TokenContract != "" && !strings.EqualFold(chainTx.TokenContract, cfg.TokenContract) {
		mismatches = append(mismatches, fmt.Sprintf("token contract %q, want %q", chainTx.TokenContract, cfg.TokenContract))
	}
	if cfg.TokenSymbol != "" && !strings.EqualFold(chainTx.TokenSymbol, cfg.TokenSymbol) {
		mismatches = append(mismatches, fmt.Sprintf("token symbol %q, want %q", chainTx.TokenSymbol, cfg.TokenSymbol))
	}
	if cfg.TokenType != "" && !strings.EqualFold(chainTx.TokenType, cfg.TokenType) {
		mismatches = append(mismatches, fmt.Sprintf("token type %q, want %q", chainTx.TokenType, cfg.TokenType))
	}

	switch t.Type {
	case models.TransferDeposit:
		if !strings.EqualFold(chainTx.To, cfg.DepositAddress) {
			mismatches = append(mismatches, fmt.Sprintf("destination %q is not the platform address", chainTx.To))
		}
		if cfg.RequiresFromAddress && t.FromAddress != nil && !strings.EqualFold(chainTx.From, *t.FromAddress) {
			mismatches = append(mismatches, fmt.Sprintf("source %q does not match the declared address", chainTx.From))
		}
	case models.TransferWithdrawal:
		if t.WithdrawalAddress == nil || !strings.EqualFold(chainTx.To, *t.WithdrawalAddress) {
			mismatches = append(mismatches, fmt.Sprintf("destination %q is not the withdrawal address", chainTx.To))
		}
	}

	if chainTx.Amount < t.CurrencyAmount {
		mismatches = append(mismatches, fmt.Sprintf("amount %d is below the expected %d", chainTx.Amount, t.CurrencyAmount))
	}

	if len(mismatches) > 0 {
		return VerdictCancel, mismatches
	}
	if chainTx.Confirmations < int64(cfg.MinConfirmations) {
		return VerdictRetry, []string{fmt.Sprintf("%d of %d confirmations", chainTx.Confirmations, cfg.MinConfirmations)}
	}
	return VerdictComplete, nil
}
