package component

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-pg/pg"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/Vimbi/cryptocurrency-investments-sub000/internal/app/engine"
	"github.com/Vimbi/cryptocurrency-investments-sub000/internal/app/engine/ledger"
	"github.com/Vimbi/cryptocurrency-investments-sub000/internal/models"
	"github.com/Vimbi/cryptocurrency-investments-sub000/observability"
)

type Server struct {
	db    *pg.DB
	obs   *observability.Observability
	log   *logrus.Logger
	clock engine.Clock
}

func NewServer(db *pg.DB, obs *observability.Observability, clock engine.Clock) *Server {
	return &Server{db: db, obs: obs, log: obs.Log(), clock: clock}
}

type ErrorMessage struct {
	Error []string `json:"error"`
}

func singleError(message string) ErrorMessage {
	return ErrorMessage{Error: []string{message}}
}

type BalanceResponse struct {
	UserID  string `json:"userId"`
	Balance int64  `json:"balance"`
	AsOf    string `json:"asOf"`
}

// GetBalance returns the spendable balance with in-flight withdrawals
// already subtracted.
func (s *Server) GetBalance(ctx echo.Context) error {
	userID := ctx.Param("userID")
	if userID == "" {
		return ctx.JSON(http.StatusBadRequest, singleError("userID is required"))
	}

	now := s.clock.Now()
	balance, err := ledger.NewStorage(s.obs, s.db).ComputeBalance(userID, ledger.BalanceOptions{
		IncludePendingWithdrawals: true,
	})
	if err != nil {
		s.log.Error(err)
		return ctx.JSON(http.StatusInternalServerError, struct{}{})
	}

	return ctx.JSON(http.StatusOK, BalanceResponse{
		UserID:  userID,
		Balance: balance,
		AsOf:    now.Format(time.RFC3339),
	})
}

// GetTransactions lists a user's most recent ledger rows, newest first.
func (s *Server) GetTransactions(ctx echo.Context) error {
	userID := ctx.Param("userID")
	limit := 100
	if raw := ctx.QueryParam("limit"); raw != "" {
		parsed, err := parseLimit(raw)
		if err != nil {
			return ctx.JSON(http.StatusBadRequest, singleError("`limit` should be in range [1, 1000]"))
		}
		limit = parsed
	}

	var result []models.Transaction
	err := s.db.Model(&result).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(limit).
		Select()
	if err != nil {
		s.log.Error(err)
		return ctx.JSON(http.StatusInternalServerError, struct{}{})
	}
	return ctx.JSON(http.StatusOK, result)
}

func (s *Server) GetTransfer(ctx echo.Context) error {
	transferID := ctx.Param("transferID")

	transfer := &models.Transfer{}
	err := s.db.Model(transfer).Where("id = ?", transferID).Select()
	if err == pg.ErrNoRows {
		return ctx.JSON(http.StatusNotFound, singleError("transfer not found"))
	}
	if err != nil {
		s.log.Error(err)
		return ctx.JSON(http.StatusInternalServerError, struct{}{})
	}
	return ctx.JSON(http.StatusOK, transfer)
}

func (s *Server) GetActiveInvestment(ctx echo.Context) error {
	userID := ctx.Param("userID")

	inv := &models.Investment{}
	err := s.db.Model(inv).
		Where("user_id = ?", userID).
		Where("completed_at IS NULL").
		Where("canceled_at IS NULL").
		Select()
	if err == pg.ErrNoRows {
		return ctx.JSON(http.StatusNotFound, singleError("no active investment"))
	}
	if err != nil {
		s.log.Error(err)
		return ctx.JSON(http.StatusInternalServerError, struct{}{})
	}
	return ctx.JSON(http.StatusOK, inv)
}

func parseLimit(raw string) (int, error) {
	limit, err := strconv.Atoi(raw)
	if err != nil {
		return 0, err
	}
	if limit < 1 || limit > 1000 {
		return 0, errors.Errorf("limit %d out of range", limit)
	}
	return limit, nil
}
