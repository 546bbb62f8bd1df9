package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/fastprodman/balancesync/internal/infra/logging"
	"github.com/fastprodman/balancesync/internal/money"
	"github.com/fastprodman/balancesync/internal/repos/players"
	"github.com/fastprodman/balancesync/internal/repos/transactions"
	"github.com/fastprodman/balancesync/internal/services/bank"
	"github.com/fastprodman/balancesync/internal/services/ledger"
	"github.com/fastprodman/balancesync/internal/services/reconcile"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// BankService is the part of bank.BankService the handlers need.
type BankService interface {
	ProcessTransaction(ctx context.Context, t bank.Transaction) (bank.Result, error)
	GetBalances(ctx context.Context, playerID uint64) (ledger.Balances, time.Time, error)
}

var _ BankService = (*bank.BankService)(nil)

// HandlerProvider wraps a BankService and exposes HTTP handlers.
type HandlerProvider struct {
	svc       BankService
	validator *validator.Validate
	log       *slog.Logger
}

func NewHandler(svc BankService, log *slog.Logger) *HandlerProvider {
	if log == nil {
		log = slog.Default()
	}

	return &HandlerProvider{
		svc:       svc,
		validator: validator.New(),
		log:       log,
	}
}

type txRequest struct {
	IdempotencyKey string      `json:"idempotencyKey" validate:"required,uuid"`
	Kind           string      `json:"kind" validate:"required"`
	Amount         money.Money `json:"amount"`
	AccountHint    string      `json:"accountHint" validate:"omitempty,oneof=cash bank"`
}

type balanceResponse struct {
	PlayerID        uint64      `json:"playerId"`
	Cash            money.Money `json:"cash"`
	BankBalance     money.Money `json:"bankBalance"`
	ServerTimestamp time.Time   `json:"serverTimestamp"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// GetBalanceHandler handles GET /players/{playerId}/balance
func (h *HandlerProvider) GetBalanceHandler(w http.ResponseWriter, r *http.Request) {
	log := h.requestLog(r, "api.GetBalance")

	playerID, err := parsePlayerID(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid playerId in path")

		return
	}

	b, ts, err := h.svc.GetBalances(r.Context(), playerID)
	if err != nil {
		if errors.Is(err, players.ErrPlayerNotFound) {
			writeError(w, r, http.StatusNotFound, "player not found")

			return
		}

		log.Error("get balances", logging.Err(err))
		writeError(w, r, http.StatusInternalServerError, "internal error")

		return
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, balanceResponse{
		PlayerID:        playerID,
		Cash:            b.Cash,
		BankBalance:     b.BankBalance,
		ServerTimestamp: ts,
	})
}

// ProcessTransactionHandler handles POST /players/{playerId}/transactions
func (h *HandlerProvider) ProcessTransactionHandler(w http.ResponseWriter, r *http.Request) {
	log := h.requestLog(r, "api.ProcessTransaction")

	playerID, err := parsePlayerID(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid playerId in path")

		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)

	var req txRequest

	err = render.DecodeJSON(r.Body, &req)
	if err != nil {
		log.Warn("decode request body", logging.Err(err))
		writeRejection(w, r, http.StatusBadRequest, reconcile.ReasonInvalidRequest)

		return
	}

	err = h.validator.Struct(req)
	if err != nil || !req.Amount.IsPositive() {
		log.Warn("invalid request", slog.Any("request", req), logging.Err(err))
		writeRejection(w, r, http.StatusUnprocessableEntity, reconcile.ReasonInvalidRequest)

		return
	}

	key, err := uuid.Parse(req.IdempotencyKey)
	if err != nil {
		writeRejection(w, r, http.StatusUnprocessableEntity, reconcile.ReasonInvalidRequest)

		return
	}

	res, err := h.svc.ProcessTransaction(r.Context(), bank.Transaction{
		IdempotencyKey: key,
		PlayerID:       playerID,
		Kind:           ledger.Kind(req.Kind),
		Amount:         req.Amount,
	})
	if err != nil {
		status, reason := classify(err)
		if status >= http.StatusInternalServerError {
			log.Error("process transaction", logging.Err(err))
			writeError(w, r, status, "internal error")

			return
		}

		log.Info("transaction rejected",
			slog.String("idempotency_key", key.String()),
			slog.String("reason", reason),
		)
		writeRejection(w, r, status, reason)

		return
	}

	log.Info("transaction confirmed",
		slog.String("idempotency_key", key.String()),
		slog.Bool("replayed", res.Replayed),
	)

	render.Status(r, http.StatusOK)
	render.JSON(w, r, reconcile.Response{
		Status:          reconcile.StatusConfirmed,
		ServerBalance:   res.Balances,
		ServerTimestamp: res.Timestamp,
	})
}

// classify maps a bank error to its HTTP status and rejection reason.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, players.ErrPlayerNotFound):
		return http.StatusNotFound, reconcile.ReasonPlayerNotFound
	case errors.Is(err, players.ErrInsufficientFunds):
		return http.StatusUnprocessableEntity, reconcile.ReasonInsufficientFunds
	case errors.Is(err, bank.ErrAccountFrozen):
		return http.StatusUnprocessableEntity, reconcile.ReasonAccountFrozen
	case errors.Is(err, bank.ErrIdempotencyConflict), errors.Is(err, transactions.ErrDuplicateTransaction):
		return http.StatusConflict, reconcile.ReasonIdempotencyConflict
	case errors.Is(err, bank.ErrInvalidTransaction):
		return http.StatusUnprocessableEntity, reconcile.ReasonInvalidRequest
	default:
		return http.StatusInternalServerError, ""
	}
}

func (h *HandlerProvider) requestLog(r *http.Request, op string) *slog.Logger {
	return h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)
}

func writeRejection(w http.ResponseWriter, r *http.Request, status int, reason string) {
	render.Status(r, status)
	render.JSON(w, r, reconcile.Response{
		Status:          reconcile.StatusRejected,
		Reason:          reason,
		ServerTimestamp: time.Now().UTC(),
	})
}

func writeError(w http.ResponseWriter, r *http.Request, status int, msg string) {
	render.Status(r, status)
	render.JSON(w, r, errorResponse{Error: msg})
}

func parsePlayerID(r *http.Request) (uint64, error) {
	idStr := chi.URLParam(r, "playerId")
	if idStr == "" {
		return 0, fmt.Errorf("missing playerId")
	}

	id, err := strconv.ParseUint(idStr, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid playerId: %w", err)
	}

	if id == 0 {
		return 0, fmt.Errorf("invalid playerId: must be positive")
	}

	return id, nil
}
