package wallet

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"

	"github.com/onlinewallet/onlinewallet/internal/ledger"
	"github.com/onlinewallet/onlinewallet/internal/problem"
)

// ProblemTypeInsufficientBalance identifies insufficient balance problems.
const ProblemTypeInsufficientBalance = "InsufficientBalance"

// Handler exposes wallet HTTP endpoints.
type Handler struct {
	service  *Service
	validate *validator.Validate
}

// NewHandler builds a wallet HTTP handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service, validate: validator.New()}
}

type amountRequest struct {
	Amount *decimal.Decimal `json:"amount" validate:"required"`
}

type balanceResponse struct {
	Amount json.RawMessage `json:"amount"`
}

func newBalanceResponse(b Balance) balanceResponse {
	return balanceResponse{Amount: json.RawMessage(b.Amount.String())}
}

// Balance returns the current wallet balance.
func (h *Handler) Balance(c *fiber.Ctx) error {
	balance, err := h.service.GetBalance(c.UserContext())
	if err != nil {
		return toProblem(err)
	}
	return c.Status(http.StatusOK).JSON(newBalanceResponse(balance))
}

// Deposit adds funds and returns the new balance.
func (h *Handler) Deposit(c *fiber.Ctx) error {
	amount, err := h.parseAmount(c)
	if err != nil {
		return err
	}
	balance, err := h.service.DepositFunds(c.UserContext(), Deposit{Amount: amount})
	if err != nil {
		return toProblem(err)
	}
	return c.Status(http.StatusOK).JSON(newBalanceResponse(balance))
}

// Withdraw removes funds and returns the new balance.
func (h *Handler) Withdraw(c *fiber.Ctx) error {
	amount, err := h.parseAmount(c)
	if err != nil {
		return err
	}
	balance, err := h.service.WithdrawFunds(c.UserContext(), Withdrawal{Amount: amount})
	if err != nil {
		return toProblem(err)
	}
	return c.Status(http.StatusOK).JSON(newBalanceResponse(balance))
}

func (h *Handler) parseAmount(c *fiber.Ctx) (decimal.Decimal, error) {
	var req amountRequest
	if err := c.BodyParser(&req); err != nil {
		return decimal.Zero, fiber.NewError(http.StatusBadRequest, err.Error())
	}
	if err := h.validate.Struct(req); err != nil {
		return decimal.Zero, fiber.NewError(http.StatusBadRequest, "amount is required")
	}
	if err := ledger.CheckRange(*req.Amount); err != nil {
		return decimal.Zero, fiber.NewError(http.StatusBadRequest,
			fmt.Sprintf("amount must have at most %d decimal places and magnitude at most %s", ledger.MaxScale, ledger.MaxMagnitude))
	}
	return *req.Amount, nil
}

func toProblem(err error) error {
	if errors.Is(err, ErrInsufficientBalance) {
		return problem.New(http.StatusBadRequest, ProblemTypeInsufficientBalance, ErrInsufficientBalance.Error(), err.Error())
	}
	return problem.Generic()
}
