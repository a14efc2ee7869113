package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/onlinewallet/onlinewallet/internal/wallet"
)

// RegisterWalletRoutes wires the wallet endpoints under /onlinewallet.
func RegisterWalletRoutes(r fiber.Router, h *wallet.Handler) {
	g := r.Group("/onlinewallet")
	g.Get("/balance", h.Balance)
	g.Post("/deposit", h.Deposit)
	g.Post("/withdraw", h.Withdraw)
}
