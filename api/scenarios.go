/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the database with accounts
	and transactions showing how purchases land on bills.

AVAILABLE SCENARIOS:

	installments:    300.00 in 3 installments on a card closing on the 10th
	month-end:       Card closing on the 31st, purchase on Jan 31 (clamping)
	mixed-accounts:  Checking account and off-bill purchases (no bills)
	sweep-ready:     Past bills waiting for the status sweep

HOW SCENARIOS WORK:
 1. Reset database (clear all billing data)
 2. Upsert accounts
 3. Create transactions through the service, so allocation runs

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "installments"}

NOTE:

	Scenarios reset the database. Only use in development/demo environments.

SEE ALSO:
  - handlers.go: Handler dependencies
*/
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/warp/billing-engine/billing"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "installments",
		Name:        "Installments",
		Description: "300.00 in 3 installments on a card closing on the 10th",
	},
	{
		ID:          "month-end",
		Name:        "Month-End Closing",
		Description: "Card closing on the 31st with a purchase on January 31",
	},
	{
		ID:          "mixed-accounts",
		Name:        "Mixed Accounts",
		Description: "Checking account and off-bill purchases create no bills",
	},
	{
		ID:          "sweep-ready",
		Name:        "Sweep Ready",
		Description: "Past periods waiting to be closed or marked overdue",
	},
}

// scenarioLoaders maps scenario IDs to their loaders.
var scenarioLoaders = map[string]func(h *Handler, ctx context.Context) error{
	"installments":   (*Handler).loadInstallmentsScenario,
	"month-end":      (*Handler).loadMonthEndScenario,
	"mixed-accounts": (*Handler).loadMixedAccountsScenario,
	"sweep-ready":    (*Handler).loadSweepReadyScenario,
}

// =============================================================================
// SCENARIO HANDLERS
// =============================================================================

// ListScenarios returns the available demo scenarios.
// GET /api/scenarios
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the last loaded scenario, if any.
// GET /api/scenarios/current
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()

	if current == "" {
		writeJSON(w, http.StatusOK, map[string]any{"scenario": nil})
		return
	}
	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, map[string]any{"scenario": s})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"scenario": nil})
}

// LoadScenario resets the database and loads a scenario.
// POST /api/scenarios/load
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	load, ok := scenarioLoaders[req.ScenarioID]
	if !ok {
		writeError(w, http.StatusBadRequest, "Unknown scenario", nil)
		return
	}

	ctx := r.Context()

	// Reset first
	if err := h.reset(ctx); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}

	if err := load(h, ctx); err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to load scenario: %v", err), err)
		return
	}

	h.mu.Lock()
	h.currentScenario = req.ScenarioID
	h.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "scenario": req.ScenarioID})
}

// ResetDatabase clears all billing data.
// POST /api/scenarios/reset
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	if err := h.reset(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

func (h *Handler) reset(ctx context.Context) error {
	resetter, ok := h.Service.Store.(Resetter)
	if !ok {
		return fmt.Errorf("store does not support reset")
	}
	if err := resetter.Reset(ctx); err != nil {
		return err
	}
	h.mu.Lock()
	h.currentScenario = ""
	h.mu.Unlock()
	return nil
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

func (h *Handler) loadInstallmentsScenario(ctx context.Context) error {
	card := billing.Account{ID: "card-gold", Name: "Gold Card", Type: billing.AccountCredit, ClosingDay: 10, DueDay: 20}
	if err := h.Service.SaveAccount(ctx, card); err != nil {
		return err
	}

	// Three bills of 100.00: [02-11..03-10], [03-11..04-10], [04-11..05-10]
	return h.createTransactions(ctx,
		billing.Transaction{
			ID: "tx-laptop", AccountID: card.ID, Description: "Laptop",
			Amount: billing.MustMoney("300.00"), Date: billing.NewDate(2024, time.March, 5),
			Installments: 3, AddToBill: true,
		},
		billing.Transaction{
			ID: "tx-groceries", AccountID: card.ID, Description: "Groceries",
			Amount: billing.MustMoney("84.90"), Date: billing.NewDate(2024, time.March, 12),
			Installments: 1, AddToBill: true,
		},
	)
}

func (h *Handler) loadMonthEndScenario(ctx context.Context) error {
	card := billing.Account{ID: "card-month-end", Name: "Month-End Card", Type: billing.AccountCredit, ClosingDay: 31, DueDay: 10}
	if err := h.Service.SaveAccount(ctx, card); err != nil {
		return err
	}

	// Installments land on Jan 31, Feb 29 and Mar 31; 33.33 + 33.33 + 33.34.
	return h.createTransactions(ctx,
		billing.Transaction{
			ID: "tx-phone", AccountID: card.ID, Description: "Phone",
			Amount: billing.MustMoney("100.00"), Date: billing.NewDate(2024, time.January, 31),
			Installments: 3, AddToBill: true,
		},
	)
}

func (h *Handler) loadMixedAccountsScenario(ctx context.Context) error {
	checking := billing.Account{ID: "checking-main", Name: "Main Checking", Type: billing.AccountChecking}
	card := billing.Account{ID: "card-basic", Name: "Basic Card", Type: billing.AccountCredit, ClosingDay: 25}
	for _, a := range []billing.Account{checking, card} {
		if err := h.Service.SaveAccount(ctx, a); err != nil {
			return err
		}
	}

	return h.createTransactions(ctx,
		billing.Transaction{
			ID: "tx-rent", AccountID: checking.ID, Description: "Rent",
			Amount: billing.MustMoney("1200.00"), Date: billing.NewDate(2024, time.April, 1),
			Installments: 1, AddToBill: true,
		},
		billing.Transaction{
			ID: "tx-refund", AccountID: card.ID, Description: "Paid on the spot",
			Amount: billing.MustMoney("45.00"), Date: billing.NewDate(2024, time.April, 3),
			Installments: 1, AddToBill: false,
		},
		billing.Transaction{
			ID: "tx-books", AccountID: card.ID, Description: "Books",
			Amount: billing.MustMoney("60.00"), Date: billing.NewDate(2024, time.April, 3),
			Installments: 2, AddToBill: true,
		},
	)
}

func (h *Handler) loadSweepReadyScenario(ctx context.Context) error {
	card := billing.Account{ID: "card-travel", Name: "Travel Card", Type: billing.AccountCredit, ClosingDay: 5, DueDay: 15}
	if err := h.Service.SaveAccount(ctx, card); err != nil {
		return err
	}

	// Installments starting three months back: the oldest bills are due
	// already, the newest is still open.
	start := billing.AddMonths(billing.DateOf(time.Now()), -3)
	return h.createTransactions(ctx,
		billing.Transaction{
			ID: "tx-flights", AccountID: card.ID, Description: "Flights",
			Amount: billing.MustMoney("900.00"), Date: start,
			Installments: 6, AddToBill: true,
		},
	)
}

func (h *Handler) createTransactions(ctx context.Context, txs ...billing.Transaction) error {
	for _, tx := range txs {
		if _, _, err := h.Service.CreateTransaction(ctx, tx); err != nil {
			return fmt.Errorf("transaction %s: %w", tx.ID, err)
		}
	}
	return nil
}
