package api

import (
	"fmt"
	"strings"

	"github.com/warp/billing-engine/billing"
)

// =============================================================================
// ACCOUNT DTOs
// =============================================================================

type AccountRequest struct {
	Name       string `json:"name"`
	Type       string `json:"type"`
	ClosingDay int    `json:"closingDay"`
	DueDay     int    `json:"dueDay,omitempty"`
}

type AccountDTO struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Type       string `json:"type"`
	ClosingDay int    `json:"closingDay"`
	DueDay     int    `json:"dueDay,omitempty"`
}

func (r AccountRequest) toAccount(id string) (billing.Account, error) {
	account := billing.Account{
		ID:         billing.AccountID(id),
		Name:       strings.TrimSpace(r.Name),
		Type:       billing.AccountType(strings.ToUpper(strings.TrimSpace(r.Type))),
		ClosingDay: r.ClosingDay,
		DueDay:     r.DueDay,
	}
	if !account.Type.IsValid() {
		return billing.Account{}, fmt.Errorf("type must be one of CREDIT, CHECKING, SAVINGS, CASH, got %q", r.Type)
	}
	if err := billing.ValidateDay("closingDay", r.ClosingDay); err != nil {
		return billing.Account{}, err
	}
	if r.DueDay != 0 {
		if err := billing.ValidateDay("dueDay", r.DueDay); err != nil {
			return billing.Account{}, err
		}
	}
	return account, nil
}

func toAccountDTO(a billing.Account) AccountDTO {
	return AccountDTO{
		ID:         string(a.ID),
		Name:       a.Name,
		Type:       string(a.Type),
		ClosingDay: a.ClosingDay,
		DueDay:     a.DueDay,
	}
}

// =============================================================================
// TRANSACTION DTOs
// =============================================================================

type TransactionRequest struct {
	ID           string `json:"id,omitempty"`
	AccountID    string `json:"accountId"`
	Description  string `json:"description"`
	Amount       string `json:"amount"` // decimal string, e.g. "300.00"
	Date         string `json:"date"`   // YYYY-MM-DD
	Installments int    `json:"installments,omitempty"`
	AddToBill    bool   `json:"addToBill"`
}

type TransactionDTO struct {
	ID           string                    `json:"id"`
	AccountID    string                    `json:"accountId"`
	Description  string                    `json:"description"`
	Amount       string                    `json:"amount"`
	Date         string                    `json:"date"`
	Installments int                       `json:"installments"`
	AddToBill    bool                      `json:"addToBill"`
	Items        []billing.BillItemSummary `json:"items"`
}

func (r TransactionRequest) toTransaction() (billing.Transaction, error) {
	if strings.TrimSpace(r.AccountID) == "" {
		return billing.Transaction{}, fmt.Errorf("accountId is required")
	}
	amount, err := billing.ParseMoney(r.Amount)
	if err != nil {
		return billing.Transaction{}, fmt.Errorf("invalid amount %q: %w", r.Amount, err)
	}
	date, err := billing.ParseDate(r.Date)
	if err != nil {
		return billing.Transaction{}, fmt.Errorf("invalid date %q: must be YYYY-MM-DD", r.Date)
	}
	installments := r.Installments
	if installments == 0 {
		installments = 1
	}
	return billing.Transaction{
		ID:           billing.TransactionID(strings.TrimSpace(r.ID)),
		AccountID:    billing.AccountID(r.AccountID),
		Description:  r.Description,
		Amount:       amount,
		Date:         date,
		Installments: installments,
		AddToBill:    r.AddToBill,
	}, nil
}

func toTransactionDTO(tx billing.Transaction, items []billing.BillItem) TransactionDTO {
	dto := TransactionDTO{
		ID:           string(tx.ID),
		AccountID:    string(tx.AccountID),
		Description:  tx.Description,
		Amount:       tx.Amount.String(),
		Date:         tx.Date.Format(billing.DateLayout),
		Installments: tx.Installments,
		AddToBill:    tx.AddToBill,
		Items:        make([]billing.BillItemSummary, len(items)),
	}
	for i, item := range items {
		dto.Items[i] = billing.BillItemSummary{
			ID:                item.ID,
			TransactionID:     item.TransactionID,
			Amount:            item.Amount.String(),
			InstallmentNumber: item.InstallmentNumber,
		}
	}
	return dto
}

// =============================================================================
// SWEEP DTOs
// =============================================================================

type SweepResponse struct {
	Trigger  string `json:"trigger"`
	Today    string `json:"today"`
	Closed   int64  `json:"closed"`
	Overdue  int64  `json:"overdue"`
	Pages    int    `json:"pages"`
	Duration string `json:"duration"`
	Shared   bool   `json:"shared"`
}

func toSweepResponse(r billing.SweepResult) SweepResponse {
	return SweepResponse{
		Trigger:  string(r.Trigger),
		Today:    r.Today.Format(billing.DateLayout),
		Closed:   r.Closed,
		Overdue:  r.Overdue,
		Pages:    r.Pages,
		Duration: r.Duration.String(),
		Shared:   r.Shared,
	}
}

// =============================================================================
// SCENARIO DTOs
// =============================================================================

type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
}

// =============================================================================
// ERROR DTOs
// =============================================================================

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}
