package billing

// =============================================================================
// READ MODEL - Bill projections for callers
// =============================================================================

// BillSummary is the external view of a bill.
type BillSummary struct {
	ID          BillID    `json:"id"`
	Status      Status    `json:"status"`
	TotalAmount string    `json:"totalAmount"`
	AccountID   AccountID `json:"accountId"`
	StartDate   string    `json:"startDate"`
	EndDate     string    `json:"endDate"`
	DueDate     string    `json:"dueDate"`
}

// BillItemSummary is the external view of a bill item.
type BillItemSummary struct {
	ID                BillItemID    `json:"id"`
	TransactionID     TransactionID `json:"transactionId"`
	Amount            string        `json:"amount"`
	InstallmentNumber int           `json:"installmentNumber"`
}

// BillDetail is a summary plus the bill's items.
type BillDetail struct {
	BillSummary
	Items []BillItemSummary `json:"items"`
}

// ToSummary projects a bill. Amounts are fixed two-decimal strings and
// dates are YYYY-MM-DD.
func ToSummary(b Bill) BillSummary {
	return BillSummary{
		ID:          b.ID,
		Status:      b.Status,
		TotalAmount: b.TotalAmount.String(),
		AccountID:   b.AccountID,
		StartDate:   b.StartDate.Format(DateLayout),
		EndDate:     b.EndDate.Format(DateLayout),
		DueDate:     b.DueDate.Format(DateLayout),
	}
}

// ToDetail projects a bill with its items.
func ToDetail(b Bill, items []BillItem) BillDetail {
	detail := BillDetail{
		BillSummary: ToSummary(b),
		Items:       make([]BillItemSummary, len(items)),
	}
	for i, item := range items {
		detail.Items[i] = BillItemSummary{
			ID:                item.ID,
			TransactionID:     item.TransactionID,
			Amount:            item.Amount.String(),
			InstallmentNumber: item.InstallmentNumber,
		}
	}
	return detail
}
