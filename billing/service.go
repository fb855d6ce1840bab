/*
service.go - Transaction lifecycle hooks

PURPOSE:
  Entry points for the transactions collaborator. Each hook persists the
  transaction change and its bill effects in ONE unit of work:

    Create: save -> allocate
    Update: load -> revert -> save -> allocate
    Delete: load -> revert -> delete

  Any failure rolls back the whole unit, so a transaction and its items are
  always in agreement.

SEE ALSO:
  - allocator.go, reversal.go: The bill effects
  - summary.go: Read side used by the HTTP layer
*/
package billing

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
)

// Service wires the allocator and reverser to a TxStore.
type Service struct {
	Store     TxStore
	Allocator *Allocator
	Reverser  *Reverser
	Metrics   *Metrics
	Logger    *slog.Logger
}

// NewService creates a service with a ledger resolving periods with resolver.
func NewService(store TxStore, resolver PeriodResolver, metrics *Metrics, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	ledger := NewLedger(resolver)
	return &Service{
		Store:     store,
		Allocator: NewAllocator(ledger, logger),
		Reverser:  NewReverser(ledger, logger),
		Metrics:   metrics,
		Logger:    logger.With("component", "billing.service"),
	}
}

// CreateTransaction stores tx and allocates it. An empty ID is generated.
func (s *Service) CreateTransaction(ctx context.Context, tx Transaction) (Transaction, []BillItem, error) {
	if strings.TrimSpace(string(tx.ID)) == "" {
		tx.ID = TransactionID(uuid.NewString())
	}
	tx.Date = DateOf(tx.Date)

	var items []BillItem
	err := s.Store.WithTx(ctx, func(store Store) error {
		_, err := store.GetTransaction(ctx, tx.ID)
		switch {
		case err == nil:
			return fmt.Errorf("transaction %s: %w", tx.ID, ErrDuplicateTransaction)
		case !IsNotFound(err):
			return err
		}
		if _, err := store.GetAccount(ctx, tx.AccountID); err != nil {
			return err
		}
		if err := store.SaveTransaction(ctx, tx); err != nil {
			return err
		}
		items, err = s.Allocator.Allocate(ctx, store, tx)
		return err
	})
	s.Metrics.observeHook("create", err)
	if err != nil {
		return Transaction{}, nil, err
	}

	s.Logger.Info("transaction created", "transaction", tx.ID, "account", tx.AccountID, "items", len(items))
	return tx, items, nil
}

// UpdateTransaction replaces a stored transaction, reverting the old
// allocation before allocating the new one.
func (s *Service) UpdateTransaction(ctx context.Context, tx Transaction) (Transaction, []BillItem, error) {
	tx.Date = DateOf(tx.Date)

	var items []BillItem
	err := s.Store.WithTx(ctx, func(store Store) error {
		if _, err := store.GetTransaction(ctx, tx.ID); err != nil {
			return err
		}
		if _, err := store.GetAccount(ctx, tx.AccountID); err != nil {
			return err
		}
		if _, err := s.Reverser.Revert(ctx, store, tx.ID); err != nil {
			return err
		}
		if err := store.SaveTransaction(ctx, tx); err != nil {
			return err
		}
		var err error
		items, err = s.Allocator.Allocate(ctx, store, tx)
		return err
	})
	s.Metrics.observeHook("update", err)
	if err != nil {
		return Transaction{}, nil, err
	}

	s.Logger.Info("transaction updated", "transaction", tx.ID, "account", tx.AccountID, "items", len(items))
	return tx, items, nil
}

// DeleteTransaction reverts the allocation of id and removes it.
func (s *Service) DeleteTransaction(ctx context.Context, id TransactionID) error {
	var deletedBills []BillID
	err := s.Store.WithTx(ctx, func(store Store) error {
		if _, err := store.GetTransaction(ctx, id); err != nil {
			return err
		}
		var err error
		deletedBills, err = s.Reverser.Revert(ctx, store, id)
		if err != nil {
			return err
		}
		return store.DeleteTransaction(ctx, id)
	})
	s.Metrics.observeHook("delete", err)
	if err != nil {
		return err
	}

	s.Logger.Info("transaction deleted", "transaction", id, "bills_deleted", len(deletedBills))
	return nil
}

// SaveAccount upserts the local view of an account.
func (s *Service) SaveAccount(ctx context.Context, account Account) error {
	return s.Store.SaveAccount(ctx, account)
}

// AccountBills returns the summaries of an account's bills, oldest first.
func (s *Service) AccountBills(ctx context.Context, accountID AccountID) ([]BillSummary, error) {
	if _, err := s.Store.GetAccount(ctx, accountID); err != nil {
		return nil, err
	}
	bills, err := s.Store.ListBillsByAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	summaries := make([]BillSummary, len(bills))
	for i, b := range bills {
		summaries[i] = ToSummary(b)
	}
	return summaries, nil
}

// BillDetail returns a bill with its items.
func (s *Service) BillDetail(ctx context.Context, id BillID) (BillDetail, error) {
	bill, err := s.Store.GetBill(ctx, id)
	if err != nil {
		return BillDetail{}, err
	}
	items, err := s.Store.ItemsByBill(ctx, id)
	if err != nil {
		return BillDetail{}, err
	}
	return ToDetail(*bill, items), nil
}

// Transaction returns a stored transaction with its bill items.
func (s *Service) Transaction(ctx context.Context, id TransactionID) (Transaction, []BillItem, error) {
	tx, err := s.Store.GetTransaction(ctx, id)
	if err != nil {
		return Transaction{}, nil, err
	}
	items, err := s.Store.ItemsByTransaction(ctx, id)
	if err != nil {
		return Transaction{}, nil, err
	}
	return *tx, items, nil
}

// Account returns the local view of an account.
func (s *Service) Account(ctx context.Context, id AccountID) (Account, error) {
	account, err := s.Store.GetAccount(ctx, id)
	if err != nil {
		return Account{}, err
	}
	return *account, nil
}
