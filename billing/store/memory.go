// Package store provides in-memory billing.Store implementations.
package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/warp/billing-engine/billing"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory is a billing.Store kept in maps. Writers are serialized by one
// mutex, which also stands in for row locks.
type Memory struct {
	mu sync.RWMutex
	state
}

type billKey struct {
	AccountID billing.AccountID
	Start     time.Time
}

// state holds the maps. Its methods assume the caller holds the lock.
type state struct {
	accounts     map[billing.AccountID]billing.Account
	transactions map[billing.TransactionID]billing.Transaction
	bills        map[billing.BillID]billing.Bill
	billsByKey   map[billKey]billing.BillID
	items        map[billing.BillItemID]billing.BillItem
}

func newState() state {
	return state{
		accounts:     make(map[billing.AccountID]billing.Account),
		transactions: make(map[billing.TransactionID]billing.Transaction),
		bills:        make(map[billing.BillID]billing.Bill),
		billsByKey:   make(map[billKey]billing.BillID),
		items:        make(map[billing.BillItemID]billing.BillItem),
	}
}

func NewMemory() *Memory {
	return &Memory{state: newState()}
}

func (m *Memory) GetAccount(ctx context.Context, id billing.AccountID) (*billing.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.GetAccount(ctx, id)
}

func (m *Memory) SaveAccount(ctx context.Context, account billing.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.SaveAccount(ctx, account)
}

func (m *Memory) GetTransaction(ctx context.Context, id billing.TransactionID) (*billing.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.GetTransaction(ctx, id)
}

func (m *Memory) SaveTransaction(ctx context.Context, tx billing.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.SaveTransaction(ctx, tx)
}

func (m *Memory) DeleteTransaction(ctx context.Context, id billing.TransactionID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.DeleteTransaction(ctx, id)
}

func (m *Memory) FindBill(ctx context.Context, accountID billing.AccountID, start time.Time) (*billing.Bill, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.FindBill(ctx, accountID, start)
}

func (m *Memory) GetBill(ctx context.Context, id billing.BillID) (*billing.Bill, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.GetBill(ctx, id)
}

func (m *Memory) ListBillsByAccount(ctx context.Context, accountID billing.AccountID) ([]billing.Bill, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.ListBillsByAccount(ctx, accountID)
}

func (m *Memory) InsertBill(ctx context.Context, bill billing.Bill) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.InsertBill(ctx, bill)
}

func (m *Memory) DeleteBill(ctx context.Context, id billing.BillID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.DeleteBill(ctx, id)
}

func (m *Memory) AddToBillTotal(ctx context.Context, id billing.BillID, delta billing.Money) (billing.Money, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.AddToBillTotal(ctx, id, delta)
}

func (m *Memory) InsertBillItem(ctx context.Context, item billing.BillItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.InsertBillItem(ctx, item)
}

func (m *Memory) DeleteBillItem(ctx context.Context, id billing.BillItemID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.DeleteBillItem(ctx, id)
}

func (m *Memory) ItemsByTransaction(ctx context.Context, txID billing.TransactionID) ([]billing.BillItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.ItemsByTransaction(ctx, txID)
}

func (m *Memory) ItemsByBill(ctx context.Context, billID billing.BillID) ([]billing.BillItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.ItemsByBill(ctx, billID)
}

func (m *Memory) CountBillItems(ctx context.Context, billID billing.BillID) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.CountBillItems(ctx, billID)
}

func (m *Memory) BillsForTransition(ctx context.Context, status billing.Status, before time.Time, limit int) ([]billing.Bill, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.BillsForTransition(ctx, status, before, limit)
}

func (m *Memory) UpdateBillStatuses(ctx context.Context, ids []billing.BillID, from, to billing.Status) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.UpdateBillStatuses(ctx, ids, from, to)
}

// =============================================================================
// STATE OPERATIONS - Caller holds the lock
// =============================================================================

func (s *state) GetAccount(_ context.Context, id billing.AccountID) (*billing.Account, error) {
	a, ok := s.accounts[id]
	if !ok {
		return nil, billing.AccountNotFound(id)
	}
	return &a, nil
}

func (s *state) SaveAccount(_ context.Context, account billing.Account) error {
	s.accounts[account.ID] = account
	return nil
}

func (s *state) GetTransaction(_ context.Context, id billing.TransactionID) (*billing.Transaction, error) {
	tx, ok := s.transactions[id]
	if !ok {
		return nil, billing.TransactionNotFound(id)
	}
	return &tx, nil
}

func (s *state) SaveTransaction(_ context.Context, tx billing.Transaction) error {
	s.transactions[tx.ID] = tx
	return nil
}

func (s *state) DeleteTransaction(_ context.Context, id billing.TransactionID) error {
	if _, ok := s.transactions[id]; !ok {
		return billing.TransactionNotFound(id)
	}
	for _, item := range s.items {
		if item.TransactionID == id {
			return fmt.Errorf("transaction %s still has bill items", id)
		}
	}
	delete(s.transactions, id)
	return nil
}

func (s *state) FindBill(_ context.Context, accountID billing.AccountID, start time.Time) (*billing.Bill, error) {
	id, ok := s.billsByKey[billKey{AccountID: accountID, Start: billing.DateOf(start)}]
	if !ok {
		return nil, nil
	}
	b := s.bills[id]
	return &b, nil
}

func (s *state) GetBill(_ context.Context, id billing.BillID) (*billing.Bill, error) {
	b, ok := s.bills[id]
	if !ok {
		return nil, billing.BillNotFound(id)
	}
	return &b, nil
}

func (s *state) ListBillsByAccount(_ context.Context, accountID billing.AccountID) ([]billing.Bill, error) {
	var result []billing.Bill
	for _, b := range s.bills {
		if b.AccountID == accountID {
			result = append(result, b)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].StartDate.Before(result[j].StartDate)
	})
	return result, nil
}

func (s *state) InsertBill(_ context.Context, bill billing.Bill) error {
	k := billKey{AccountID: bill.AccountID, Start: billing.DateOf(bill.StartDate)}
	if _, exists := s.billsByKey[k]; exists {
		return billing.ErrDuplicateBill
	}
	if _, exists := s.bills[bill.ID]; exists {
		return fmt.Errorf("bill id %s already used", bill.ID)
	}
	s.bills[bill.ID] = bill
	s.billsByKey[k] = bill.ID
	return nil
}

func (s *state) DeleteBill(_ context.Context, id billing.BillID) error {
	b, ok := s.bills[id]
	if !ok {
		return billing.BillNotFound(id)
	}
	for _, item := range s.items {
		if item.BillID == id {
			return fmt.Errorf("bill %s still has items", id)
		}
	}
	delete(s.bills, id)
	delete(s.billsByKey, billKey{AccountID: b.AccountID, Start: billing.DateOf(b.StartDate)})
	return nil
}

func (s *state) AddToBillTotal(_ context.Context, id billing.BillID, delta billing.Money) (billing.Money, error) {
	b, ok := s.bills[id]
	if !ok {
		return billing.Money{}, billing.BillNotFound(id)
	}
	b.TotalAmount = b.TotalAmount.Add(delta)
	b.UpdatedAt = time.Now().UTC()
	s.bills[id] = b
	return b.TotalAmount, nil
}

func (s *state) InsertBillItem(_ context.Context, item billing.BillItem) error {
	if _, ok := s.bills[item.BillID]; !ok {
		return billing.BillNotFound(item.BillID)
	}
	if _, exists := s.items[item.ID]; exists {
		return fmt.Errorf("bill item id %s already used", item.ID)
	}
	s.items[item.ID] = item
	return nil
}

func (s *state) DeleteBillItem(_ context.Context, id billing.BillItemID) error {
	delete(s.items, id)
	return nil
}

func (s *state) ItemsByTransaction(_ context.Context, txID billing.TransactionID) ([]billing.BillItem, error) {
	var result []billing.BillItem
	for _, item := range s.items {
		if item.TransactionID == txID {
			result = append(result, item)
		}
	}
	sortItems(result)
	return result, nil
}

func (s *state) ItemsByBill(_ context.Context, billID billing.BillID) ([]billing.BillItem, error) {
	var result []billing.BillItem
	for _, item := range s.items {
		if item.BillID == billID {
			result = append(result, item)
		}
	}
	sortItems(result)
	return result, nil
}

func (s *state) CountBillItems(_ context.Context, billID billing.BillID) (int, error) {
	n := 0
	for _, item := range s.items {
		if item.BillID == billID {
			n++
		}
	}
	return n, nil
}

func (s *state) BillsForTransition(_ context.Context, status billing.Status, before time.Time, limit int) ([]billing.Bill, error) {
	var result []billing.Bill
	for _, b := range s.bills {
		if b.Status != status {
			continue
		}
		if transitionDate(b, status).Before(billing.DateOf(before)) {
			result = append(result, b)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		di, dj := transitionDate(result[i], status), transitionDate(result[j], status)
		if !di.Equal(dj) {
			return di.Before(dj)
		}
		return result[i].ID < result[j].ID
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *state) UpdateBillStatuses(_ context.Context, ids []billing.BillID, from, to billing.Status) (int64, error) {
	var n int64
	now := time.Now().UTC()
	for _, id := range ids {
		b, ok := s.bills[id]
		if !ok || b.Status != from {
			continue
		}
		b.Status = to
		b.UpdatedAt = now
		s.bills[id] = b
		n++
	}
	return n, nil
}

// transitionDate is the date column a status is compared on.
func transitionDate(b billing.Bill, status billing.Status) time.Time {
	if status == billing.StatusClosed {
		return b.DueDate
	}
	return b.EndDate
}

func sortItems(items []billing.BillItem) {
	sort.Slice(items, func(i, j int) bool {
		if items[i].InstallmentNumber != items[j].InstallmentNumber {
			return items[i].InstallmentNumber < items[j].InstallmentNumber
		}
		return items[i].ID < items[j].ID
	})
}

// =============================================================================
// TRANSACTIONAL MEMORY STORE
// =============================================================================

// TxMemory wraps Memory with transaction support.
type TxMemory struct {
	*Memory
}

var _ billing.TxStore = (*TxMemory)(nil)

func NewTxMemory() *TxMemory {
	return &TxMemory{Memory: NewMemory()}
}

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
// Units of work are fully serialized.
func (tm *TxMemory) WithTx(ctx context.Context, fn func(billing.Store) error) error {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	snapshot := tm.state.clone()

	if err := fn(&tm.state); err != nil {
		tm.state = snapshot
		return err
	}
	return nil
}

func (s *state) clone() state {
	c := newState()
	for k, v := range s.accounts {
		c.accounts[k] = v
	}
	for k, v := range s.transactions {
		c.transactions[k] = v
	}
	for k, v := range s.bills {
		c.bills[k] = v
	}
	for k, v := range s.billsByKey {
		c.billsByKey[k] = v
	}
	for k, v := range s.items {
		c.items[k] = v
	}
	return c
}

// Reset clears all data.
func (m *Memory) Reset(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = newState()
	return nil
}
