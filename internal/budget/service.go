// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package budget manages the financial record collections: transaction,
// budget, and goal CRUD plus the aggregates derived from them.
package budget

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jeranaias/budgetvault/internal/model"
	"github.com/jeranaias/budgetvault/internal/storage"
)

// =============================================================================
// SERVICE
// =============================================================================

// Service holds the bound user's collections in memory and writes every
// mutation through the record store. Bind a user with SetUser before
// calling anything else; an unbound service operates on the shared
// unprefixed files.
type Service struct {
	store *storage.RecordStore

	mu           sync.Mutex
	transactions []*model.Transaction
	budgets      []*model.Budget
	goals        []*model.FinancialGoal
}

// NewService creates a service over store and hydrates the collections.
func NewService(store *storage.RecordStore) *Service {
	s := &Service{store: store}
	s.reload()
	return s
}

// SetUser rebinds the service (and its store) to username's data.
func (s *Service) SetUser(username string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.store.SetUser(username)
	s.reloadLocked()
}

func (s *Service) reload() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reloadLocked()
}

// reloadLocked rehydrates all three collections. Caller must hold s.mu.
func (s *Service) reloadLocked() {
	s.transactions = s.store.LoadTransactions()
	s.budgets = s.store.LoadBudgets()
	s.goals = s.store.LoadGoals()
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// Transactions returns all transactions, newest first.
func (s *Service) Transactions() []*model.Transaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sortedByDateDesc(s.transactions)
}

// TransactionsByDateRange returns transactions dated within [start, end],
// compared by calendar day, newest first.
func (s *Service) TransactionsByDateRange(start, end time.Time) []*model.Transaction {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*model.Transaction
	for _, t := range s.transactions {
		if !dayBefore(t.Date, start) && !dayAfter(t.Date, end) {
			out = append(out, t)
		}
	}
	return sortedByDateDesc(out)
}

// TransactionsByCategory returns transactions in category, compared
// case-insensitively, newest first.
func (s *Service) TransactionsByCategory(category string) []*model.Transaction {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*model.Transaction
	for _, t := range s.transactions {
		if strings.EqualFold(t.Category, category) {
			out = append(out, t)
		}
	}
	return sortedByDateDesc(out)
}

// AddTransaction appends a transaction, persists, and recomputes budget
// spending.
func (s *Service) AddTransaction(t *model.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.transactions = append(s.transactions, t)
	if err := s.store.SaveTransactions(s.transactions); err != nil {
		return err
	}
	return s.updateBudgetSpendingLocked()
}

// UpdateTransaction replaces the transaction with a matching id. An
// unknown id is a silent no-op, matching the add-or-ignore behavior of
// the other collection updates.
func (s *Service) UpdateTransaction(t *model.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, existing := range s.transactions {
		if existing.ID == t.ID {
			s.transactions[i] = t
			if err := s.store.SaveTransactions(s.transactions); err != nil {
				return err
			}
			return s.updateBudgetSpendingLocked()
		}
	}
	return nil
}

// DeleteTransaction removes the transaction with id, persists, and
// recomputes budget spending.
func (s *Service) DeleteTransaction(id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.transactions[:0]
	for _, t := range s.transactions {
		if t.ID != id {
			kept = append(kept, t)
		}
	}
	s.transactions = kept

	if err := s.store.SaveTransactions(s.transactions); err != nil {
		return err
	}
	return s.updateBudgetSpendingLocked()
}

// =============================================================================
// AGGREGATES
// =============================================================================

// TotalIncome sums income transactions, optionally bounded by start/end
// (nil = unbounded). Bounds compare by calendar day, inclusive.
func (s *Service) TotalIncome(start, end *time.Time) float64 {
	return s.sumByType(model.Income, start, end)
}

// TotalExpenses sums expense transactions over the same optional range.
func (s *Service) TotalExpenses(start, end *time.Time) float64 {
	return s.sumByType(model.Expense, start, end)
}

// NetIncome returns income minus expenses over the same optional range.
func (s *Service) NetIncome(start, end *time.Time) float64 {
	return s.TotalIncome(start, end) - s.TotalExpenses(start, end)
}

// ExpensesByCategory returns total expenses keyed by category over the
// optional range. Category keys keep their stored casing.
func (s *Service) ExpensesByCategory(start, end *time.Time) map[string]float64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]float64)
	for _, t := range s.transactions {
		if t.Type != model.Expense || !inRange(t.Date, start, end) {
			continue
		}
		out[t.Category] += t.Amount
	}
	return out
}

func (s *Service) sumByType(typ model.TransactionType, start, end *time.Time) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	var total float64
	for _, t := range s.transactions {
		if t.Type == typ && inRange(t.Date, start, end) {
			total += t.Amount
		}
	}
	return total
}

// =============================================================================
// BUDGETS
// =============================================================================

// Budgets returns the active budgets.
func (s *Service) Budgets() []*model.Budget {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*model.Budget
	for _, b := range s.budgets {
		if b.IsActive {
			out = append(out, b)
		}
	}
	return out
}

// AddBudget appends a budget, persists, and recomputes spending so the
// new budget immediately reflects the current month.
func (s *Service) AddBudget(b *model.Budget) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.budgets = append(s.budgets, b)
	if err := s.store.SaveBudgets(s.budgets); err != nil {
		return err
	}
	return s.updateBudgetSpendingLocked()
}

// UpdateBudget replaces the budget with a matching id.
func (s *Service) UpdateBudget(b *model.Budget) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, existing := range s.budgets {
		if existing.ID == b.ID {
			s.budgets[i] = b
			return s.store.SaveBudgets(s.budgets)
		}
	}
	return nil
}

// DeleteBudget deactivates the budget with id rather than removing it,
// so historical records keep their reference.
func (s *Service) DeleteBudget(id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, b := range s.budgets {
		if b.ID == id {
			b.IsActive = false
			return s.store.SaveBudgets(s.budgets)
		}
	}
	return nil
}

// UpdateBudgetSpending recomputes CurrentSpent for every active budget
// from the current calendar month's expenses in its category.
func (s *Service) UpdateBudgetSpending() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updateBudgetSpendingLocked()
}

func (s *Service) updateBudgetSpendingLocked() error {
	now := time.Now()

	for _, b := range s.budgets {
		if !b.IsActive {
			continue
		}
		var spent float64
		for _, t := range s.transactions {
			if t.Type != model.Expense || !strings.EqualFold(t.Category, b.Category) {
				continue
			}
			if t.Date.Month() == now.Month() && t.Date.Year() == now.Year() {
				spent += t.Amount
			}
		}
		b.CurrentSpent = spent
	}

	return s.store.SaveBudgets(s.budgets)
}

// =============================================================================
// GOALS
// =============================================================================

// Goals returns the goals not yet completed.
func (s *Service) Goals() []*model.FinancialGoal {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*model.FinancialGoal
	for _, g := range s.goals {
		if !g.IsCompleted {
			out = append(out, g)
		}
	}
	return out
}

// AddGoal appends a goal and persists.
func (s *Service) AddGoal(g *model.FinancialGoal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.goals = append(s.goals, g)
	return s.store.SaveGoals(s.goals)
}

// UpdateGoal replaces the goal with a matching id.
func (s *Service) UpdateGoal(g *model.FinancialGoal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, existing := range s.goals {
		if existing.ID == g.ID {
			s.goals[i] = g
			return s.store.SaveGoals(s.goals)
		}
	}
	return nil
}

// DeleteGoal removes the goal with id and persists.
func (s *Service) DeleteGoal(id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.goals[:0]
	for _, g := range s.goals {
		if g.ID != id {
			kept = append(kept, g)
		}
	}
	s.goals = kept
	return s.store.SaveGoals(s.goals)
}

// UpdateGoalProgress adds amount to the goal's saved total. Reaching the
// target marks the goal completed and clamps the amount to the target.
func (s *Service) UpdateGoalProgress(id uuid.UUID, amount float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, g := range s.goals {
		if g.ID != id {
			continue
		}
		g.CurrentAmount += amount
		if g.CurrentAmount >= g.TargetAmount {
			g.IsCompleted = true
			g.CurrentAmount = g.TargetAmount
		}
		return s.store.SaveGoals(s.goals)
	}
	return nil
}

// =============================================================================
// HELPERS
// =============================================================================

// sortedByDateDesc returns a copy sorted newest first.
func sortedByDateDesc(items []*model.Transaction) []*model.Transaction {
	out := make([]*model.Transaction, len(items))
	copy(out, items)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Date.After(out[j].Date)
	})
	return out
}

// inRange reports whether date falls within the optional [start, end]
// bounds, compared by calendar day.
func inRange(date time.Time, start, end *time.Time) bool {
	if start != nil && dayBefore(date, *start) {
		return false
	}
	if end != nil && dayAfter(date, *end) {
		return false
	}
	return true
}

func dayBefore(a, b time.Time) bool {
	return truncateDay(a).Before(truncateDay(b))
}

func dayAfter(a, b time.Time) bool {
	return truncateDay(a).After(truncateDay(b))
}

func truncateDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
