// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// TRANSACTIONS
// =============================================================================

// TransactionType distinguishes money coming in from money going out.
type TransactionType string

const (
	// Income is money received.
	Income TransactionType = "income"

	// Expense is money spent.
	Expense TransactionType = "expense"
)

// Transaction is a single dated income or expense entry.
type Transaction struct {
	ID          uuid.UUID       `json:"id"`
	Description string          `json:"description"`
	Amount      float64         `json:"amount"`
	Type        TransactionType `json:"type"`
	Category    string          `json:"category"`
	Date        time.Time       `json:"date"`
	Notes       string          `json:"notes,omitempty"`
}

// NewTransaction creates a transaction dated now.
func NewTransaction(description string, amount float64, typ TransactionType, category, notes string) *Transaction {
	return &Transaction{
		ID:          uuid.New(),
		Description: description,
		Amount:      amount,
		Type:        typ,
		Category:    category,
		Date:        time.Now(),
		Notes:       notes,
	}
}

// =============================================================================
// BUDGETS
// =============================================================================

// Budget is a monthly spending limit for one category.
type Budget struct {
	ID           uuid.UUID `json:"id"`
	Name         string    `json:"name"`
	Category     string    `json:"category"`
	MonthlyLimit float64   `json:"monthly_limit"`
	CurrentSpent float64   `json:"current_spent"`
	CreatedDate  time.Time `json:"created_date"`
	IsActive     bool      `json:"is_active"`
}

// NewBudget creates an active budget with nothing spent yet.
func NewBudget(name, category string, monthlyLimit float64) *Budget {
	return &Budget{
		ID:           uuid.New(),
		Name:         name,
		Category:     category,
		MonthlyLimit: monthlyLimit,
		CreatedDate:  time.Now(),
		IsActive:     true,
	}
}

// Remaining returns how much of the monthly limit is left.
func (b *Budget) Remaining() float64 {
	return b.MonthlyLimit - b.CurrentSpent
}

// Utilization returns spending as a percentage of the limit.
func (b *Budget) Utilization() float64 {
	if b.MonthlyLimit <= 0 {
		return 0
	}
	return b.CurrentSpent / b.MonthlyLimit * 100
}

// IsOverBudget reports whether spending exceeds the limit.
func (b *Budget) IsOverBudget() bool {
	return b.CurrentSpent > b.MonthlyLimit
}

// =============================================================================
// FINANCIAL GOALS
// =============================================================================

// FinancialGoal is a savings target with a deadline.
type FinancialGoal struct {
	ID            uuid.UUID `json:"id"`
	Name          string    `json:"name"`
	Description   string    `json:"description"`
	TargetAmount  float64   `json:"target_amount"`
	CurrentAmount float64   `json:"current_amount"`
	TargetDate    time.Time `json:"target_date"`
	CreatedDate   time.Time `json:"created_date"`
	IsCompleted   bool      `json:"is_completed"`
}

// NewFinancialGoal creates a goal with no progress yet.
func NewFinancialGoal(name, description string, targetAmount float64, targetDate time.Time) *FinancialGoal {
	return &FinancialGoal{
		ID:           uuid.New(),
		Name:         name,
		Description:  description,
		TargetAmount: targetAmount,
		TargetDate:   targetDate,
		CreatedDate:  time.Now(),
	}
}

// RemainingAmount returns how far the goal is from its target.
func (g *FinancialGoal) RemainingAmount() float64 {
	return g.TargetAmount - g.CurrentAmount
}

// Progress returns completion as a percentage of the target.
func (g *FinancialGoal) Progress() float64 {
	if g.TargetAmount <= 0 {
		return 0
	}
	return g.CurrentAmount / g.TargetAmount * 100
}
