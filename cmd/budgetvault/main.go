// budgetvault - encrypted single-user personal finance tracker.
//
// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later
package main

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/term"

	"github.com/jeranaias/budgetvault/internal/budget"
	"github.com/jeranaias/budgetvault/internal/config"
	"github.com/jeranaias/budgetvault/internal/model"
	"github.com/jeranaias/budgetvault/internal/security"
	"github.com/jeranaias/budgetvault/internal/storage"
)

// Version information (set at build time)
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "budgetvault: %v\n", err)
		os.Exit(1)
	}
}

// app bundles the wired services for the command loop.
type app struct {
	audit    *security.AuditLogger
	users    *security.UserService
	sessions *security.SessionManager
	budget   *budget.Service

	in      *bufio.Reader
	expired chan *model.User
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(cfg.Storage.DataDir, 0700); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	cipher, err := security.NewCipher(security.DefaultPassphrase(), cfg.Security.PBKDF2Iterations)
	if err != nil {
		return err
	}

	var audit *security.AuditLogger
	if cfg.Audit.Enabled {
		audit, err = security.NewAuditLogger(cfg.Audit.LogPath, cipher)
		if err != nil {
			return err
		}
		defer audit.Close()
	}

	watcher, err := security.NewTamperWatcher(cfg.Storage.DataDir, audit)
	if err != nil {
		// Tamper detection is supplementary; the vault works without it.
		fmt.Fprintf(os.Stderr, "warning: tamper detection unavailable: %v\n", err)
		watcher = nil
	} else {
		defer watcher.Close()
	}

	announce := func(path string) {
		if watcher != nil {
			watcher.Expect(path)
		}
	}

	users := security.NewUserService(
		filepath.Join(cfg.Storage.DataDir, "users.json"),
		filepath.Join(cfg.Storage.DataDir, "attempts.json"),
		cipher, audit,
		security.WithMaxFailedAttempts(cfg.Security.MaxFailedAttempts),
		security.WithLockoutDuration(cfg.Security.LockoutDuration()),
		security.WithWriteAnnouncer(announce),
	)

	store, err := storage.NewRecordStore(cfg.Storage.DataDir, cipher, storage.WithWriteAnnouncer(announce))
	if err != nil {
		return err
	}

	a := &app{
		audit:   audit,
		users:   users,
		budget:  budget.NewService(store),
		in:      bufio.NewReader(os.Stdin),
		expired: make(chan *model.User, 1),
	}

	a.sessions = security.NewSessionManager(audit,
		func(u *model.User) {
			select {
			case a.expired <- u:
			default:
			}
		},
		security.WithSessionTimeout(cfg.Session.Timeout()),
		security.WithCheckInterval(cfg.Session.CheckInterval()),
	)
	defer a.sessions.Close()

	fmt.Printf("budgetvault %s (%s)\n", Version, GitCommit)
	return a.mainLoop()
}

// =============================================================================
// COMMAND LOOP
// =============================================================================

func (a *app) mainLoop() error {
	for {
		// A session that expired while we were waiting forces a logout
		// before the next command runs.
		select {
		case u := <-a.expired:
			fmt.Printf("\nSession for %s expired after inactivity. Please log in again.\n", u.Username)
			a.budget.SetUser("")
			continue
		default:
		}

		if !a.sessions.IsActive() {
			if done, err := a.authMenu(); done || err != nil {
				return err
			}
			continue
		}

		if err := a.sessionMenu(); err != nil {
			return err
		}
	}
}

// authMenu handles the logged-out state. Returns done=true on quit.
func (a *app) authMenu() (bool, error) {
	fmt.Println("\n1) Login  2) Register  3) Quit")
	choice, err := a.prompt("> ")
	if err != nil {
		return true, nil
	}

	switch strings.TrimSpace(choice) {
	case "1":
		a.login()
	case "2":
		a.register()
	case "3", "q", "quit", "exit":
		return true, nil
	}
	return false, nil
}

func (a *app) login() {
	username, err := a.prompt("Username: ")
	if err != nil {
		return
	}
	password, err := a.promptPassword("Password: ")
	if err != nil {
		return
	}

	user, err := a.users.Login(strings.TrimSpace(username), password)
	if err != nil {
		fmt.Println(err)
		return
	}

	a.sessions.Start(user)
	a.budget.SetUser(user.Username)
	fmt.Printf("Welcome back, %s.\n", user.Username)
}

func (a *app) register() {
	username, err := a.prompt("Username: ")
	if err != nil {
		return
	}
	password, err := a.promptPassword("Password: ")
	if err != nil {
		return
	}
	confirm, err := a.promptPassword("Confirm password: ")
	if err != nil {
		return
	}
	if password != confirm {
		fmt.Println("Passwords do not match.")
		return
	}

	ok, err := a.users.Register(strings.TrimSpace(username), password)
	if err != nil {
		fmt.Println(err)
		return
	}
	if !ok {
		fmt.Println("That username is already taken.")
		return
	}
	fmt.Println("Account created. You can log in now.")
}

// sessionMenu handles one command for the logged-in state. Every accepted
// command extends the session.
func (a *app) sessionMenu() error {
	fmt.Println("\n1) Add transaction  2) List transactions  3) Summary")
	fmt.Println("4) Budgets          5) Goals               6) Change password")
	fmt.Println("7) Recent security events                  8) Logout")
	choice, err := a.prompt("> ")
	if err != nil {
		a.logout()
		return nil
	}

	a.sessions.Extend()

	switch strings.TrimSpace(choice) {
	case "1":
		a.addTransaction()
	case "2":
		a.listTransactions()
	case "3":
		a.summary()
	case "4":
		a.showBudgets()
	case "5":
		a.showGoals()
	case "6":
		a.changePassword()
	case "7":
		a.showSecurityEvents()
	case "8":
		a.logout()
	}
	return nil
}

func (a *app) logout() {
	a.sessions.End()
	a.budget.SetUser("")
	fmt.Println("Logged out.")
}

// =============================================================================
// COMMANDS
// =============================================================================

func (a *app) addTransaction() {
	desc, err := a.prompt("Description: ")
	if err != nil {
		return
	}
	amountStr, err := a.prompt("Amount: ")
	if err != nil {
		return
	}
	amount, err := strconv.ParseFloat(strings.TrimSpace(amountStr), 64)
	if err != nil || amount <= 0 {
		fmt.Println("Amount must be a positive number.")
		return
	}
	kind, err := a.prompt("Type (i)ncome / (e)xpense: ")
	if err != nil {
		return
	}
	typ := model.Expense
	if strings.HasPrefix(strings.ToLower(strings.TrimSpace(kind)), "i") {
		typ = model.Income
	}
	category, err := a.prompt("Category: ")
	if err != nil {
		return
	}

	tx := model.NewTransaction(strings.TrimSpace(desc), amount, typ, strings.TrimSpace(category), "")
	if err := a.budget.AddTransaction(tx); err != nil {
		fmt.Printf("Failed to save transaction: %v\n", err)
		return
	}
	fmt.Println("Saved.")
}

func (a *app) listTransactions() {
	txns := a.budget.Transactions()
	if len(txns) == 0 {
		fmt.Println("No transactions yet.")
		return
	}
	for _, t := range txns {
		sign := "-"
		if t.Type == model.Income {
			sign = "+"
		}
		fmt.Printf("%s  %s%8.2f  %-12s %s\n",
			t.Date.Format("2006-01-02"), sign, t.Amount, t.Category, t.Description)
	}
}

func (a *app) summary() {
	now := time.Now()
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())

	fmt.Printf("All time:   income %.2f, expenses %.2f, net %.2f\n",
		a.budget.TotalIncome(nil, nil), a.budget.TotalExpenses(nil, nil), a.budget.NetIncome(nil, nil))
	fmt.Printf("This month: income %.2f, expenses %.2f, net %.2f\n",
		a.budget.TotalIncome(&monthStart, nil), a.budget.TotalExpenses(&monthStart, nil), a.budget.NetIncome(&monthStart, nil))

	byCategory := a.budget.ExpensesByCategory(&monthStart, nil)
	for category, total := range byCategory {
		fmt.Printf("  %-12s %.2f\n", category, total)
	}
}

func (a *app) showBudgets() {
	if err := a.budget.UpdateBudgetSpending(); err != nil {
		fmt.Printf("Failed to refresh budgets: %v\n", err)
		return
	}
	budgets := a.budget.Budgets()
	if len(budgets) == 0 {
		fmt.Println("No active budgets.")
		return
	}
	for _, b := range budgets {
		marker := ""
		if b.IsOverBudget() {
			marker = "  OVER"
		}
		fmt.Printf("%-16s %-12s %8.2f / %8.2f (%.0f%%)%s\n",
			b.Name, b.Category, b.CurrentSpent, b.MonthlyLimit, b.Utilization(), marker)
	}
}

func (a *app) showGoals() {
	goals := a.budget.Goals()
	if len(goals) == 0 {
		fmt.Println("No active goals.")
		return
	}
	for _, g := range goals {
		fmt.Printf("%-20s %8.2f / %8.2f (%.0f%%)  by %s\n",
			g.Name, g.CurrentAmount, g.TargetAmount, g.Progress(), g.TargetDate.Format("2006-01-02"))
	}
}

func (a *app) changePassword() {
	user := a.sessions.CurrentUser()
	if user == nil {
		return
	}

	current, err := a.promptPassword("Current password: ")
	if err != nil {
		return
	}
	next, err := a.promptPassword("New password: ")
	if err != nil {
		return
	}

	if err := a.users.ChangePassword(user.Username, current, next); err != nil {
		fmt.Println(err)
		return
	}
	fmt.Println("Password changed.")
}

func (a *app) showSecurityEvents() {
	events, err := a.audit.GetRecentEvents(20)
	if err != nil {
		fmt.Printf("Failed to read audit log: %v\n", err)
		return
	}
	if len(events) == 0 {
		fmt.Println("No security events recorded.")
		return
	}
	for _, e := range events {
		status := "ok"
		if !e.Success {
			status = "FAIL"
		}
		fmt.Printf("%s  %-16s %-10s %-4s %s\n",
			e.Timestamp.Local().Format("2006-01-02 15:04:05"),
			e.EventType, e.Username, status, e.Message)
	}
}

// =============================================================================
// INPUT
// =============================================================================

func (a *app) prompt(label string) (string, error) {
	fmt.Print(label)
	line, err := a.in.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// promptPassword reads without echo when stdin is a terminal, falling
// back to a plain read when it is not (tests, pipes).
func (a *app) promptPassword(label string) (string, error) {
	fmt.Print(label)
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		raw, err := term.ReadPassword(fd)
		fmt.Println()
		if err != nil {
			return "", err
		}
		return string(raw), nil
	}
	return a.prompt("")
}
