package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/finance-ledger/internal/ledger"
	"github.com/dvloznov/finance-ledger/internal/notify"
	"github.com/google/subcommands"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type processRecurrencesCmd struct {
	env  *env
	asOf string
}

func (*processRecurrencesCmd) Name() string { return "process-recurrences" }
func (*processRecurrencesCmd) Synopsis() string {
	return "spawn the occurrences of every recurring transaction that is due"
}
func (*processRecurrencesCmd) Usage() string {
	return `cli process-recurrences [-as-of YYYY-MM-DD]

  Runs one recurrence batch. Every due parent spawns one child and advances
  by one period. Defaults to today.
`
}

func (c *processRecurrencesCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.asOf, "as-of", "", "Process parents due on or before this date (defaults to today).")
}

func (c *processRecurrencesCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	asOf := civil.DateOf(time.Now())
	if c.asOf != "" {
		d, err := civil.ParseDate(c.asOf)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error parsing -as-of: %v\n", err)
			return subcommands.ExitUsageError
		}
		asOf = d
	}

	a, err := c.env.open(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}

	res, err := a.Scheduler.ProcessRecurrences(ctx, asOf)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	if res.Skipped {
		fmt.Println("Another recurrence run is in progress; nothing done.")
		return subcommands.ExitSuccess
	}

	fmt.Printf("Processed %d recurring transactions as of %s.\n", res.Processed, asOf)
	return subcommands.ExitSuccess
}

type accountsCmd struct {
	env  *env
	user string
}

func (*accountsCmd) Name() string     { return "accounts" }
func (*accountsCmd) Synopsis() string { return "list a user's accounts and balances" }
func (*accountsCmd) Usage() string {
	return `cli accounts -user <user_id>
`
}

func (c *accountsCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.user, "user", "", "The user whose accounts to list.")
}

func (c *accountsCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if c.user == "" {
		fmt.Fprintln(os.Stderr, "Error: -user is required")
		return subcommands.ExitUsageError
	}

	a, err := c.env.open(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}

	accounts, err := a.Engine.Accounts(ctx, c.user)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tBALANCE")
	for _, acc := range accounts {
		fmt.Fprintf(w, "%s\t%s\t%s\n", acc.ID, acc.Name, notify.FormatAmount(acc.Balance, a.Config.Currency))
	}
	w.Flush()
	return subcommands.ExitSuccess
}

type createAccountCmd struct {
	env     *env
	user    string
	name    string
	opening string
}

func (*createAccountCmd) Name() string     { return "create-account" }
func (*createAccountCmd) Synopsis() string { return "create a ledger account (postgres only)" }
func (*createAccountCmd) Usage() string {
	return `cli create-account -user <user_id> -name <name> [-opening <amount>]

  Accounts are normally managed by the account service; this seeds one
  directly for local setups and tests.
`
}

func (c *createAccountCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.user, "user", "", "The owning user.")
	f.StringVar(&c.name, "name", "", "The account name.")
	f.StringVar(&c.opening, "opening", "0", "The opening balance.")
}

func (c *createAccountCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if c.user == "" || strings.TrimSpace(c.name) == "" {
		fmt.Fprintln(os.Stderr, "Error: -user and -name are required")
		return subcommands.ExitUsageError
	}
	opening, err := decimal.NewFromString(c.opening)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error parsing -opening: %v\n", err)
		return subcommands.ExitUsageError
	}

	a, err := c.env.open(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	if a.Postgres == nil {
		fmt.Fprintln(os.Stderr, "Error: create-account needs DATABASE_URL; the in-memory store does not outlive the command")
		return subcommands.ExitFailure
	}

	acc := &ledger.Account{
		ID:             uuid.New().String(),
		UserID:         c.user,
		Name:           strings.TrimSpace(c.name),
		OpeningBalance: opening,
		Balance:        opening,
	}
	if err := a.Postgres.CreateAccount(ctx, acc); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}

	fmt.Printf("Created account %s (%s).\n", acc.ID, acc.Name)
	return subcommands.ExitSuccess
}

type reconcileCmd struct {
	env  *env
	user string
}

func (*reconcileCmd) Name() string { return "reconcile" }
func (*reconcileCmd) Synopsis() string {
	return "compare stored balances with opening balance plus transactions"
}
func (*reconcileCmd) Usage() string {
	return `cli reconcile -user <user_id>

  Read-only. Exits with status 1 when any account has drifted.
`
}

func (c *reconcileCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.user, "user", "", "The user whose accounts to reconcile.")
}

func (c *reconcileCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if c.user == "" {
		fmt.Fprintln(os.Stderr, "Error: -user is required")
		return subcommands.ExitUsageError
	}

	a, err := c.env.open(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}

	recs, err := a.Engine.Reconcile(ctx, c.user)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}

	drifted := 0
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ACCOUNT\tSTORED\tEXPECTED\tDRIFT")
	for _, r := range recs {
		if !r.Balanced() {
			drifted++
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", r.Name, r.Stored, r.Expected, r.Drift)
	}
	w.Flush()

	if drifted > 0 {
		fmt.Printf("%d of %d accounts drifted.\n", drifted, len(recs))
		return subcommands.ExitFailure
	}
	fmt.Println("All accounts balanced.")
	return subcommands.ExitSuccess
}
