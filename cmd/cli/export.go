package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/dvloznov/finance-ledger/internal/notify"
	"github.com/google/subcommands"
	"github.com/shopspring/decimal"
)

type exportCmd struct {
	env      *env
	user     string
	bigquery bool
	gcs      bool
}

func (*exportCmd) Name() string     { return "export" }
func (*exportCmd) Synopsis() string { return "export a user's ledger to BigQuery and/or GCS" }
func (*exportCmd) Usage() string {
	return `cli export -user <user_id> [-bigquery] [-gcs]

  Writes a snapshot of the user's accounts and transactions. Without -bigquery
  or -gcs every configured sink is used.
`
}

func (c *exportCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.user, "user", "", "The user whose ledger to export.")
	f.BoolVar(&c.bigquery, "bigquery", false, "Write to the BigQuery dataset.")
	f.BoolVar(&c.gcs, "gcs", false, "Write to the GCS export bucket.")
}

func (c *exportCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if c.user == "" {
		fmt.Fprintln(os.Stderr, "Error: -user is required")
		return subcommands.ExitUsageError
	}

	var sinks []string
	if c.bigquery {
		sinks = append(sinks, "bigquery")
	}
	if c.gcs {
		sinks = append(sinks, "gcs")
	}

	a, err := c.env.open(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	if a.Exporter == nil {
		fmt.Fprintln(os.Stderr, "Error: no export sink configured (set GCP_PROJECT with BQ_DATASET and/or EXPORT_BUCKET)")
		return subcommands.ExitFailure
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	res, err := a.Exporter.Export(ctx, c.user, sinks...)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}

	fmt.Printf("Export %s: %d transactions, %d accounts written to %v.\n", res.ExportID, res.Transactions, res.Accounts, res.Sinks)
	return subcommands.ExitSuccess
}

type exportHistoryCmd struct {
	env   *env
	user  string
	limit int
}

func (*exportHistoryCmd) Name() string     { return "export-history" }
func (*exportHistoryCmd) Synopsis() string { return "list past BigQuery exports" }
func (*exportHistoryCmd) Usage() string {
	return `cli export-history [-user <user_id>] [-limit <n>]
`
}

func (c *exportHistoryCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.user, "user", "", "Only list exports of this user.")
	f.IntVar(&c.limit, "limit", 20, "Maximum number of exports to list.")
}

func (c *exportHistoryCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	a, err := c.env.open(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	if a.BigQuery == nil {
		fmt.Fprintln(os.Stderr, "Error: BigQuery export is not configured (set GCP_PROJECT and BQ_DATASET)")
		return subcommands.ExitFailure
	}

	rows, err := a.BigQuery.History(ctx, c.user, c.limit)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "EXPORTED AT\tEXPORT ID\tUSER\tTRANSACTIONS\tACCOUNTS\tTOTAL BALANCE")
	for _, r := range rows {
		total := "-"
		if r.TotalBalance != nil {
			total = notify.FormatAmount(decimal.NewFromBigRat(r.TotalBalance, 2), a.Config.Currency)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%s\n",
			r.ExportedAt.Format(time.RFC3339), r.ExportID, r.UserID, r.TransactionCount, r.AccountCount, total)
	}
	w.Flush()
	return subcommands.ExitSuccess
}

type exportFetchCmd struct {
	env  *env
	user string
	date string
}

func (*exportFetchCmd) Name() string     { return "export-fetch" }
func (*exportFetchCmd) Synopsis() string { return "print a GCS ledger snapshot as JSON lines" }
func (*exportFetchCmd) Usage() string {
	return `cli export-fetch -user <user_id> [-date YYYY-MM-DD]
`
}

func (c *exportFetchCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.user, "user", "", "The user whose snapshot to fetch.")
	f.StringVar(&c.date, "date", "", "The export day (defaults to today, UTC).")
}

func (c *exportFetchCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if c.user == "" {
		fmt.Fprintln(os.Stderr, "Error: -user is required")
		return subcommands.ExitUsageError
	}
	day := time.Now().UTC()
	if c.date != "" {
		d, err := time.Parse("2006-01-02", c.date)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error parsing -date: %v\n", err)
			return subcommands.ExitUsageError
		}
		day = d
	}

	a, err := c.env.open(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	if a.GCS == nil {
		fmt.Fprintln(os.Stderr, "Error: GCS export is not configured (set EXPORT_BUCKET)")
		return subcommands.ExitFailure
	}

	data, err := a.GCS.Fetch(ctx, c.user, day)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	os.Stdout.Write(data)
	return subcommands.ExitSuccess
}
