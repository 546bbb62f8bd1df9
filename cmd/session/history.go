package main

import (
	"fmt"
	"io"

	"github.com/fastprodman/balancesync/internal/services/ledger"
	"github.com/olekukonko/tablewriter"
)

const timeLayout = "2006-01-02 15:04:05"

func printSnapshot(w io.Writer, s ledger.Snapshot) {
	synced := "never"
	if s.LastSyncedAt != nil {
		synced = s.LastSyncedAt.Format(timeLayout)
	}

	fmt.Fprintf(w, "cash=%s bank=%s version=%d last_synced=%s\n", s.Cash, s.BankBalance, s.Version, synced)
}

func printHistory(w io.Writer, txs []ledger.Transaction) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"ID", "Kind", "Amount", "Status", "Reason", "Description", "Created"})
	table.SetAutoWrapText(false)

	for _, tx := range txs {
		reason := tx.FailureReason
		if tx.Unconfirmed {
			reason += " (unconfirmed)"
		}

		table.Append([]string{
			tx.ID.String()[:8],
			string(tx.Kind),
			tx.Amount.String(),
			string(tx.Status),
			reason,
			tx.Description,
			tx.CreatedAt.Format(timeLayout),
		})
	}

	table.Render()
}
