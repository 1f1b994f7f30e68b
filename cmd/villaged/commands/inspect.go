package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"villagecraft.ai/internal/persistence/backup"
	"villagecraft.ai/internal/persistence/history"
	"villagecraft.ai/internal/persistence/savefile"
)

func inspectCmd() *cobra.Command {
	var (
		recent     int
		backupName string
	)
	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Summarize the save file, backups and trade history",
		RunE: func(cmd *cobra.Command, args []string) error {
			if backupName != "" {
				return dumpBackup(cmd.OutOrStdout(), backupName)
			}
			return inspect(cmd.Context(), cmd.OutOrStdout(), recent)
		},
	}
	cmd.Flags().IntVar(&recent, "recent", 10, "number of recent trades and balance changes to list")
	cmd.Flags().StringVar(&backupName, "backup", "", "print the decompressed contents of the named backup")
	return cmd
}

// dumpBackup writes a backup's save document to out.
func dumpBackup(out io.Writer, name string) error {
	if cfg.Backup.Dir == "" {
		return errors.New("no backup directory configured")
	}
	b, err := backup.New(cfg.Backup.Dir, cfg.Backup.Keep).Open(name)
	if err != nil {
		return fmt.Errorf("open backup %s: %w", name, err)
	}
	if _, err := out.Write(b); err != nil {
		return err
	}
	if len(b) > 0 && b[len(b)-1] != '\n' {
		_, err = io.WriteString(out, "\n")
	}
	return err
}

func inspect(ctx context.Context, out io.Writer, recent int) error {
	if ctx == nil {
		ctx = context.Background()
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)

	rec, exists, err := savefile.Read(cfg.SavePath)
	switch {
	case !exists && err == nil:
		fmt.Fprintf(tw, "save\t%s\t(none)\n", cfg.SavePath)
	case err != nil:
		fmt.Fprintf(tw, "save\t%s\tunreadable: %v\n", cfg.SavePath, err)
	default:
		fmt.Fprintf(tw, "save\t%s\n", cfg.SavePath)
		fmt.Fprintf(tw, "balance\t%s\n", humanize.Comma(rec.Balance))
		fmt.Fprintf(tw, "objects\t%d\n", len(rec.Objects))
		counts := map[string]int{}
		var invested int64
		for _, o := range rec.Objects {
			counts[o.CatalogID]++
			invested += o.OriginalCost
		}
		ids := make([]string, 0, len(counts))
		for id := range counts {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			fmt.Fprintf(tw, "  %s\t%d\n", id, counts[id])
		}
		fmt.Fprintf(tw, "invested\t%s\n", humanize.Comma(invested))
	}

	if cfg.Backup.Dir != "" {
		infos, err := backup.New(cfg.Backup.Dir, cfg.Backup.Keep).List()
		if err != nil {
			fmt.Fprintf(tw, "backups\t%s\tunreadable: %v\n", cfg.Backup.Dir, err)
		} else {
			fmt.Fprintf(tw, "backups\t%d\n", len(infos))
			for _, in := range infos {
				tag := ""
				if in.Corrupt {
					tag = "corrupt"
				}
				fmt.Fprintf(tw, "  %s\t%s\t%s\t%s\n", in.Name, humanize.Bytes(uint64(in.Size)), humanize.Time(in.TakenAt), tag)
			}
		}
	}

	if cfg.HistoryDB != "" {
		if _, err := os.Stat(cfg.HistoryDB); err == nil {
			if err := inspectHistory(ctx, tw, recent); err != nil {
				fmt.Fprintf(tw, "history\t%s\tunreadable: %v\n", cfg.HistoryDB, err)
			}
		}
	}
	return tw.Flush()
}

func inspectHistory(ctx context.Context, w io.Writer, recent int) error {
	db, err := history.OpenSQLite(cfg.HistoryDB)
	if err != nil {
		return err
	}
	defer db.Close()
	tot, err := db.Totals(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "purchases\t%d\t%s coins\n", tot.Purchases, humanize.Comma(tot.Spent))
	fmt.Fprintf(w, "sales\t%d\t%s coins\n", tot.Sales, humanize.Comma(tot.Refunded))
	if recent <= 0 {
		return nil
	}
	trades, err := db.RecentTrades(ctx, recent)
	if err != nil {
		return err
	}
	for _, t := range trades {
		fmt.Fprintf(w, "  %s\t%s\t%s\t%s\tbalance %s\n", t.At.Format(time.DateTime), t.Kind, t.CatalogID, humanize.Comma(t.Amount), humanize.Comma(t.Balance))
	}
	changes, err := db.RecentChanges(ctx, recent)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "balance changes\t%d\n", len(changes))
	for _, c := range changes {
		fmt.Fprintf(w, "  %s\t%s\t%+d\tbalance %s\n", c.At.Format(time.DateTime), c.Kind, c.Delta, humanize.Comma(c.Balance))
	}
	return nil
}
