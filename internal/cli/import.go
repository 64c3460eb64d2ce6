package cli

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"propguard/internal/logging"
	"propguard/internal/store"
)

type importFunc func(ctx context.Context, accountID string, r io.Reader) (int, error)

func newImportCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import trades and open positions from CSV exports",
		Long: `Import a terminal's CSV exports into an account.

Trades are upserted by ticket, so re-importing a growing history is safe.
Positions replace the account's open positions. Use '-' to read stdin.

Trade columns:    ticket,symbol,type,volume,open_time,close_time,profit,swap,commission
Position columns: ticket,symbol,type,volume,open_price,current_price,profit,sl,point_value,loss_if_stopped`,
	}

	cmd.AddCommand(newImportKindCmd(app, "trades", "Import closed and open trades",
		func(im *store.Importer) importFunc { return im.ImportTrades }))
	cmd.AddCommand(newImportKindCmd(app, "positions", "Replace the account's open positions",
		func(im *store.Importer) importFunc { return im.ImportPositions }))

	return cmd
}

func newImportKindCmd(app *App, kind, short string, pick func(*store.Importer) importFunc) *cobra.Command {
	return &cobra.Command{
		Use:     kind + " <account-id> <file.csv|->",
		Short:   short,
		Example: "  propguard import " + kind + " 1001 " + kind + ".csv",
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			output := NewOutput(cmd)
			accountID, path := args[0], args[1]

			loc, err := app.Config.Location()
			if err != nil {
				return err
			}
			s, err := app.store()
			if err != nil {
				return err
			}

			var r io.Reader = cmd.InOrStdin()
			if path != "-" {
				f, err := os.Open(path)
				if err != nil {
					return err
				}
				defer f.Close()
				r = f
			}

			importer := store.NewImporter(s, app.Config.Store.ImportBatchSize, loc)
			start := time.Now()
			n, err := pick(importer)(ctx, accountID, r)
			logging.LogStoreCall(app.Logger, "import_"+kind, time.Since(start), err)
			if al := app.audit(); al != nil {
				al.LogImport(ctx, accountID, kind, n, err)
			}
			if err != nil {
				return err
			}

			logger := logging.WithAccount(logging.FromContext(ctx), accountID)
			logger.Info().
				Str("kind", kind).
				Int("rows", n).
				Msg("Import complete")

			if output.IsJSON() {
				return output.JSON(map[string]interface{}{
					"accountId": accountID,
					"kind":      kind,
					"rows":      n,
				})
			}
			output.Success("✓ Imported %d %s into %s", n, kind, accountID)
			return nil
		},
	}
}
