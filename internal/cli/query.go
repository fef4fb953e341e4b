package cli

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/kenyaclaw/africa-payments-mcp-sub000/internal/app"
)

var (
	queryCSVPath string
	queryJSON    bool
)

var queryCmd = &cobra.Command{
	Use:   "query <question>",
	Short: "Answer a natural-language question about transactions",
	Example: `  paycore query "how many failed payments in Kenya last week"
  paycore query --csv out/transactions.csv "total revenue by provider this month"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Query(cmd.Context(), app.QueryOptions{
			Text:    strings.Join(args, " "),
			CSVPath: queryCSVPath,
			JSON:    queryJSON,
		})
	},
}

func init() {
	queryCmd.Flags().StringVar(&queryCSVPath, "csv", "", "Query a CSV export instead of the database")
	queryCmd.Flags().BoolVar(&queryJSON, "json", false, "Print the full structured result as JSON")
}
