package cmd

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"

	"github.com/keelruntime/keel/internal/loader"
	"github.com/keelruntime/keel/internal/registry"
)

var bindingsTier string

// bindingRow is the JSON shape emitted per binding.
type bindingRow struct {
	ID       string `json:"id"`
	Lifetime string `json:"lifetime"`
	Tier     string `json:"tier"`
	Module   string `json:"module"`
}

var bindingsListCmd = &cobra.Command{
	Use:   "bindings:list",
	Short: "List the sample wiring's bindings",
	Long: `List every binding the sample wiring declares as JSON.

Each row names the service identifier, its lifetime, the tier the
module belongs to, and the declaring module.
Use --tier to filter to one tier (critical, shared, or feature).

Examples:
  # List all bindings
  keel bindings:list

  # Only the Critical tier
  keel bindings:list --tier critical

  # Parse specific fields with jq
  keel bindings:list | jq '.[].id'`,
	RunE: func(cmd *cobra.Command, args []string) error {
		w := harnessWiring()

		var rows []bindingRow
		rows = appendTier(rows, "critical", w.Critical)
		rows = appendTier(rows, "shared", w.Shared)
		rows = appendFeatures(rows, w.Features)

		if cmd.Flags().Changed("tier") {
			filtered := rows[:0]
			for _, row := range rows {
				if row.Tier == bindingsTier {
					filtered = append(filtered, row)
				}
			}
			rows = filtered
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(rows)
	},
}

func init() {
	bindingsListCmd.Flags().StringVarP(&bindingsTier, "tier", "t", "", "filter by tier (critical, shared, feature)")
	rootCmd.AddCommand(bindingsListCmd)
}

func appendTier(rows []bindingRow, tier string, modules []registry.Module) []bindingRow {
	for _, m := range modules {
		for _, b := range m.Bindings {
			rows = append(rows, bindingRow{
				ID:       b.ID.Name(),
				Lifetime: string(b.Lifetime),
				Tier:     tier,
				Module:   m.Name,
			})
		}
	}
	return rows
}

func appendFeatures(rows []bindingRow, features loader.FeatureTable) []bindingRow {
	for _, modules := range features {
		rows = appendTier(rows, "feature", modules)
	}
	return rows
}
