package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/bryanchriswhite/StageFeed/internal/config"
	"github.com/spf13/cobra"
)

var targetsCmd = &cobra.Command{
	Use:   "targets",
	Short: "Manage display targets",
	Long: `List display targets and switch them on or off.

A running server watches the config file, so activating or deactivating a
target here takes effect immediately: a deactivated target sends one blank
frame and then holds it.`,
}

var targetsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List configured display targets",
	Example: `  # List targets in table format (default)
  stagefeed targets list

  # List targets in JSON format
  stagefeed targets list --format json`,
	RunE: runTargetsList,
}

var targetsActivateCmd = &cobra.Command{
	Use:     "activate NAME",
	Short:   "Resume live output on a display target",
	Example: `  stagefeed targets activate main`,
	Args:    cobra.ExactArgs(1),
	RunE:    runSetActive(true),
}

var targetsDeactivateCmd = &cobra.Command{
	Use:     "deactivate NAME",
	Short:   "Blank a display target",
	Example: `  stagefeed targets deactivate lobby`,
	Args:    cobra.ExactArgs(1),
	RunE:    runSetActive(false),
}

var targetsFormat string

func init() {
	rootCmd.AddCommand(targetsCmd)
	targetsCmd.AddCommand(targetsListCmd)
	targetsCmd.AddCommand(targetsActivateCmd)
	targetsCmd.AddCommand(targetsDeactivateCmd)

	targetsListCmd.Flags().StringVarP(&targetsFormat, "format", "f", "table", "output format (table or json)")
}

func runTargetsList(cmd *cobra.Command, args []string) error {
	configMgr, err := loadConfig()
	if err != nil {
		return err
	}
	targets := configMgr.Get().Targets

	switch targetsFormat {
	case "json":
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(targets)
	case "table":
		return printTargetsTable(targets)
	default:
		return fmt.Errorf("unsupported format: %s (use 'table' or 'json')", targetsFormat)
	}
}

func printTargetsTable(targets []config.TargetConfig) error {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	defer w.Flush()

	fmt.Fprintln(w, "NAME\tSIZE\tFPS\tOUTPUT\tACTIVE\tRENDER SKIP")
	fmt.Fprintln(w, "----\t----\t---\t------\t------\t-----------")

	yesNo := map[bool]string{true: "Yes", false: "No"}
	for _, t := range targets {
		fmt.Fprintf(w, "%s\t%dx%d\t%d\t%s\t%s\t%s\n",
			t.Name, t.Width, t.Height, t.FPS, t.Output.Type, yesNo[t.Active], yesNo[t.RenderSkip])
	}

	return nil
}

func runSetActive(active bool) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		configMgr, err := loadConfig()
		if err != nil {
			return err
		}
		if err := configMgr.SetActive(args[0], active); err != nil {
			return err
		}

		state := "deactivated"
		if active {
			state = "activated"
		}
		fmt.Printf("Target %s %s\n", args[0], state)
		return nil
	}
}
