package check

import "github.com/spf13/cobra"

func NewCheckCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check",
		Short: "commands to verify track data",
	}
	cmd.AddCommand(NewCheckTrackCmd())
	return cmd
}
