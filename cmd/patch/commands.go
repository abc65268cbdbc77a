// Package patch wires the cobra subcommands that drive the patch engine:
// identify, check, apply, and gc. Command/handler separation follows the
// teacher's cmd/images package.
package patch

import "github.com/spf13/cobra"

// Actions defines the patch engine's CLI-facing operations.
type Actions interface {
	Identify(cmd *cobra.Command, args []string) error
	Check(cmd *cobra.Command, args []string) error
	Apply(cmd *cobra.Command, args []string) error
	GC(cmd *cobra.Command, args []string) error
}

// Command builds the "patch" parent command with all subcommands.
func Command(h Actions) *cobra.Command {
	patchCmd := &cobra.Command{
		Use:   "patch",
		Short: "Identify, check, and apply updates",
	}
	patchCmd.AddCommand(
		&cobra.Command{
			Use:   "identify",
			Short: "Print the installed version",
			RunE:  h.Identify,
		},
		&cobra.Command{
			Use:   "check",
			Short: "Check whether a newer release is available",
			RunE:  h.Check,
		},
		&cobra.Command{
			Use:   "apply",
			Short: "Apply all available releases in sequence",
			RunE:  h.Apply,
		},
		&cobra.Command{
			Use:   "gc",
			Short: "Reclaim orphaned staging areas",
			RunE:  h.GC,
		},
	)
	return patchCmd
}
