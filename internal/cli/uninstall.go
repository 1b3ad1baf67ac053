// internal/cli/uninstall.go
package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/arc-language/ustore"
)

func (a *app) newUninstallCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "uninstall <package>",
		Short: "Remove an installed package",
		Long: `Remove the files an earlier install recorded for the package.

Files placed in the packages directory by anything else are left alone.
Uninstalling a package that is not installed is reported and succeeds.`,
		Args: exactlyOnePackage,
		RunE: a.runUninstall,
	}
}

func (a *app) runUninstall(cmd *cobra.Command, args []string) error {
	name := args[0]

	return a.withManager(cmd.Context(), func(ctx context.Context, mgr *ustore.Manager) error {
		_, err := mgr.Uninstall(ctx, name)
		if errors.Is(err, ustore.ErrNotInstalled) {
			fmt.Fprintf(a.stdout, "package %s not installed\n", name)
			return nil
		}
		if err != nil {
			return err
		}

		fmt.Fprintf(a.stdout, "package %s uninstalled\n", name)
		return nil
	})
}
