// internal/cli/install.go
package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/arc-language/ustore"
)

func (a *app) newInstallCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "install <package>",
		Short: "Install a package from the store",
		Long: `Install a package listed in the store manifest into the packages directory.

A package the manifest does not list is reported and the run still succeeds.
Names starting with "-" go after "--".

Examples:
  ustore install PostgresStorage
  ustore install RequestMiddleware --source=git
  ustore install -- -odd-name`,
		Args: exactlyOnePackage,
		RunE: a.runInstall,
	}
}

func (a *app) runInstall(cmd *cobra.Command, args []string) error {
	name := args[0]

	return a.withManager(cmd.Context(), func(ctx context.Context, mgr *ustore.Manager) error {
		rec, err := mgr.Install(ctx, name)
		if errors.Is(err, ustore.ErrNotListed) {
			fmt.Fprintf(a.stdout, "package %s not find\n", name)
			return nil
		}
		if err != nil {
			return err
		}

		a.logger.Debugf("%s %s: %d files", rec.Name, rec.Version, len(rec.Files))
		fmt.Fprintf(a.stdout, "package %s installed\n", name)
		return nil
	})
}
