// internal/cli/list.go
package cli

import (
	"context"
	"fmt"

	"github.com/arc-language/ustore"
)

func (a *app) printList(ctx context.Context, mgr *ustore.Manager) error {
	records, err := mgr.List(ctx)
	if err != nil {
		return err
	}

	if len(records) == 0 {
		fmt.Fprintln(a.stdout, "no packages installed")
		return nil
	}

	for _, rec := range records {
		version := rec.Version
		if version == "" {
			version = "-"
		}
		fmt.Fprintf(a.stdout, "%s\t%s\t%s\t%s\n", rec.Name, version, rec.Source, rec.InstalledAt.Local().Format("2006-01-02 15:04"))
	}
	return nil
}

func (a *app) printInfo(ctx context.Context, mgr *ustore.Manager, name string) error {
	pkg, err := mgr.Info(ctx, name)
	if err != nil {
		return err
	}

	fmt.Fprintf(a.stdout, "Package: %s\n", pkg.Name)
	if pkg.Version != "" {
		fmt.Fprintf(a.stdout, "Version: %s\n", pkg.Version)
	}
	if pkg.Description != "" {
		fmt.Fprintf(a.stdout, "Description: %s\n", pkg.Description)
	}
	fmt.Fprintf(a.stdout, "Listed: %v\n", pkg.Listed)
	fmt.Fprintf(a.stdout, "Installed: %v\n", pkg.Installed)
	if pkg.Installed {
		fmt.Fprintf(a.stdout, "Source: %s\n", pkg.Source)
		fmt.Fprintf(a.stdout, "Files:\n")
		for _, f := range pkg.Files {
			fmt.Fprintf(a.stdout, "  %s\n", f)
		}
	}
	return nil
}
