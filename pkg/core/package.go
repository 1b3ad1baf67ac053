// pkg/core/package.go
package core

// Package is the combined view of a store package
type Package struct {
	Name        string   // Package name
	Version     string   // Installed version, else the manifest version
	Description string   // From the manifest or the descriptor
	Source      string   // Source kind that installed it
	Listed      bool     // Whether the manifest lists it
	Installed   bool     // Whether the ledger records it
	Files       []string // Installed files, relative to the packages directory
}
