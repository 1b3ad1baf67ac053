// internal/cli/version.go
package cli

const version = "0.1.0"

const versionTemplate = `ustore version {{.Version}}
Store package installer
https://github.com/arc-language/ustore
`
