// Package common holds process-wide helpers shared by the binaries.
package common

// PackageName is used as the metrics namespace and default log service tag.
const PackageName = "update_ledger"

// Version is set at build time with -ldflags "-X github.com/ruteri/software-update-ledger/common.Version=..."
var Version = "dev"
