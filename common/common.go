// Package common holds build-wide identifiers.
package common

// PackageName prefixes metric names and identifies the binaries in logs.
const PackageName = "statledger"

// Version is overridden at build time with -ldflags "-X github.com/flashbots/statledger/common.Version=...".
var Version = "dev"
