// Package main is the entrypoint for the memeops CLI.
//
// Exit code 0 means the command succeeded; any failure exits with 1.
package main

import (
	"os"

	"github.com/memeplatform/memeops/internal/cli"
)

// Set with -ldflags "-X main.version=... -X main.commit=... -X main.date=...".
var (
	version = ""
	commit  = ""
	date    = ""
)

func main() {
	if version != "" {
		cli.Version = version
	}
	if commit != "" {
		cli.GitCommit = commit
	}
	if date != "" {
		cli.BuildDate = date
	}
	os.Exit(cli.New().Execute())
}
