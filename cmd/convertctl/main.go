// Package main は convert-forge のコマンドラインクライアントです。
package main

import (
	"fmt"
	"os"

	"github.com/yourusername/convert-forge/cmd/convertctl/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
