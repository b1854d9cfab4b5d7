package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "upak-auth",
	Short: "Authentication and payment webhook service",
	Long:  `Cookie session authentication, password reset and signed payment webhook intake for the upak order backend.`,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
