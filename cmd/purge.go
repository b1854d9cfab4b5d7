package cmd

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/upak-space/upak-auth/app/jobs"
	"github.com/upak-space/upak-auth/app/repository"
	"github.com/upak-space/upak-auth/app/service"

	"github.com/spf13/cobra"
)

var purgeResetTokensCmd = &cobra.Command{
	Use:   "purge-reset-tokens",
	Short: "Delete used and expired password reset tokens",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withDatabase(cmd.Context(), func(ctx context.Context, db *sql.DB) error {
			store := service.NewResetTokenStore(repository.NewPasswordResetTokenRepository(db), time.Hour)
			deleted, err := jobs.NewScheduler(store, "").PurgeResetTokens(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %d reset token(s)\n", deleted)
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(purgeResetTokensCmd)
}
