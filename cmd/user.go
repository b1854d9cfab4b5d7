package cmd

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"

	"github.com/upak-space/upak-auth/app/repository"

	"github.com/spf13/cobra"
)

var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Manage user accounts",
}

var userActivateCmd = &cobra.Command{
	Use:   "activate <user_id>",
	Short: "Allow a user to sign in",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setUserActive(cmd, args[0], true)
	},
}

var userDeactivateCmd = &cobra.Command{
	Use:   "deactivate <user_id>",
	Short: "Block a user from signing in",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setUserActive(cmd, args[0], false)
	},
}

func init() {
	userCmd.AddCommand(userActivateCmd)
	userCmd.AddCommand(userDeactivateCmd)
	rootCmd.AddCommand(userCmd)
}

func setUserActive(cmd *cobra.Command, rawID string, active bool) error {
	userID, err := strconv.ParseUint(rawID, 10, 64)
	if err != nil || userID == 0 {
		return fmt.Errorf("invalid user id %q", rawID)
	}

	return withDatabase(cmd.Context(), func(ctx context.Context, db *sql.DB) error {
		found, err := repository.NewUserRepository(db).SetActive(ctx, userID, active)
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("user %d not found", userID)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "user %d is_active=%t\n", userID, active)
		return nil
	})
}
