package main

import (
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"spcbench-backend-go/internal/services"
)

var createSuperuserCmd = &cobra.Command{
	Use:   "createsuperuser",
	Short: "Create an administrator account or promote an existing one",
	Long: `Creates a verified superuser. The password is read from --password or,
when omitted, from SPC_SUPERUSER_PASSWORD. An existing account with the same
email is promoted instead and keeps its password.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		email, _ := cmd.Flags().GetString("email")
		password, _ := cmd.Flags().GetString("password")
		if password == "" {
			password = os.Getenv("SPC_SUPERUSER_PASSWORD")
		}
		conn, err := openDB()
		if err != nil {
			return err
		}
		defer conn.Close()

		ctx := cmd.Context()
		if existing, err := services.GetUserByEmail(ctx, conn, email); err == nil {
			yes := true
			if _, err := services.UpdateUserFlags(ctx, conn, existing.ID, services.UserFlags{
				IsActive: &yes, IsVerified: &yes, IsSuperuser: &yes,
			}); err != nil {
				return err
			}
			zap.L().Info("promoted existing account", zap.String("email", existing.Email))
			return nil
		} else if _, ok := services.AsServiceError(err); !ok {
			return err
		}

		if strings.TrimSpace(password) == "" {
			return eris.New("a password is required for a new account")
		}
		user, err := services.CreateUser(ctx, conn, services.TokenService{}, services.NewUser{
			Email:       email,
			Password:    password,
			IsVerified:  true,
			IsSuperuser: true,
		})
		if err != nil {
			return err
		}
		zap.L().Info("superuser created", zap.String("email", user.Email), zap.String("id", user.ID))
		return nil
	},
}

func init() {
	f := createSuperuserCmd.Flags()
	f.String("email", "", "account email (required)")
	f.String("password", "", "password for a new account")
	_ = createSuperuserCmd.MarkFlagRequired("email")
	rootCmd.AddCommand(createSuperuserCmd)
}
