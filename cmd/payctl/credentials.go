package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/coursepay/payments/internal/auth"
)

func twoFactorCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "2fa",
		Short: "Manage admin two-factor secrets",
	}

	var adminID string
	enroll := &cobra.Command{
		Use:   "enroll",
		Short: "Create (or replace) an admin's TOTP secret and recovery codes",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := open(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			e, err := a.TwoFactor.Enroll(cmd.Context(), adminID)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			fmt.Fprintln(w, "otpauth url:", e.URL)
			fmt.Fprintln(w, "secret:     ", e.Secret)
			fmt.Fprintln(w, "recovery codes (shown once):")
			for _, c := range e.RecoveryCodes {
				fmt.Fprintln(w, "  "+c)
			}
			return nil
		},
	}
	enroll.Flags().StringVar(&adminID, "admin", "", "admin user id (required)")
	_ = enroll.MarkFlagRequired("admin")

	cmd.AddCommand(enroll)
	return cmd
}

func tokenCmd() *cobra.Command {
	var userID, role string

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint an access token for local testing",
		RunE: func(cmd *cobra.Command, args []string) error {
			if role != auth.RoleUser && role != auth.RoleAdmin {
				return fmt.Errorf("role must be %s or %s", auth.RoleUser, auth.RoleAdmin)
			}
			cfg, _ := setup()
			tm := auth.NewTokenManager(cfg.JWTSecret, cfg.JWTIssuer, cfg.JWTTTL)
			tok, exp, err := tm.Generate(userID, role)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			fmt.Fprintln(cmd.ErrOrStderr(), "expires", exp.Format(time.RFC3339))
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "subject user id (required)")
	cmd.Flags().StringVar(&role, "role", auth.RoleUser, "user or admin")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}
