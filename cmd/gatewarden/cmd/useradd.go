package cmd

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/pquerna/otp/totp"
	"github.com/spf13/cobra"

	"github.com/jmcleod/gatewarden/challenge"
	"github.com/jmcleod/gatewarden/identity"
	identitybbolt "github.com/jmcleod/gatewarden/identity/bbolt"
	"github.com/jmcleod/gatewarden/internal/util"
)

var (
	addUsername    string
	addPassword    string
	addFactor      string
	addDestination string
	addDataDir     string
	addUsageStart  string
	addUsageEnd    string
)

var useraddCmd = &cobra.Command{
	Use:   "useradd",
	Short: "Create an account in the identity store",
	RunE: func(cmd *cobra.Command, args []string) error {
		factor := challenge.Factor(addFactor)
		switch factor {
		case challenge.FactorEmailCode, challenge.FactorSMSCode, challenge.FactorAuthenticator:
		default:
			return fmt.Errorf("invalid factor %q (use email_code, sms_code or authenticator)", addFactor)
		}
		if factor.OutOfBand() && addDestination == "" {
			return fmt.Errorf("--destination is required for factor %q", addFactor)
		}

		subjectID, err := util.RandomToken(12)
		if err != nil {
			return err
		}
		account, err := identity.NewAccount(addUsername, subjectID, addPassword, factor)
		if err != nil {
			return fmt.Errorf("creating account: %w", err)
		}
		account.Destination = addDestination

		now := account.CreatedAt
		account.PasswordSetAt = &now
		if account.UsageStartAt, err = parseDateFlag(addUsageStart); err != nil {
			return err
		}
		if account.UsageEndAt, err = parseDateFlag(addUsageEnd); err != nil {
			return err
		}

		if factor == challenge.FactorAuthenticator {
			key, err := totp.Generate(totp.GenerateOpts{
				Issuer:      "gatewarden",
				AccountName: addUsername,
			})
			if err != nil {
				return fmt.Errorf("generating authenticator secret: %w", err)
			}
			account.TOTPSecret = key.Secret()
			fmt.Printf("authenticator enrollment URL: %s\n", key.URL())
		}

		store, err := identitybbolt.NewStoreFromFile(filepath.Join(addDataDir, "identity.db"), nil)
		if err != nil {
			return fmt.Errorf("opening identity store: %w", err)
		}
		defer store.Close()

		if err := store.Put(cmd.Context(), account); err != nil {
			return fmt.Errorf("saving account: %w", err)
		}
		fmt.Printf("created account %q (subject %s)\n", addUsername, subjectID)
		return nil
	},
}

func parseDateFlag(value string) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}
	t, err := time.Parse("2006-01-02", value)
	if err != nil {
		return nil, fmt.Errorf("invalid date %q (want YYYY-MM-DD): %w", value, err)
	}
	return &t, nil
}

func init() {
	useraddCmd.Flags().StringVar(&addUsername, "username", "", "account username")
	useraddCmd.Flags().StringVar(&addPassword, "password", "", "account password")
	useraddCmd.Flags().StringVar(&addFactor, "factor", "email_code", "second factor: email_code, sms_code or authenticator")
	useraddCmd.Flags().StringVar(&addDestination, "destination", "", "delivery destination for out-of-band codes")
	useraddCmd.Flags().StringVar(&addDataDir, "data-dir", "./data", "data directory")
	useraddCmd.Flags().StringVar(&addUsageStart, "usage-start", "", "usage window start (YYYY-MM-DD)")
	useraddCmd.Flags().StringVar(&addUsageEnd, "usage-end", "", "usage window end (YYYY-MM-DD)")
	useraddCmd.MarkFlagRequired("username")
	useraddCmd.MarkFlagRequired("password")
	rootCmd.AddCommand(useraddCmd)
}
