package cmd

import (
	"errors"
	"fmt"
	"strings"

	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"

	"ticketflow-cli/store"
)

func newLoginCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "login [token]",
		Short: "Save a session token",
		Long:  `Validate a session token (JWT) and save it for later runs. Without an argument the token is read from a masked prompt.`,
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var token string
			if len(args) == 1 {
				token = args[0]
			} else {
				prompt := promptui.Prompt{
					Label: "Token",
					Mask:  '*',
					Validate: func(input string) error {
						if strings.TrimSpace(input) == "" {
							return errors.New("token is empty")
						}
						return nil
					},
				}
				var err error
				if token, err = prompt.Run(); err != nil {
					return err
				}
			}

			identity, err := e.parser().Parse(token)
			if err != nil {
				return err
			}
			if err := store.SaveSession(token); err != nil {
				return fmt.Errorf("save session: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Signed in as %s\n", identity.Name())
			return nil
		},
	}
}

func newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the saved session token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := store.ClearSession(); err != nil {
				return fmt.Errorf("clear session: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Signed out.")
			return nil
		},
	}
}
