package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/RezaEskandarii/autopilot/web"
	"github.com/spf13/cobra"
)

func statusCmd() *cobra.Command {
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Status API helpers",
	}

	hashCmd := &cobra.Command{
		Use:   "hash-token [token]",
		Short: "Print the bcrypt hash to put in status.token_hash",
		Long:  "Print the bcrypt hash to put in status.token_hash. Without an argument the token is read from the first line of stdin.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var token string
			if len(args) == 1 {
				token = args[0]
			} else {
				var err error
				if token, err = readToken(cmd.InOrStdin()); err != nil {
					return err
				}
			}
			token = strings.TrimSpace(token)
			if token == "" {
				return errors.New("token is empty")
			}

			hash, err := web.HashToken(token)
			if err != nil {
				return fmt.Errorf("hash token: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		},
	}

	statusCmd.AddCommand(hashCmd)
	return statusCmd
}

func readToken(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read token: %w", err)
	}
	return line, nil
}
