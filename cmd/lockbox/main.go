package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/santiagosayshey/OMesh/internal/lockbox"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "lockbox",
		Short: "Encrypt or decrypt a file with a password",
	}

	rootCmd.AddCommand(encryptCmd(), decryptCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func encryptCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "encrypt <file>",
		Short: "Encrypt a file, writing <file>.encrypted",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			password, err := readPassword()
			if err != nil {
				return err
			}
			out, err := lockbox.EncryptFile(args[0], password)
			if err != nil {
				return err
			}
			fmt.Printf("File encrypted successfully: %s\n", out)
			return nil
		},
	}
}

func decryptCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "decrypt <file>",
		Short: "Decrypt a previously encrypted file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			password, err := readPassword()
			if err != nil {
				return err
			}
			out, err := lockbox.DecryptFile(args[0], password)
			if err != nil {
				return err
			}
			fmt.Printf("File decrypted successfully: %s\n", out)
			return nil
		},
	}
}

func readPassword() (string, error) {
	fmt.Print("Enter the password: ")
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return "", err
	}
	password := strings.TrimSpace(line)
	if password == "" {
		return "", fmt.Errorf("password cannot be empty")
	}
	return password, nil
}
