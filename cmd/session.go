package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ccb-dev/ccb/internal/descriptor"
)

var sessionClear bool

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Show or clear this project's session descriptor",
	RunE:  runSession,
}

func init() {
	sessionCmd.Flags().BoolVar(&sessionClear, "clear", false, "delete the descriptor so the next request rebinds from scratch")
}

func runSession(cmd *cobra.Command, args []string) error {
	workDir, err := os.Getwd()
	if err != nil {
		return err
	}

	path, found := descriptor.Find(workDir, provider)
	if !found {
		fmt.Printf("no %s session descriptor found above %s\n", provider, workDir)
		return nil
	}

	if sessionClear {
		if err := os.Remove(path); err != nil {
			return fmt.Errorf("clear descriptor: %w", err)
		}
		fmt.Printf("removed %s\n", path)
		return nil
	}

	d, err := descriptor.Load(path)
	if err != nil {
		return fmt.Errorf("load descriptor: %w", err)
	}

	out, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return err
	}
	fmt.Printf("%s\n%s\n", path, out)
	fmt.Printf("session_key: %s\n", d.SessionKey())
	return nil
}
