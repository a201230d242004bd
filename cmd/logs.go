package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/ccb-dev/ccb/internal/debuglog"
)

var logsReqID string

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "Inspect the broker's JSONL request audit trail",
	RunE:  runLogs,
}

func init() {
	logsCmd.Flags().StringVar(&logsReqID, "req-id", "", "show only the session with this req_id")
}

func runLogs(cmd *cobra.Command, args []string) error {
	path := filepath.Join(filepath.Dir(defaultStateFilePath(provider)), fmt.Sprintf("ccb-%s-debug.jsonl", provider))

	if logsReqID != "" {
		s, err := debuglog.GetSessionByID(path, logsReqID)
		if err != nil {
			return err
		}
		printSession(*s)
		return nil
	}

	sessions, err := debuglog.ListSessions(path)
	if err != nil {
		return err
	}
	if len(sessions) == 0 {
		fmt.Println("no sessions recorded")
		return nil
	}
	for _, s := range sessions {
		fmt.Printf("%s  req_id=%s  exit_code=%d  events=%d\n",
			s.StartedAt.Format("2006-01-02T15:04:05"), s.ReqID, s.ExitCode, len(s.Events))
	}
	return nil
}

func printSession(s debuglog.SessionSummary) {
	fmt.Printf("req_id=%s provider=%s exit_code=%d\n", s.ReqID, s.Provider, s.ExitCode)
	for _, e := range s.Events {
		fmt.Printf("  %s %-10s %s\n", e.Time.Format("15:04:05.000"), e.Event, e.Detail)
	}
}
