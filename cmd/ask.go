package cmd

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ccb-dev/ccb/internal/rpc"
)

var (
	askTimeout    float64
	askSync       bool
	askNoWrap     bool
	askOutputPath string
	askQuiet      bool
)

var askCmd = &cobra.Command{
	Use:   "ask [message]",
	Short: "Send a prompt to the running daemon and print its reply",
	Args:  cobra.ArbitraryArgs,
	RunE:  runAsk,
}

func init() {
	askCmd.Flags().Float64Var(&askTimeout, "timeout", 120, "seconds to wait for a reply; negative waits indefinitely")
	askCmd.Flags().BoolVar(&askSync, "sync", true, "wait synchronously for the reply (always true; kept for CLI compatibility)")
	askCmd.Flags().BoolVar(&askNoWrap, "no-wrap", false, "send the message unwrapped, without CCB protocol markers")
	askCmd.Flags().StringVar(&askOutputPath, "output", "", "write the reply to this path instead of stdout")
	askCmd.Flags().BoolVar(&askQuiet, "quiet", false, "suppress the reply on stdout")
}

func runAsk(cmd *cobra.Command, args []string) error {
	if os.Getenv("CCB_"+strings.ToUpper(protocolPrefix(provider))) == "0" {
		fmt.Fprintln(os.Stderr, "daemon disabled")
		os.Exit(1)
	}
	message := strings.Join(args, " ")
	if message == "" {
		return fmt.Errorf("usage: ccb ask [--timeout N] \"<message>\"")
	}

	workDir, err := os.Getwd()
	if err != nil {
		return err
	}

	statePath := defaultStateFilePath(provider)
	state, err := rpc.ReadStateFile(statePath)
	if err != nil {
		if !autostartAllowed(provider) {
			fmt.Fprintln(os.Stderr, "no daemon running and autostart disabled")
			os.Exit(1)
		}
		if err := autostartDaemon(provider, workDir); err != nil {
			return fmt.Errorf("autostart daemon: %w", err)
		}
		state, err = waitForStateFile(statePath, 5*time.Second)
		if err != nil {
			return fmt.Errorf("daemon did not come up in time: %w", err)
		}
	}

	reqID := fmt.Sprintf("%d-%d", time.Now().UnixNano(), os.Getpid())
	req := map[string]any{
		"type": protocolPrefix(provider) + ".request", "v": 1, "id": reqID,
		"token": state.Token, "work_dir": workDir, "timeout_s": askTimeout,
		"message": message, "quiet": askQuiet, "no_wrap": askNoWrap,
	}
	if askOutputPath != "" {
		req["output_path"] = askOutputPath
	}

	resp, err := sendRequest(state, req, askTimeout)
	if err != nil {
		return err
	}

	exitCode := intField(resp["exit_code"])
	reply, _ := resp["reply"].(string)

	if askOutputPath != "" {
		if err := os.WriteFile(askOutputPath, []byte(reply), 0o644); err != nil {
			return err
		}
	} else if !askQuiet {
		fmt.Println(reply)
	}
	os.Exit(exitCode)
	return nil
}

func sendRequest(state rpc.StateFileData, req map[string]any, timeoutS float64) (map[string]any, error) {
	addr := net.JoinHostPort(state.ConnectHost, fmt.Sprint(state.Port))
	conn, err := net.DialTimeout("tcp", addr, 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("connect to daemon: %w", err)
	}
	defer conn.Close()

	b, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	b = append(b, '\n')
	if _, err := conn.Write(b); err != nil {
		return nil, fmt.Errorf("write request: %w", err)
	}

	if timeoutS >= 0 {
		conn.SetReadDeadline(time.Now().Add(time.Duration(timeoutS)*time.Second + 10*time.Second))
	}
	line, err := bufio.NewReader(conn).ReadBytes('\n')
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	var resp map[string]any
	if err := json.Unmarshal(line, &resp); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}
	return resp, nil
}

func intField(v any) int {
	f, _ := v.(float64)
	return int(f)
}

func defaultStateFilePath(p string) string {
	if override := os.Getenv("CCB_" + strings.ToUpper(protocolPrefix(p)) + "_STATE_FILE"); override != "" {
		return override
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".ccb", "run", fmt.Sprintf("ccb-%s.json", p))
}

func autostartAllowed(p string) bool {
	if v := os.Getenv("CCB_" + strings.ToUpper(protocolPrefix(p)) + "_AUTOSTART"); v != "" {
		return v == "1" || strings.EqualFold(v, "true")
	}
	if v := os.Getenv("CCB_AUTO_" + strings.ToUpper(protocolPrefix(p))); v != "" {
		return v == "1" || strings.EqualFold(v, "true")
	}
	return true
}

func autostartDaemon(p, workDir string) error {
	exePath, err := os.Executable()
	if err != nil {
		return err
	}
	c := exec.Command(exePath, "daemon", "--provider", p, "--work-dir", workDir)
	c.Stdout = nil
	c.Stderr = nil
	return c.Start()
}

func waitForStateFile(path string, timeout time.Duration) (rpc.StateFileData, error) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if state, err := rpc.ReadStateFile(path); err == nil {
			return state, nil
		}
		time.Sleep(100 * time.Millisecond)
	}
	return rpc.StateFileData{}, fmt.Errorf("timed out waiting for %s", path)
}
