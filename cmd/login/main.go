// Command login submits credentials to the login API from a terminal and
// prints the resulting display message.
//
//	login -u sheer --url http://localhost:3000
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"cloudui-prototype/core"
)

var errNotAuthenticated = errors.New("not authenticated")

func main() {
	if err := newRootCmd(os.Stdin, os.Stdout).Execute(); err != nil {
		if !errors.Is(err, errNotAuthenticated) {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}

func newRootCmd(in *os.File, out io.Writer) *cobra.Command {
	var (
		username string
		baseURL  string
		path     string
		timeout  time.Duration
		logDir   string
		verbose  bool
	)

	cmd := &cobra.Command{
		Use:           "login",
		Short:         "Log in to the cloud console API",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := core.Load()
			if err != nil {
				return err
			}
			cfg.LogDir = logDir
			if cmd.Flags().Changed("url") {
				cfg.LoginBaseURL = baseURL
			}
			if cmd.Flags().Changed("path") {
				cfg.LoginPath = path
			}
			if cmd.Flags().Changed("timeout") {
				cfg.AttemptTimeout = timeout
			}

			logCloser, err := core.SetupLogging(cfg, "login.log")
			if err != nil {
				return err
			}
			defer logCloser.Close()
			if !verbose && logDir == "" {
				log.SetOutput(io.Discard)
			}

			lines := bufio.NewReader(in)
			if username == "" {
				username, err = promptLine(in, lines, out, "Username: ")
				if err != nil {
					return err
				}
			}
			password, err := readPassword(in, lines, out)
			if err != nil {
				return err
			}

			flow := core.NewAuthFlow(core.NewHTTPLoginClient(cfg.LoginBaseURL, cfg.LoginPath), cfg.AttemptTimeout, core.FlowHooks{})
			attempt := flow.AttemptLogin(core.Credentials{Username: username, Password: password})
			st, err := attempt.Wait(cmd.Context())
			if err != nil {
				return err
			}

			fmt.Fprintln(out, st.DisplayMessage)
			if !flow.IsLoggedIn() {
				return errNotAuthenticated
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&username, "username", "u", "", "login name (prompted when empty)")
	cmd.Flags().StringVar(&baseURL, "url", "", "login API base URL (default from LOGIN_BASE_URL)")
	cmd.Flags().StringVar(&path, "path", core.DefaultLoginPath, "login API path")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "give up after this long (0 waits forever)")
	cmd.Flags().StringVar(&logDir, "log-dir", "", "also write logs to this directory")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "log flow transitions to stderr")
	cmd.SetContext(context.Background())
	return cmd
}

// readPassword reads without echo from a terminal, or one line otherwise.
func readPassword(in *os.File, lines *bufio.Reader, out io.Writer) (string, error) {
	fd := int(in.Fd())
	if term.IsTerminal(fd) {
		fmt.Fprint(out, "Password: ")
		b, err := term.ReadPassword(fd)
		fmt.Fprintln(out)
		if err != nil {
			return "", fmt.Errorf("read password: %w", err)
		}
		return string(b), nil
	}
	return readLine(lines)
}

func promptLine(in *os.File, lines *bufio.Reader, out io.Writer, prompt string) (string, error) {
	if term.IsTerminal(int(in.Fd())) {
		fmt.Fprint(out, prompt)
	}
	return readLine(lines)
}

func readLine(lines *bufio.Reader) (string, error) {
	line, err := lines.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", fmt.Errorf("read input: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}
