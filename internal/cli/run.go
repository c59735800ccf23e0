package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/rileyhilliard/nbssh/internal/config"
	"github.com/rileyhilliard/nbssh/internal/logger"
	"github.com/rileyhilliard/nbssh/pkg/engine/cryptossh"
	"github.com/rileyhilliard/nbssh/pkg/sshclient"
)

var (
	runKey      string
	runRetries  int
	runPty      bool
	runNoPty    bool
	runInsecure bool
)

var (
	hostStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("6")).Bold(true)
	stderrStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
)

var runCmd = &cobra.Command{
	Use:   "run [user@]host[:port] command [args...]",
	Short: "Run a command on a remote host and stream its output",
	Long: `Connects to the host, authenticates (agent, then identity files,
then password from NBSSH_PASSWORD), runs the command, and streams stdout
and stderr line by line. The process exits with the remote exit status.

Host aliases from ~/.ssh/config are resolved, including HostName, Port,
User, and IdentityFile.`,
	Args: cobra.MinimumNArgs(2),
	RunE: runRun,
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadOrDefault(configFlag)
	if err != nil {
		return err
	}

	settings := config.ResolveHost(args[0])
	command := strings.Join(args[1:], " ")

	clientCfg := sshclient.Config{
		Host:           settings.Host,
		User:           settings.User,
		Password:       os.Getenv("NBSSH_PASSWORD"),
		PrivateKeyPath: runKey,
		NumRetries:     cfg.NumRetries,
		RetryBackoff:   cfg.RetryBackoff,
		UsePTY:         cfg.UsePTY,
		Terminator:     cfg.Terminator,
		IdentityFiles:  cfg.IdentityFiles,
		Logger:         logger.NewEnvLogger("[nbssh]"),
	}
	if cfg.User != "" && clientCfg.User == "" {
		clientCfg.User = cfg.User
	}
	if settings.Port != "" {
		if port, err := strconv.Atoi(settings.Port); err == nil {
			clientCfg.Port = port
		}
	} else {
		clientCfg.Port = cfg.Port
	}
	if clientCfg.PrivateKeyPath == "" && cfg.PrivateKey != "" {
		clientCfg.PrivateKeyPath = cfg.PrivateKey
	}
	if clientCfg.PrivateKeyPath == "" && settings.IdentityFile != "" {
		// An IdentityFile from ssh_config is a probe candidate, not an
		// explicit key: other strategies still apply if it fails.
		clientCfg.IdentityFiles = append([]string{settings.IdentityFile},
			sshclient.DefaultIdentityFiles()...)
	}
	if runRetries > 0 {
		clientCfg.NumRetries = runRetries
	}
	if cmd.Flags().Changed("pty") {
		clientCfg.UsePTY = runPty
	}
	if runNoPty {
		clientCfg.UsePTY = false
	}

	if runInsecure || !cfg.StrictHostKey {
		clientCfg.Engine = cryptossh.NewInsecure()
	} else {
		eng, err := cryptossh.New()
		if err != nil {
			return err
		}
		clientCfg.Engine = eng
	}

	ctx := context.Background()
	client, err := sshclient.New(ctx, clientCfg)
	if err != nil {
		return err
	}
	defer client.Close()

	remote, err := client.RunCommand(ctx, command)
	if err != nil {
		return err
	}

	styled := term.IsTerminal(int(os.Stdout.Fd()))
	prefix := "[" + remote.Host + "] "
	if styled {
		prefix = hostStyle.Render("["+remote.Host+"]") + " "
	}

	if err := printLines(ctx, remote.Stdout, os.Stdout, prefix, nil); err != nil {
		return err
	}
	errStyled := stderrStyle
	var stderrStylePtr *lipgloss.Style
	if term.IsTerminal(int(os.Stderr.Fd())) {
		stderrStylePtr = &errStyled
	}
	if err := printLines(ctx, remote.Stderr, os.Stderr, prefix, stderrStylePtr); err != nil {
		return err
	}

	if status := remote.ExitStatus(); status != 0 {
		os.Exit(status)
	}
	return nil
}

func printLines(ctx context.Context, stream *sshclient.LineStream, w io.Writer, prefix string, style *lipgloss.Style) error {
	for {
		line, err := stream.Next(ctx)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if style != nil {
			line = style.Render(line)
		}
		fmt.Fprintln(w, prefix+line)
	}
}

func init() {
	runCmd.Flags().StringVarP(&runKey, "key", "k", "",
		"explicit private key (disables all other auth strategies)")
	runCmd.Flags().IntVar(&runRetries, "retries", 0,
		"connection retry attempts (overrides config)")
	runCmd.Flags().BoolVar(&runPty, "pty", true, "request a pseudo-terminal")
	runCmd.Flags().BoolVar(&runNoPty, "no-pty", false, "never request a pseudo-terminal")
	runCmd.Flags().BoolVar(&runInsecure, "insecure", false,
		"skip host key verification")
	rootCmd.AddCommand(runCmd)
}
