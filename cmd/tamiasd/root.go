package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/desduvauchelle/tamias-sub001/internal/delivery/client"
	"github.com/desduvauchelle/tamias-sub001/internal/shared/config"
	"github.com/desduvauchelle/tamias-sub001/internal/shared/logging"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/term"
)

var (
	green = color.New(color.FgGreen).SprintFunc()
	cyan  = color.New(color.FgCyan).SprintFunc()
	red   = color.New(color.FgRed).SprintFunc()
	gray  = color.New(color.FgHiBlack).SprintFunc()
	bold  = color.New(color.Bold).SprintFunc()
)

// isTTY reports whether both stdin and stdout are terminals.
func isTTY() bool {
	return term.IsTerminal(int(os.Stdin.Fd())) && term.IsTerminal(int(os.Stdout.Fd()))
}

// cli carries settings resolved from flags and TAMIAS_* variables.
type cli struct {
	v *viper.Viper
}

func (c *cli) serverURL() string {
	if server := strings.TrimSpace(c.v.GetString("server")); server != "" {
		return server
	}
	return "http://localhost:" + config.DefaultPort
}

func (c *cli) configPath() string { return c.v.GetString("config") }
func (c *cli) debug() bool        { return c.v.GetBool("debug") }

func (c *cli) client() (*client.Client, error) {
	return client.New(c.serverURL(), logging.NewComponentLogger("client"))
}

// NewRootCommand builds the command tree.
func NewRootCommand() *cobra.Command {
	return newRootCommand(&cli{v: viper.New()})
}

func newRootCommand(state *cli) *cobra.Command {
	root := &cobra.Command{
		Use:   "tamiasd",
		Short: "Personal agent daemon",
		Long: fmt.Sprintf(`%s

Runs sessions against your configured model connections, lets sessions
delegate work to sub-agents and bridges replies to channels.

%s
  tamiasd serve                         # run the daemon
  tamiasd chat                          # chat with a new session
  tamiasd send -s session_x "hello"     # one message, print the reply
  tamiasd sessions list
  tamiasd usage --since 24h`, bold("tamiasd"), bold("EXAMPLES:")),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if state.v.GetBool("no-color") || !isTTY() {
				color.NoColor = true
			}
		},
	}

	flags := root.PersistentFlags()
	flags.StringP("config", "c", "", "config file (default $TAMIAS_CONFIG or ~/.tamias/config.yaml)")
	flags.String("server", "", "daemon URL for client commands (default http://localhost:"+config.DefaultPort+")")
	flags.BoolP("debug", "d", false, "debug logging and gin debug mode")
	flags.Bool("no-color", false, "disable colored output")
	_ = state.v.BindPFlags(flags)
	state.v.SetEnvPrefix("TAMIAS")
	state.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	state.v.AutomaticEnv()

	root.AddCommand(
		newServeCommand(state),
		newChatCommand(state),
		newSendCommand(state),
		newSessionsCommand(state),
		newUsageCommand(state),
	)
	return root
}
