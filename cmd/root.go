package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/BioHazard786/warpcall/internal/ui"
	"github.com/BioHazard786/warpcall/internal/version"
)

var (
	flagDomain   string
	flagRelayURL string
	flagID       string
	flagSTUN     string
	flagTURN     string
	flagTURNUser string
	flagTURNPass string
	flagRelay    bool
	flagDataDir  string
	flagHeadless bool
	flagRingTime time.Duration
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:     "warpcall",
	Short:   "Peer-to-peer voice and video calls from the terminal, using WebRTC",
	Long:    `WarpCall places and receives direct voice and video calls between up to three people. Media flows peer to peer over WebRTC; a small relay only forwards the signaling needed to set calls up.`,
	Version: version.Version,
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&flagDomain, "domain", "", "Relay server domain")
	flags.StringVar(&flagRelayURL, "relay-url", "", "Relay WebSocket URL (overrides --domain)")
	flags.StringVar(&flagID, "id", "", "Identity to register with the relay")
	flags.StringVar(&flagSTUN, "stun", "", "STUN server URL")
	flags.StringVar(&flagTURN, "turn", "", `TURN server URL ("none" to disable)`)
	flags.StringVar(&flagTURNUser, "turn-user", "", "TURN username")
	flags.StringVar(&flagTURNPass, "turn-pass", "", "TURN password")
	flags.BoolVar(&flagRelay, "relay", false, "Force media through the TURN relay")
	flags.StringVar(&flagDataDir, "data-dir", "", "Directory for contacts, history and settings")
	flags.DurationVar(&flagRingTime, "ring-timeout", 0, "How long a call may ring unanswered (default 45s)")
	flags.BoolVar(&flagHeadless, "headless", false, "Use generated media and plain output instead of devices and the call screen")
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		ui.PrintError(err.Error())
		stop()
		os.Exit(1)
	}
}
