package cmd

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/BioHazard786/warpcall/internal/call"
	"github.com/BioHazard786/warpcall/internal/ui"
)

var flagAutoAnswer bool

var listenCmd = &cobra.Command{
	Use:     "listen",
	Aliases: []string{"l"},
	Short:   "Wait for incoming calls",
	Long: `Stay registered on the relay and ring on incoming calls until interrupted.

Examples:
  warpcall listen --id bob@example.org
  warpcall listen --headless --auto-answer`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return listen(cmd.Context())
	},
}

func init() {
	listenCmd.Flags().BoolVar(&flagAutoAnswer, "auto-answer", false, "Answer every incoming call")
	rootCmd.AddCommand(listenCmd)
}

func listen(ctx context.Context) error {
	cfg, err := LoadConfig(configOptions())
	if err != nil {
		return err
	}

	stopSpinner := ui.RunConnectionSpinner("Connecting to relay...")
	defer stopSpinner()
	cc, err := NewCallContext(ctx, cfg)
	if err != nil {
		return err
	}
	defer cc.Close()
	stopSpinner()

	ui.PrintSuccessf("Listening as %s", cfg.Identity)

	answers := make(chan call.IncomingCall, 1)
	cancelIncoming := cc.Orchestrator.OnIncomingCall(func(in call.IncomingCall) {
		select {
		case answers <- in:
		default:
		}
	})
	defer cancelIncoming()

	go func() {
		for {
			select {
			case in := <-answers:
				handleIncoming(ctx, cc, in)
			case <-ctx.Done():
				return
			}
		}
	}()

	cc.Run(ctx, nil)
	return nil
}

func handleIncoming(ctx context.Context, cc *CallContext, in call.IncomingCall) {
	o := cc.Orchestrator
	switch {
	case flagAutoAnswer:
		if err := o.AnswerCall(ctx, in.CallID); err != nil {
			ui.PrintErrorf("Could not answer: %v", err)
		}
	case cc.Screen == nil:
		answer, err := promptAnswer(in)
		if err != nil {
			return
		}
		if answer {
			err = o.AnswerCall(ctx, in.CallID)
		} else {
			err = o.DeclineCall(ctx, in.CallID)
		}
		if err != nil {
			ui.PrintErrorf("%v", err)
		}
	}
	// With a call screen the user answers from there.
}

func promptAnswer(in call.IncomingCall) (bool, error) {
	from := in.DisplayName
	if from == "" {
		from = in.From.String()
	}
	fmt.Printf("%s Incoming %s call from %s. Answer? [y/N] ", ui.IconIncoming, in.Kind, from)

	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return false, err
	}
	line = strings.ToLower(strings.TrimSpace(line))
	return line == "y" || line == "yes", nil
}
