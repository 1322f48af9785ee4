package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/BioHazard786/warpcall/internal/call"
	"github.com/BioHazard786/warpcall/internal/identity"
	"github.com/BioHazard786/warpcall/internal/media"
	"github.com/BioHazard786/warpcall/internal/ui"
)

const callCloseTimeout = 5 * time.Second

var (
	flagVideo bool
	flagWith  []string
)

var callCmd = &cobra.Command{
	Use:     "call <identity>...",
	Aliases: []string{"c"},
	Short:   "Call someone",
	Long: `Place a voice or video call. The first identity is rung; anyone after it
is invited once that call connects.

Examples:
  warpcall call bob@example.org
  warpcall call --video bob@example.org
  warpcall call bob@example.org carol@example.org`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		target := identity.Normalize(args[0])
		if !target.Valid() {
			return fmt.Errorf("invalid identity %q", args[0])
		}
		kind := media.KindVoice
		if flagVideo {
			kind = media.KindVideo
		}
		invite := identity.NormalizeAll(append(args[1:], flagWith...))
		return placeCall(cmd.Context(), target, kind, invite)
	},
}

func init() {
	callCmd.Flags().BoolVar(&flagVideo, "video", false, "Start a video call")
	callCmd.Flags().StringSliceVar(&flagWith, "with", nil, "Invite more people once the call connects")
	rootCmd.AddCommand(callCmd)
}

func placeCall(ctx context.Context, target identity.ID, kind media.Kind, invite []identity.ID) error {
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

	ended := make(chan struct{})
	var result call.Ended
	var once sync.Once
	cancelEnded := cc.Orchestrator.OnCallEnded(func(e call.Ended) {
		once.Do(func() {
			result = e
			close(ended)
		})
	})
	defer cancelEnded()

	id, err := cc.Orchestrator.InitiateCall(ctx, target, kind)
	if err != nil {
		return err
	}

	if len(invite) > 0 {
		go inviteWhenConnected(ctx, cc.Orchestrator, id, invite)
	}

	cc.Run(ctx, ended)

	select {
	case <-ended:
	default:
		// The user left or was interrupted while the call was live.
		endCtx, cancel := context.WithTimeout(context.Background(), callCloseTimeout)
		defer cancel()
		if err := cc.Orchestrator.EndCall(endCtx, id); err != nil {
			return err
		}
		select {
		case <-ended:
		case <-endCtx.Done():
			return nil
		}
	}

	switch result.Reason {
	case call.ReasonFailed:
		return call.NewCallError("call", result.CallID, errors.New("connection failed"))
	case call.ReasonDeclined, call.ReasonBusy, call.ReasonTimeout:
		ui.PrintWarningf("%s did not take the call (%s)", peerNames(result.Peers), result.Reason)
		return nil
	}
	ui.PrintInfof("%s Call with %s ended (%s), %s", ui.IconHangup, peerNames(result.Peers), result.Reason, ui.FormatDuration(result.Duration))
	return nil
}

// inviteWhenConnected adds every invitee once callID first connects.
func inviteWhenConnected(ctx context.Context, o *call.Orchestrator, callID string, invite []identity.ID) {
	updates, cancel := o.ObserveSession()
	defer cancel()

	for {
		select {
		case s := <-updates:
			if s.ID != callID || s.State == call.StateEnded {
				return
			}
			if s.State != call.StateConnected {
				continue
			}
			for _, peer := range invite {
				if err := o.AddParticipant(ctx, peer); err != nil {
					ui.PrintWarningf("Could not invite %s: %v", peer, err)
				}
			}
			return
		case <-ctx.Done():
			return
		}
	}
}

func peerNames(peers []identity.ID) string {
	if len(peers) == 0 {
		return "nobody"
	}
	return strings.Join(identity.Strings(peers), ", ")
}
