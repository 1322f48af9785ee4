package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/BioHazard786/warpcall/internal/config"
	"github.com/BioHazard786/warpcall/internal/feedback"
	"github.com/BioHazard786/warpcall/internal/ui"
)

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Show or change ringtone and vibration settings",
	Long: `Show the call feedback settings, or change one with "settings set".
A running client picks up changes immediately.

Keys:
  ringtone            on/off
  ringtone-sound      name of the ringtone
  dial-tone           on/off
  incoming-vibration  on/off
  outgoing-vibration  on/off
  haptic-intensity    off, very-light, light, normal or strong`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := LoadConfig(configOptions())
		if err != nil {
			return err
		}
		s, err := config.LoadSettings(cfg.SettingsPath())
		if err != nil {
			return err
		}
		printSettings(s)
		return nil
	},
}

var settingsSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Change one setting",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := LoadConfig(configOptions())
		if err != nil {
			return err
		}
		path := cfg.SettingsPath()
		s, err := config.LoadSettings(path)
		if err != nil {
			return err
		}
		if err := applySetting(&s, args[0], args[1]); err != nil {
			return err
		}
		if err := config.SaveSettings(path, s); err != nil {
			return err
		}
		ui.PrintSuccessf("%s = %s", args[0], args[1])
		return nil
	},
}

func init() {
	settingsCmd.AddCommand(settingsSetCmd)
	rootCmd.AddCommand(settingsCmd)
}

func applySetting(s *feedback.Settings, key, value string) error {
	if key == "ringtone-sound" {
		if value == "" {
			return fmt.Errorf("ringtone-sound cannot be empty")
		}
		s.RingtoneSound = value
		return nil
	}
	if key == "haptic-intensity" {
		i, err := feedback.ParseIntensity(value)
		if err != nil {
			return err
		}
		s.HapticIntensity = i
		return nil
	}

	var target *bool
	switch key {
	case "ringtone":
		target = &s.RingtoneEnabled
	case "dial-tone":
		target = &s.DialToneEnabled
	case "incoming-vibration":
		target = &s.IncomingCallVibration
	case "outgoing-vibration":
		target = &s.OutgoingCallVibration
	default:
		return fmt.Errorf("unknown setting %q", key)
	}
	on, err := parseSwitch(value)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*target = on
	return nil
}

func parseSwitch(v string) (bool, error) {
	switch v {
	case "on":
		return true, nil
	case "off":
		return false, nil
	}
	return strconv.ParseBool(v)
}

func printSettings(s feedback.Settings) {
	onOff := func(b bool) string {
		if b {
			return ui.SuccessStyle.Render("on")
		}
		return ui.MutedStyle.Render("off")
	}
	rows := [][2]string{
		{"ringtone", onOff(s.RingtoneEnabled)},
		{"ringtone-sound", s.RingtoneSound},
		{"dial-tone", onOff(s.DialToneEnabled)},
		{"incoming-vibration", onOff(s.IncomingCallVibration)},
		{"outgoing-vibration", onOff(s.OutgoingCallVibration)},
		{"haptic-intensity", string(s.HapticIntensity)},
	}
	for _, r := range rows {
		fmt.Printf("%s %s\n", ui.BoldStyle.Render(fmt.Sprintf("%-20s", r[0])), r[1])
	}
}
