package cmd

import (
	"fmt"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"hyserial"
	"hyserial/internal/tui"
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Live-tail traffic counters and events for a serial port",
	Long: `Monitor opens the configured device, arms continuous reading, and
renders a small terminal UI with running byte/message counters and the most
recent read, write, and error events.`,
	Run: func(cmd *cobra.Command, args []string) {
		device := viper.GetString("device")
		recentSize, _ := cmd.Flags().GetInt("recent")

		s, err := hyserial.NewBuilder().
			Device(device).
			BaudRate(uint32(viper.GetInt("baud"))).
			WithStats().
			WithRecentEvents(recentSize).
			Build()
		if err != nil {
			fmt.Fprintf(os.Stderr, "hyserialctl: %v\n", err)
			os.Exit(1)
		}
		defer s.Close()

		s.StartRead(0)
		defer s.StopRead()

		model := tui.New(device, s.Stats(), s.Recent())
		p := tea.NewProgram(model, tea.WithAltScreen())
		if _, err := p.Run(); err != nil {
			fmt.Fprintf(os.Stderr, "hyserialctl: %v\n", err)
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.AddCommand(monitorCmd)
	monitorCmd.Flags().Int("recent", 100, "number of recent events retained for display")
}
