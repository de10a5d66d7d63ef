package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var rootCmd = &cobra.Command{
	Use:   "hyserialctl",
	Short: "Command-line companion for the hyserial engine",
	Long: `hyserialctl drives a hyserial engine from the command line: send bytes to
a port, listen for incoming data, watch live traffic counters in a TUI, or
bridge a port onto a WebSocket for a browser-based terminal.

Connection defaults (device, baud rate) can be set via flags, a config file,
or a .env file in the working directory.`,
}

// Execute runs the root command and exits the process on failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().String("config", "", "config file (default: ./hyserialctl.yaml)")
	rootCmd.PersistentFlags().StringP("device", "d", "/dev/ttyUSB0", "serial device path")
	rootCmd.PersistentFlags().IntP("baud", "b", 115200, "baud rate")

	viper.BindPFlag("device", rootCmd.PersistentFlags().Lookup("device"))
	viper.BindPFlag("baud", rootCmd.PersistentFlags().Lookup("baud"))
}

func initConfig() {
	if err := godotenv.Load(); err != nil {
		slog.Debug("no .env file found", "error", err)
	}

	if cfgFile, _ := rootCmd.PersistentFlags().GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("hyserialctl")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
	}

	viper.SetEnvPrefix("HYSERIAL")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			slog.Warn("failed to read config file", "error", err)
		}
	}
}
