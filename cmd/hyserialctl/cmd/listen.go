package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"hyserial"
)

var listenCmd = &cobra.Command{
	Use:   "listen",
	Short: "Print incoming bytes from a serial port",
	Long: `Listen opens the configured device, arms a read, and prints every
completed read to stdout as it arrives, optionally prefixed with a
timestamp.`,
	Run: func(cmd *cobra.Command, args []string) {
		noTimestamps, _ := cmd.Flags().GetBool("no-timestamps")
		bufSize, _ := cmd.Flags().GetInt("read-buffer")

		s, err := hyserial.NewBuilder().
			Device(viper.GetString("device")).
			BaudRate(uint32(viper.GetInt("baud"))).
			OnRead(func(data []byte) {
				if noTimestamps {
					fmt.Printf("%s\n", data)
					return
				}
				fmt.Printf("[%s] %s\n", time.Now().Format(time.RFC3339Nano), data)
			}).
			OnError(func(errno int) {
				fmt.Fprintf(os.Stderr, "read error: errno=%d\n", errno)
			}).
			Build()
		if err != nil {
			fmt.Fprintf(os.Stderr, "hyserialctl: %v\n", err)
			os.Exit(1)
		}
		defer s.Close()

		s.StartRead(bufSize)

		sig := make(chan os.Signal, 1)
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
		<-sig

		s.StopRead()
	},
}

func init() {
	rootCmd.AddCommand(listenCmd)
	listenCmd.Flags().Bool("no-timestamps", false, "omit the timestamp prefix on each line")
	listenCmd.Flags().Int("read-buffer", 4096, "size in bytes of the read buffer")
}
