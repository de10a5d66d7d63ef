package cmd

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"hyserial"
)

var sendCmd = &cobra.Command{
	Use:   "send [data]",
	Short: "Send data to a serial port",
	Long: `Send writes data to the configured device and exits once the write
completes. Data is taken from the first argument, or read from stdin when
no argument is given.

Example usage:
  hyserialctl send "AT+GMR" -d /dev/ttyACM0
  echo "ping" | hyserialctl send -d /dev/ttyUSB0`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		var data string
		if len(args) == 1 {
			data = args[0]
		} else {
			raw, err := io.ReadAll(os.Stdin)
			if err != nil {
				fmt.Fprintf(os.Stderr, "hyserialctl: reading stdin: %v\n", err)
				os.Exit(1)
			}
			data = strings.TrimRight(string(raw), "\r\n")
		}

		addNewline, _ := cmd.Flags().GetBool("newline")
		if addNewline {
			data += "\n"
		}

		done := make(chan int, 1)
		s, err := hyserial.NewBuilder().
			Device(viper.GetString("device")).
			BaudRate(uint32(viper.GetInt("baud"))).
			OnWrite(func(n int) { done <- n }).
			OnError(func(errno int) {
				fmt.Fprintf(os.Stderr, "write error: errno=%d\n", errno)
				done <- -1
			}).
			Build()
		if err != nil {
			fmt.Fprintf(os.Stderr, "hyserialctl: %v\n", err)
			os.Exit(1)
		}
		defer s.Close()

		s.Send([]byte(data))

		select {
		case n := <-done:
			if n < 0 {
				os.Exit(1)
			}
			fmt.Fprintf(os.Stderr, "sent %d bytes\n", n)
		case <-time.After(5 * time.Second):
			fmt.Fprintln(os.Stderr, "hyserialctl: timed out waiting for write completion")
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.AddCommand(sendCmd)
	sendCmd.Flags().Bool("newline", false, "append a trailing newline to the sent data")
}
