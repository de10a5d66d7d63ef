package cmd

import (
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"hyserial"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1500,
	WriteBufferSize: 1500,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// wsClient is one connected browser terminal, given its own outbound queue
// so a slow reader can't stall the serial read callback.
type wsClient struct {
	conn   *websocket.Conn
	sendCh chan []byte
	mu     sync.Mutex
	closed bool
}

func (c *wsClient) send(data []byte) {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return
	}
	select {
	case c.sendCh <- data:
	default:
		slog.Warn("bridge: client send buffer full, dropping frame")
	}
}

func (c *wsClient) writePump() {
	for data := range c.sendCh {
		if err := c.conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
			slog.Error("bridge: write failed", "error", err)
			return
		}
	}
}

var bridgeCmd = &cobra.Command{
	Use:   "bridge",
	Short: "Expose a serial port's raw byte stream over a WebSocket",
	Long: `Bridge opens the configured device and exposes it at /ws as a
WebSocket endpoint: every byte the device produces is broadcast to
connected clients, and every binary message a client sends is written to
the device. This is a byte-transparent passthrough with no framing added
on either side.`,
	Run: func(cmd *cobra.Command, args []string) {
		addr, _ := cmd.Flags().GetString("listen")

		var mu sync.Mutex
		clients := make(map[*wsClient]bool)

		s, err := hyserial.NewBuilder().
			Device(viper.GetString("device")).
			BaudRate(uint32(viper.GetInt("baud"))).
			OnRead(func(data []byte) {
				frame := append([]byte(nil), data...)
				mu.Lock()
				for c := range clients {
					c.send(frame)
				}
				mu.Unlock()
			}).
			OnError(func(errno int) {
				slog.Error("bridge: serial error", "errno", errno)
			}).
			Build()
		if err != nil {
			slog.Error("bridge: failed to open device", "error", err)
			return
		}
		defer s.Close()

		s.StartRead(0)
		defer s.StopRead()

		http.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
			conn, err := upgrader.Upgrade(w, r, nil)
			if err != nil {
				slog.Error("bridge: upgrade failed", "error", err)
				return
			}

			c := &wsClient{conn: conn, sendCh: make(chan []byte, 256)}
			mu.Lock()
			clients[c] = true
			mu.Unlock()
			slog.Info("bridge: client connected", "remote", r.RemoteAddr)

			go c.writePump()

			for {
				msgType, data, err := conn.ReadMessage()
				if err != nil {
					break
				}
				if msgType == websocket.BinaryMessage {
					s.Send(data)
				}
			}

			mu.Lock()
			delete(clients, c)
			mu.Unlock()
			c.mu.Lock()
			c.closed = true
			c.mu.Unlock()
			close(c.sendCh)
			conn.Close()
			slog.Info("bridge: client disconnected", "remote", r.RemoteAddr)
		})

		slog.Info("bridge: listening", "addr", addr)
		if err := http.ListenAndServe(addr, nil); err != nil {
			slog.Error("bridge: server failed", "error", err)
		}
	},
}

func init() {
	rootCmd.AddCommand(bridgeCmd)
	bridgeCmd.Flags().String("listen", ":8088", "address to serve the WebSocket bridge on")
}
