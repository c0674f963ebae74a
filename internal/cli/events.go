package cli

import (
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"
)

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Tail the pool's live event feed",
	Run: func(cmd *cobra.Command, args []string) {
		u, err := url.Parse(apiURL)
		if err != nil {
			fmt.Printf("Invalid --api-url: %v\n", err)
			os.Exit(1)
		}
		u.Scheme = "ws"
		if strings.HasPrefix(apiURL, "https://") {
			u.Scheme = "wss"
		}
		u.Path = "/v1/events"
		if apiKey != "" {
			u.RawQuery = "api_key=" + apiKey
		}

		fmt.Printf("Connecting to %s...\n", u.String())

		c, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
		if err != nil {
			fmt.Printf("Dial failed: %v\n", err)
			os.Exit(1)
		}
		defer c.Close()

		fmt.Println("Connected. CTRL+C to exit.")

		done := make(chan struct{})
		interrupt := make(chan os.Signal, 1)
		signal.Notify(interrupt, os.Interrupt)

		go func() {
			defer close(done)
			for {
				_, message, err := c.ReadMessage()
				if err != nil {
					fmt.Printf("\nConnection closed: %v\n", err)
					return
				}
				fmt.Println(string(message))
			}
		}()

		select {
		case <-done:
			return
		case <-interrupt:
			fmt.Println("Interrupt received, closing...")
			_ = c.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		}
	},
}

func init() {
	RootCmd.AddCommand(eventsCmd)
}
