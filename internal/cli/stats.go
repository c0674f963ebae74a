package cli

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show pool stats (total/ready/executing/idle/suspended)",
	Run: func(cmd *cobra.Command, args []string) {
		req, _ := http.NewRequest(http.MethodGet, apiURL+"/v1/stats", nil)
		applyAPIKey(req)

		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			fmt.Printf("Error connecting to server: %v\nIs the server running?\n", err)
			os.Exit(1)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			fmt.Printf("Server returned error: %s\n", resp.Status)
			os.Exit(1)
		}

		var stats struct {
			Total     int `json:"Total"`
			Ready     int `json:"Ready"`
			Executing int `json:"Executing"`
			Idle      int `json:"Idle"`
			Suspended int `json:"Suspended"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
			fmt.Printf("Error parsing response: %v\n", err)
			os.Exit(1)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
		fmt.Fprintln(w, "TOTAL\tREADY\tEXECUTING\tIDLE\tSUSPENDED")
		fmt.Fprintf(w, "%d\t%d\t%d\t%d\t%d\n", stats.Total, stats.Ready, stats.Executing, stats.Idle, stats.Suspended)
		w.Flush()
	},
}

func applyAPIKey(req *http.Request) {
	if apiKey != "" {
		req.Header.Set("X-Sandbox-API-Key", apiKey)
	}
}

func init() {
	RootCmd.AddCommand(statsCmd)
}
