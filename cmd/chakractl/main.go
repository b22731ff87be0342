// Package main is chakractl, the operator CLI for a running ChakraOps
// server. Every command is a thin call against the HTTP API.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/spf13/cobra"
)

var (
	addr  string
	uiKey string
	force bool
)

var rootCmd = &cobra.Command{
	Use:   "chakractl",
	Short: "Operator CLI for the ChakraOps decision server",
	Long: `chakractl talks to a running ChakraOps server over its HTTP API.
It reads decisions and health, triggers evaluations, and runs the
end-of-day freeze.`,
	SilenceUsage: true,
}

var decisionCmd = &cobra.Command{
	Use:   "decision [symbol]",
	Short: "Print the active decision, or one symbol's slice of it",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := "/api/decision/active"
		if len(args) == 1 {
			path = "/api/decision/symbol/" + args[0]
		}
		return getJSON(path)
	},
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Print scheduler and system health",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := getJSON("/api/scheduler/health"); err != nil {
			return err
		}
		return getJSON("/api/system/health")
	},
}

var evaluateCmd = &cobra.Command{
	Use:   "evaluate [symbols...]",
	Short: "Run an evaluation and persist the result",
	Long: `Runs a full evaluation over the effective universe, or over the
given symbols only. Outside market hours the server refuses unless
--force is set.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		body := map[string]interface{}{"force": force}
		if len(args) > 0 {
			body["symbols"] = args
		}
		return postJSON("/api/evaluate", body)
	},
}

var freezeCmd = &cobra.Command{
	Use:   "freeze",
	Short: "Run the end-of-day freeze",
	RunE: func(cmd *cobra.Command, args []string) error {
		return postJSON("/api/freeze/eod", map[string]interface{}{"forced": force})
	},
}

var phaseCmd = &cobra.Command{
	Use:   "phase",
	Short: "Print the current market phase",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getJSON("/api/market/phase")
	},
}

func client() *resty.Client {
	c := resty.New().
		SetBaseURL(addr).
		SetTimeout(30 * time.Second).
		SetHeader("Accept", "application/json")
	if uiKey != "" {
		c.SetHeader("x-ui-key", uiKey)
	}
	return c
}

func getJSON(path string) error {
	resp, err := client().R().Get(path)
	if err != nil {
		return err
	}
	return printResponse(resp)
}

func postJSON(path string, body interface{}) error {
	resp, err := client().R().SetBody(body).Post(path)
	if err != nil {
		return err
	}
	return printResponse(resp)
}

// printResponse pretty-prints JSON bodies and passes other payloads
// through. Non-2xx statuses become errors after the body is shown.
func printResponse(resp *resty.Response) error {
	var pretty map[string]interface{}
	if err := json.Unmarshal(resp.Body(), &pretty); err == nil {
		out, _ := json.MarshalIndent(pretty, "", "  ")
		fmt.Println(string(out))
	} else {
		fmt.Println(string(resp.Body()))
	}
	if resp.IsError() {
		return fmt.Errorf("server returned %s", resp.Status())
	}
	return nil
}

func main() {
	rootCmd.PersistentFlags().StringVar(&addr, "addr", "http://localhost:8080", "server address")
	rootCmd.PersistentFlags().StringVar(&uiKey, "ui-key", os.Getenv("UI_API_KEY"), "API key (defaults to UI_API_KEY)")

	evaluateCmd.Flags().BoolVar(&force, "force", false, "bypass the market-hours write gate")
	freezeCmd.Flags().BoolVar(&force, "force", false, "mark the freeze as forced")

	rootCmd.AddCommand(decisionCmd, healthCmd, evaluateCmd, freezeCmd, phaseCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
