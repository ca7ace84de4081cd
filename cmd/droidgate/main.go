package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "droidgate: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "droidgate",
		Short:         "Console client for the droidgated device daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.AddCommand(
		newConnectCmd(),
		newDisconnectCmd(),
		newDemoCmd(),
		newDeviceCmd(),
		newPackagesCmd(),
		newValidateCmd(),
		newToggleCmd(),
		newInstallCmd(),
		newAuditCmd(),
	)
	return rootCmd
}

func newConnectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "connect",
		Short: "Attach to the device and load its package list",
		RunE: func(command *cobra.Command, args []string) error {
			client, clientError := newDaemonClient()
			if clientError != nil {
				return clientError
			}
			statusCode, decoded, callError := client.call(command.Context(), http.MethodPost, "/session/connect", nil)
			if callError != nil {
				return callError
			}
			if statusCode != http.StatusOK {
				return responseError(decoded, statusCode)
			}
			if decoded["returning_device"] == true {
				fmt.Fprintln(command.OutOrStdout(), "welcome back: this device has been seen before")
			}
			return printJSON(command, decoded["session"])
		},
	}
}

func newDisconnectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "disconnect",
		Short: "Detach from the device",
		RunE: func(command *cobra.Command, args []string) error {
			client, clientError := newDaemonClient()
			if clientError != nil {
				return clientError
			}
			statusCode, decoded, callError := client.call(command.Context(), http.MethodPost, "/session/disconnect", nil)
			if callError != nil {
				return callError
			}
			if statusCode != http.StatusOK {
				return responseError(decoded, statusCode)
			}
			fmt.Fprintln(command.OutOrStdout(), "disconnected")
			return nil
		},
	}
}

func newDemoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "demo",
		Short: "Enter demo mode (requires a daemon started with --demo)",
		RunE: func(command *cobra.Command, args []string) error {
			client, clientError := newDaemonClient()
			if clientError != nil {
				return clientError
			}
			statusCode, decoded, callError := client.call(command.Context(), http.MethodPost, "/session/demo", nil)
			if callError != nil {
				return callError
			}
			if statusCode != http.StatusOK {
				return responseError(decoded, statusCode)
			}
			return printJSON(command, decoded["session"])
		},
	}
}

func newDeviceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "device",
		Short: "Show the attached device",
		RunE: func(command *cobra.Command, args []string) error {
			client, clientError := newDaemonClient()
			if clientError != nil {
				return clientError
			}
			statusCode, decoded, callError := client.call(command.Context(), http.MethodGet, "/device", nil)
			if callError != nil {
				return callError
			}
			if statusCode != http.StatusOK {
				return responseError(decoded, statusCode)
			}
			return printJSON(command, decoded)
		},
	}
}

func newPackagesCmd() *cobra.Command {
	var refresh bool
	command := &cobra.Command{
		Use:   "packages",
		Short: "List device packages",
		RunE: func(command *cobra.Command, args []string) error {
			client, clientError := newDaemonClient()
			if clientError != nil {
				return clientError
			}
			path := "/packages"
			if refresh {
				path += "?refresh=1"
			}
			statusCode, decoded, callError := client.call(command.Context(), http.MethodGet, path, nil)
			if callError != nil {
				return callError
			}
			if statusCode != http.StatusOK {
				return responseError(decoded, statusCode)
			}
			return printJSON(command, decoded["packages"])
		},
	}
	command.Flags().BoolVar(&refresh, "refresh", false, "reload the package list from the device")
	return command
}

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <command>",
		Short: "Check a terminal command against the gateway without running it",
		Args:  cobra.ExactArgs(1),
		RunE: func(command *cobra.Command, args []string) error {
			client, clientError := newDaemonClient()
			if clientError != nil {
				return clientError
			}
			statusCode, decoded, callError := client.call(command.Context(), http.MethodPost, "/validate", map[string]any{"command": args[0]})
			if callError != nil {
				return callError
			}
			if statusCode != http.StatusOK {
				return responseError(decoded, statusCode)
			}
			if decoded["accepted"] == true {
				fmt.Fprintf(command.OutOrStdout(), "accepted (rule %v): %v\n", decoded["matched_rule_id"], decoded["normalized_value"])
				return nil
			}
			fmt.Fprintf(command.OutOrStdout(), "rejected: %v\n", decoded["reason"])
			return nil
		},
	}
}

func newToggleCmd() *cobra.Command {
	var enable bool
	command := &cobra.Command{
		Use:   "toggle <package>",
		Short: "Disable (default) or enable one package",
		Args:  cobra.ExactArgs(1),
		RunE: func(command *cobra.Command, args []string) error {
			client, clientError := newDaemonClient()
			if clientError != nil {
				return clientError
			}
			packageName := strings.TrimSpace(args[0])
			path := "/packages/" + packageName + "/toggle"

			statusCode, decoded, callError := client.call(command.Context(), http.MethodPost, path, map[string]any{"enable": enable})
			if callError != nil {
				return callError
			}
			if statusCode == http.StatusConflict && decoded["needs_confirmation"] == true {
				reason, _ := decoded["reason"].(string)
				action := "disable " + packageName
				approved, confirmError := confirmRiskyAction(action, reason)
				if confirmError != nil {
					return confirmError
				}
				if !approved {
					fmt.Fprintln(command.OutOrStdout(), "aborted")
					return nil
				}
				statusCode, decoded, callError = client.call(command.Context(), http.MethodPost, path, map[string]any{"enable": enable, "confirmed": true})
				if callError != nil {
					return callError
				}
			}
			if statusCode != http.StatusOK {
				return responseError(decoded, statusCode)
			}
			fmt.Fprintf(command.OutOrStdout(), "applied: %v\n", decoded["applied"])
			return nil
		},
	}
	command.Flags().BoolVar(&enable, "enable", false, "enable instead of disable")
	return command
}

func newInstallCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "install <url>",
		Short: "Install a package from a trusted HTTPS source",
		Args:  cobra.ExactArgs(1),
		RunE: func(command *cobra.Command, args []string) error {
			client, clientError := newDaemonClient()
			if clientError != nil {
				return clientError
			}
			statusCode, decoded, callError := client.call(command.Context(), http.MethodPost, "/install", map[string]any{"url": args[0]})
			if callError != nil {
				return callError
			}
			if statusCode != http.StatusOK {
				return responseError(decoded, statusCode)
			}
			fmt.Fprintf(command.OutOrStdout(), "installed: %v\n", decoded["installed"])
			return nil
		},
	}
}

func newAuditCmd() *cobra.Command {
	var limit int
	command := &cobra.Command{
		Use:   "audit",
		Short: "Show recent command audit entries",
		RunE: func(command *cobra.Command, args []string) error {
			client, clientError := newDaemonClient()
			if clientError != nil {
				return clientError
			}
			statusCode, decoded, callError := client.call(command.Context(), http.MethodGet, fmt.Sprintf("/audit?limit=%d", limit), nil)
			if callError != nil {
				return callError
			}
			if statusCode != http.StatusOK {
				return responseError(decoded, statusCode)
			}
			return printJSON(command, decoded["entries"])
		},
	}
	command.Flags().IntVar(&limit, "limit", 50, "maximum entries to show")
	return command
}

func printJSON(command *cobra.Command, payload any) error {
	encoder := json.NewEncoder(command.OutOrStdout())
	encoder.SetIndent("", "  ")
	return encoder.Encode(payload)
}
