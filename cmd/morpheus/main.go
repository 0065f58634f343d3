package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/aspect-build/morpheus/internal/client"
	"github.com/aspect-build/morpheus/internal/logx"
	"github.com/aspect-build/morpheus/internal/version"
	"github.com/spf13/cobra"
)

type globalFlags struct {
	serverURL string
	apiKey    string
	verbose   bool
}

// resolveServerURL returns the server URL from the flag or MORPHEUS_SERVER_URL.
func resolveServerURL(cmd *cobra.Command, flagValue string) (string, error) {
	if cmd.Flags().Changed("server") {
		return strings.TrimRight(flagValue, "/"), nil
	}
	if v := os.Getenv("MORPHEUS_SERVER_URL"); v != "" {
		return strings.TrimRight(v, "/"), nil
	}
	return "", fmt.Errorf("server URL required: use --server flag or set MORPHEUS_SERVER_URL")
}

// resolveAPIKey returns the API key from the flag or MORPHEUS_API_KEY.
func resolveAPIKey(cmd *cobra.Command, flagValue string) (string, error) {
	if cmd.Flags().Changed("api-key") {
		return flagValue, nil
	}
	if v := os.Getenv("MORPHEUS_API_KEY"); v != "" {
		return v, nil
	}
	return "", fmt.Errorf("API key required: use --api-key flag or set MORPHEUS_API_KEY")
}

func newClient(cmd *cobra.Command, g *globalFlags, needKey bool) (*client.Client, error) {
	if err := logx.Configure("", g.verbose); err != nil {
		return nil, err
	}
	serverURL, err := resolveServerURL(cmd, g.serverURL)
	if err != nil {
		return nil, err
	}
	key, err := resolveAPIKey(cmd, g.apiKey)
	if err != nil && needKey {
		return nil, err
	}
	return client.New(serverURL, key), nil
}

func main() {
	g := &globalFlags{}
	rootCmd := &cobra.Command{
		Use:          "morpheus",
		Short:        "Morpheus - request vault credentials through human approval",
		Version:      version.Version,
		SilenceUsage: true,
	}
	rootCmd.SetVersionTemplate(version.String("morpheus") + "\n")
	rootCmd.PersistentFlags().StringVar(&g.serverURL, "server", "", "Morpheus server URL (or set MORPHEUS_SERVER_URL)")
	rootCmd.PersistentFlags().StringVar(&g.apiKey, "api-key", "", "API key (or set MORPHEUS_API_KEY)")
	rootCmd.PersistentFlags().BoolVar(&g.verbose, "verbose", false, "Enable debug logs")

	rootCmd.AddCommand(newRequestCmd(g))
	rootCmd.AddCommand(newPickupCmd(g))
	rootCmd.AddCommand(newStatusCmd(g))
	rootCmd.AddCommand(newHealthCmd(g))

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newRequestCmd(g *globalFlags) *cobra.Command {
	var (
		service string
		scope   string
		reason  string
		pickup  bool
	)

	cmd := &cobra.Command{
		Use:   "request",
		Short: "Request a credential and wait for approval",
		Long: `Ask the server for a credential. The command blocks until the approver
accepts, rejects, or the approval window closes. On approval a single-use
pickup token is printed; with --pickup the credential is redeemed at once.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient(cmd, g, true)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			res, err := c.Request(ctx, service, scope, reason)
			if err != nil {
				return err
			}
			if !res.Approved {
				return fmt.Errorf("request %s denied: %s", res.RequestID, res.Message)
			}
			fmt.Fprintf(os.Stderr, "morpheus: request %s approved\n", res.RequestID)
			if !pickup {
				fmt.Println(res.PickupToken)
				return nil
			}
			return printPickup(ctx, c, res.PickupToken)
		},
	}

	cmd.Flags().StringVar(&service, "service", "", "Vault item name")
	cmd.Flags().StringVar(&scope, "scope", "", "Requested scope")
	cmd.Flags().StringVar(&reason, "reason", "", "Why access is needed (10-500 characters)")
	cmd.Flags().BoolVar(&pickup, "pickup", false, "Redeem the pickup token immediately and print the credential")
	_ = cmd.MarkFlagRequired("service")
	_ = cmd.MarkFlagRequired("scope")
	_ = cmd.MarkFlagRequired("reason")

	return cmd
}

func newPickupCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "pickup <token>",
		Short: "Redeem a pickup token (works once)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient(cmd, g, true)
			if err != nil {
				return err
			}
			return printPickup(cmd.Context(), c, args[0])
		},
	}
}

func newStatusCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show available services and connectivity",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient(cmd, g, true)
			if err != nil {
				return err
			}
			st, err := c.Status(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(st)
		},
	}
}

func newHealthCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check server health (no API key needed)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient(cmd, g, false)
			if err != nil {
				return err
			}
			h, err := c.Health(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(h)
		},
	}
}

func printPickup(ctx context.Context, c *client.Client, token string) error {
	cred, err := c.Pickup(ctx, token)
	if err != nil {
		return err
	}
	return printJSON(cred)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
