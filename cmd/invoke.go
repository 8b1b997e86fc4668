package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/kilianp07/smartbattery/config"
	"github.com/kilianp07/smartbattery/core/model"
	"github.com/kilianp07/smartbattery/infra/mqtt"
)

var requestTimeout time.Duration

var invokeCmd = &cobra.Command{
	Use:   "invoke <service> [key=value...]",
	Short: "Invoke a service on the configured device and print its reply",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		params, err := parseParams(args[1:])
		if err != nil {
			return err
		}
		return request(cmd, func(ctx context.Context, inv *mqtt.Invoker) (model.Reply, error) {
			return inv.InvokeService(ctx, args[0], params)
		})
	},
}

var setCmd = &cobra.Command{
	Use:   "set key=value...",
	Short: "Write measure points on the configured device and print its reply",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		params, err := parseParams(args)
		if err != nil {
			return err
		}
		return request(cmd, func(ctx context.Context, inv *mqtt.Invoker) (model.Reply, error) {
			return inv.SetMeasurepoints(ctx, params)
		})
	},
}

func init() {
	for _, c := range []*cobra.Command{invokeCmd, setCmd} {
		c.Flags().DurationVarP(&requestTimeout, "timeout", "t", 10*time.Second, "time to wait for the reply")
		rootCmd.AddCommand(c)
	}
}

func request(cmd *cobra.Command, do func(context.Context, *mqtt.Invoker) (model.Reply, error)) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
	defer cancel()

	inv, err := mqtt.NewInvoker(ctx, cfg.MQTT)
	if err != nil {
		return err
	}
	defer inv.Close()

	reply, err := do(ctx, inv)
	if err != nil {
		return err
	}
	out, err := json.MarshalIndent(reply, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), string(out))
	return err
}

// parseParams turns key=value arguments into a parameter map. Values are
// decoded as JSON when possible so numbers and booleans keep their type.
func parseParams(args []string) (map[string]any, error) {
	params := make(map[string]any, len(args))
	for _, arg := range args {
		key, raw, ok := strings.Cut(arg, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid parameter %q: expected key=value", arg)
		}
		params[key] = parseValue(raw)
	}
	return params, nil
}

func parseValue(raw string) any {
	if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return n
	}
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err == nil {
		return v
	}
	return raw
}
