package cli

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/telhawk-systems/telhawk-devicebridge/internal/model"
)

var (
	dispatchDevice  string
	dispatchMethod  string
	dispatchTimeout time.Duration
	dispatchData    string
)

var dispatchCmd = &cobra.Command{
	Use:   "dispatch [payload-file]",
	Short: "Invoke a device method once and print the reply",
	Long: `Dispatch sends a single request to a device method and prints the
device's status and payload. The payload is read from --data, a file, or
stdin when the file is "-". Device and method default to the configured target.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runDispatch,
}

func init() {
	dispatchCmd.Flags().StringVar(&dispatchDevice, "device", "", "device id")
	dispatchCmd.Flags().StringVar(&dispatchMethod, "method", "", "method name")
	dispatchCmd.Flags().DurationVar(&dispatchTimeout, "timeout", 0, "response timeout (default from config)")
	dispatchCmd.Flags().StringVar(&dispatchData, "data", "", "inline JSON payload")
	rootCmd.AddCommand(dispatchCmd)
}

type dispatchOutput struct {
	Status     int             `json:"status"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	DurationMS int64           `json:"duration_ms"`
}

func runDispatch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)

	req := model.DispatchRequest{
		DeviceID: cfg.Dispatch.DeviceID,
		Method:   cfg.Dispatch.Method,
		Timeout:  cfg.Dispatch.Timeout,
	}
	if dispatchDevice != "" {
		req.DeviceID = dispatchDevice
	}
	if dispatchMethod != "" {
		req.Method = dispatchMethod
	}
	if dispatchTimeout > 0 {
		req.Timeout = dispatchTimeout
	}

	switch {
	case dispatchData != "":
		req.Payload = json.RawMessage(dispatchData)
	case len(args) == 1:
		data, err := readPayload(cmd, args[0])
		if err != nil {
			return err
		}
		req.Payload = data
	}
	if len(req.Payload) > 0 && !json.Valid(req.Payload) {
		return fmt.Errorf("payload is not valid JSON")
	}

	dispatcher := newDispatcher(cfg, logger)
	defer dispatcher.Close()

	res, err := dispatcher.Dispatch(cmd.Context(), req)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(dispatchOutput{Status: res.Status, Payload: res.Payload, DurationMS: res.Duration.Milliseconds()}); err != nil {
		return err
	}
	if !res.Succeeded() {
		return fmt.Errorf("device answered with status %d", res.Status)
	}
	return nil
}
