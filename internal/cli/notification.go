package cli

import (
	"fmt"
	"io"
	"sort"

	"github.com/spf13/cobra"
	"github.com/tinywideclouds/go-skykit/pkg/notification"
)

// NotificationSummary is the output of the notification command.
type NotificationSummary struct {
	ID             string   `json:"id"`
	Type           string   `json:"type"`
	ContainerID    string   `json:"container_id,omitempty"`
	SubscriptionID string   `json:"subscription_id,omitempty"`
	Pruned         bool     `json:"pruned"`
	AlertBody      string   `json:"alert_body,omitempty"`
	SoundName      string   `json:"sound_name,omitempty"`
	Badge          *int     `json:"badge,omitempty"`
	DataKeys       []string `json:"data_keys,omitempty"`
}

func NewNotificationCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "notification [file|-]",
		Short:         "Decode a push notification payload",
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			var path string
			if len(args) == 1 {
				path = args[0]
			}
			return runNotification(rootOpts, cmd, path)
		},
	}
}

func runNotification(opts *RootOptions, cmd *cobra.Command, path string) error {
	formatter := newFormatter(opts, cmd)

	data, err := readInput(cmd, path)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeInput, "failed to read input", err, nil)
	}
	n, err := notification.Parse(data)
	if err != nil {
		return formatter.Fail(ExitFailure, ErrCodeDecode, "failed to decode notification", err, nil)
	}

	summary := NotificationSummary{
		ID:             string(n.ID()),
		Type:           n.Type().String(),
		ContainerID:    n.ContainerID(),
		SubscriptionID: n.SubscriptionID(),
		Pruned:         n.IsPruned(),
		AlertBody:      n.AlertBody(),
		SoundName:      n.SoundName(),
		DataKeys:       collectKeys(n.Data()),
	}
	if badge, ok := n.Badge(); ok {
		summary.Badge = &badge
	}

	return formatter.Success(summary, func(w io.Writer) {
		fmt.Fprintf(w, "id: %s\ntype: %s\n", summary.ID, summary.Type)
		if summary.ContainerID != "" {
			fmt.Fprintf(w, "container: %s\n", summary.ContainerID)
		}
		if summary.SubscriptionID != "" {
			fmt.Fprintf(w, "subscription: %s\n", summary.SubscriptionID)
		}
		if summary.Pruned {
			fmt.Fprintln(w, "pruned: true")
		}
		if summary.AlertBody != "" {
			fmt.Fprintf(w, "alert: %s\n", summary.AlertBody)
		}
		if summary.Badge != nil {
			fmt.Fprintf(w, "badge: %d\n", *summary.Badge)
		}
		if len(summary.DataKeys) > 0 {
			fmt.Fprintf(w, "data: %v\n", summary.DataKeys)
		}
	})
}

func collectKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
