package cli

import (
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"github.com/tinywideclouds/go-skykit/internal/remote"
	"github.com/tinywideclouds/go-skykit/pkg/dispatch"
	"github.com/tinywideclouds/go-skykit/pkg/notification"
	"github.com/tinywideclouds/go-skykit/pkg/push"
)

type sendOptions struct {
	endpoint    string
	apiKey      string
	accessToken string
	timeout     time.Duration
	users       []string
	devices     []string
	topic       string
	title       string
	body        string
	sound       string
	badge       int
	category    string
	data        map[string]string
	batchSize   int
}

// RecipientResult is the outcome for one recipient of the send command.
type RecipientResult struct {
	ID    string `json:"id"`
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// SendResult is the output of the send command.
type SendResult struct {
	OperationID string            `json:"operation_id"`
	Target      string            `json:"target"`
	Recipients  []RecipientResult `json:"recipients"`
	Failed      int               `json:"failed"`
}

func NewSendCommand(rootOpts *RootOptions) *cobra.Command {
	so := &sendOptions{}
	cmd := &cobra.Command{
		Use:   "send",
		Short: "Send a push notification through a backend",
		Long: `Send a push notification to users (--user) or devices (--device) through
a backend's push endpoint, reporting the outcome for each recipient.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSend(rootOpts, cmd, so)
		},
	}

	f := cmd.Flags()
	f.StringVar(&so.endpoint, "endpoint", "", "push endpoint URL")
	f.StringVar(&so.apiKey, "api-key", "", "backend API key")
	f.StringVar(&so.accessToken, "access-token", "", "backend access token")
	f.DurationVar(&so.timeout, "timeout", 30*time.Second, "request timeout")
	f.StringSliceVar(&so.users, "user", nil, "recipient user ID (repeatable)")
	f.StringSliceVar(&so.devices, "device", nil, "recipient device ID (repeatable)")
	f.StringVar(&so.topic, "topic", "", "APNs topic")
	f.StringVar(&so.title, "title", "", "notification title")
	f.StringVar(&so.body, "body", "", "notification body")
	f.StringVar(&so.sound, "sound", "", "sound name")
	f.IntVar(&so.badge, "badge", -1, "badge count (negative leaves it unset)")
	f.StringVar(&so.category, "category", "", "notification category")
	f.StringToStringVar(&so.data, "data", nil, "custom data key=value pairs")
	f.IntVar(&so.batchSize, "batch-size", 0, "recipients per request (0 sends one request)")
	cmd.MarkFlagsMutuallyExclusive("user", "device")
	_ = cmd.MarkFlagRequired("endpoint")

	return cmd
}

func runSend(opts *RootOptions, cmd *cobra.Command, so *sendOptions) error {
	formatter := newFormatter(opts, cmd)

	kind, ids := dispatch.TargetUser, so.users
	if len(so.devices) > 0 {
		kind, ids = dispatch.TargetDevice, so.devices
	}

	info := notification.Info{
		Title:     so.title,
		Alert:     notification.Alert{Body: so.body},
		SoundName: so.sound,
		Category:  so.category,
	}
	if so.badge >= 0 {
		badge := so.badge
		info.Badge = &badge
	}
	if len(so.data) > 0 {
		info.Data = make(map[string]any, len(so.data))
		for k, v := range so.data {
			info.Data[k] = v
		}
	}

	logLevel := slog.LevelWarn
	if opts.Verbose {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: logLevel}))

	client, err := remote.NewClient(remote.Config{
		Endpoint:    so.endpoint,
		APIKey:      so.apiKey,
		AccessToken: so.accessToken,
		Timeout:     so.timeout,
	}, logger)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeArgument, "invalid endpoint", err, nil)
	}

	var mu sync.Mutex
	results := make(map[string]error, len(ids))
	op, err := push.NewSendOperation(info, kind, ids,
		push.WithTopic(so.topic),
		push.WithBatchSize(so.batchSize),
		push.WithLogger(logger),
		push.WithPerSendHandler(func(id string, err error) {
			mu.Lock()
			defer mu.Unlock()
			results[id] = err
		}),
	)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeArgument, "invalid recipients", err, nil)
	}
	formatter.VerboseLog("Sending operation %s to %d %s recipient(s)", op.ID(), len(ids), kind)

	if err := op.Start(cmd.Context(), client); err != nil {
		return formatter.Fail(ExitFailure, ErrCodeSend, "push failed", err, nil)
	}

	out := SendResult{OperationID: op.ID(), Target: kind.String()}
	for _, id := range ids {
		err, ok := results[id]
		switch {
		case !ok:
			continue
		case err != nil:
			out.Failed++
			out.Recipients = append(out.Recipients, RecipientResult{ID: id, Error: err.Error()})
		default:
			out.Recipients = append(out.Recipients, RecipientResult{ID: id, OK: true})
		}
	}

	if err := formatter.Success(out, func(w io.Writer) {
		for _, r := range out.Recipients {
			if r.OK {
				fmt.Fprintf(w, "%s: ok\n", r.ID)
			} else {
				fmt.Fprintf(w, "%s: %s\n", r.ID, r.Error)
			}
		}
		fmt.Fprintf(w, "%d of %d recipient(s) failed\n", out.Failed, len(out.Recipients))
	}); err != nil {
		return err
	}
	if out.Failed > 0 {
		return WrapExitError(ExitFailure, strconv.Itoa(out.Failed)+" recipient(s) failed", nil)
	}
	return nil
}
