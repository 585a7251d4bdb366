package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/spf13/cobra"
)

// NewStatusCmd создаёт команду вывода состояния хранилища.
func NewStatusCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show consumer buffers and connection state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			status, err := client.Status()
			if err != nil {
				return err
			}

			if !out.jsonMode {
				pump := "disabled"
				if status.Pump != nil {
					pump = fmt.Sprintf("running=%t breaker=%s", status.Pump.Running, status.Pump.Breaker)
				}
				out.Success(fmt.Sprintf("exchange=%s format=%s connection=%t available=%d/%d pump: %s",
					status.Exchange, status.Format, status.ConnectionRunning,
					status.Available, status.Size, pump))
			}

			headers := []string{"ID", "CHANNEL", "USABLE", "ALLOWED", "QUEUED"}
			rows := make([][]string, len(status.Buffers))
			for i, b := range status.Buffers {
				rows[i] = []string{
					strconv.Itoa(b.ID),
					b.ChannelID,
					strconv.FormatBool(b.Usable),
					strconv.FormatBool(b.Allowed),
					strconv.Itoa(b.Queued),
				}
			}

			out.Print(headers, rows, status)
			return nil
		},
	}
}

// NewReadCmd создаёт команду одного чтения из хранилища.
func NewReadCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var limit int
	var columns []string
	var peek bool

	cmd := &cobra.Command{
		Use:   "read",
		Short: "Read one batch of rows from the consumer buffers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			req := ReadRequest{Limit: limit, Columns: columns}
			if peek {
				ack := false
				req.Ack = &ack
			}

			res, err := client.Read(req)
			if err != nil {
				return err
			}

			rows := make([][]string, len(res.Rows))
			for i, r := range res.Rows {
				row := make([]string, len(res.Columns))
				for j, name := range res.Columns {
					row[j] = fmt.Sprint(r[name])
				}
				rows[i] = row
			}

			out.Print(res.Columns, rows, res)
			if !out.jsonMode {
				out.Success(fmt.Sprintf("%s: %d rows from %d messages, acked=%t",
					res.Result, len(res.Rows), res.Messages, res.Acked))
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 0, "Stop after this many rows (0 = no limit)")
	cmd.Flags().StringSliceVar(&columns, "columns", nil, "Columns to return, including virtual ones")
	cmd.Flags().BoolVar(&peek, "peek", false, "Requeue the messages instead of acknowledging them")

	return cmd
}

// NewPublishCmd создаёт команду публикации сообщений.
func NewPublishCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var routingKey string
	var file string

	cmd := &cobra.Command{
		Use:   "publish [MESSAGE...]",
		Short: "Publish messages to the storage exchange",
		Long: `Publish messages to the storage exchange.

Each argument is one message. With --file the whole file is sent
as a single message; use "-" to read from stdin.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			messages := args
			if file != "" {
				body, err := readFile(cmd.InOrStdin(), file)
				if err != nil {
					return err
				}
				messages = append(messages, string(body))
			}
			if len(messages) == 0 {
				return errors.New("nothing to publish: pass messages as arguments or use --file")
			}

			res, err := client.Publish(PublishRequest{RoutingKey: routingKey, Messages: messages})
			if err != nil {
				return err
			}

			headers := []string{"MESSAGE_ID"}
			rows := make([][]string, len(res.MessageIDs))
			for i, id := range res.MessageIDs {
				rows[i] = []string{id}
			}

			out.Print(headers, rows, res)
			if !out.jsonMode {
				out.Success(fmt.Sprintf("Published %d messages", len(res.MessageIDs)))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&routingKey, "routing-key", "", "Routing key (required)")
	cmd.Flags().StringVar(&file, "file", "", "Read message body from file (- for stdin)")
	cmd.MarkFlagRequired("routing-key")

	return cmd
}

func readFile(stdin io.Reader, path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(stdin)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	return data, nil
}
