package cli

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

// NewInstanceCmd создаёт группу команд для управления instances.
func NewInstanceCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "instance",
		Short: "Manage workflow instances",
	}

	cmd.AddCommand(
		newInstanceStartCmd(clientFn, outputFn),
		newInstanceListCmd(clientFn, outputFn),
		newInstanceShowCmd(clientFn, outputFn),
		newInstanceEventsCmd(clientFn, outputFn),
		newInstanceInputCmd(clientFn, outputFn),
		newInstanceCancelCmd(clientFn, outputFn),
	)

	return cmd
}

func newInstanceStartCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var facts []string

	cmd := &cobra.Command{
		Use:   "start TYPE",
		Short: "Start a new workflow instance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			req := StartInstanceRequest{}
			parsed, err := parseFacts(facts)
			if err != nil {
				return err
			}
			req.Facts = parsed

			inst, err := client.StartInstance(args[0], req)
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Instance started: %s", inst.ID))
			out.Print(
				[]string{"ID", "TYPE", "STATUS", "STEP", "CREATED"},
				[][]string{{inst.ID, inst.WorkflowType, inst.Status, inst.CurrentStep, FormatTime(inst.CreatedAt)}},
				inst,
			)
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&facts, "fact", nil, "Initial fact as KEY=VALUE (repeatable)")

	return cmd
}

func newInstanceListCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var status string
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List instances by status",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			instances, err := client.ListInstances(ListInstancesOpts{
				Status: status,
				Limit:  limit,
			})
			if err != nil {
				return err
			}

			headers := []string{"ID", "TYPE", "STATUS", "STEP", "ATTEMPT", "CREATED"}
			rows := make([][]string, len(instances))
			for i, inst := range instances {
				rows[i] = []string{
					inst.ID, inst.WorkflowType, inst.Status, inst.CurrentStep,
					strconv.Itoa(inst.Attempt), FormatTime(inst.CreatedAt),
				}
			}

			out.Print(headers, rows, instances)
			return nil
		},
	}

	cmd.Flags().StringVar(&status, "status", "PENDING", "Instance status (PENDING, RUNNING, WAITING_ON_ACTION, WAITING_ON_USER, FAILING, COMPLETED, ABANDONED)")
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum number of results")

	return cmd
}

func newInstanceShowCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "show ID",
		Short: "Show instance details",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			inst, err := client.GetInstance(args[0])
			if err != nil {
				return err
			}

			out.Print(
				[]string{"ID", "TYPE", "STATUS", "STEP", "ATTEMPT", "NEXT_RETRY", "FACTS", "ERROR"},
				[][]string{{
					inst.ID, inst.WorkflowType, inst.Status, inst.CurrentStep,
					strconv.Itoa(inst.Attempt), FormatTime(inst.NextRetryAt),
					FormatFacts(inst.Facts), inst.Error,
				}},
				inst,
			)
			return nil
		},
	}
}

func newInstanceEventsCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "events ID",
		Short: "Show instance history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			events, err := client.ListEvents(args[0])
			if err != nil {
				return err
			}

			headers := []string{"SEQ", "STEP", "OUTCOME", "STATUS", "ATTEMPT", "ERROR", "AT"}
			rows := make([][]string, len(events))
			for i, ev := range events {
				rows[i] = []string{
					strconv.FormatInt(ev.Seq, 10), ev.StepName, ev.Outcome,
					ev.Status, strconv.Itoa(ev.Attempt), ev.Error, FormatTime(ev.CreatedAt),
				}
			}

			out.Print(headers, rows, events)
			return nil
		},
	}
}

func newInstanceInputCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var facts []string

	cmd := &cobra.Command{
		Use:   "input ID",
		Short: "Submit user input to a waiting instance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			parsed, err := parseFacts(facts)
			if err != nil {
				return err
			}

			inst, err := client.SubmitInput(args[0], UserInputRequest{Facts: parsed})
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Input accepted: %s is now %s", inst.ID, inst.Status))
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&facts, "fact", nil, "Fact as KEY=VALUE (repeatable)")

	return cmd
}

func newInstanceCancelCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var reason string

	cmd := &cobra.Command{
		Use:   "cancel ID",
		Short: "Cancel an instance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			inst, err := client.CancelInstance(args[0], reason)
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Instance cancelled: %s", inst.ID))
			return nil
		},
	}

	cmd.Flags().StringVar(&reason, "reason", "", "Cancellation reason")

	return cmd
}

// parseFacts разбирает пары KEY=VALUE из флагов в карту фактов.
func parseFacts(pairs []string) (map[string]any, error) {
	if len(pairs) == 0 {
		return nil, nil
	}

	facts := make(map[string]any, len(pairs))
	for _, kv := range pairs {
		parts := strings.SplitN(kv, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid fact format %q, expected KEY=VALUE", kv)
		}
		facts[parts[0]] = parts[1]
	}
	return facts, nil
}
