package cli

import (
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

// NewWorkflowCmd создаёт группу команд для просмотра каталога workflows.
func NewWorkflowCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workflow",
		Short: "Inspect registered workflow types",
	}

	cmd.AddCommand(
		newWorkflowListCmd(clientFn, outputFn),
		newWorkflowShowCmd(clientFn, outputFn),
	)

	return cmd
}

func newWorkflowListCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List workflow types",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			workflows, err := client.ListWorkflows()
			if err != nil {
				return err
			}

			headers := []string{"TYPE", "VERSION", "NAME", "STEPS"}
			rows := make([][]string, len(workflows))
			for i, wf := range workflows {
				rows[i] = []string{wf.Type, strconv.Itoa(wf.Version), wf.Name, strconv.Itoa(len(wf.Steps))}
			}

			out.Print(headers, rows, workflows)
			return nil
		},
	}
}

func newWorkflowShowCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "show TYPE",
		Short: "Show workflow definition steps",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			workflow, err := client.GetWorkflow(args[0])
			if err != nil {
				return err
			}

			headers := []string{"#", "STEP", "KIND", "REQUIRES", "PRODUCES", "SKIP_WHEN", "COMPENSATE_WITH"}
			rows := make([][]string, len(workflow.Steps))
			for i, s := range workflow.Steps {
				rows[i] = []string{
					strconv.Itoa(i),
					s.Name,
					s.Kind,
					strings.Join(s.RequiredFacts, ","),
					strings.Join(s.ProducesFacts, ","),
					s.SkipWhen,
					s.CompensateWith,
				}
			}

			out.Print(headers, rows, workflow)
			return nil
		},
	}
}
