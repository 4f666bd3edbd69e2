package commands

import (
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/marmos91/microtower/internal/cli/output"
	"github.com/marmos91/microtower/internal/demo"
	"github.com/marmos91/microtower/pkg/resolver"
)

var planOutput string

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Show the order in which services are created",
	Long: `Run the dependency resolution without creating any service and print
the creation order, pass by pass.

Examples:
  microtower plan
  microtower plan --output json`,
	RunE: runPlan,
}

func init() {
	planCmd.Flags().StringVarP(&planOutput, "output", "o", "table", "Output format (table|json|yaml)")
}

// PlanStep is one row of the plan output.
type PlanStep struct {
	Order        int      `json:"order" yaml:"order"`
	Pass         int      `json:"pass" yaml:"pass"`
	Service      string   `json:"service" yaml:"service"`
	Key          string   `json:"key" yaml:"key"`
	Dependencies []string `json:"dependencies" yaml:"dependencies"`
}

// PlanList renders a plan as a table.
type PlanList []PlanStep

func (p PlanList) Headers() []string {
	return []string{"Order", "Pass", "Service", "Key", "Depends On"}
}

func (p PlanList) Rows() [][]string {
	rows := make([][]string, 0, len(p))
	for _, s := range p {
		deps := strings.Join(s.Dependencies, ", ")
		if deps == "" {
			deps = "-"
		}
		rows = append(rows, []string{strconv.Itoa(s.Order), strconv.Itoa(s.Pass), s.Service, s.Key, deps})
	}
	return rows
}

func newPlanList(steps []resolver.Step) PlanList {
	out := make(PlanList, 0, len(steps))
	for i, s := range steps {
		deps := make([]string, 0, len(s.Dependencies))
		for _, d := range s.Dependencies {
			deps = append(deps, d.String())
		}
		out = append(out, PlanStep{
			Order:        i + 1,
			Pass:         s.Pass,
			Service:      s.Name,
			Key:          s.Key.String(),
			Dependencies: deps,
		})
	}
	return out
}

func runPlan(cmd *cobra.Command, args []string) error {
	format, err := output.ParseFormat(planOutput)
	if err != nil {
		return err
	}

	steps, err := resolver.Plan(demo.Descriptors())
	if err != nil {
		return err
	}
	return output.NewPrinter(cmd.OutOrStdout(), format).Print(newPlanList(steps))
}
