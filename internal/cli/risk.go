package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/avenhq/aven/pkg/risk"
)

var (
	riskInput            string
	riskRequiresApproval bool
	riskOutsideWindow    bool
)

var riskCmd = &cobra.Command{
	Use:   "risk <tool-name>",
	Short: "Score a hypothetical tool call",
	Long: `Score a hypothetical tool call with the same engine the daemon uses.
Useful for checking how a tool name, its input, and the autonomy window
combine into a risk level before granting a tool to the agent.`,
	Args: cobra.ExactArgs(1),
	RunE: runRisk,
}

func init() {
	riskCmd.Flags().StringVar(&riskInput, "input", "{}", "tool input as JSON")
	riskCmd.Flags().BoolVar(&riskRequiresApproval, "requires-approval", false, "tool policy requires approval")
	riskCmd.Flags().BoolVar(&riskOutsideWindow, "outside-window", false, "assume the call falls outside the autonomy window")
	rootCmd.AddCommand(riskCmd)
}

func runRisk(cmd *cobra.Command, args []string) error {
	var input map[string]interface{}
	if err := json.Unmarshal([]byte(riskInput), &input); err != nil {
		return fmt.Errorf("invalid --input JSON: %w", err)
	}

	engine := risk.NewEngine(zerolog.New(os.Stderr).Level(zerolog.Disabled))
	assessment := engine.Score(args[0], input, riskRequiresApproval, riskOutsideWindow)
	auto := engine.AutoApprove(assessment.Level, !riskOutsideWindow, riskRequiresApproval)

	fmt.Printf("Tool:     %s\n", args[0])
	fmt.Printf("Score:    %d\n", assessment.Score)
	fmt.Printf("Level:    %s\n", assessment.Level)
	fmt.Printf("Reason:   %s\n", assessment.Reason)
	if auto {
		fmt.Println("Decision: auto-approved")
	} else {
		fmt.Println("Decision: requires approval")
	}
	return nil
}
