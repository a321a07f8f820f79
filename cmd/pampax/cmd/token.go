package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pampax/pampax/internal/tokenmodel"
)

func newTokenCmd() *cobra.Command {
	var model string

	cmd := &cobra.Command{
		Use:   "token [text]",
		Short: "Estimate token count and session budget for a model family",
		Long: `token counts text (an argument, or stdin if none given) using the
character-ratio tokenizer for the model family inferred from --model,
and reports that family's default session budget and per-tier split.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var text string
			if len(args) > 0 {
				text = strings.Join(args, " ")
			} else {
				data, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return fmt.Errorf("read stdin: %w", err)
				}
				text = string(data)
			}

			family := familyFromModelName(model)
			tok := tokenmodel.New(family, 0, 0)
			profile := tokenmodel.DefaultPackingProfile("", model)

			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(out, "family:         %s\n", family)
			_, _ = fmt.Fprintf(out, "tokens:         %d\n", tok.CountTokens(text))
			_, _ = fmt.Fprintf(out, "context_size:   %d\n", tok.ContextSize())
			_, _ = fmt.Fprintf(out, "session_budget: %d\n", tok.SessionBudget())
			for _, tier := range tokenmodel.TierOrder {
				_, _ = fmt.Fprintf(out, "  %-13s %d\n", string(tier)+":", profile.TierBudget(tok.SessionBudget(), tier))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&model, "model", "", "Target model name, e.g. claude-opus-4, gpt-4o, gemini-1.5-pro")
	return cmd
}

// familyFromModelName mirrors internal/turn's unexported model-name
// sniffing so the token command reports the same family a real turn
// would pick for --model.
func familyFromModelName(model string) tokenmodel.Family {
	m := strings.ToLower(model)
	switch {
	case strings.Contains(m, "claude"):
		return tokenmodel.FamilyAnthropic
	case strings.Contains(m, "gemini"):
		return tokenmodel.FamilyGemini
	case strings.Contains(m, "llama"):
		return tokenmodel.FamilyLlama
	default:
		return tokenmodel.FamilyOpenAI
	}
}
