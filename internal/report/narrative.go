package report

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"go.uber.org/zap"
)

const narrativeSystemPrompt = `You write the summary paragraph of a rooftop photovoltaic yield report.
Use only the figures you are given. Write 3 to 5 plain sentences for a homeowner.
Mention annual production, how it compares with consumption when known, and the seasonal pattern.
No headings, no lists, no markdown.`

// Narrator writes a short plain-language summary of a report.
type Narrator struct {
	client openai.Client
	model  openai.ChatModel
	logger *zap.Logger
}

// NewNarrator creates a narrator using the chat completions API. It fails
// when apiKey is empty so callers can skip the narrative.
func NewNarrator(apiKey string, logger *zap.Logger, opts ...option.RequestOption) (*Narrator, error) {
	if apiKey == "" {
		return nil, errors.New("OPENAI_API_KEY not set")
	}
	opts = append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	return &Narrator{
		client: openai.NewClient(opts...),
		model:  openai.ChatModelGPT4oMini,
		logger: logger.Named("narrative"),
	}, nil
}

func (n *Narrator) Summarize(ctx context.Context, data *Data) (string, error) {
	resp, err := n.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: n.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(narrativeSystemPrompt),
			openai.UserMessage(narrativeFacts(data)),
		},
		MaxCompletionTokens: openai.Int(300),
	})
	if err != nil {
		return "", fmt.Errorf("narrative request: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("narrative response had no choices")
	}

	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return "", errors.New("narrative response was empty")
	}
	n.logger.Debug("narrative generated", zap.Int("chars", len(text)), zap.Int64("tokens", resp.Usage.TotalTokens))
	return text, nil
}

// narrativeFacts lists the report figures the model may use.
func narrativeFacts(data *Data) string {
	var b strings.Builder
	f := data.Financials
	fmt.Fprintf(&b, "Annual production: %.0f kWh\n", f.AnnualProduction)
	fmt.Fprintf(&b, "Panel area: %.1f m2 (%.2f kWp)\n", f.AreaM2, f.KWp)
	fmt.Fprintf(&b, "Avoided costs per year: %.1f at %.1f ct/kWh\n", f.AvoidedCosts, f.PricePerKWh)
	if f.HasConsumption {
		fmt.Fprintf(&b, "Generation covers %.0f%% of consumption\n", f.Coverage*100)
	}
	for _, p := range data.Panels {
		fmt.Fprintf(&b, "Panel %s: slope %.0f, aspect %.0f\n", p.Name, p.Slope, p.Aspect)
	}
	for _, m := range data.Months {
		fmt.Fprintf(&b, "%s: %.0f kWh", m.Month.Format("Jan"), m.Production)
		if m.HasConsumption {
			fmt.Fprintf(&b, " (consumption %.0f kWh)", m.Consumption)
		}
		b.WriteString("\n")
	}
	return b.String()
}
