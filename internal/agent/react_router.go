package agent

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/tmc/langchaingo/tools"

	"github.com/wolfman30/prescription-ai-platform/internal/conversation"
	"github.com/wolfman30/prescription-ai-platform/internal/llm"
	"github.com/wolfman30/prescription-ai-platform/pkg/logging"
)

const (
	minReActIterations     = 3
	maxReActIterations     = 5
	defaultReActIterations = 4

	formatCorrection = "Invalid format. Reply with either\n" +
		"Action: <one of the tool names>\nAction Input: <input>\n" +
		"or\nFinal Answer: <answer for the user>"
)

var (
	errMissingAction = errors.New("agent: reasoning step has neither an action nor a final answer")
	errUnknownTool   = errors.New("agent: reasoning step named an unknown tool")

	finalAnswerPattern = regexp.MustCompile(`(?s)Final Answer\s*:\s*(.+)`)
	actionPattern      = regexp.MustCompile(`(?s)Action\s*:\s*([^\n]+)\s*\n\s*Action Input\s*:\s*([^\n]*)`)
)

const reactTemplate = `You are a pharmacist assistant helping patients understand prescriptions and medications.
Answer the following question as best you can. You have access to the following tools:

%s

Use the following format:

Question: the input question you must answer
Thought: you should always think about what to do
Action: the action to take, should be one of [%s]
Action Input: the input to the action
Observation: the result of the action
... (this Thought/Action/Action Input/Observation can repeat N times)
Thought: I now know the final answer
Final Answer: the final answer to the original input question, in the language the user wrote in

Begin!`

// ReActRouter lets a language model choose tools in a bounded
// Thought/Action/Observation loop.
type ReActRouter struct {
	model         llm.Client
	finder        DrugFinder
	pipeline      *Pipeline
	maxChars      int
	maxIterations int
	logger        *logging.Logger
}

var _ Router = (*ReActRouter)(nil)

// ReActOption customises a ReActRouter.
type ReActOption func(*ReActRouter)

// WithMaxIterations sets the cycle cap, clamped to 3..5.
func WithMaxIterations(n int) ReActOption {
	return func(r *ReActRouter) { r.maxIterations = clampIterations(n) }
}

// WithDrugDetailMaxChars bounds formatted drug fields.
func WithDrugDetailMaxChars(n int) ReActOption {
	return func(r *ReActRouter) { r.maxChars = n }
}

func NewReActRouter(model llm.Client, finder DrugFinder, pipeline *Pipeline, logger *logging.Logger, opts ...ReActOption) *ReActRouter {
	if model == nil {
		panic("agent: react router requires a language model")
	}
	if finder == nil {
		panic("agent: drug finder cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	r := &ReActRouter{
		model:         model,
		finder:        finder,
		pipeline:      pipeline,
		maxIterations: defaultReActIterations,
		logger:        logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func clampIterations(n int) int {
	switch {
	case n <= 0:
		return defaultReActIterations
	case n < minReActIterations:
		return minReActIterations
	case n > maxReActIterations:
		return maxReActIterations
	default:
		return n
	}
}

type reactStep struct {
	final  string
	action string
	input  string
}

func parseStep(text string) (reactStep, error) {
	if m := finalAnswerPattern.FindStringSubmatch(text); m != nil {
		answer := strings.TrimSpace(m[1])
		if answer != "" {
			return reactStep{final: answer}, nil
		}
	}
	if m := actionPattern.FindStringSubmatch(text); m != nil {
		return reactStep{
			action: strings.TrimSpace(m[1]),
			input:  strings.TrimSpace(m[2]),
		}, nil
	}
	return reactStep{}, errMissingAction
}

func (r *ReActRouter) toolset(userID string) map[string]tools.Tool {
	set := map[string]tools.Tool{
		toolDrugLookup: drugLookupTool{finder: r.finder, maxChars: r.maxChars},
	}
	if r.pipeline != nil {
		set[toolPrescriptionAnalysis] = prescriptionTool{pipeline: r.pipeline, userID: userID}
	}
	return set
}

func (r *ReActRouter) systemPrompt(set map[string]tools.Tool) string {
	names := make([]string, 0, len(set))
	var desc strings.Builder
	for _, name := range []string{toolDrugLookup, toolPrescriptionAnalysis} {
		tool, ok := set[name]
		if !ok {
			continue
		}
		names = append(names, name)
		fmt.Fprintf(&desc, "%s: %s\n", tool.Name(), tool.Description())
	}
	return fmt.Sprintf(reactTemplate, strings.TrimSpace(desc.String()), strings.Join(names, ", "))
}

func historyText(history []conversation.Turn) string {
	var b strings.Builder
	for _, t := range history {
		switch t.Sender {
		case conversation.SenderUser:
			b.WriteString("Human: ")
		default:
			b.WriteString("AI: ")
		}
		b.WriteString(t.Text)
		b.WriteString("\n")
	}
	return b.String()
}

// DecideAndInvoke runs the loop. Tool errors end the loop and are returned;
// malformed model output is corrected in place until the cap is reached.
func (r *ReActRouter) DecideAndInvoke(ctx context.Context, turn Turn) (Invocation, error) {
	set := r.toolset(turn.UserID)
	system := r.systemPrompt(set)

	var prompt strings.Builder
	if h := historyText(turn.History); h != "" {
		prompt.WriteString("Previous conversation:\n")
		prompt.WriteString(h)
		prompt.WriteString("\n")
	}
	prompt.WriteString("Question: ")
	prompt.WriteString(turn.Text)
	prompt.WriteString("\nThought:")

	var (
		inv         Invocation
		observation string
	)
	for i := 0; i < r.maxIterations; i++ {
		resp, err := r.model.Complete(ctx, llm.Request{
			System:      []string{system},
			Messages:    []llm.Message{{Role: llm.RoleUser, Content: prompt.String()}},
			MaxTokens:   512,
			Temperature: 0.1,
			Stop:        []string{"\nObservation:"},
		})
		if err != nil {
			return inv, fmt.Errorf("agent: reasoning step failed: %w", err)
		}

		step, err := parseStep(resp.Text)
		if err == nil && step.final == "" {
			if _, ok := set[step.action]; !ok {
				err = fmt.Errorf("%w: %q", errUnknownTool, step.action)
			}
		}
		if err != nil {
			r.logger.Warn("react step could not be parsed", "iteration", i+1, "error", err)
			fmt.Fprintf(&prompt, " %s\nObservation: %s\nThought:", strings.TrimSpace(resp.Text), formatCorrection)
			continue
		}
		if step.final != "" {
			inv.Answer = step.final
			return inv, nil
		}

		inv.Capability = toolCapability(step.action)
		inv.Input = step.input
		observation, err = set[step.action].Call(ctx, step.input)
		if err != nil {
			return inv, err
		}
		fmt.Fprintf(&prompt, " %s\nObservation: %s\nThought:", strings.TrimSpace(resp.Text), observation)
	}

	r.logger.Warn("react loop reached iteration cap", "iterations", r.maxIterations, "user_id", turn.UserID)
	inv.Answer = observation
	return inv, nil
}
