package agent

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/wolfman30/prescription-ai-platform/internal/conversation"
	"github.com/wolfman30/prescription-ai-platform/internal/drug"
	"github.com/wolfman30/prescription-ai-platform/internal/llm"
	"github.com/wolfman30/prescription-ai-platform/internal/observability/metrics"
	"github.com/wolfman30/prescription-ai-platform/internal/prescription"
	"github.com/wolfman30/prescription-ai-platform/internal/vision"
	"github.com/wolfman30/prescription-ai-platform/pkg/logging"
)

const (
	routePrescription = "prescription"
	routeTool         = "tool"
	routeGeneral      = "general"

	defaultHistoryLimit = 25
	persistTimeout      = 5 * time.Second

	generalSystemPrompt = "You are a friendly pharmacist assistant for patients in Korea. " +
		"Answer briefly in the language the user wrote in. " +
		"Do not diagnose; recommend consulting a physician or pharmacist for medical decisions."
)

// prescriptionMarker is the structured reference a client embeds in text.
var prescriptionMarker = regexp.MustCompile(`(?i)prescription_id\s*[:=]\s*(\d+)`)

// Request is one user turn. History, when non-nil, is used as the prior
// context instead of loading it from the conversation store.
type Request struct {
	UserID         string
	Text           string
	PrescriptionID *int64
	History        []conversation.Turn
}

// Config wires a Core. History is required, and so are Records and Analyzer
// unless Pipeline is given. Router defaults to a KeywordRouter over Drugs.
type Config struct {
	Pipeline         *Pipeline
	Records          prescription.Store
	Analyzer         vision.Analyzer
	Drugs            DrugFinder
	History          conversation.Store
	LLM              llm.Client
	Router           Router
	Metrics          *metrics.AgentMetrics
	Logger           *logging.Logger
	Tracer           trace.Tracer
	HistoryLimit     int
	DrugMaxChars     int
	InferenceTimeout time.Duration
}

// Core answers chat turns. It holds no per-user state; history is read from
// and written to the conversation store on every turn.
type Core struct {
	pipeline     *Pipeline
	history      conversation.Store
	model        llm.Client
	router       Router
	metrics      *metrics.AgentMetrics
	logger       *logging.Logger
	tracer       trace.Tracer
	historyLimit int
}

func New(cfg Config) *Core {
	if cfg.History == nil {
		panic("agent: conversation store cannot be nil")
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	if cfg.Tracer == nil {
		cfg.Tracer = otel.Tracer("rxassist.internal.agent")
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = defaultHistoryLimit
	}
	pipeline := cfg.Pipeline
	if pipeline == nil {
		pipeline = NewPipeline(cfg.Records, cfg.Analyzer, cfg.Metrics, cfg.Logger, cfg.InferenceTimeout)
	}
	router := cfg.Router
	if router == nil {
		router = NewKeywordRouter(cfg.Drugs, cfg.DrugMaxChars)
	}
	return &Core{
		pipeline:     pipeline,
		history:      cfg.History,
		model:        cfg.LLM,
		router:       router,
		metrics:      cfg.Metrics,
		logger:       cfg.Logger,
		tracer:       cfg.Tracer,
		historyLimit: cfg.HistoryLimit,
	}
}

// Pipeline exposes the prescription pipeline for direct re-checks.
func (c *Core) Pipeline() *Pipeline { return c.pipeline }

// ParsePrescriptionMarker extracts an embedded prescription reference and
// returns the text without it.
func ParsePrescriptionMarker(text string) (id int64, rest string, ok bool) {
	m := prescriptionMarker.FindStringSubmatchIndex(text)
	if m == nil {
		return 0, text, false
	}
	id, err := strconv.ParseInt(text[m[2]:m[3]], 10, 64)
	if err != nil {
		return 0, text, false
	}
	rest = strings.TrimSpace(text[:m[0]] + " " + text[m[1]:])
	return id, rest, true
}

// RunTurn answers one utterance and then appends the user and assistant
// turns. The only errors returned are a missing prescription and read
// failures of the prescription store; tool failures become apologies.
func (c *Core) RunTurn(ctx context.Context, req Request) (answer string, err error) {
	ctx, span := c.tracer.Start(ctx, "agent.run_turn")
	defer span.End()
	span.SetAttributes(attribute.String("user_id", req.UserID))

	if strings.TrimSpace(req.UserID) == "" {
		return "", errors.New("agent: user id required")
	}

	question := strings.TrimSpace(req.Text)
	rxID := req.PrescriptionID
	if id, rest, ok := ParsePrescriptionMarker(question); ok {
		if rxID == nil {
			rxID = &id
		}
		question = rest
	}

	var route, outcome string
	if rxID != nil {
		route = routePrescription
		answer, outcome, err = c.answerPrescription(ctx, req.UserID, *rxID, question)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			c.metrics.ObserveTurn(route, "rejected")
			return "", err
		}
	} else {
		history := req.History
		if history == nil {
			history = c.loadHistory(ctx, req.UserID)
		}
		route, answer, outcome = c.route(ctx, Turn{UserID: req.UserID, Text: question, History: history})
	}
	span.SetAttributes(attribute.String("route", route), attribute.String("outcome", outcome))
	c.metrics.ObserveTurn(route, outcome)

	c.persist(ctx, req.UserID, req.Text, answer, rxID)
	return answer, nil
}

func (c *Core) answerPrescription(ctx context.Context, userID string, id int64, question string) (string, string, error) {
	analysis, err := c.pipeline.Analyze(ctx, userID, id)
	switch {
	case err == nil:
	case errors.Is(err, ErrAnalysisFailed):
		c.metrics.ObserveTool(CapabilityVisionInference.String(), toolOutcome(err))
		if errors.Is(err, vision.ErrTimeout) {
			return msgAnalysisTimeout, "tool_error", nil
		}
		return msgAnalysisFailure, "tool_error", nil
	default:
		return "", "", err
	}
	c.metrics.ObserveTool(CapabilityVisionInference.String(), "ok")

	if analysis.Text == "" {
		return msgAnalysisFailure, "tool_error", nil
	}
	if c.model == nil || question == "" || question == DefaultQuestion {
		return analysis.Text, "ok", nil
	}

	resp, err := c.model.Complete(ctx, llm.Request{
		System: []string{generalSystemPrompt},
		Messages: []llm.Message{{
			Role: llm.RoleUser,
			Content: fmt.Sprintf("처방전 분석 결과:\n%s\n\n사용자 질문: %s\n\n위 처방전 정보를 참고하여 답변해주세요.",
				analysis.Text, question),
		}},
		MaxTokens:   1024,
		Temperature: 0.2,
	})
	if err != nil {
		c.logger.Warn("llm answer over analysis failed, returning analysis", "prescription_id", id, "error", err)
		return analysis.Text, "ok", nil
	}
	return resp.Text, "ok", nil
}

func (c *Core) route(ctx context.Context, turn Turn) (route, answer, outcome string) {
	inv, err := c.router.DecideAndInvoke(ctx, turn)
	if inv.Capability != CapabilityNone {
		c.metrics.ObserveTool(inv.Capability.String(), toolOutcome(err))
	}
	if err != nil {
		c.logger.Error("tool invocation failed", "user_id", turn.UserID, "capability", inv.Capability.String(), "input", inv.Input, "error", err)
		return routeTool, msgServiceFailure, "tool_error"
	}
	if inv.Answer != "" {
		return routeTool, inv.Answer, "ok"
	}

	answer, outcome = c.generalAnswer(ctx, turn)
	return routeGeneral, answer, outcome
}

func (c *Core) generalAnswer(ctx context.Context, turn Turn) (string, string) {
	if c.model == nil {
		return msgCapabilities, "ok"
	}
	messages := make([]llm.Message, 0, len(turn.History)+1)
	for _, t := range turn.History {
		role := llm.RoleUser
		if t.Sender == conversation.SenderAssistant {
			role = llm.RoleAssistant
		}
		messages = append(messages, llm.Message{Role: role, Content: t.Text})
	}
	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: turn.Text})

	resp, err := c.model.Complete(ctx, llm.Request{
		System:      []string{generalSystemPrompt},
		Messages:    messages,
		MaxTokens:   1024,
		Temperature: 0.3,
	})
	if err != nil {
		c.logger.Error("general answer failed", "user_id", turn.UserID, "error", err)
		return msgGenerateFailure, "llm_error"
	}
	return resp.Text, "ok"
}

func (c *Core) loadHistory(ctx context.Context, userID string) []conversation.Turn {
	turns, err := c.history.Recent(ctx, userID, c.historyLimit)
	if err != nil {
		c.logger.Warn("failed to load conversation history", "user_id", userID, "error", err)
		return nil
	}
	return turns
}

// persist appends the user and assistant turns. Failures are logged only.
func (c *Core) persist(ctx context.Context, userID, question, answer string, rxID *int64) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()

	turns := []conversation.Turn{
		{UserID: userID, Sender: conversation.SenderUser, Text: question, PrescriptionID: rxID},
		{UserID: userID, Sender: conversation.SenderAssistant, Text: answer, PrescriptionID: rxID},
	}
	if err := c.history.Append(ctx, turns...); err != nil {
		c.logger.Error("failed to persist conversation turns", "user_id", userID, "error", err)
	}
}

func toolOutcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, vision.ErrTimeout), errors.Is(err, drug.ErrTimeout):
		return "timeout"
	default:
		return "error"
	}
}
