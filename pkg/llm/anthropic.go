package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/hephaestus-ai/hephaestus/pkg/config"
	"github.com/hephaestus-ai/hephaestus/pkg/models"
)

// AnthropicClient implements Client against the Anthropic Messages API for
// every text-reasoning call (enrich_task, analyze_agent_trajectory,
// analyze_system_coherence) and delegates Embed to an OpenAI-compatible
// embeddings endpoint, since Anthropic does not serve embeddings (spec §6:
// "LLM provider internals" are a non-goal, but the capability boundary
// still needs a concrete backend to exercise it).
type AnthropicClient struct {
	client anthropic.Client
	model  anthropic.Model

	embedder *httpEmbedder
}

// NewAnthropicClient builds an AnthropicClient from a named provider config
// entry plus the resolved API key (read from cfg.APIKeyEnv by the caller,
// per the teacher's pattern of never letting config structs touch the
// environment directly).
func NewAnthropicClient(cfg *config.LLMProviderConfig, apiKey string, embedder *httpEmbedder) *AnthropicClient {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &AnthropicClient{
		client:   anthropic.NewClient(opts...),
		model:    anthropic.Model(cfg.Model),
		embedder: embedder,
	}
}

var _ Client = (*AnthropicClient)(nil)

func (c *AnthropicClient) Embed(ctx context.Context, text string) ([]float32, error) {
	if c.embedder == nil {
		return nil, fmt.Errorf("llm: no embedding backend configured")
	}
	return c.embedder.embed(ctx, text)
}

func (c *AnthropicClient) EnrichTask(ctx context.Context, req EnrichTaskRequest) (*EnrichTaskResult, error) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Raw task description: %s\n", req.RawDescription)
	if req.DoneCriterion != "" {
		fmt.Fprintf(&sb, "Done criterion: %s\n", req.DoneCriterion)
	}
	if req.PhaseDescription != "" {
		fmt.Fprintf(&sb, "Phase context: %s\n", req.PhaseDescription)
	}
	for _, c := range req.Context {
		fmt.Fprintf(&sb, "Context: %s\n", c)
	}
	sb.WriteString("\nExpand the raw task description into a precise, actionable task.\n")
	sb.WriteString(`Respond with a single JSON object: {"enriched": string, "estimated_complexity": "trivial"|"small"|"medium"|"large"}.`)

	var out EnrichTaskResult
	if err := c.callJSON(ctx, sb.String(), &out); err != nil {
		return nil, fmt.Errorf("enrich_task: %w", err)
	}
	return &out, nil
}

func (c *AnthropicClient) AnalyzeAgentTrajectory(ctx context.Context, req TrajectoryRequest) (*TrajectoryResult, error) {
	var sb strings.Builder
	sb.WriteString("Analyze this coding agent's trajectory against its task.\n\n")
	fmt.Fprintf(&sb, "Accumulated context: %s\n", req.AccumulatedContext)
	fmt.Fprintf(&sb, "Task info: %s\n", req.TaskInfo)
	fmt.Fprintf(&sb, "Phase info: %s\n", req.PhaseInfo)
	fmt.Fprintf(&sb, "Last message marker: %s\n", req.LastMessageMarker)
	if len(req.PastSummaries) > 0 {
		fmt.Fprintf(&sb, "Past summaries:\n- %s\n", strings.Join(req.PastSummaries, "\n- "))
	}
	fmt.Fprintf(&sb, "\nRecent terminal output:\n%s\n", req.TmuxOutput)
	sb.WriteString("\nRespond with a single JSON object with fields: current_phase, ")
	sb.WriteString("trajectory_aligned (bool), alignment_score (0..1), alignment_issues ([]string), ")
	sb.WriteString("needs_steering (bool), steering_type (one of stuck, drifting, violating_constraints, ")
	sb.WriteString("over_engineering, confused, off_track, or empty), steering_recommendation, ")
	sb.WriteString("trajectory_summary, last_claude_message_marker.")

	var raw struct {
		CurrentPhase            string   `json:"current_phase"`
		TrajectoryAligned       bool     `json:"trajectory_aligned"`
		AlignmentScore          float64  `json:"alignment_score"`
		AlignmentIssues         []string `json:"alignment_issues"`
		NeedsSteering           bool     `json:"needs_steering"`
		SteeringType            string   `json:"steering_type"`
		SteeringRecommendation  string   `json:"steering_recommendation"`
		TrajectorySummary       string   `json:"trajectory_summary"`
		LastClaudeMessageMarker string   `json:"last_claude_message_marker"`
	}
	if err := c.callJSON(ctx, sb.String(), &raw); err != nil {
		return nil, fmt.Errorf("analyze_agent_trajectory: %w", err)
	}
	return &TrajectoryResult{
		CurrentPhase:            raw.CurrentPhase,
		TrajectoryAligned:       raw.TrajectoryAligned,
		AlignmentScore:          raw.AlignmentScore,
		AlignmentIssues:         raw.AlignmentIssues,
		NeedsSteering:           raw.NeedsSteering,
		SteeringType:            models.SteeringType(raw.SteeringType),
		SteeringRecommendation:  raw.SteeringRecommendation,
		TrajectorySummary:       raw.TrajectorySummary,
		LastClaudeMessageMarker: raw.LastClaudeMessageMarker,
	}, nil
}

func (c *AnthropicClient) AnalyzeSystemCoherence(ctx context.Context, req CoherenceRequest) (*CoherenceResult, error) {
	var sb strings.Builder
	sb.WriteString("Analyze system-wide coherence across these concurrent agent summaries.\n\n")
	fmt.Fprintf(&sb, "System goals: %s\n\n", req.SystemGoals)
	fmt.Fprintf(&sb, "Agent summaries:\n- %s\n", strings.Join(req.Summaries, "\n- "))
	sb.WriteString("\nRespond with a single JSON object with fields: coherence_score (0..1), ")
	sb.WriteString(`duplicates ([]{agent1, agent2, similarity, work}), alignment_issues ([]string), `)
	sb.WriteString(`termination_recommendations ([]{agent_id, reason}), `)
	sb.WriteString(`coordination_needs ([]{agents, resource, action}), system_summary.`)

	var raw struct {
		CoherenceScore  float64 `json:"coherence_score"`
		Duplicates      []struct {
			Agent1     string  `json:"agent1"`
			Agent2     string  `json:"agent2"`
			Similarity float64 `json:"similarity"`
			Work       string  `json:"work"`
		} `json:"duplicates"`
		AlignmentIssues             []string `json:"alignment_issues"`
		TerminationRecommendations []struct {
			AgentID string `json:"agent_id"`
			Reason  string `json:"reason"`
		} `json:"termination_recommendations"`
		CoordinationNeeds []struct {
			Agents   []string `json:"agents"`
			Resource string   `json:"resource"`
			Action   string   `json:"action"`
		} `json:"coordination_needs"`
		SystemSummary string `json:"system_summary"`
	}
	if err := c.callJSON(ctx, sb.String(), &raw); err != nil {
		return nil, fmt.Errorf("analyze_system_coherence: %w", err)
	}

	out := &CoherenceResult{
		CoherenceScore:  raw.CoherenceScore,
		AlignmentIssues: raw.AlignmentIssues,
		SystemSummary:   raw.SystemSummary,
	}
	for _, d := range raw.Duplicates {
		out.Duplicates = append(out.Duplicates, DuplicatePair{
			Agent1: d.Agent1, Agent2: d.Agent2, Similarity: d.Similarity, Work: d.Work,
		})
	}
	for _, t := range raw.TerminationRecommendations {
		out.TerminationRecommendations = append(out.TerminationRecommendations, TerminationRecommendation{
			AgentID: t.AgentID, Reason: t.Reason,
		})
	}
	for _, cn := range raw.CoordinationNeeds {
		out.CoordinationNeeds = append(out.CoordinationNeeds, CoordinationNeed{
			Agents: cn.Agents, Resource: cn.Resource, Action: cn.Action,
		})
	}
	return out, nil
}

// callJSON sends prompt as a single user message, asks for strict JSON, and
// unmarshals the concatenated text content into out.
func (c *AnthropicClient) callJSON(ctx context.Context, prompt string, out interface{}) error {
	message, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: 4096,
		System: []anthropic.TextBlockParam{
			{Text: "You respond only with a single valid JSON object. No markdown fences, no commentary."},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return fmt.Errorf("anthropic messages.new: %w", err)
	}

	var text strings.Builder
	for _, block := range message.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	body := strings.TrimSpace(text.String())
	body = strings.TrimPrefix(body, "```json")
	body = strings.TrimPrefix(body, "```")
	body = strings.TrimSuffix(body, "```")

	if err := json.Unmarshal([]byte(body), out); err != nil {
		return fmt.Errorf("decoding model response as JSON: %w", err)
	}
	return nil
}
