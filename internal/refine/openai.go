package refine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/myrjola/groupworkout/internal/errors"
	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/shared"
)

// DefaultModel is the chat model used when none is configured.
const DefaultModel = "gpt-4o-mini"

const systemPrompt = `You are a strength coach planning a small group training session.
Pick the final exercises for one client from the candidate list.
Rules:
- Every exercise marked pre_assigned must be picked.
- Pick exactly the requested number of exercises and never repeat one.
- Only use IDs from the candidate list.
- Prefer exercises shared with other clients, then higher scores, and keep movement patterns balanced.`

// OpenAIRefiner asks an OpenAI chat model for the selection.
type OpenAIRefiner struct {
	client openai.Client
	model  string
	logger *slog.Logger
}

// NewOpenAIRefiner creates a refiner. opts are passed to the OpenAI client after the API key.
func NewOpenAIRefiner(apiKey, model string, logger *slog.Logger, opts ...option.RequestOption) *OpenAIRefiner {
	if model == "" {
		model = DefaultModel
	}
	return &OpenAIRefiner{
		client: openai.NewClient(append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)...),
		model:  model,
		logger: logger,
	}
}

type promptCandidate struct {
	ID              string   `json:"id"`
	Name            string   `json:"name"`
	MovementPattern string   `json:"movement_pattern"`
	PrimaryMuscle   string   `json:"primary_muscle"`
	Score           float64  `json:"score"`
	PreAssigned     bool     `json:"pre_assigned,omitempty"`
	Bucket          string   `json:"bucket,omitempty"`
	SharedWith      []string `json:"shared_with,omitempty"`
}

type promptInput struct {
	Client          string            `json:"client"`
	PrimaryGoal     string            `json:"primary_goal,omitempty"`
	Intensity       string            `json:"intensity,omitempty"`
	TargetMuscles   []string          `json:"target_muscles,omitempty"`
	WorkoutType     string            `json:"workout_type"`
	ExercisesToPick int               `json:"exercises_to_pick"`
	Candidates      []promptCandidate `json:"candidates"`
}

type reply struct {
	ExerciseIDs []string `json:"exercise_ids"`
}

//nolint:gochecknoglobals // read-only JSON schema.
var replySchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"exercise_ids": map[string]any{
			"type":  "array",
			"items": map[string]any{"type": "string"},
		},
	},
	"required":             []string{"exercise_ids"},
	"additionalProperties": false,
}

func buildPrompt(req Request) (string, error) {
	sharedWith := make(map[string][]string)
	for _, gse := range req.Shared {
		for _, id := range gse.ClientsSharing {
			if id != req.Client.ID {
				sharedWith[gse.ID] = append(sharedWith[gse.ID], id)
			}
		}
	}
	preAssigned := make(map[string]bool, len(req.Pool.PreAssigned))
	for _, pa := range req.Pool.PreAssigned {
		preAssigned[pa.Exercise.ID] = true
	}

	input := promptInput{
		Client:          req.Client.ID,
		PrimaryGoal:     req.Client.PrimaryGoal,
		Intensity:       req.Client.Intensity,
		TargetMuscles:   req.Client.TargetMuscles,
		WorkoutType:     string(req.Pool.WorkoutType),
		ExercisesToPick: wantCount(req.Pool),
		Candidates:      nil,
	}
	for _, ex := range candidates(req.Pool) {
		var bucket string
		if a, ok := req.Pool.BucketedSelection.Assignments[ex.ID]; ok {
			bucket = fmt.Sprintf("%s:%s", a.BucketType, a.Constraint)
		}
		input.Candidates = append(input.Candidates, promptCandidate{
			ID:              ex.ID,
			Name:            ex.Name,
			MovementPattern: ex.MovementPattern,
			PrimaryMuscle:   ex.PrimaryMuscle,
			Score:           ex.Score,
			PreAssigned:     preAssigned[ex.ID],
			Bucket:          bucket,
			SharedWith:      sharedWith[ex.ID],
		})
	}
	b, err := json.MarshalIndent(input, "", "  ")
	if err != nil {
		return "", errors.Wrap(err, "marshal prompt")
	}
	return string(b), nil
}

// Refine implements [Refiner].
func (r *OpenAIRefiner) Refine(ctx context.Context, req Request) ([]string, error) {
	prompt, err := buildPrompt(req)
	if err != nil {
		return nil, err
	}

	chat, err := r.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{ //nolint:exhaustruct // defaults.
		Model: shared.ChatModel(r.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(prompt),
		},
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{ //nolint:exhaustruct // one variant.
			OfJSONSchema: &shared.ResponseFormatJSONSchemaParam{ //nolint:exhaustruct // type defaults.
				JSONSchema: shared.ResponseFormatJSONSchemaJSONSchemaParam{ //nolint:exhaustruct // no description.
					Name:   "exercise_selection",
					Strict: openai.Bool(true),
					Schema: replySchema,
				},
			},
		},
	})
	if err != nil {
		return nil, errors.Wrap(err, "chat completion", slog.String("model", r.model))
	}
	if len(chat.Choices) == 0 {
		return nil, errors.New("chat completion without choices", slog.String("model", r.model))
	}

	r.logger.LogAttrs(ctx, slog.LevelDebug, "received refinement",
		slog.Int64("prompt_tokens", chat.Usage.PromptTokens),
		slog.Int64("completion_tokens", chat.Usage.CompletionTokens))

	var out reply
	content := strings.TrimSpace(chat.Choices[0].Message.Content)
	if err = json.Unmarshal([]byte(content), &out); err != nil {
		return nil, errors.Wrap(err, "parse refinement reply")
	}
	return out.ExerciseIDs, nil
}

var _ Refiner = (*OpenAIRefiner)(nil)
