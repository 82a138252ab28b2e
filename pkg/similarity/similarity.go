// Package similarity implements EmbeddingService and TaskSimilarityService
// (spec §4.3): cosine similarity over task/ticket embeddings, duplicate and
// related-task detection scoped to a single phase, and weighted ticket
// text embedding. Embedding failures degrade gracefully — a task that
// cannot be embedded is simply treated as having no duplicates or
// relations rather than blocking creation.
package similarity

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/hephaestus-ai/hephaestus/pkg/config"
	"github.com/hephaestus-ai/hephaestus/pkg/models"
)

// Embedder is the subset of pkg/llm.Client similarity needs.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Store is the subset of pkg/store.Store TaskSimilarityService needs.
type Store interface {
	ListTasksByPhase(ctx context.Context, phaseID string) ([]*models.Task, error)
	CreateRelatedTask(ctx context.Context, r *models.RelatedTask) error
}

// Service implements EmbeddingService and TaskSimilarityService.
type Service struct {
	embedder Embedder
	store    Store
	cfg      *config.SimilarityConfig
}

// NewService builds a Service. cfg supplies the configured duplicate/related
// thresholds (spec §4.3: "exact threshold from config").
func NewService(embedder Embedder, st Store, cfg *config.SimilarityConfig) *Service {
	if cfg == nil {
		cfg = config.DefaultSimilarityConfig()
	}
	return &Service{embedder: embedder, store: st, cfg: cfg}
}

// Embed wraps the LLM embedding call. Kept as a named method so call sites
// read as "the embedding service", matching the spec's module name.
func (s *Service) Embed(ctx context.Context, text string) ([]float32, error) {
	return s.embedder.Embed(ctx, text)
}

// CosineSimilarity computes (a·b)/(|a||b|), clipped to [-1, 1]. Zero-norm
// inputs (including mismatched-length vectors) yield 0 (spec §4.3).
func CosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	sim := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	if sim > 1 {
		return 1
	}
	if sim < -1 {
		return -1
	}
	return sim
}

// BatchSimilarity computes CosineSimilarity(query, v) for every v in
// candidates, in order (spec §4.3: "batch similarity is the same
// calculation against a matrix").
func BatchSimilarity(query []float32, candidates [][]float32) []float64 {
	out := make([]float64, len(candidates))
	for i, c := range candidates {
		out[i] = CosineSimilarity(query, c)
	}
	return out
}

// scored pairs a candidate task with its similarity to the subject.
type scored struct {
	task  *models.Task
	score float64
}

// DuplicateResult is the outcome of CheckTaskDuplicate.
type DuplicateResult struct {
	// IsDuplicate is true when s_max >= DUP.
	IsDuplicate   bool
	DuplicateOf   *models.Task
	Similarity    float64
	// Related holds up to RelatedLimit tasks with REL <= s < DUP,
	// ordered by descending similarity.
	Related []RelatedMatch
}

// RelatedMatch is one REL-band hit.
type RelatedMatch struct {
	Task  *models.Task
	Score float64
}

// CheckTaskDuplicate embeds the task (if it has no embedding yet) and
// compares it against every other embedded task in the same phase that is
// not failed or duplicated (done tasks are compared too),
// enforcing mandatory phase isolation (spec §4.3). On embedding failure it
// returns a zero-value, non-duplicate result rather than an error, per the
// spec's "never block task creation" rule — callers should still log the
// cause.
func (s *Service) CheckTaskDuplicate(ctx context.Context, task *models.Task, enrichedText string) (DuplicateResult, error) {
	if task.PhaseID == nil {
		return DuplicateResult{}, nil
	}

	embedding := task.Embedding
	if len(embedding) == 0 {
		emb, err := s.embedder.Embed(ctx, enrichedText)
		if err != nil {
			return DuplicateResult{}, nil
		}
		embedding = emb
		task.Embedding = emb
	}

	candidates, err := s.store.ListTasksByPhase(ctx, *task.PhaseID)
	if err != nil {
		return DuplicateResult{}, fmt.Errorf("listing phase tasks: %w", err)
	}

	var scoredCandidates []scored
	for _, c := range candidates {
		if c.ID == task.ID {
			continue
		}
		if c.Status == models.TaskStatusFailed || c.Status == models.TaskStatusDuplicated {
			continue
		}
		if len(c.Embedding) == 0 {
			continue
		}
		scoredCandidates = append(scoredCandidates, scored{task: c, score: CosineSimilarity(embedding, c.Embedding)})
	}
	sort.Slice(scoredCandidates, func(i, j int) bool { return scoredCandidates[i].score > scoredCandidates[j].score })

	var result DuplicateResult
	if len(scoredCandidates) > 0 && scoredCandidates[0].score >= s.cfg.DuplicateThreshold {
		result.IsDuplicate = true
		result.DuplicateOf = scoredCandidates[0].task
		result.Similarity = scoredCandidates[0].score
		return result, nil
	}

	limit := s.cfg.RelatedLimit
	if limit <= 0 {
		limit = 10
	}
	for _, c := range scoredCandidates {
		if c.score < s.cfg.RelatedThreshold || c.score >= s.cfg.DuplicateThreshold {
			continue
		}
		result.Related = append(result.Related, RelatedMatch{Task: c.task, Score: c.score})
		if len(result.Related) >= limit {
			break
		}
	}
	return result, nil
}

// PersistRelated writes every entry of related as a RelatedTask row. It
// applies no cap itself; CheckTaskDuplicate already limits result.Related
// to the configured RelatedLimit (spec §4.3: "at most top-10 by similarity").
func (s *Service) PersistRelated(ctx context.Context, taskID string, related []RelatedMatch) error {
	for _, r := range related {
		if err := s.store.CreateRelatedTask(ctx, &models.RelatedTask{
			ID: uuid.NewString(), TaskID: taskID, RelatedTaskID: r.Task.ID, SimilarityScore: r.Score,
		}); err != nil {
			return fmt.Errorf("persisting related task %s: %w", r.Task.ID, err)
		}
	}
	return nil
}

// TicketEmbeddingText builds the weighted concatenation EmbeddingService
// embeds for a ticket: title counted twice, tags ~1.5x (the full tag list
// followed by its first half again, approximating the extra half-weight in
// plain text concatenation without needing a weighted-embedding API),
// description once (spec §4.3).
func TicketEmbeddingText(title, description string, tags []string) string {
	var sb strings.Builder
	sb.WriteString(title)
	sb.WriteString(" ")
	sb.WriteString(title)
	sb.WriteString(" ")
	if len(tags) > 0 {
		tagText := strings.Join(tags, " ")
		sb.WriteString(tagText)
		sb.WriteString(" ")
		// Repeat half the tag text again for the ~1.5x weighting.
		half := tags[:(len(tags)+1)/2]
		sb.WriteString(strings.Join(half, " "))
		sb.WriteString(" ")
	}
	sb.WriteString(description)
	return sb.String()
}
