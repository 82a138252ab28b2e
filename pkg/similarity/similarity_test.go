package similarity

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hephaestus-ai/hephaestus/pkg/config"
	"github.com/hephaestus-ai/hephaestus/pkg/models"
)

type fakeEmbedder struct {
	vector []float32
	err    error
	calls  int
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.vector, nil
}

type fakeStore struct {
	phaseTasks []*models.Task
	related    []*models.RelatedTask
}

func (f *fakeStore) ListTasksByPhase(ctx context.Context, phaseID string) ([]*models.Task, error) {
	return f.phaseTasks, nil
}

func (f *fakeStore) CreateRelatedTask(ctx context.Context, r *models.RelatedTask) error {
	f.related = append(f.related, r)
	return nil
}

func TestCosineSimilarity_Identical(t *testing.T) {
	a := []float32{1, 0, 0}
	assert.InDelta(t, 1.0, CosineSimilarity(a, a), 1e-9)
}

func TestCosineSimilarity_Orthogonal(t *testing.T) {
	a := []float32{1, 0}
	b := []float32{0, 1}
	assert.InDelta(t, 0.0, CosineSimilarity(a, b), 1e-9)
}

func TestCosineSimilarity_ZeroAndMismatchedInputs(t *testing.T) {
	assert.Equal(t, 0.0, CosineSimilarity(nil, []float32{1}))
	assert.Equal(t, 0.0, CosineSimilarity([]float32{0, 0}, []float32{1, 1}))
	assert.Equal(t, 0.0, CosineSimilarity([]float32{1, 2}, []float32{1, 2, 3}))
}

func TestCosineSimilarity_ClippedToUnitRange(t *testing.T) {
	a := []float32{1, 1}
	b := []float32{1.0000001, 1.0000001}
	sim := CosineSimilarity(a, b)
	assert.False(t, math.IsNaN(sim))
	assert.LessOrEqual(t, sim, 1.0)
	assert.GreaterOrEqual(t, sim, -1.0)
}

func TestBatchSimilarity_PreservesOrder(t *testing.T) {
	query := []float32{1, 0}
	candidates := [][]float32{{1, 0}, {0, 1}, {-1, 0}}
	out := BatchSimilarity(query, candidates)
	require.Len(t, out, 3)
	assert.InDelta(t, 1.0, out[0], 1e-9)
	assert.InDelta(t, 0.0, out[1], 1e-9)
	assert.InDelta(t, -1.0, out[2], 1e-9)
}

func phaseTask(id string, status models.TaskStatus, embedding []float32) *models.Task {
	return &models.Task{ID: id, Status: status, Embedding: embedding}
}

func TestCheckTaskDuplicate_NoPhaseIsNeverADuplicate(t *testing.T) {
	svc := NewService(&fakeEmbedder{}, &fakeStore{}, config.DefaultSimilarityConfig())
	task := &models.Task{ID: "t1"}

	res, err := svc.CheckTaskDuplicate(context.Background(), task, "text")
	require.NoError(t, err)
	assert.False(t, res.IsDuplicate)
	assert.Empty(t, res.Related)
}

func TestCheckTaskDuplicate_AboveThresholdIsDuplicate(t *testing.T) {
	phaseID := "phase1"
	dup := phaseTask("dup", models.TaskStatusQueued, []float32{1, 0})
	st := &fakeStore{phaseTasks: []*models.Task{dup}}
	embedder := &fakeEmbedder{vector: []float32{1, 0}}
	svc := NewService(embedder, st, config.DefaultSimilarityConfig())

	task := &models.Task{ID: "t1", PhaseID: &phaseID}
	res, err := svc.CheckTaskDuplicate(context.Background(), task, "text")
	require.NoError(t, err)
	assert.True(t, res.IsDuplicate)
	assert.Equal(t, "dup", res.DuplicateOf.ID)
	assert.InDelta(t, 1.0, res.Similarity, 1e-9)
	assert.Equal(t, 1, embedder.calls)
	assert.Equal(t, []float32{1, 0}, task.Embedding)
}

func TestCheckTaskDuplicate_SkipsAlreadyEmbeddedTask(t *testing.T) {
	phaseID := "phase1"
	st := &fakeStore{}
	embedder := &fakeEmbedder{vector: []float32{9, 9}}
	svc := NewService(embedder, st, config.DefaultSimilarityConfig())

	task := &models.Task{ID: "t1", PhaseID: &phaseID, Embedding: []float32{1, 0}}
	_, err := svc.CheckTaskDuplicate(context.Background(), task, "text")
	require.NoError(t, err)
	assert.Equal(t, 0, embedder.calls)
}

func TestCheckTaskDuplicate_ExcludesFailedAndDuplicatedCandidates(t *testing.T) {
	phaseID := "phase1"
	failed := phaseTask("failed", models.TaskStatusFailed, []float32{1, 0})
	duplicated := phaseTask("duplicated", models.TaskStatusDuplicated, []float32{1, 0})
	st := &fakeStore{phaseTasks: []*models.Task{failed, duplicated}}
	embedder := &fakeEmbedder{vector: []float32{1, 0}}
	svc := NewService(embedder, st, config.DefaultSimilarityConfig())

	task := &models.Task{ID: "t1", PhaseID: &phaseID}
	res, err := svc.CheckTaskDuplicate(context.Background(), task, "text")
	require.NoError(t, err)
	assert.False(t, res.IsDuplicate)
	assert.Empty(t, res.Related)
}

func TestCheckTaskDuplicate_ExcludesSelf(t *testing.T) {
	phaseID := "phase1"
	self := phaseTask("t1", models.TaskStatusQueued, []float32{1, 0})
	st := &fakeStore{phaseTasks: []*models.Task{self}}
	embedder := &fakeEmbedder{vector: []float32{1, 0}}
	svc := NewService(embedder, st, config.DefaultSimilarityConfig())

	task := &models.Task{ID: "t1", PhaseID: &phaseID}
	res, err := svc.CheckTaskDuplicate(context.Background(), task, "text")
	require.NoError(t, err)
	assert.False(t, res.IsDuplicate)
}

func TestCheckTaskDuplicate_RelatedBandAndLimit(t *testing.T) {
	phaseID := "phase1"
	cfg := config.DefaultSimilarityConfig()
	cfg.RelatedLimit = 1

	// Cosine(query, {1,1}) ~ 0.707 — between REL(0.70) and DUP(0.85).
	related := phaseTask("related", models.TaskStatusQueued, []float32{1, 1})
	// Far below REL.
	unrelated := phaseTask("unrelated", models.TaskStatusQueued, []float32{0, 1})
	st := &fakeStore{phaseTasks: []*models.Task{related, unrelated}}
	embedder := &fakeEmbedder{vector: []float32{1, 0}}
	svc := NewService(embedder, st, cfg)

	task := &models.Task{ID: "t1", PhaseID: &phaseID}
	res, err := svc.CheckTaskDuplicate(context.Background(), task, "text")
	require.NoError(t, err)
	assert.False(t, res.IsDuplicate)
	require.Len(t, res.Related, 1)
	assert.Equal(t, "related", res.Related[0].Task.ID)
}

func TestCheckTaskDuplicate_EmbeddingFailureDegradesGracefully(t *testing.T) {
	phaseID := "phase1"
	embedder := &fakeEmbedder{err: assert.AnError}
	svc := NewService(embedder, &fakeStore{}, config.DefaultSimilarityConfig())

	task := &models.Task{ID: "t1", PhaseID: &phaseID}
	res, err := svc.CheckTaskDuplicate(context.Background(), task, "text")
	require.NoError(t, err)
	assert.False(t, res.IsDuplicate)
	assert.Empty(t, res.Related)
}

func TestPersistRelated_WritesEachRow(t *testing.T) {
	st := &fakeStore{}
	svc := NewService(&fakeEmbedder{}, st, config.DefaultSimilarityConfig())

	related := []RelatedMatch{
		{Task: &models.Task{ID: "a"}, Score: 0.8},
		{Task: &models.Task{ID: "b"}, Score: 0.75},
	}
	require.NoError(t, svc.PersistRelated(context.Background(), "subject", related))
	require.Len(t, st.related, 2)
	assert.Equal(t, "subject", st.related[0].TaskID)
	assert.Equal(t, "a", st.related[0].RelatedTaskID)
	assert.Equal(t, 0.8, st.related[0].SimilarityScore)
}

func TestTicketEmbeddingText_WeightsTitleAndTags(t *testing.T) {
	text := TicketEmbeddingText("Fix login bug", "Users cannot log in", []string{"auth", "bug", "urgent"})
	assert.Contains(t, text, "Fix login bug")
	assert.Contains(t, text, "Users cannot log in")
	assert.Contains(t, text, "auth")
}

func TestTicketEmbeddingText_NoTags(t *testing.T) {
	text := TicketEmbeddingText("Title", "Description", nil)
	assert.Contains(t, text, "Title")
	assert.Contains(t, text, "Description")
}
