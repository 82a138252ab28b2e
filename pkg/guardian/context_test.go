package guardian

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/hephaestus-ai/hephaestus/pkg/models"
)

func logAt(typ models.AgentLogType, content string, t time.Time) *models.AgentLog {
	return &models.AgentLog{Type: typ, Content: content, Timestamp: t}
}

func TestExtractAccumulatedContext_OverallGoalFromFirstInput(t *testing.T) {
	now := time.Now()
	logs := []*models.AgentLog{
		logAt(models.AgentLogTypeInput, "Implement the login endpoint. Return 200 on success.", now),
	}
	ec := extractAccumulatedContext(logs)
	assert.Equal(t, "Implement the login endpoint.", ec.OverallGoal)
}

func TestExtractAccumulatedContext_EvolvedGoal(t *testing.T) {
	now := time.Now()
	logs := []*models.AgentLog{
		logAt(models.AgentLogTypeInput, "Implement login.", now),
		logAt(models.AgentLogTypeMessage, "Actually, let's switch focus to the signup flow instead.", now.Add(time.Second)),
	}
	ec := extractAccumulatedContext(logs)
	if assert.Len(t, ec.EvolvedGoals, 1) {
		assert.Contains(t, ec.EvolvedGoals[0], "switch focus to")
	}
}

func TestExtractAccumulatedContext_ConstraintAndLift(t *testing.T) {
	now := time.Now()
	logs := []*models.AgentLog{
		logAt(models.AgentLogTypeInput, "Build the export job. You must not touch the billing table.", now),
		logAt(models.AgentLogTypeMessage, "You can now touch the billing table, we finished the migration.", now.Add(time.Minute)),
	}
	ec := extractAccumulatedContext(logs)
	assert.Empty(t, ec.ActiveConstraints, "lifted constraint should be dropped from the active set")
	assert.Len(t, ec.LiftedConstraints, 1)
}

func TestExtractAccumulatedContext_ConstraintSurvivesWithoutLift(t *testing.T) {
	now := time.Now()
	logs := []*models.AgentLog{
		logAt(models.AgentLogTypeInput, "Refactor the parser. Never delete the legacy fixtures.", now),
		logAt(models.AgentLogTypeOutput, "Working on the tokenizer now.", now.Add(time.Second)),
	}
	ec := extractAccumulatedContext(logs)
	if assert.Len(t, ec.ActiveConstraints, 1) {
		assert.Contains(t, ec.ActiveConstraints[0], "legacy fixtures")
	}
}

func TestExtractAccumulatedContext_StandingInstruction(t *testing.T) {
	now := time.Now()
	logs := []*models.AgentLog{
		logAt(models.AgentLogTypeInput, "Fix the flaky test. From now on, always run go vet before committing.", now),
	}
	ec := extractAccumulatedContext(logs)
	if assert.Len(t, ec.StandingInstructions, 1) {
		assert.Contains(t, ec.StandingInstructions[0], "always run go vet")
	}
}

func TestExtractAccumulatedContext_DiscoveredBlocker(t *testing.T) {
	now := time.Now()
	logs := []*models.AgentLog{
		logAt(models.AgentLogTypeOutput, "I am blocked by a missing migration file.", now),
	}
	ec := extractAccumulatedContext(logs)
	if assert.Len(t, ec.DiscoveredBlockers, 1) {
		assert.Contains(t, ec.DiscoveredBlockers[0], "missing migration file")
	}
}

func TestExtractAccumulatedContext_ResolvedReference(t *testing.T) {
	now := time.Now()
	logs := []*models.AgentLog{
		logAt(models.AgentLogTypeInput, "Update the `AuthService` to validate tokens.", now),
		logAt(models.AgentLogTypeMessage, "This needs a unit test too.", now.Add(time.Second)),
	}
	ec := extractAccumulatedContext(logs)
	if assert.Len(t, ec.ResolvedReferences, 1) {
		assert.Contains(t, ec.ResolvedReferences[0], "AuthService")
	}
}

func TestExtractAccumulatedContext_CurrentFocusIsLastSentence(t *testing.T) {
	now := time.Now()
	logs := []*models.AgentLog{
		logAt(models.AgentLogTypeInput, "Start the migration.", now),
		logAt(models.AgentLogTypeOutput, "Running the final verification pass.", now.Add(time.Second)),
	}
	ec := extractAccumulatedContext(logs)
	assert.Equal(t, "Running the final verification pass.", ec.CurrentFocus)
}

func TestRenderAccumulatedContext_IncludesAllSections(t *testing.T) {
	now := time.Now()
	logs := []*models.AgentLog{
		logAt(models.AgentLogTypeInput, "Implement login. Never log raw passwords.", now),
		logAt(models.AgentLogTypeMessage, "Always run the linter before pushing.", now.Add(time.Second)),
		logAt(models.AgentLogTypeOutput, "I am blocked by a missing API key.", now.Add(2*time.Second)),
	}
	text := renderAccumulatedContext(extractAccumulatedContext(logs))
	assert.Contains(t, text, "overall goal:")
	assert.Contains(t, text, "active constraints:")
	assert.Contains(t, text, "standing instructions:")
	assert.Contains(t, text, "discovered blockers:")
	assert.Contains(t, text, "current focus:")
}
