// Package answer phrases the final reply from rendered facts. It covers
// the not-found path, a deterministic reply for technology usage
// questions and the model call with its clean-up.
package answer

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/OFFIS-RIT/folio/backend/internal/util"
	"github.com/OFFIS-RIT/folio/backend/pkg/agent/facts"
	"github.com/OFFIS-RIT/folio/backend/pkg/agent/plan"
	"github.com/OFFIS-RIT/folio/backend/pkg/agent/render"
	"github.com/OFFIS-RIT/folio/backend/pkg/ai"
	"github.com/OFFIS-RIT/folio/backend/pkg/logger"
	"github.com/OFFIS-RIT/folio/backend/pkg/rules"
)

var log = logger.For("answer")

const answerTemperature = 0.3

// Source tells how an answer was produced.
type Source string

const (
	SourceNotFound      Source = "not_found"
	SourceDeterministic Source = "deterministic"
	SourceModel         Source = "model"
	SourceRendered      Source = "rendered"
)

// Result is a generated answer.
type Result struct {
	Text     string
	Source   Source
	Warnings []string
	// Degraded is set when the model failed and Text is the rendered
	// context.
	Degraded bool
}

type Generator struct {
	client ai.Client
	model  string
	rules  *rules.Rules
}

func NewGenerator(client ai.Client, model string, r *rules.Rules) *Generator {
	if r == nil {
		r = rules.Default()
	}
	return &Generator{client: client, model: model, rules: r}
}

// Generate produces the answer for payload. rendered is the deterministic
// rendering of the normalized facts and systemExtra is appended to the
// system prompt. A model failure returns the rendered facts with a warning.
func (g *Generator) Generate(ctx context.Context, payload facts.Payload, rendered, systemExtra string) Result {
	intent := payload.PrimaryIntent()
	evidence := strings.TrimSpace(payload.Meta.Evidence)
	if !payload.Found && len(payload.Items) == 0 && evidence == "" {
		return Result{Text: NotFound(intent, g.rules), Source: SourceNotFound}
	}

	var usage string
	if slices.Contains(payload.Intents, plan.IntentTechnologyUsage) {
		usage = UsageAnswer(TechnologyUsage(payload.Query, payload.Items, evidence))
		if usage != "" && len(payload.Intents) == 1 {
			log.Debug("Deterministic technology usage answer")
			return Result{Text: usage, Source: SourceDeterministic}
		}
	}

	rendered = strings.TrimSpace(rendered)
	if rendered == "" {
		rendered = evidence
	}
	if rendered == "" {
		return Result{Text: NotFound(intent, g.rules), Source: SourceNotFound}
	}
	if g.client == nil {
		return Result{Text: rendered, Source: SourceRendered}
	}

	warnings := ""
	if len(payload.Warnings) > 0 {
		warnings = fmt.Sprintf(warningsTemplate, strings.Join(payload.Warnings, "; "))
	}
	prompt := fmt.Sprintf(promptTemplate,
		payload.Query,
		rendered,
		render.StyleInstruction(payload.RenderStyle, payload.AnswerStyle),
		warnings,
	)
	system := systemPrompt
	if extra := strings.TrimSpace(systemExtra); extra != "" {
		system += "\n\n" + extra
	}

	reply, err := g.client.GenerateCompletion(
		ctx,
		prompt,
		ai.WithModel(g.model),
		ai.WithSystemPrompts(system),
		ai.WithTemperature(answerTemperature),
	)
	if err != nil {
		log.Warn("Answer generation failed, returning rendered facts", "err", err)
		return Result{
			Text:     rendered,
			Source:   SourceRendered,
			Warnings: []string{fmt.Sprintf("Генерация ответа не удалась: %v", err)},
			Degraded: true,
		}
	}

	text := PostProcess(reply, g.rules)
	if text == "" {
		log.Warn("Answer model returned empty text")
		return Result{Text: rendered, Source: SourceRendered, Degraded: true}
	}
	if usage != "" && g.rules.IsNotFoundAnswer(text) {
		log.Info("Model answer looks like not found, using technology usage facts",
			"answer", util.Truncate(text, 120),
		)
		return Result{Text: usage, Source: SourceDeterministic}
	}
	return Result{Text: text, Source: SourceModel}
}
