package render

import (
	"strings"

	"github.com/OFFIS-RIT/folio/backend/pkg/agent/plan"
)

const defaultInstruction = "Естественный русский язык"

var renderInstructions = map[plan.RenderStyle]string{
	plan.RenderBullets:        "Оформи ответ маркированным списком",
	plan.RenderGroupedBullets: "Сгруппируй пункты по категориям с короткими заголовками",
	plan.RenderShort:          "Ответь кратко, в 2-3 предложениях",
	plan.RenderTable:          "Сохрани табличный формат",
}

var answerInstructions = map[plan.AnswerStyle]string{
	plan.AnswerNatural:     "Пиши естественным русским языком",
	plan.AnswerConcise:     "Будь максимально краток",
	plan.AnswerDetailed:    "Дай развёрнутый ответ, используя все детали из фактов",
	plan.AnswerEnumeration: "Перечисли все элементы без пропусков",
}

// StyleInstruction describes the requested answer shape for the answer
// model.
func StyleInstruction(rs plan.RenderStyle, as plan.AnswerStyle) string {
	var parts []string
	if s, ok := renderInstructions[rs]; ok {
		parts = append(parts, s)
	}
	if s, ok := answerInstructions[as]; ok {
		parts = append(parts, s)
	}
	if len(parts) == 0 {
		return defaultInstruction
	}
	return strings.Join(parts, "; ")
}
