package answer

import (
	"github.com/OFFIS-RIT/folio/backend/pkg/agent/plan"
	"github.com/OFFIS-RIT/folio/backend/pkg/rules"
)

const defaultNotFound = "К сожалению, в портфолио нет информации по этому вопросу."

var notFoundByIntent = map[plan.Intent]string{
	plan.IntentCurrentJob:          "В портфолио не указано текущее место работы.",
	plan.IntentProjectDetails:      "Не удалось найти информацию об этом проекте в портфолио.",
	plan.IntentProjectAchievements: "В портфолио нет описанных достижений по этому проекту.",
	plan.IntentProjectTechStack:    "В портфолио не указан стек технологий этого проекта.",
	plan.IntentTechnologyOverview:  "В портфолио не найдено технологий по этому запросу.",
	plan.IntentTechnologyUsage:     "Не удалось найти проекты, где использовалась эта технология.",
	plan.IntentExperienceSummary:   "В портфолио нет сведений об опыте работы по этому запросу.",
	plan.IntentContacts:            "Контактные данные в портфолио не указаны.",
}

// NotFound returns the message used when nothing was found for intent.
// Unknown intents fall back to the rule table message.
func NotFound(intent plan.Intent, r *rules.Rules) string {
	if msg, ok := notFoundByIntent[intent]; ok {
		return msg
	}
	if r != nil && r.Grounding.NotFoundMessage != "" {
		return r.Grounding.NotFoundMessage
	}
	return defaultNotFound
}
