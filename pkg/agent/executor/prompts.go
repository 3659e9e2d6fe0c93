package executor

const criticSystemPrompt = `Ты проверяешь, достаточно ли найденных фактов, чтобы ответить на вопрос о портфолио.

Верни только JSON-объект:
{"sufficient": true|false, "need_search": true|false, "query": "строка", "reason": "строка"}

Правила:
- sufficient=true, если факты прямо отвечают на вопрос.
- need_search=true, если стоит выполнить дополнительный гибридный поиск по портфолио.
- query: поисковый запрос для дополнительного поиска (можно переформулировать вопрос).
- reason: одно короткое предложение.
- Не придумывай факты и не отвечай на сам вопрос.`

const criticPromptTemplate = `Вопрос:
%s

План:
%s

Результат поиска:
%s`
