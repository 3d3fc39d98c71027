package prompt

import "fmt"

// DetailedExplanationPrompt asks for an in-depth Russian explanation of one mistake.
func DetailedExplanationPrompt(original, corrected, brief string) string {
	return fmt.Sprintf(`Provide a detailed explanation in Russian for this English mistake:
Original: "%s"
Correct: "%s"
Basic explanation: "%s"

Provide a comprehensive explanation in Russian covering:
1. What the mistake was
2. Why it's incorrect
3. The grammar rule that applies
4. Example of correct usage
5. Tips to remember this rule

Keep it concise but informative.`, original, corrected, brief)
}

// FallbackExplanation is used when the detailed explanation cannot be generated.
func FallbackExplanation(original, corrected, brief string) string {
	return fmt.Sprintf(`Подробное объяснение ошибки:

Ваш текст: "%s"
Правильный вариант: "%s"

%s

Это распространенная ошибка среди изучающих английский язык. Запомните правильную форму и попробуйте использовать её в других предложениях для закрепления.`, original, corrected, brief)
}
