package scheduler

import "github.com/autobolt/runner/internal/models"

// EscalationScore counts how many of the escalation signals a directory
// trips: requires_login, has_captcha, has_anti_bot, difficulty=hard,
// failure_rate>=0.60, selector_count<3. A directory whose score meets
// ESCALATION_THRESHOLD (default 3) is dispatched through the alternate
// driver instead of the local one.
func EscalationScore(d models.DirectoryDescriptor, failureRate float64) int {
	score:= 0
	if d.RequiresLogin {
		score++
	}
	if d.HasCaptcha {
		score++
	}
	if d.HasAntiBot {
		score++
	}
	if d.Difficulty == models.DifficultyHard {
		score++
	}
	if failureRate >= 0.60 {
		score++
	}
	if d.SelectorCount() < 3 {
		score++
	}
	return score
}

// ShouldEscalate reports whether d's escalation score meets threshold.
func ShouldEscalate(d models.DirectoryDescriptor, failureRate float64, threshold int) bool {
	return EscalationScore(d, failureRate) >= threshold
}
