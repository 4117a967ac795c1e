package flow

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/Satoshi-Niina/Emergency-Assistance-sub007/internal/models"
)

// shortDurationPhrases are always checked in addition to the phrase built
// from the step's own time limit. Flows are authored with 20 and 30 minute
// limits; answers quoting either must halt regardless of the step's limit.
var shortDurationPhrases = []string{
	"20 minutes or less",
	"30 minutes or less",
	"20 or less",
	"30 or less",
}

// CheckEmergency inspects a step's declared trigger conditions against the
// literal answer text. Only steps carrying both an emergency action and a
// time limit participate. The trigger fires when the lower-cased answer
// contains the step's time-limit phrase or one of the fixed short-duration
// phrases. This is a literal substring check, not numeric parsing: answers
// outside the known phrase set never trigger, however urgent they read.
//
// On a hit it returns the step's emergency action text and true.
func CheckEmergency(step *models.Step, answer string) (string, bool) {
	if step == nil || !step.HasEmergencyTrigger() {
		return "", false
	}
	lowered := strings.ToLower(answer)

	phrases := []string{
		fmt.Sprintf("%d minutes or less", step.TimeLimitMinutes),
		fmt.Sprintf("%d or less", step.TimeLimitMinutes),
	}
	phrases = append(phrases, shortDurationPhrases...)

	for _, phrase := range phrases {
		if strings.Contains(lowered, phrase) {
			slog.Warn("CheckEmergency: emergency trigger fired",
				"stepID", step.ID, "phrase", phrase, "timeLimitMinutes", step.TimeLimitMinutes)
			return step.EmergencyAction, true
		}
	}
	return "", false
}
