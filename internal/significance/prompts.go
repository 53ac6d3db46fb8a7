package significance

import (
	"fmt"
	"strings"

	"github.com/jkaninda/mazoea/internal/domain"
)

const systemPrompt = `You observe recurring exchanges between two people in a long-running conversation.
Given a recurring pattern and a few example excerpts, write ONE short sentence describing
what this small ritual might mean to the relationship. Be warm and specific, never clinical.
Do not mention pattern detection, counts, or analysis. Reply with the sentence only.`

func buildPrompt(entry *domain.RitualEntry, examples []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Recurring pattern: %s\n", entry.Description)
	fmt.Fprintf(&b, "Kind: %s\n", entry.PatternType)
	fmt.Fprintf(&b, "Usually started by: %s\n", initiatorLabel(entry.PrimaryInitiator))
	if len(examples) > 0 {
		b.WriteString("Recent examples:\n")
		for _, ex := range examples {
			fmt.Fprintf(&b, "- %s\n", ex)
		}
	}
	b.WriteString("\nWhat might this ritual mean to them?")
	return b.String()
}

func initiatorLabel(in domain.Initiator) string {
	switch in {
	case domain.InitiatorPartyA:
		return "the first person"
	case domain.InitiatorPartyB:
		return "the second person"
	default:
		return "both of them"
	}
}
