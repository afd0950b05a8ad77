// Package notification renders the Italian chat replies for apply outcomes,
// the rulebook and reminders.
package notification

import (
	"fmt"
	"strings"

	"github.com/behzadon/rulebook/internal/domain"
)

const (
	msgInternalError = "❌ Errore interno. Riprova più tardi."
	msgEmptyRulebook = "❌ Nessuna regola caricata nel sistema. Contatta l'amministratore."
	msgNoReminders   = "Nessun promemoria salvato per questo gruppo."
)

var failureReplies = map[domain.FailureKind]string{
	domain.FailureUnauthorized:       "❌ Solo gli amministratori possono applicare un sondaggio.",
	domain.FailurePollNotFound:       "❌ Sondaggio non trovato nel database. Rispondi al messaggio del sondaggio con /applica_sondaggio oppure riprova più tardi.",
	domain.FailureNoActionDetermined: "❌ Non sono riuscito a capire l'azione dal sondaggio. Riformula la domanda o rendi più chiare le opzioni (es. sì/no).",
	domain.FailureMissingRuleNumber:  "❌ Numero di regola mancante o non valido. Rendi più chiara la domanda o specifica meglio la regola.",
	domain.FailureEmptyContent:       "❌ Nessun contenuto proposto trovato nel sondaggio. Usa la forma: 'Regola N: testo...' oppure 'Nuova regola: testo...'",
	domain.FailureInvalidInput:       "❌ Richiesta non valida. " + ManualPollUsage,
	domain.FailureTimedOut:           "⏱️ L'assistente non ha risposto in tempo. Riprova tra poco.",
	domain.FailureTransient:          msgInternalError,
}

// Render returns the reply for an apply call. err takes precedence over outcome.
func Render(outcome domain.Outcome, err error) string {
	if err != nil {
		if reply, ok := failureReplies[domain.Classify(err)]; ok {
			return reply
		}
		return msgInternalError
	}

	n := outcome.RuleNumber
	switch {
	case outcome.Kind == domain.OutcomeNoOpRemoved:
		return fmt.Sprintf("ℹ️ La regola %d non esiste. Nessuna rimozione effettuata.", n)
	case outcome.Action == domain.ActionRemove:
		return fmt.Sprintf("✅ Regola %d rimossa con successo.", n)
	case outcome.Replaced:
		return fmt.Sprintf("✅ Regola %d aggiornata con successo.\n\n📋 **Regola %d aggiornata:**\n\n%s", n, n, outcome.Content)
	default:
		return fmt.Sprintf("✅ Regola %d aggiunta con successo.\n\n📋 **Nuova regola %d:**\n\n%s", n, n, outcome.Content)
	}
}

func RenderRulebook(rules []domain.Rule) string {
	if len(rules) == 0 {
		return msgEmptyRulebook
	}

	var b strings.Builder
	b.WriteString("📚 **Regolamento Completo:**\n\n")
	for _, r := range rules {
		fmt.Fprintf(&b, "**%d.** %s\n\n", r.Number, formatRuleText(r.Text))
	}
	return strings.TrimRight(b.String(), "\n")
}

func RenderRule(rule *domain.Rule) string {
	return fmt.Sprintf("📋 **Regola %d:**\n\n%s", rule.Number, formatRuleText(rule.Text))
}

func RenderRuleNotFound(number int) string {
	return fmt.Sprintf("❌ Regola %d non trovata.", number)
}

func RenderReminders(reminders []domain.Reminder) string {
	if len(reminders) == 0 {
		return msgNoReminders
	}

	lines := make([]string, 0, len(reminders))
	for _, r := range reminders {
		lines = append(lines, fmt.Sprintf("%d. %s\n   - utente %d • %s", r.ID, r.Text, r.UserID, r.CreatedAt.Format("02/01/2006 15:04")))
	}
	return "📝 Promemoria salvati:\n\n" + strings.Join(lines, "\n")
}

// formatRuleText swaps the hollow bullets of imported rule text for solid ones.
func formatRuleText(text string) string {
	return strings.ReplaceAll(text, "○", "•")
}
