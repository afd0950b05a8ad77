package oracle

import (
	"fmt"
	"strings"
)

var ruleTools = []tool{
	{
		Type: "function",
		Function: toolFunction{
			Name:        AddRule,
			Description: "Aggiungi una nuova regola quando nessuna regola esistente tratta lo stesso tema.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"rule_number": map[string]any{
						"type":        []string{"integer", "null"},
						"description": "Numero da assegnare; null per usare il primo numero libero.",
					},
					"content": map[string]any{
						"type":        "string",
						"description": "Testo completo della nuova regola.",
					},
				},
				"required": []string{"content"},
			},
		},
	},
	{
		Type: "function",
		Function: toolFunction{
			Name:        UpdateRule,
			Description: "Sostituisci il testo di una regola esistente con la nuova versione completa.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"rule_number": map[string]any{
						"type":        "integer",
						"description": "Numero della regola da aggiornare.",
					},
					"content": map[string]any{
						"type":        "string",
						"description": "Nuovo testo completo della regola.",
					},
				},
				"required": []string{"rule_number", "content"},
			},
		},
	},
	{
		Type: "function",
		Function: toolFunction{
			Name:        RemoveRule,
			Description: "Elimina una regola esistente.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"rule_number": map[string]any{
						"type":        "integer",
						"description": "Numero della regola da eliminare.",
					},
				},
				"required": []string{"rule_number"},
			},
		},
	},
}

const systemPrompt = `Gestisci il regolamento ufficiale di una lega. Dato l'esito di un sondaggio scegli una sola funzione tra add_rule, update_rule e remove_rule.

Scelta dell'azione:
- update_rule se una regola esistente tratta già il tema del sondaggio; non creare duplicati.
- remove_rule se il sondaggio chiede se mantenere o abolire una regola e prevale l'abolizione.
- add_rule solo se il sondaggio introduce un tema che il regolamento non copre.

Individua il numero della regola confrontando la domanda con il regolamento fornito nel formato "numero. testo". Se più regole sono simili scegli la più specifica.

Per update_rule e add_rule restituisci il testo completo, in italiano formale, pronto per essere inserito nel regolamento. Modifica solo ciò che il sondaggio decide e riporta numeri e unità esattamente come espressi. Per remove_rule non fornire content.

Il risultato deve essere coerente con l'opzione vincente; sì, si, ok e yes valgono come approvazione, no e abolire come rifiuto. Non inventare valori o criteri assenti dal sondaggio o dalla regola esistente.`

func userPrompt(req Request) string {
	winner := req.WinningOption
	if winner == "" {
		winner = "sconosciuto"
	}
	summary := req.TallySummary
	if summary == "" {
		summary = "n.d."
	}
	rules := req.RulesSnapshot
	if strings.TrimSpace(rules) == "" {
		rules = "(regolamento vuoto)"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Domanda sondaggio: %s\n", req.Question)
	fmt.Fprintf(&b, "Opzioni: %s\n", strings.Join(req.Options, ", "))
	fmt.Fprintf(&b, "Vincitore: %s\n", winner)
	fmt.Fprintf(&b, "Risultati: %s\n\n", summary)
	fmt.Fprintf(&b, "Regolamento:\n%s\n", rules)
	return b.String()
}
