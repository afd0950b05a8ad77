// Package oracle turns a poll and the current rulebook into rule directives.
package oracle

import (
	"context"

	"github.com/behzadon/rulebook/internal/domain"
)

const (
	AddRule    = "add_rule"
	UpdateRule = "update_rule"
	RemoveRule = "remove_rule"
)

type Request struct {
	Question      string
	Options       []string
	RulesSnapshot string
	// WinningOption and TallySummary are empty when unknown.
	WinningOption string
	TallySummary  string
}

type Arguments struct {
	RuleNumber *int    `json:"rule_number,omitempty"`
	Content    *string `json:"content,omitempty"`
}

type Directive struct {
	Name      string    `json:"name"`
	Arguments Arguments `json:"arguments"`
}

// Oracle proposes directives in preference order. An empty slice means the
// oracle found nothing to do.
type Oracle interface {
	Decide(ctx context.Context, req Request) ([]Directive, error)
}

// ActionFor maps a directive name to a rulebook action.
func ActionFor(name string) (domain.Action, bool) {
	switch name {
	case AddRule:
		return domain.ActionAdd, true
	case UpdateRule:
		return domain.ActionUpdate, true
	case RemoveRule:
		return domain.ActionRemove, true
	default:
		return "", false
	}
}

// First returns the first directive naming a known action. Later directives
// are ignored even when they are also valid.
func First(directives []Directive) (Directive, domain.Action, bool) {
	for _, d := range directives {
		if action, ok := ActionFor(d.Name); ok {
			return d, action, true
		}
	}
	return Directive{}, "", false
}
