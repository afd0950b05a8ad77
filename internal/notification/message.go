package notification

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/behzadon/rulebook/internal/domain"
	"github.com/google/shlex"
)

// MaxMessageLength is the Telegram limit for one text message.
const MaxMessageLength = 4096

const ManualPollUsage = `Uso: /sondaggio_manuale "Domanda" "Opzione vincente" ["Opz1|Opz2|..."]`

// SplitMessage cuts text into chunks of at most limit runes, breaking on
// line boundaries when a line fits.
func SplitMessage(text string, limit int) []string {
	if limit <= 0 {
		limit = MaxMessageLength
	}
	if utf8.RuneCountInString(text) <= limit {
		return []string{text}
	}

	var (
		chunks  []string
		current strings.Builder
		size    int
	)
	flush := func() {
		if size > 0 {
			chunks = append(chunks, current.String())
			current.Reset()
			size = 0
		}
	}

	for _, line := range strings.SplitAfter(text, "\n") {
		n := utf8.RuneCountInString(line)
		if size+n <= limit {
			current.WriteString(line)
			size += n
			continue
		}
		flush()
		for n > limit {
			head, tail := splitRunes(line, limit)
			chunks = append(chunks, head)
			line = tail
			n -= limit
		}
		current.WriteString(line)
		size = n
	}
	flush()
	return chunks
}

func splitRunes(s string, n int) (string, string) {
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos], s[pos:]
		}
		i++
	}
	return s, ""
}

// ParseManualPoll reads the arguments of /sondaggio_manuale: a quoted
// question, a quoted winning option and an optional "A|B|C" option list.
// A leading /command token is skipped.
func ParseManualPoll(text string) (domain.InlinePoll, error) {
	tokens, err := shlex.Split(text)
	if err != nil {
		return domain.InlinePoll{}, fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}
	if len(tokens) > 0 && strings.HasPrefix(tokens[0], "/") {
		tokens = tokens[1:]
	}
	if len(tokens) < 2 || strings.TrimSpace(tokens[0]) == "" || strings.TrimSpace(tokens[1]) == "" {
		return domain.InlinePoll{}, fmt.Errorf("%w: %s", domain.ErrInvalidInput, ManualPollUsage)
	}

	poll := domain.InlinePoll{
		Question:      strings.TrimSpace(tokens[0]),
		WinningOption: strings.TrimSpace(tokens[1]),
	}
	if len(tokens) >= 3 {
		for _, opt := range strings.Split(tokens[2], "|") {
			if opt = strings.TrimSpace(opt); opt != "" {
				poll.Options = append(poll.Options, opt)
			}
		}
	}
	return poll, nil
}
