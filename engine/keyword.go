package engine

import (
	"regexp"
	"strings"

	"github.com/smallnest/chatpipe/pipeline"
)

// matchKeyword returns the handle of the first configured keyword that occurs
// in text as a whole word, ignoring case, or the default handle.
func matchKeyword(text string, keywords []string) string {
	for _, k := range keywords {
		k = strings.ToLower(strings.TrimSpace(k))
		re := regexp.MustCompile(`(?i)(^|[^\p{L}\p{N}_])` + regexp.QuoteMeta(k) + `($|[^\p{L}\p{N}_])`)
		if re.MatchString(text) {
			return k
		}
	}
	return pipeline.HandleDefault
}

// classifyAnswer maps a model answer onto a keyword handle: an exact match
// first, then the first keyword contained in the answer, else the default.
func classifyAnswer(answer string, keywords []string) string {
	answer = strings.ToLower(strings.Trim(strings.TrimSpace(answer), ".,!?:;\"'`*"))
	handles := make([]string, len(keywords))
	for i, k := range keywords {
		handles[i] = strings.ToLower(strings.TrimSpace(k))
		if handles[i] == answer {
			return handles[i]
		}
	}
	for _, h := range handles {
		if strings.Contains(answer, h) {
			return h
		}
	}
	return pipeline.HandleDefault
}
