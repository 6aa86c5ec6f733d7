package tools

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// DiscoverResult is one ranked candidate returned by the discover tool.
type DiscoverResult struct {
	Path        string `json:"path"`
	Description string `json:"description"`
	Signature   string `json:"signature,omitempty"`
	Example     string `json:"example,omitempty"`
	Score       int    `json:"score"`
}

// NewDiscoverTool builds the built-in "discover" tool over the
// registry. Given a query it returns a ranked list of candidate tool
// paths with signature hints and example invocations. Ranking is
// deterministic: token overlap, path-segment matches, and namespace
// hints, ties broken lexicographically by path.
func NewDiscoverTool(registry *Registry) *Definition {
	return &Definition{
		Path:        "discover",
		Description: "Search the tool catalog. Returns ranked candidate tool paths with signatures and examples.",
		Approval:    ApprovalAuto,
		Metadata: &Metadata{
			Args:    "(query: string, limit?: number)",
			Returns: "{results: [{path, description, signature, example, score}]}",
			Example: `tools.discover({query: "send email"})`,
		},
		InputSchema: `{
			"type": "object",
			"properties": {
				"query": {"type": "string"},
				"limit": {"type": "number"}
			},
			"required": ["query"]
		}`,
		Run: func(ctx context.Context, input map[string]any, rc *RunContext) (any, error) {
			query, _ := input["query"].(string)
			limit := 10
			if n, ok := input["limit"].(float64); ok && n > 0 {
				limit = int(n)
			}

			results := Rank(registry.List(), query)
			if len(results) > limit {
				results = results[:limit]
			}
			return map[string]any{"results": results}, nil
		},
	}
}

// Rank scores every definition against the query and returns matches
// in descending score order, ties broken by path.
func Rank(defs []*Definition, query string) []DiscoverResult {
	tokens := tokenize(query)
	var results []DiscoverResult
	for _, def := range defs {
		if def.Path == "discover" {
			continue
		}
		score := scoreTool(def, tokens)
		if score == 0 {
			continue
		}
		res := DiscoverResult{
			Path:        def.Path,
			Description: def.Description,
			Score:       score,
		}
		if def.Metadata != nil {
			res.Signature = def.Metadata.Args
			res.Example = def.Metadata.Example
		}
		if res.Example == "" {
			res.Example = fmt.Sprintf("tools.%s({})", def.Path)
		}
		results = append(results, res)
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Path < results[j].Path
	})
	return results
}

// scoreTool weighs exact path-segment hits over description overlap,
// with a namespace bonus when a token names the tool's first segment.
func scoreTool(def *Definition, tokens []string) int {
	if len(tokens) == 0 {
		return 0
	}
	segments := strings.Split(strings.ToLower(def.Path), ".")
	namespace := segments[0]
	descTokens := map[string]bool{}
	for _, t := range tokenize(def.Description) {
		descTokens[t] = true
	}

	score := 0
	for _, token := range tokens {
		for _, seg := range segments {
			if seg == token {
				score += 3
			} else if strings.Contains(seg, token) {
				score += 2
			}
		}
		if token == namespace {
			score += 2
		}
		if descTokens[token] {
			score++
		}
	}
	return score
}

func tokenize(s string) []string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !('a' <= r && r <= 'z') && !('0' <= r && r <= '9')
	})
	var tokens []string
	for _, f := range fields {
		if len(f) > 1 {
			tokens = append(tokens, f)
		}
	}
	return tokens
}
