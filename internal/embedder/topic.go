package embedder

import (
	"strings"

	"github.com/dshills/finrag/internal/tokenize"
)

// Topic is the closed set of content domains an encoder can specialize in
type Topic string

const (
	TopicGeneral      Topic = "general"
	TopicFinance      Topic = "finance"
	TopicActuarial    Topic = "actuarial"
	TopicMultilingual Topic = "multilingual"
)

// classifiedTopics is the fixed precedence used to break score ties
var classifiedTopics = []Topic{TopicFinance, TopicActuarial, TopicMultilingual}

// Topics returns every topic, general first, then in tie-break order
func Topics() []Topic {
	return append([]Topic{TopicGeneral}, classifiedTopics...)
}

// DefaultMinTopicScore is the minimum keyword hit count for a specialized topic
const DefaultMinTopicScore = 1

// ParseTopic converts a string to a Topic. The empty string and unknown
// values report ok=false.
func ParseTopic(s string) (Topic, bool) {
	switch Topic(strings.ToLower(strings.TrimSpace(s))) {
	case TopicGeneral:
		return TopicGeneral, true
	case TopicFinance:
		return TopicFinance, true
	case TopicActuarial:
		return TopicActuarial, true
	case TopicMultilingual:
		return TopicMultilingual, true
	default:
		return "", false
	}
}

// DefaultKeywords is the built-in vocabulary per topic
var DefaultKeywords = map[Topic][]string{
	TopicFinance: {
		"basel", "capital", "liquidity", "leverage", "equity", "bond", "bonds",
		"derivative", "derivatives", "portfolio", "asset", "assets", "liability",
		"credit", "risk", "ratio", "tier", "var", "hedge", "dividend", "yield",
		"ifrs", "gaap", "balance sheet", "cash flow", "interest rate", "solvency",
		"stress test", "market risk", "counterparty",
	},
	TopicActuarial: {
		"actuarial", "actuary", "mortality", "morbidity", "annuity", "annuities",
		"premium", "premiums", "reserve", "reserves", "insurance", "insurer",
		"underwriting", "claims", "lapse", "longevity", "life table",
		"life tables", "mortality table", "loss ratio", "ibnr", "chain ladder",
		"pension", "survival",
	},
	TopicMultilingual: {
		"资本", "风险", "保险", "精算", "利率", "死亡率", "准备金", "偿付能力",
		"kapital", "risiko", "versicherung", "capitale", "rischio", "assurance",
		"solvabilité", "seguro", "riesgo",
	},
}

// Classifier resolves a topic by counting keyword hits per topic
type Classifier struct {
	words    map[Topic]map[string]struct{} // single ASCII words, matched as whole tokens
	phrases  map[Topic][]string            // multi-word or non-ASCII keywords, matched as substrings
	minScore int
}

// NewClassifier builds a classifier from a keyword vocabulary.
// A nil vocabulary uses DefaultKeywords; minScore <= 0 uses DefaultMinTopicScore.
func NewClassifier(keywords map[Topic][]string, minScore int) *Classifier {
	if keywords == nil {
		keywords = DefaultKeywords
	}
	if minScore <= 0 {
		minScore = DefaultMinTopicScore
	}

	c := &Classifier{
		words:    make(map[Topic]map[string]struct{}),
		phrases:  make(map[Topic][]string),
		minScore: minScore,
	}

	for topic, list := range keywords {
		c.words[topic] = make(map[string]struct{})
		for _, kw := range list {
			kw = strings.ToLower(strings.TrimSpace(kw))
			if kw == "" {
				continue
			}
			if isASCII(kw) && !strings.Contains(kw, " ") {
				c.words[topic][kw] = struct{}{}
			} else {
				c.phrases[topic] = append(c.phrases[topic], kw)
			}
		}
	}

	return c
}

// Scores returns the number of distinct keywords of each topic found in text
func (c *Classifier) Scores(text string) map[Topic]int {
	lower := strings.ToLower(text)

	tokens := make(map[string]struct{})
	for _, w := range tokenize.Words(lower) {
		tokens[w] = struct{}{}
	}

	scores := make(map[Topic]int, len(classifiedTopics))
	for _, topic := range classifiedTopics {
		n := 0
		for w := range c.words[topic] {
			if _, ok := tokens[w]; ok {
				n++
			}
		}
		for _, p := range c.phrases[topic] {
			if strings.Contains(lower, p) {
				n++
			}
		}
		scores[topic] = n
	}
	return scores
}

// Classify returns the highest-scoring topic, or TopicGeneral when no
// topic reaches the minimum score. Ties go to the earlier topic in
// finance, actuarial, multilingual order.
func (c *Classifier) Classify(text string) Topic {
	scores := c.Scores(text)

	best, bestScore := TopicGeneral, 0
	for _, topic := range classifiedTopics {
		if scores[topic] > bestScore {
			best, bestScore = topic, scores[topic]
		}
	}

	if bestScore < c.minScore {
		return TopicGeneral
	}
	return best
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] > 127 {
			return false
		}
	}
	return true
}
