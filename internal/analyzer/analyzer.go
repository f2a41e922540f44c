// Package analyzer predicts which dictionary partitions a text will need. Analysis is a pure
// function of the input text: it keeps no state and performs no I/O.
package analyzer

import (
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/spellcache/spellcache/internal/alphabet"
	"github.com/spellcache/spellcache/pkg/types"
)

const (
	// DefaultTopLetters is the number of top letters reported by Analyze
	DefaultTopLetters = 5

	// frequentPredictions is how many frequent letters feed the prediction
	frequentPredictions = 3

	// shortTextLength is the length below which the high-priority letters are always predicted
	shortTextLength = 100

	// shortTextPredictions is how many high-priority letters a short text adds
	shortTextPredictions = 2

	// minStemLength is the shortest remainder that counts as a stem after a prefix is stripped
	minStemLength = 2
)

// Morphological patterns. A word starting with a prefix needs both the prefix's partition and
// the stem's partition for suggestions; a word ending with a suffix needs its own partition.
var (
	prefixes = []string{
		"пере", "пред", "пре", "при", "про", "раз", "рас", "без", "бес", "воз", "вос",
		"под", "над", "от", "об", "вы", "за", "на", "по", "до", "из", "ис", "со",
	}
	suffixes = []string{
		"ость", "ение", "ание", "тель", "ский", "ство", "ный", "ной", "ать", "ять", "ить",
	}
)

func init() {
	// Longest prefix wins, so "пере" is tried before "пре".
	sort.SliceStable(prefixes, func(i, j int) bool {
		return utf8.RuneCountInString(prefixes[i]) > utf8.RuneCountInString(prefixes[j])
	})
}

// Analysis is the result of analyzing one text
type Analysis struct {
	LetterFrequency     map[types.PartitionKey]int `json:"letter_frequency"`
	TopLetters          []types.PartitionKey       `json:"top_letters"`
	PredictedPartitions []types.PartitionKey       `json:"predicted_partitions"`
	TextLength          int                        `json:"text_length"`
	UniqueLetters       int                        `json:"unique_letters"`
}

// Analyze computes letter statistics and predicted partitions for text, reporting the
// DefaultTopLetters most frequent letters.
func Analyze(text string) Analysis {
	return AnalyzeTop(text, DefaultTopLetters)
}

// AnalyzeTop is Analyze with a custom number of top letters
func AnalyzeTop(text string, topN int) Analysis {
	frequency, order := countLetters(text)
	ranked := rankLetters(frequency, order)

	top := ranked
	if topN >= 0 && len(top) > topN {
		top = top[:topN]
	}

	textLength := utf8.RuneCountInString(text)
	return Analysis{
		LetterFrequency:     frequency,
		TopLetters:          append([]types.PartitionKey{}, top...),
		PredictedPartitions: predict(text, ranked, textLength),
		TextLength:          textLength,
		UniqueLetters:       len(frequency),
	}
}

// EstimateCacheEfficiency returns the percentage of the text's qualifying letters whose
// partition is among cachedKeys. A text without qualifying letters yields 0.
func EstimateCacheEfficiency(text string, cachedKeys []types.PartitionKey) float64 {
	frequency, _ := countLetters(text)

	cached := make(map[types.PartitionKey]struct{}, len(cachedKeys))
	for _, k := range cachedKeys {
		cached[k] = struct{}{}
	}

	total, covered := 0, 0
	for letter, count := range frequency {
		total += count
		if _, ok := cached[letter]; ok {
			covered += count
		}
	}
	if total == 0 {
		return 0
	}
	return float64(covered) / float64(total) * 100
}

// countLetters folds case and counts in-alphabet letters. order records first appearance.
func countLetters(text string) (map[types.PartitionKey]int, []types.PartitionKey) {
	frequency := make(map[types.PartitionKey]int)
	var order []types.PartitionKey
	for _, r := range text {
		if !alphabet.IsLetter(r) {
			continue
		}
		key := types.PartitionKey(string(unicode.ToLower(r)))
		if _, seen := frequency[key]; !seen {
			order = append(order, key)
		}
		frequency[key]++
	}
	return frequency, order
}

// rankLetters orders letters by descending frequency, ties by first appearance
func rankLetters(frequency map[types.PartitionKey]int, order []types.PartitionKey) []types.PartitionKey {
	ranked := append([]types.PartitionKey{}, order...)
	sort.SliceStable(ranked, func(i, j int) bool {
		return frequency[ranked[i]] > frequency[ranked[j]]
	})
	return ranked
}

func predict(text string, ranked []types.PartitionKey, textLength int) []types.PartitionKey {
	predicted := newKeySet()
	if textLength == 0 {
		return predicted.keys
	}

	taken := 0
	for _, letter := range ranked {
		if taken == frequentPredictions {
			break
		}
		if alphabet.IsNonInitial(letter) {
			continue
		}
		predicted.add(letter)
		taken++
	}

	for _, word := range tokenize(text) {
		for _, letter := range patternLetters(word) {
			predicted.add(letter)
		}
	}

	if textLength < shortTextLength {
		for _, letter := range alphabet.HighPriority[:shortTextPredictions] {
			predicted.add(letter)
		}
	}

	return predicted.keys
}

// tokenize splits lower-cased text into runs of alphabet letters
func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !alphabet.IsLetter(r)
	})
}

// patternLetters returns the partitions implied by word's prefix and suffix
func patternLetters(word string) []types.PartitionKey {
	var letters []types.PartitionKey
	wordLen := utf8.RuneCountInString(word)

	for _, prefix := range prefixes {
		if !strings.HasPrefix(word, prefix) {
			continue
		}
		stem := strings.TrimPrefix(word, prefix)
		if utf8.RuneCountInString(stem) < minStemLength {
			continue
		}
		letters = appendInitial(letters, prefix)
		letters = appendInitial(letters, stem)
		break
	}

	for _, suffix := range suffixes {
		if wordLen > utf8.RuneCountInString(suffix) && strings.HasSuffix(word, suffix) {
			letters = appendInitial(letters, word)
			break
		}
	}
	return letters
}

func appendInitial(letters []types.PartitionKey, s string) []types.PartitionKey {
	key := types.NewPartitionKey(s)
	if key == "" || alphabet.IsNonInitial(key) {
		return letters
	}
	return append(letters, key)
}

// keySet is an insertion-ordered set of partition keys
type keySet struct {
	seen map[types.PartitionKey]struct{}
	keys []types.PartitionKey
}

func newKeySet() *keySet {
	return &keySet{seen: make(map[types.PartitionKey]struct{}), keys: []types.PartitionKey{}}
}

func (s *keySet) add(key types.PartitionKey) {
	if _, ok := s.seen[key]; ok {
		return
	}
	s.seen[key] = struct{}{}
	s.keys = append(s.keys, key)
}
