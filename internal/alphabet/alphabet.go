// Package alphabet holds the static letter tables used to partition the Russian dictionary:
// which runes qualify as partition letters, which cannot start a word, and which priority tier
// each partition key belongs to.
package alphabet

import (
	"unicode"

	"github.com/spellcache/spellcache/pkg/types"
)

// Letters is the lower-case Russian alphabet in dictionary order
const Letters = "абвгдеёжзийклмнопрстуфхцчшщъыьэюя"

// HighPriority lists the ten most frequent word-initial letters, most frequent first.
var HighPriority = []types.PartitionKey{"п", "с", "к", "н", "о", "в", "р", "м", "д", "т"}

// MediumPriority is the second frequency tier of word-initial letters.
var MediumPriority = []types.PartitionKey{"з", "и", "б", "а", "у", "г", "л", "е", "ч", "ш"}

// NonInitial are letters that never start a Russian word. No partition is keyed by them.
var NonInitial = []types.PartitionKey{"ъ", "ы", "ь"}

var (
	letterSet     = make(map[rune]struct{}, len(Letters))
	tierTable     = make(map[types.PartitionKey]types.PriorityTier)
	nonInitialSet = make(map[types.PartitionKey]struct{})
)

func init() {
	for _, r := range Letters {
		letterSet[r] = struct{}{}
	}
	for _, k := range HighPriority {
		tierTable[k] = types.TierHigh
	}
	for _, k := range MediumPriority {
		tierTable[k] = types.TierMedium
	}
	for _, k := range NonInitial {
		nonInitialSet[k] = struct{}{}
	}
}

// IsLetter reports whether r, after case folding, is a partition letter
func IsLetter(r rune) bool {
	_, ok := letterSet[unicode.ToLower(r)]
	return ok
}

// IsNonInitial reports whether key can never start a word
func IsNonInitial(key types.PartitionKey) bool {
	_, ok := nonInitialSet[key]
	return ok
}

// TierOf classifies key. Every key falls into exactly one tier; anything outside the
// HIGH and MEDIUM tables, including non-Cyrillic keys, is LOW.
func TierOf(key types.PartitionKey) types.PriorityTier {
	if tier, ok := tierTable[key]; ok {
		return tier
	}
	return types.TierLow
}

// LowPriority returns the partition keys of the LOW tier that can start a word,
// in dictionary order.
func LowPriority() []types.PartitionKey {
	var keys []types.PartitionKey
	for _, r := range Letters {
		key := types.PartitionKey(string(r))
		if TierOf(key) == types.TierLow && !IsNonInitial(key) {
			keys = append(keys, key)
		}
	}
	return keys
}
