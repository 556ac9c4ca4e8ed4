package graphstore

import (
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

// Embedder turns text into a fixed-size vector.
type Embedder interface {
	Embed(text string) []float32
	Dimensions() int
}

// HashingEmbedder is a deterministic feature-hashing embedder. Each word and
// each character trigram of a word is hashed into a signed bucket, and the
// result is L2-normalized. Texts sharing vocabulary or word stems land close
// together without any model files.
type HashingEmbedder struct {
	dims int
}

const (
	defaultDimensions = 256
	wordWeight        = 1.0
	trigramWeight     = 0.5
)

// NewHashingEmbedder returns an embedder producing dims-sized vectors.
func NewHashingEmbedder(dims int) *HashingEmbedder {
	if dims <= 0 {
		dims = defaultDimensions
	}
	return &HashingEmbedder{dims: dims}
}

// Dimensions implements Embedder.
func (e *HashingEmbedder) Dimensions() int { return e.dims }

// Embed implements Embedder. Text without any word characters yields the
// zero vector.
func (e *HashingEmbedder) Embed(text string) []float32 {
	vec := make([]float32, e.dims)
	for _, word := range tokenize(text) {
		e.add(vec, "w:"+word, wordWeight)
		if len(word) > 3 {
			runes := []rune(word)
			for i := 0; i+3 <= len(runes); i++ {
				e.add(vec, "t:"+string(runes[i:i+3]), trigramWeight)
			}
		}
	}
	normalize(vec)
	return vec
}

func (e *HashingEmbedder) add(vec []float32, feature string, weight float32) {
	h := fnv.New64a()
	h.Write([]byte(feature))
	sum := h.Sum64()
	idx := int(sum % uint64(e.dims))
	if sum&(1<<63) != 0 {
		weight = -weight
	}
	vec[idx] += weight
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func normalize(vec []float32) {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		return
	}
	norm := float32(math.Sqrt(sum))
	for i := range vec {
		vec[i] /= norm
	}
}

func isZero(vec []float32) bool {
	for _, v := range vec {
		if v != 0 {
			return false
		}
	}
	return true
}
