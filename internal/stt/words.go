package stt

import "strings"

// tokenPiece is one decoder token with timing in seconds.
type tokenPiece struct {
	Text  string
	Start float64
	End   float64
	P     float64
}

// wordsFromTokens joins sub-word tokens into words. A token that begins with
// a space starts a new word; control tokens such as [_BEG_] or <|endoftext|>
// are dropped. Conf is the mean token probability of the word.
func wordsFromTokens(tokens []tokenPiece) []Word {
	var (
		words []Word
		probs int
	)
	for _, tok := range tokens {
		if isControlToken(tok.Text) {
			continue
		}
		text := strings.TrimSpace(tok.Text)
		if text == "" {
			continue
		}
		newWord := len(words) == 0 || strings.HasPrefix(tok.Text, " ")
		if newWord {
			if len(words) > 0 {
				words[len(words)-1].Conf /= float64(probs)
			}
			words = append(words, Word{Word: text, Start: tok.Start, End: tok.End, Conf: tok.P})
			probs = 1
			continue
		}
		w := &words[len(words)-1]
		w.Word += text
		w.End = tok.End
		w.Conf += tok.P
		probs++
	}
	if len(words) > 0 {
		words[len(words)-1].Conf /= float64(probs)
	}
	return words
}

func isControlToken(text string) bool {
	t := strings.TrimSpace(text)
	return (strings.HasPrefix(t, "[_") && strings.HasSuffix(t, "]")) ||
		(strings.HasPrefix(t, "<|") && strings.HasSuffix(t, "|>"))
}
