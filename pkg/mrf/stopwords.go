package mrf

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
)

// StopwordList is a set of lower-case words ignored by feature extraction.
// A nil list holds no words.
type StopwordList struct {
	words map[string]struct{}
}

// NewStopwordList returns a list holding words.
func NewStopwordList(words ...string) *StopwordList {
	l := &StopwordList{words: make(map[string]struct{}, len(words))}
	for _, w := range words {
		l.add(w)
	}
	return l
}

// ParseStopwords reads one word per line. Blank lines and lines starting
// with '#' are skipped.
func ParseStopwords(r io.Reader) (*StopwordList, error) {
	l := NewStopwordList()
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		l.add(line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read stop words: %w", err)
	}
	return l, nil
}

// LoadStopwords reads a stop word list from path.
func LoadStopwords(path string) (*StopwordList, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open stop word list: %w", err)
	}
	defer f.Close()

	return ParseStopwords(f)
}

func (l *StopwordList) add(w string) {
	l.words[strings.ToLower(w)] = struct{}{}
}

// Has reports whether w is a stop word.
func (l *StopwordList) Has(w string) bool {
	if l == nil {
		return false
	}
	_, ok := l.words[w]
	return ok
}

// Len returns the number of words.
func (l *StopwordList) Len() int {
	if l == nil {
		return 0
	}
	return len(l.words)
}

// Merge adds the words of other to l.
func (l *StopwordList) Merge(other *StopwordList) {
	if other == nil {
		return
	}
	for w := range other.words {
		l.words[w] = struct{}{}
	}
}
