// Package seed imports question/answer datasets into the cache ahead of traffic.
package seed

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/hyperjump/semcache/pkg/utils"
)

// Pair is one question with the answer to cache for it.
type Pair struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// Dataset is the result of loading a seed file.
type Dataset struct {
	Pairs []Pair
	// Skipped counts lines or entries that could not be parsed or had no answer.
	Skipped int
}

// Load reads Q&A pairs from a .json, .jsonl or .xlsx file.
func Load(path string) (*Dataset, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".xlsx" {
		return loadExcel(path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed file: %w", err)
	}
	switch ext {
	case ".json":
		return parseJSON(data)
	case ".jsonl", ".ndjson":
		return parseJSONLines(data), nil
	default:
		return nil, fmt.Errorf("unsupported seed format %q (supported: .json, .jsonl, .xlsx)", ext)
	}
}

// entry accepts the flat pair shape and the nested product Q&A shape.
type entry struct {
	Question     string   `json:"question"`
	QuestionText string   `json:"questionText"`
	Answer       string   `json:"answer"`
	Answers      []answer `json:"answers"`
	Questions    []entry  `json:"questions"`
}

// answer is either a bare string or an object with answerText.
type answer struct {
	Text string
}

func (a *answer) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		a.Text = s
		return nil
	}
	var obj struct {
		AnswerText string `json:"answerText"`
		Answer     string `json:"answer"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	a.Text = obj.AnswerText
	if a.Text == "" {
		a.Text = obj.Answer
	}
	return nil
}

// flatten appends the pairs in e, returning how many entries had a question but no answer.
func (e *entry) flatten(out *[]Pair) int {
	skipped := 0
	for i := range e.Questions {
		skipped += e.Questions[i].flatten(out)
	}
	q := e.Question
	if q == "" {
		q = e.QuestionText
	}
	q = utils.NormalizeText(q)
	if q == "" {
		return skipped
	}
	a := e.Answer
	for _, cand := range e.Answers {
		if a != "" {
			break
		}
		a = cand.Text
	}
	a = strings.TrimSpace(a)
	if a == "" {
		return skipped + 1
	}
	*out = append(*out, Pair{Question: q, Answer: a})
	return skipped
}

func parseJSON(data []byte) (*Dataset, error) {
	data = bytes.TrimSpace(data)
	var entries []entry
	if len(data) > 0 && data[0] == '{' {
		var single entry
		if err := json.Unmarshal(data, &single); err != nil {
			return nil, fmt.Errorf("parse seed json: %w", err)
		}
		entries = []entry{single}
	} else if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parse seed json: %w", err)
	}
	ds := &Dataset{}
	for i := range entries {
		ds.Skipped += entries[i].flatten(&ds.Pairs)
	}
	return ds, nil
}

var unicodePrefix = regexp.MustCompile(`u"([^"]*)"`)

// parseJSONLines parses one object per line. Lines written as Python literals (single quotes,
// u"" prefixes) are rewritten before a second attempt; lines that still fail are skipped.
func parseJSONLines(data []byte) *Dataset {
	ds := &Dataset{}
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var e entry
		if err := json.Unmarshal([]byte(line), &e); err != nil {
			fixed := unicodePrefix.ReplaceAllString(strings.ReplaceAll(line, "'", `"`), `"$1"`)
			if err := json.Unmarshal([]byte(fixed), &e); err != nil {
				ds.Skipped++
				continue
			}
		}
		ds.Skipped += e.flatten(&ds.Pairs)
	}
	return ds
}
