package normalize

import (
	"encoding/json"
	"errors"
	"regexp"
	"strings"

	"github.com/iagogaldino/auto-teste-angular-sub000/internal/models"
)

// Explanation markers for artifacts that did not come with one.
const (
	DirectCodeExplanation = "Test code extracted directly from the response."
	PartialExplanation    = "Test code recovered from a response without an explanation."
	FallbackExplanation   = "The response could not be normalized; the raw text is used as test code."
)

// Stage names, in cascade order.
const (
	StageFenced    = "fenced"
	StageBareCode  = "bare-code"
	StageJSON      = "json"
	StageShapes    = "shapes"
	StageSecondary = "secondary"
	StageFallback  = "fallback"
)

// testIdioms earn a fenced block the scoring bonus.
var testIdioms = []string{"describe(", "it(", "test(", "expect(", "TestBed.", "beforeEach("}

const idiomBonus = 100

var importLineRe = regexp.MustCompile(`(?m)^\s*import\s`)

// Input is the text under normalization plus lazily decoded JSON shared by
// the JSON-based stages.
type Input struct {
	raw     string
	partial *models.UnitTestArtifact

	decoded   any
	decodeErr error
	decodedOK bool
}

func newInput(raw string) *Input { return &Input{raw: raw} }

func (in *Input) json() (any, error) {
	if !in.decodedOK {
		in.decoded, in.decodeErr = decodeJSON(in.raw)
		in.decodedOK = true
	}
	return in.decoded, in.decodeErr
}

type fence struct {
	lang    string
	content string
}

// fences returns every fenced region in text. An unterminated final fence
// runs to the end of the text.
func fences(text string) []fence {
	var out []fence
	rest := text
	for {
		start := strings.Index(rest, "```")
		if start < 0 {
			return out
		}
		rest = rest[start+3:]
		nl := strings.IndexByte(rest, '\n')
		if nl < 0 {
			return out
		}
		lang := strings.ToLower(strings.TrimSpace(rest[:nl]))
		rest = rest[nl+1:]
		end := strings.Index(rest, "```")
		if end < 0 {
			out = append(out, fence{lang: lang, content: strings.TrimSpace(rest)})
			return out
		}
		out = append(out, fence{lang: lang, content: strings.TrimSpace(rest[:end])})
		rest = rest[end+3:]
	}
}

func scoreBlock(code string) int {
	score := strings.Count(code, "\n") + 1
	for _, idiom := range testIdioms {
		if strings.Contains(code, idiom) {
			return score + idiomBonus
		}
	}
	return score
}

// isJSONBlock reports whether a fence holds JSON rather than code.
func isJSONBlock(f fence) bool {
	if f.lang == "json" {
		return true
	}
	c := f.content
	if !strings.HasPrefix(c, "{") && !strings.HasPrefix(c, "[") {
		return false
	}
	return json.Valid([]byte(c))
}

// fencedStage picks the highest-scoring non-JSON fenced block as test code.
func fencedStage(in *Input) (*models.UnitTestArtifact, error) {
	best, bestScore := "", -1
	for _, f := range fences(in.raw) {
		if f.content == "" || isJSONBlock(f) {
			continue
		}
		if s := scoreBlock(f.content); s > bestScore {
			best, bestScore = f.content, s
		}
	}
	if bestScore < 0 {
		return nil, parseErr(StageFenced, CauseNoCandidate, nil)
	}
	return direct(best), nil
}

// bareCodeStage accepts an unfenced response that already looks like code.
func bareCodeStage(in *Input) (*models.UnitTestArtifact, error) {
	text := strings.TrimSpace(in.raw)
	if strings.HasPrefix(text, "{") || strings.HasPrefix(text, "[") || strings.Contains(text, "```") {
		return nil, parseErr(StageBareCode, CauseNoCandidate, nil)
	}
	if v, err := in.json(); err == nil && hasCodeField(v) {
		return nil, parseErr(StageBareCode, CauseNoCandidate, nil)
	}
	if importLineRe.MatchString(text) || strings.Contains(text, "expect(") || strings.Contains(text, "TestBed.configureTestingModule") {
		return direct(text), nil
	}
	return nil, parseErr(StageBareCode, CauseNoCandidate, nil)
}

func direct(code string) *models.UnitTestArtifact {
	return &models.UnitTestArtifact{
		TestCode:    code,
		Explanation: DirectCodeExplanation,
		TestCases:   []string{},
	}
}

var errNoJSON = errors.New("no JSON value found")

// jsonCandidates returns a fenced json block, or else the widest [...] and
// {...} spans, the one that opens first leading.
func jsonCandidates(text string) []string {
	for _, f := range fences(text) {
		if f.lang == "json" && f.content != "" {
			return []string{f.content}
		}
	}
	obj := span(text, '{', "}")
	arr := span(text, '[', "]")
	switch {
	case obj == "":
		return nonEmpty(arr)
	case arr == "":
		return []string{obj}
	case strings.IndexByte(text, '[') < strings.IndexByte(text, '{'):
		return []string{arr, obj}
	default:
		return []string{obj, arr}
	}
}

func span(text string, open byte, closer string) string {
	start := strings.IndexByte(text, open)
	if start < 0 {
		return ""
	}
	end := strings.LastIndex(text, closer)
	if end <= start {
		return ""
	}
	return text[start : end+1]
}

func nonEmpty(s string) []string {
	if s == "" {
		return nil
	}
	return []string{s}
}

// decodeJSON returns the first candidate that decodes. When none does, the
// error is the leading candidate's.
func decodeJSON(text string) (any, error) {
	candidates := jsonCandidates(text)
	if len(candidates) == 0 {
		return nil, errNoJSON
	}
	var first error
	for _, c := range candidates {
		var v any
		err := json.Unmarshal([]byte(c), &v)
		if err == nil {
			return v, nil
		}
		if first == nil {
			first = err
		}
	}
	return nil, first
}

// hasCodeField reports whether v is an object, or a list of objects, carrying
// one of the code fields the JSON stages read.
func hasCodeField(v any) bool {
	switch x := v.(type) {
	case map[string]any:
		if stringField(x, "testCode", "test_code", "code", "contents") != "" {
			return true
		}
		_, ok := x["tests"].([]any)
		return ok
	case []any:
		for _, item := range x {
			if m, ok := item.(map[string]any); ok && stringField(m, "code") != "" {
				return true
			}
		}
	}
	return false
}

// jsonStage accepts the canonical object.
func jsonStage(in *Input) (*models.UnitTestArtifact, error) {
	v, err := in.json()
	if err != nil {
		return nil, parseErr(StageJSON, CauseMalformedJSON, err)
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, parseErr(StageJSON, CauseMissingFields, errors.New("not an object"))
	}
	code := stringField(obj, "testCode", "test_code")
	if code == "" {
		return nil, parseErr(StageJSON, CauseMissingFields, errors.New("testCode"))
	}
	art := &models.UnitTestArtifact{
		TestCode:          code,
		Explanation:       stringField(obj, "explanation"),
		TestCases:         stringList(obj["testCases"]),
		Dependencies:      stringList(obj["dependencies"]),
		SetupInstructions: joinedField(obj, "setupInstructions"),
	}
	if art.Explanation == "" {
		return art, parseErr(StageJSON, CauseMissingFields, errors.New("explanation"))
	}
	return art, nil
}

// shapesStage folds the alternate layouts into the canonical shape:
// [{code}], {code}, {contents} and {tests:[{code, description}]}.
func shapesStage(in *Input) (*models.UnitTestArtifact, error) {
	v, err := in.json()
	if err != nil {
		return nil, parseErr(StageShapes, CauseMalformedJSON, err)
	}

	var art *models.UnitTestArtifact
	switch x := v.(type) {
	case []any:
		art = fromSnippets(x)
	case map[string]any:
		switch {
		case stringField(x, "code") != "":
			art = &models.UnitTestArtifact{TestCode: stringField(x, "code")}
			if d := stringField(x, "description"); d != "" {
				art.TestCases = []string{d}
			}
		case stringField(x, "contents") != "":
			art = &models.UnitTestArtifact{TestCode: stringField(x, "contents")}
		default:
			if tests, ok := x["tests"].([]any); ok {
				art = fromSnippets(tests)
			}
		}
		if art != nil {
			art.Explanation = stringField(x, "explanation")
			art.Dependencies = stringList(x["dependencies"])
			art.SetupInstructions = joinedField(x, "setupInstructions")
		}
	}

	if art == nil || art.TestCode == "" {
		return nil, parseErr(StageShapes, CauseMissingFields, errors.New("no code field"))
	}
	if art.TestCases == nil {
		art.TestCases = []string{}
	}
	if art.Explanation == "" {
		return art, parseErr(StageShapes, CauseMissingFields, errors.New("explanation"))
	}
	return art, nil
}

func fromSnippets(items []any) *models.UnitTestArtifact {
	var codes, cases []string
	for _, item := range items {
		obj, ok := item.(map[string]any)
		if !ok {
			continue
		}
		if c := stringField(obj, "code", "testCode"); c != "" {
			codes = append(codes, c)
		}
		if d := stringField(obj, "description", "name"); d != "" {
			cases = append(cases, d)
		}
	}
	if len(codes) == 0 {
		return nil
	}
	return &models.UnitTestArtifact{TestCode: strings.Join(codes, "\n\n"), TestCases: cases}
}

func stringField(obj map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := obj[k].(string); ok && strings.TrimSpace(s) != "" {
			return s
		}
	}
	return ""
}

// joinedField reads a string, or a list of strings joined by newlines.
func joinedField(obj map[string]any, key string) string {
	if s, ok := obj[key].(string); ok {
		return s
	}
	return strings.Join(stringList(obj[key]), "\n")
}

// stringList reads a list of strings. Objects contribute their description
// or name.
func stringList(v any) []string {
	items, ok := v.([]any)
	if !ok {
		return []string{}
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		switch x := item.(type) {
		case string:
			out = append(out, x)
		case map[string]any:
			if s := stringField(x, "description", "name", "title"); s != "" {
				out = append(out, s)
			}
		}
	}
	return out
}
