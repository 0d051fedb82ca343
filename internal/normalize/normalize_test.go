package normalize

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iagogaldino/auto-teste-angular-sub000/internal/models"
)

// fakeChat answers every call with reply, or err.
type fakeChat struct {
	reply string
	err   error
	calls int
	last  models.ChatRequest
}

func (f *fakeChat) CallChat(_ context.Context, req models.ChatRequest) (*models.ChatResponse, error) {
	f.calls++
	f.last = req
	if f.err != nil {
		return nil, f.err
	}
	return &models.ChatResponse{Choices: []models.ChatChoice{{Message: models.ChatMessage{Role: models.RoleAssistant, Content: f.reply}}}}, nil
}

func TestNormalize_DirectFencedCode(t *testing.T) {
	raw := "Sure! Here's your test:\n```ts\nimport {x} from './x';\ndescribe('x',()=>{it('y',()=>{expect(1).toBe(1);});});\n```"

	art, err := New().Normalize(context.Background(), raw)
	require.NoError(t, err)
	assert.Equal(t, "import {x} from './x';\ndescribe('x',()=>{it('y',()=>{expect(1).toBe(1);});});", art.TestCode)
	assert.Equal(t, DirectCodeExplanation, art.Explanation)
	assert.Equal(t, []string{}, art.TestCases)
}

func TestNormalize_PicksHighestScoringBlock(t *testing.T) {
	var suite strings.Builder
	suite.WriteString("describe('UserCardComponent', () => {\n")
	for i := 0; i < 19; i++ {
		fmt.Fprintf(&suite, "  it('case %d', () => {\n    expect(%d).toBe(%d);\n", i, i, i)
	}
	suite.WriteString("});")
	require.GreaterOrEqual(t, strings.Count(suite.String(), "\n")+1, 40)

	raw := "First the imports:\n```ts\nimport { TestBed } from '@angular/core/testing';\nimport { A } from './a';\nimport { B } from './b';\n```\n" +
		"Then the suite:\n```typescript\n" + suite.String() + "\n```\n"

	art, err := New().Normalize(context.Background(), raw)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(art.TestCode, "describe('UserCardComponent'"))
	assert.NotContains(t, art.TestCode, "import { A }")
}

func TestNormalize_IdiomBonusBeatsLength(t *testing.T) {
	long := strings.Repeat("const a = 1;\n", 30)
	raw := "```js\n" + long + "```\n```ts\nit('works', () => expect(1).toBe(1));\n```"
	art, err := New().Normalize(context.Background(), raw)
	require.NoError(t, err)
	assert.Equal(t, "it('works', () => expect(1).toBe(1));", art.TestCode)
}

func TestNormalize_UnterminatedFence(t *testing.T) {
	raw := "```ts\ndescribe('x', () => {\n  it('y', () => {\n    expect(1).toBe(1);\n"
	art, err := New().Normalize(context.Background(), raw)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(art.TestCode, "expect(1).toBe(1);}};"))
}

func TestNormalize_BareCode(t *testing.T) {
	raw := "\nimport { A } from './a';\n\ndescribe('A', () => {\n  it('x', () => expect(true).toBe(true));\n});\n"
	art, err := New().Normalize(context.Background(), raw)
	require.NoError(t, err)
	assert.Equal(t, strings.TrimSpace(raw), art.TestCode)
	assert.Equal(t, DirectCodeExplanation, art.Explanation)
}

func TestNormalize_CanonicalJSON(t *testing.T) {
	payload := `{"testCode":"describe('a', () => {});","explanation":"covers a","testCases":["creates"],"dependencies":["@angular/core"],"setupInstructions":"none"}`

	tests := []struct {
		name string
		raw  string
	}{
		{"bare", payload},
		{"fenced json", "Here you go:\n```json\n" + payload + "\n```\nEnjoy."},
		{"embedded in prose", "Result: " + payload + " -- let me know."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			art, err := New().Normalize(context.Background(), tt.raw)
			require.NoError(t, err)
			assert.Equal(t, "describe('a', () => {});", art.TestCode)
			assert.Equal(t, "covers a", art.Explanation)
			assert.Equal(t, []string{"creates"}, art.TestCases)
			assert.Equal(t, []string{"@angular/core"}, art.Dependencies)
			assert.Equal(t, "none", art.SetupInstructions)
		})
	}
}

func TestNormalize_ProseBracketBeforeObject(t *testing.T) {
	raw := "Result [v2]:\n" + `{"testCode":"describe('a', () => {});","explanation":"ok","testCases":["a"]}`

	art, err := New().NormalizeStrict(context.Background(), raw)
	require.NoError(t, err)
	assert.Equal(t, "describe('a', () => {});", art.TestCode)
	assert.Equal(t, "ok", art.Explanation)
	assert.Equal(t, []string{"a"}, art.TestCases)
}

func TestNormalize_ProseWrappedJSONIsNotBareCode(t *testing.T) {
	code := "describe('a', () => { it('b', () => { expect(1).toBe(1); }); });"
	raw := "Here is the JSON:\n" + `{"testCode":"` + code + `","explanation":"ok","testCases":["b"]}`

	art, err := New().Normalize(context.Background(), raw)
	require.NoError(t, err)
	assert.NotContains(t, art.TestCode, "Here is the JSON")
	assert.True(t, strings.HasPrefix(art.TestCode, "describe('a'"))
	assert.Equal(t, "ok", art.Explanation)
}

func TestDecodeJSON_TriesBothSpans(t *testing.T) {
	v, err := decodeJSON(`note [draft] {"code":"it('a', () => {});","tags":["x"]}`)
	require.NoError(t, err)
	obj, ok := v.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "it('a', () => {});", obj["code"])

	v, err = decodeJSON(`[{"code":"it('a', () => {});"}]`)
	require.NoError(t, err)
	assert.IsType(t, []any{}, v)

	_, err = decodeJSON("no json at all")
	assert.ErrorIs(t, err, errNoJSON)
}

func TestNormalize_AlternateShapes(t *testing.T) {
	tests := []struct {
		name      string
		raw       string
		wantCode  string
		wantCases []string
		wantExpl  string
	}{
		{
			name:      "array of code records",
			raw:       `[{"code":"it('a', () => {});","description":"a"},{"code":"it('b', () => {});","description":"b"}]`,
			wantCode:  "it('a', () => {});\n\nit('b', () => {});",
			wantCases: []string{"a", "b"},
			wantExpl:  PartialExplanation,
		},
		{
			name:      "code object",
			raw:       `{"code":"it('a', () => {});","explanation":"one test"}`,
			wantCode:  "it('a', () => {});",
			wantCases: []string{},
			wantExpl:  "one test",
		},
		{
			name:      "contents object",
			raw:       `{"contents":"it('a', () => {});"}`,
			wantCode:  "it('a', () => {});",
			wantCases: []string{},
			wantExpl:  PartialExplanation,
		},
		{
			name:      "tests collection",
			raw:       `{"tests":[{"code":"it('a', () => {});","description":"first"},{"code":"it('b', () => {});","description":"second"}],"explanation":"two tests"}`,
			wantCode:  "it('a', () => {});\n\nit('b', () => {});",
			wantCases: []string{"first", "second"},
			wantExpl:  "two tests",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			art, err := New().Normalize(context.Background(), tt.raw)
			require.NoError(t, err)
			assert.Equal(t, tt.wantCode, art.TestCode)
			assert.Equal(t, tt.wantCases, art.TestCases)
			assert.Equal(t, tt.wantExpl, art.Explanation)
		})
	}
}

func TestNormalize_SecondaryPass(t *testing.T) {
	chat := &fakeChat{reply: `{"testCode":"it('x', () => {});","explanation":"rewritten"}`}
	n := New(WithChat(chat), WithModel("gpt-test"))

	art, err := n.Normalize(context.Background(), `[{"code":"it('x', () => {});"}]`)
	require.NoError(t, err)
	assert.Equal(t, "rewritten", art.Explanation)
	assert.Equal(t, 1, chat.calls)

	require.NotNil(t, chat.last.Temperature)
	assert.Equal(t, 0.0, *chat.last.Temperature)
	assert.Equal(t, "gpt-test", chat.last.Model)
	require.Len(t, chat.last.Messages, 2)
	assert.Equal(t, models.RoleSystem, chat.last.Messages[0].Role)
	assert.Contains(t, chat.last.Messages[1].Content, `"code"`)
}

func TestNormalize_SecondaryPassNotConfidentIsBounded(t *testing.T) {
	chat := &fakeChat{reply: "I still cannot format this."}
	art, err := New(WithChat(chat)).Normalize(context.Background(), "no code here at all")
	require.NoError(t, err)
	assert.Equal(t, 1, chat.calls)
	assert.Equal(t, FallbackExplanation, art.Explanation)
	assert.Equal(t, "no code here at all", art.TestCode)
}

func TestNormalize_SecondaryPassErrorFallsBack(t *testing.T) {
	chat := &fakeChat{err: errors.New("status 503")}
	art, err := New(WithChat(chat)).Normalize(context.Background(), "plain prose")
	require.NoError(t, err)
	assert.Equal(t, FallbackExplanation, art.Explanation)
}

func TestNormalize_SecondaryNotUsedWhenConfident(t *testing.T) {
	chat := &fakeChat{reply: "unused"}
	_, err := New(WithChat(chat)).Normalize(context.Background(), "```ts\nexpect(1).toBe(1);\n```")
	require.NoError(t, err)
	assert.Equal(t, 0, chat.calls)
}

func TestNormalize_Empty(t *testing.T) {
	_, err := New().Normalize(context.Background(), "  \n ")
	assert.ErrorIs(t, err, ErrEmptyResponse)
}

func TestNormalizeStrict_Causes(t *testing.T) {
	t.Run("malformed JSON", func(t *testing.T) {
		_, err := New().NormalizeStrict(context.Background(), `{"testCode": "x", "explanation": }`)
		var pe *ParseError
		require.ErrorAs(t, err, &pe)
		assert.Equal(t, CauseMalformedJSON, pe.Cause)
		assert.Contains(t, err.Error(), "malformed JSON")
	})

	t.Run("missing fields", func(t *testing.T) {
		_, err := New().NormalizeStrict(context.Background(), `{"result": 42}`)
		var pe *ParseError
		require.ErrorAs(t, err, &pe)
		assert.Equal(t, CauseMissingFields, pe.Cause)
	})

	t.Run("partial is not confident", func(t *testing.T) {
		_, err := New().NormalizeStrict(context.Background(), `{"code":"it('a', () => {});"}`)
		var pe *ParseError
		require.ErrorAs(t, err, &pe)
		assert.Equal(t, CauseMissingFields, pe.Cause)
	})
}

func TestNormalize_Idempotent(t *testing.T) {
	inputs := []string{
		"Sure:\n```ts\ndescribe('a', () => {\n  it('b', () => {\n    expect(1).toBe(1);\n  });\n});\n```",
		"```ts\ndescribe('a', () => {\n  it('b', () => {\n",
		`{"testCode":"describe('a', () => {\n  it('b', () => {});","explanation":"x"}`,
		`[{"code":"it('a', () => {});","description":"a"}]`,
		"nothing useful { here",
	}
	n := New()
	for _, raw := range inputs {
		first, err := n.Normalize(context.Background(), raw)
		require.NoError(t, err)

		data, err := json.Marshal(first)
		require.NoError(t, err)
		second, err := n.Normalize(context.Background(), string(data))
		require.NoError(t, err)

		assert.Equal(t, first.TestCode, second.TestCode, "input %q", raw)
	}
}

func TestNormalize_UnescapesSingleLineCode(t *testing.T) {
	raw := "```ts\n" + `describe('a', () => {\n  it(\"b\", () => {});\n});` + "\n```"
	art, err := New().Normalize(context.Background(), raw)
	require.NoError(t, err)
	assert.Equal(t, "describe('a', () => {\n  it(\"b\", () => {});\n});", art.TestCode)
}

func TestNormalize_FallbackRepairsBraces(t *testing.T) {
	art, err := New().Normalize(context.Background(), "nothing useful { here")
	require.NoError(t, err)
	assert.Equal(t, FallbackExplanation, art.Explanation)
	assert.Equal(t, "nothing useful { here};", art.TestCode)
}

func TestCascadeOrder(t *testing.T) {
	var names []string
	for _, s := range New().Cascade(false) {
		names = append(names, s.Name)
	}
	assert.Equal(t, []string{StageFenced, StageBareCode, StageJSON, StageShapes, StageSecondary, StageFallback}, names)
	assert.Len(t, New().Cascade(true), 5)
}
