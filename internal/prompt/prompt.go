// Package prompt builds the system and user prompts sent to the chat backend
// for test generation, test correction and response normalization.
package prompt

import (
	"fmt"
	"strings"

	"github.com/iagogaldino/auto-teste-angular-sub000/internal/models"
)

// DefaultFramework is the test framework assumed when none is detected.
const DefaultFramework = "jest"

// canonicalShape is the JSON object every prompt asks for.
const canonicalShape = `{
  "testCode": "the complete test file as a string",
  "explanation": "one or two sentences describing what the tests cover",
  "testCases": ["short description of each it() block"],
  "dependencies": ["npm packages or Angular modules the test needs"],
  "setupInstructions": "anything the developer must do before running the tests"
}`

// Generate constructs the prompts that ask for a new spec file for one component.
func Generate(d *models.ComponentDescriptor, source, framework string) (system string, user string) {
	if framework == "" {
		framework = DefaultFramework
	}
	system = fmt.Sprintf(`You are an expert Angular developer who writes unit tests with %s and the Angular TestBed.
Return ONLY a JSON object with this shape:
%s

Rules:
- "testCode" must be a complete, runnable spec file including all imports
- Use TestBed.configureTestingModule for components; standalone components go in "imports", others in "declarations"
- Mock every injected dependency with jasmine/jest spies or simple stubs; never call real HTTP backends
- Cover creation, every public method, and state held in signals or computed values
- Do not wrap the JSON in markdown fencing and do not add prose before or after it`, framework, canonicalShape)

	var sb strings.Builder
	if d != nil {
		sb.WriteString("## Component\n")
		fmt.Fprintf(&sb, "- Name: %s\n", d.Name)
		if d.Selector != "" {
			fmt.Fprintf(&sb, "- Selector: %s\n", d.Selector)
		}
		fmt.Fprintf(&sb, "- Standalone: %t\n", d.Standalone)
		if d.FilePath != "" {
			fmt.Fprintf(&sb, "- File: %s\n", d.FilePath)
		}
		writeList(&sb, "Imports", d.Imports)
		writeList(&sb, "Dependencies", d.Dependencies)
		writeList(&sb, "Methods", d.Methods)
		writeList(&sb, "Fields", d.Fields)
		writeList(&sb, "Signals", d.StatefulFields)
		writeList(&sb, "Computed", d.DerivedFields)
		if len(d.NestedTypes) > 0 {
			sb.WriteString("\n## Types declared in the file\n")
			for _, t := range d.NestedTypes {
				sb.WriteString(t)
				sb.WriteString("\n")
			}
		}
		sb.WriteString("\n")
	}
	sb.WriteString("## Source\n```ts\n")
	sb.WriteString(strings.TrimRight(source, "\n"))
	sb.WriteString("\n```\n\nWrite the spec file for this component.")
	user = sb.String()
	return
}

// Fix constructs the correction-path prompts: the original source, the
// failing test and the runner output, asking for a corrected test.
func Fix(componentName, componentCode, testCode, errorMessage string) (system string, user string) {
	system = fmt.Sprintf(`You fix failing Angular unit tests. You receive the component source, the current spec file and the test runner output.
Return ONLY a JSON object with this shape:
%s

Rules:
- "testCode" must be the full corrected spec file, not a diff
- Keep passing tests unchanged where possible
- Fix the cause reported by the runner; do not delete assertions just to make the suite pass
- "explanation" must say what was wrong and what changed
- Do not wrap the JSON in markdown fencing`, canonicalShape)

	var sb strings.Builder
	if componentName != "" {
		fmt.Fprintf(&sb, "Component: %s\n\n", componentName)
	}
	sb.WriteString("## Component source\n```ts\n")
	sb.WriteString(strings.TrimRight(componentCode, "\n"))
	sb.WriteString("\n```\n\n## Current spec\n```ts\n")
	sb.WriteString(strings.TrimRight(testCode, "\n"))
	sb.WriteString("\n```\n\n## Runner output\n```\n")
	sb.WriteString(strings.TrimRight(errorMessage, "\n"))
	sb.WriteString("\n```\n")
	user = sb.String()
	return
}

// Normalize constructs the prompts for the secondary normalization pass that
// converts an arbitrary response into the canonical JSON object.
func Normalize(raw string) (system string, user string) {
	system = fmt.Sprintf(`You convert text into JSON. Return ONLY a JSON object with exactly this shape and nothing else:
%s

Rules:
- Copy any test code found in the input into "testCode" unchanged
- If the input has no explanation, write a one sentence summary
- Use empty arrays and an empty string for fields you cannot fill
- No markdown fencing, no prose`, canonicalShape)

	user = "Convert this response:\n\n" + raw
	return
}

func writeList(sb *strings.Builder, label string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(sb, "- %s: %s\n", label, strings.Join(items, ", "))
}
