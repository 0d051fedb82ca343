package scanner

import (
	"path/filepath"
	"regexp"
	"strings"
	"unicode"

	"github.com/iagogaldino/auto-teste-angular-sub000/internal/models"
)

// UnknownComponentName is used when no name can be derived at all.
const UnknownComponentName = "UnknownComponent"

// StructuralExtractor turns source text into a component descriptor.
// Extract reports false when the file is not a component.
type StructuralExtractor interface {
	Extract(path, src string) (*models.ComponentDescriptor, bool)
	Describe(path, src string) *models.ComponentDescriptor
}

// LineExtractor is a line-oriented, regex-driven extractor. It does not parse
// TypeScript and tolerates imperfect recall.
type LineExtractor struct{}

var (
	componentMarkerRe = regexp.MustCompile(`@Component\s*\(`)
	// boundClassRe is applied to the text right after the decorator's closing
	// paren: optional decorators and comments, then an exported class.
	boundClassRe = regexp.MustCompile(`(?s)^(?:\s|//[^\n]*\n|/\*.*?\*/|@\w+(?:\([^()]*\))?)*export\s+(?:default\s+)?(?:abstract\s+)?class\s+([A-Za-z_$][\w$]*)`)
	suffixClassRe = regexp.MustCompile(`class\s+([A-Za-z_$][\w$]*Component)\b`)
	anyClassRe    = regexp.MustCompile(`class\s+([A-Za-z_$][\w$]*)`)

	selectorRe    = regexp.MustCompile("selector\\s*:\\s*['\"`]([^'\"`]+)['\"`]")
	standaloneRe  = regexp.MustCompile(`standalone\s*:\s*true`)
	importsRe     = regexp.MustCompile(`(?s)imports\s*:\s*\[(.*?)\]`)
	templateURLRe = regexp.MustCompile("templateUrl\\s*:\\s*['\"`]([^'\"`]+)['\"`]")
	styleURLRe    = regexp.MustCompile("styleUrl\\s*:\\s*['\"`]([^'\"`]+)['\"`]")
	styleURLsRe   = regexp.MustCompile(`(?s)styleUrls\s*:\s*\[(.*?)\]`)
	quotedRe      = regexp.MustCompile("['\"`]([^'\"`]+)['\"`]")

	decoratorPrefixRe = regexp.MustCompile(`^(?:@\w+(?:\([^()]*\))?\s*)+`)
	methodRe          = regexp.MustCompile(`^(?:(?:public|private|protected|static|async|override|abstract)\s+)*([A-Za-z_$][\w$]*)\s*(?:<[^>]*>)?\s*\([^)]*\)?\s*(?::\s*[^{=;]+)?\{?\s*$`)
	fieldRe           = regexp.MustCompile(`^(?:(?:public|private|protected|static|readonly|override|declare)\s+)*([A-Za-z_$#][\w$]*)\s*[!?]?\s*(?::\s*[^=;]+?)?\s*(?:=|;|$)`)
	signalRe          = regexp.MustCompile(`([A-Za-z_$#][\w$]*)\s*(?::\s*[^=]+)?=\s*signal\s*(?:<[^=]*>)?\s*\(`)
	computedRe        = regexp.MustCompile(`([A-Za-z_$#][\w$]*)\s*(?::\s*[^=]+)?=\s*computed\s*(?:<[^=]*>)?\s*\(`)
	interfaceRe       = regexp.MustCompile(`^\s*(?:export\s+)?interface\s+[A-Za-z_$][\w$]*`)
	ctorRe            = regexp.MustCompile(`(?s)constructor\s*\((.*?)\)\s*\{`)
	ctorParamTypeRe   = regexp.MustCompile(`[A-Za-z_$][\w$]*\s*\??\s*:\s*([A-Za-z_$][\w$.]*)`)
	injectRe          = regexp.MustCompile(`\binject\s*(?:<[^>]*>)?\s*\(\s*([A-Za-z_$][\w$.]*)`)
)

var nonMethodNames = map[string]bool{
	"if": true, "for": true, "while": true, "switch": true, "catch": true,
	"return": true, "else": true, "function": true, "constructor": true,
	"get": true, "set": true, "new": true, "typeof": true, "await": true,
}

// IsComponent reports whether src has a component marker textually bound to
// an exported class declaration.
func IsComponent(src string) bool {
	_, ok := boundClassName(src)
	return ok
}

// boundClassName returns the exported class bound to the first component
// decorator whose metadata is followed by one.
func boundClassName(src string) (string, bool) {
	for _, loc := range componentMarkerRe.FindAllStringIndex(src, -1) {
		end := matchingParen(src, loc[1]-1)
		if end < 0 {
			continue
		}
		if m := boundClassRe.FindStringSubmatch(src[end+1:]); m != nil {
			return m[1], true
		}
	}
	return "", false
}

// matchingParen returns the index of the ')' closing the '(' at open, skipping
// string and template literals. It returns -1 when unbalanced.
func matchingParen(src string, open int) int {
	depth := 0
	var quote byte
	for i := open; i < len(src); i++ {
		c := src[i]
		if quote != 0 {
			if c == '\\' {
				i++
				continue
			}
			if c == quote {
				quote = 0
			}
			continue
		}
		switch c {
		case '\'', '"', '`':
			quote = c
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

// Extract returns a descriptor only for bound component files.
func (LineExtractor) Extract(path, src string) (*models.ComponentDescriptor, bool) {
	if !IsComponent(src) {
		return nil, false
	}
	return LineExtractor{}.Describe(path, src), true
}

// Describe extracts whatever structure it can find, component or not.
func (LineExtractor) Describe(path, src string) *models.ComponentDescriptor {
	d := &models.ComponentDescriptor{FilePath: path}

	if m := selectorRe.FindStringSubmatch(src); m != nil {
		d.Selector = m[1]
	}
	d.Name = deriveName(src, d.Selector)
	d.Standalone = standaloneRe.MatchString(src)

	meta := decoratorMetadata(src)
	if m := importsRe.FindStringSubmatch(meta); m != nil {
		d.Imports = splitList(m[1])
	}
	if m := templateURLRe.FindStringSubmatch(meta); m != nil {
		d.TemplateURL = m[1]
	}
	if m := styleURLRe.FindStringSubmatch(meta); m != nil {
		d.StyleURLs = append(d.StyleURLs, m[1])
	}
	if m := styleURLsRe.FindStringSubmatch(meta); m != nil {
		for _, q := range quotedRe.FindAllStringSubmatch(m[1], -1) {
			d.StyleURLs = append(d.StyleURLs, q[1])
		}
	}

	body := classBody(src, d.Name)
	for _, line := range body {
		line = strings.TrimSpace(decoratorPrefixRe.ReplaceAllString(strings.TrimSpace(line), ""))
		if line == "" || strings.HasPrefix(line, "//") || strings.HasPrefix(line, "*") || strings.HasPrefix(line, "/*") {
			continue
		}
		if m := signalRe.FindStringSubmatch(line); m != nil {
			d.StatefulFields = appendUnique(d.StatefulFields, m[1])
		}
		if m := computedRe.FindStringSubmatch(line); m != nil {
			d.DerivedFields = appendUnique(d.DerivedFields, m[1])
		}
		if isAccessor(line) {
			continue
		}
		if m := methodRe.FindStringSubmatch(line); m != nil && !nonMethodNames[m[1]] && strings.Contains(line, "(") {
			d.Methods = appendUnique(d.Methods, m[1])
			continue
		}
		if m := fieldRe.FindStringSubmatch(line); m != nil && !nonMethodNames[m[1]] && !strings.HasPrefix(line, "constructor") {
			d.Fields = appendUnique(d.Fields, m[1])
		}
	}

	d.NestedTypes = nestedTypes(src)
	d.Dependencies = dependencies(src)
	d.Facts = buildFacts(d)
	return d
}

// deriveName applies the three-tier fallback: bound class, conventional
// suffix match, then a name built from the selector.
func deriveName(src, selector string) string {
	if name, ok := boundClassName(src); ok {
		return name
	}
	if m := suffixClassRe.FindStringSubmatch(src); m != nil {
		return m[1]
	}
	if selector != "" {
		return pascal(selector) + "Component"
	}
	if m := anyClassRe.FindStringSubmatch(src); m != nil {
		return m[1]
	}
	return UnknownComponentName
}

func pascal(s string) string {
	var b strings.Builder
	upper := true
	for _, r := range s {
		if r == '-' || r == '_' || r == ' ' || r == '.' {
			upper = true
			continue
		}
		if upper {
			b.WriteRune(unicode.ToUpper(r))
			upper = false
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// decoratorMetadata returns the text of the first component decorator call,
// or "" when there is none.
func decoratorMetadata(src string) string {
	loc := componentMarkerRe.FindStringIndex(src)
	if loc == nil {
		return ""
	}
	end := matchingParen(src, loc[1]-1)
	if end < 0 {
		return src[loc[0]:]
	}
	return src[loc[0] : end+1]
}

// classBody returns the lines directly inside the named class body (brace
// depth one). Nested blocks are skipped.
func classBody(src, name string) []string {
	re := regexp.MustCompile(`class\s+` + regexp.QuoteMeta(name) + `\b[^{]*\{`)
	loc := re.FindStringIndex(src)
	if loc == nil {
		return nil
	}

	var lines []string
	var cur strings.Builder
	depth := 1
	for i := loc[1]; i < len(src) && depth > 0; i++ {
		c := src[i]
		switch c {
		case '{':
			if depth == 1 {
				cur.WriteByte(c)
			}
			depth++
			continue
		case '}':
			depth--
			continue
		case '\n':
			if depth == 1 {
				lines = append(lines, cur.String())
				cur.Reset()
			}
			continue
		}
		if depth == 1 {
			cur.WriteByte(c)
		}
	}
	if cur.Len() > 0 {
		lines = append(lines, cur.String())
	}
	return lines
}

func isAccessor(line string) bool {
	for _, prefix := range []string{"get ", "set ", "public get ", "public set ", "private get ", "private set ", "protected get ", "protected set ", "static get ", "static set "} {
		if strings.HasPrefix(line, prefix) {
			return true
		}
	}
	return false
}

// nestedTypes returns the full text of every interface declaration, from the
// interface line to its matching closing brace.
func nestedTypes(src string) []string {
	lines := strings.Split(src, "\n")
	var out []string
	for i := 0; i < len(lines); i++ {
		if !interfaceRe.MatchString(lines[i]) {
			continue
		}
		var b strings.Builder
		depth := 0
		opened := false
		j := i
		for ; j < len(lines); j++ {
			b.WriteString(lines[j])
			b.WriteByte('\n')
			depth += strings.Count(lines[j], "{") - strings.Count(lines[j], "}")
			if strings.Contains(lines[j], "{") {
				opened = true
			}
			if opened && depth <= 0 {
				break
			}
		}
		out = append(out, strings.TrimRight(b.String(), "\n"))
		i = j
	}
	return out
}

// dependencies collects constructor-injected and inject()-ed types.
func dependencies(src string) []string {
	var deps []string
	if m := ctorRe.FindStringSubmatch(src); m != nil {
		for _, p := range ctorParamTypeRe.FindAllStringSubmatch(m[1], -1) {
			deps = appendUnique(deps, p[1])
		}
	}
	for _, m := range injectRe.FindAllStringSubmatch(src, -1) {
		deps = appendUnique(deps, m[1])
	}
	return deps
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if i := strings.Index(part, "//"); i >= 0 {
			part = strings.TrimSpace(part[:i])
		}
		if part == "" {
			continue
		}
		out = appendUnique(out, part)
	}
	return out
}

func appendUnique(list []string, v string) []string {
	for _, existing := range list {
		if existing == v {
			return list
		}
	}
	return append(list, v)
}

func buildFacts(d *models.ComponentDescriptor) []models.Fact {
	var facts []models.Fact
	add := func(kind models.FactKind, values ...string) {
		for _, v := range values {
			facts = append(facts, models.Fact{Kind: kind, Value: v})
		}
	}
	add(models.FactImport, d.Imports...)
	add(models.FactMethod, d.Methods...)
	add(models.FactField, d.Fields...)
	add(models.FactStatefulField, d.StatefulFields...)
	add(models.FactDerivedField, d.DerivedFields...)
	add(models.FactNestedType, d.NestedTypes...)
	add(models.FactDependency, d.Dependencies...)
	if d.TemplateURL != "" {
		add(models.FactTemplate, d.TemplateURL)
	}
	add(models.FactStyle, d.StyleURLs...)
	return facts
}

// displayPath shortens p relative to root for error messages.
func displayPath(root, p string) string {
	if rel, err := filepath.Rel(root, p); err == nil {
		return rel
	}
	return p
}
