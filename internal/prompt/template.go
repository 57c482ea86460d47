package prompt

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

var variablePattern = regexp.MustCompile(`\{\{(\w+)\}\}`)

// Render substitutes {{variable}} placeholders with values from vars.
// Every placeholder must have a value; unused vars are ignored.
func Render(template string, vars map[string]string) (string, error) {
	required := ExtractVariables(template)

	var missing []string
	pairs := make([]string, 0, len(required)*2)
	for _, name := range required {
		val, ok := vars[name]
		if !ok {
			missing = append(missing, name)
			continue
		}
		pairs = append(pairs, "{{"+name+"}}", val)
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return "", fmt.Errorf("missing template variables: %s", strings.Join(missing, ", "))
	}

	return strings.NewReplacer(pairs...).Replace(template), nil
}

// ExtractVariables returns the distinct placeholder names in the template,
// in order of first appearance.
func ExtractVariables(template string) []string {
	var names []string
	seen := make(map[string]bool)
	for _, m := range variablePattern.FindAllStringSubmatch(template, -1) {
		if !seen[m[1]] {
			names = append(names, m[1])
			seen[m[1]] = true
		}
	}
	return names
}
