package notify

import "regexp"

// ruleDecl matches "rule <name>" followed by optional tags and then an opening
// brace or the end of the line.
var ruleDecl = regexp.MustCompile(`(?m)\brule[ \t]+([A-Za-z_][A-Za-z0-9_]*)[ \t]*(?::[^{\n]*)?(?:\{|\r?$)`)

// RuleNames returns the names of the rules declared in a rule-set body, in
// order of first appearance. It is only used for reporting.
func RuleNames(rules string) []string {
	matches := ruleDecl.FindAllStringSubmatch(rules, -1)
	if len(matches) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(matches))
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		name := m[1]
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}
	return out
}
