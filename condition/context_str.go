package condition

import (
	"fmt"
	"strings"

	"github.com/hupe1980/groupmesh/core"
)

// reserved placeholders are substituted later by the roster prompt builder.
var reservedPlaceholders = map[string]bool{"agentlist": true, "roles": true}

// ContextStr is a template with {var} placeholders filled from the context
// store. "{{" and "}}" produce literal braces.
type ContextStr struct {
	Template string
}

// Format substitutes every placeholder. A variable missing from the store is
// an error; {agentlist} and {roles} are left in place.
func (c ContextStr) Format(store *core.ContextStore) (string, error) {
	var b strings.Builder
	t := c.Template
	for i := 0; i < len(t); i++ {
		ch := t[i]
		switch {
		case ch == '{' && i+1 < len(t) && t[i+1] == '{':
			b.WriteByte('{')
			i++
		case ch == '}' && i+1 < len(t) && t[i+1] == '}':
			b.WriteByte('}')
			i++
		case ch == '{':
			end := strings.IndexByte(t[i:], '}')
			if end < 0 {
				return "", fmt.Errorf("unterminated placeholder in %q", c.Template)
			}
			name := strings.TrimSpace(t[i+1 : i+end])
			if reservedPlaceholders[name] {
				b.WriteString(t[i : i+end+1])
			} else {
				v, ok := store.Get(name)
				if !ok {
					return "", fmt.Errorf("context variable %q not found for template", name)
				}
				fmt.Fprint(&b, v)
			}
			i += end
		default:
			b.WriteByte(ch)
		}
	}
	return b.String(), nil
}

func (c ContextStr) String() string { return "ContextStr, unformatted: " + c.Template }
