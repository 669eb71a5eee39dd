package condition

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"unicode"

	"github.com/hupe1980/groupmesh/core"
)

// ErrSyntax is wrapped by every expression parse error.
var ErrSyntax = errors.New("expression syntax error")

// Expression is a parsed boolean expression over context variables written as
// ${name}. Supported: not / and / or (also ! & | && ||), parentheses,
// == != < <= > >=, numbers, quoted strings, True/False, None and len(${name}).
//
//	${attempts} >= 3 or ${is_premium} == True or ${tier} == 'gold'
//	not(${logged_in} and ${is_admin}) or (${guest_checkout})
type Expression struct {
	src  string
	root node
	vars []string
}

// ParseExpression parses src. Syntax errors wrap ErrSyntax.
func ParseExpression(src string) (*Expression, error) {
	toks, err := tokenize(src)
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks, vars: map[string]struct{}{}}
	root, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if p.peek().kind != tokEOF {
		return nil, p.errorf("unexpected %q", p.peek().text)
	}
	vars := make([]string, 0, len(p.vars))
	for v := range p.vars {
		vars = append(vars, v)
	}
	sort.Strings(vars)
	return &Expression{src: src, root: root, vars: vars}, nil
}

// MustParseExpression is like ParseExpression but panics on error.
func MustParseExpression(src string) *Expression {
	e, err := ParseExpression(src)
	if err != nil {
		panic(err)
	}
	return e
}

// String returns the source text.
func (e *Expression) String() string { return e.src }

// Variables returns the sorted set of referenced variable names.
func (e *Expression) Variables() []string { return append([]string(nil), e.vars...) }

// Evaluate computes the expression against store and applies truthiness to the result.
func (e *Expression) Evaluate(store *core.ContextStore) (bool, error) {
	v, err := e.root.eval(store)
	if err != nil {
		return false, fmt.Errorf("evaluate %q: %w", e.src, err)
	}
	return core.IsTruthy(v), nil
}

// --- lexer ---

type tokKind int

const (
	tokEOF tokKind = iota
	tokVar
	tokNumber
	tokString
	tokIdent
	tokOp
	tokLParen
	tokRParen
)

type token struct {
	kind tokKind
	text string
	pos  int
}

func tokenize(src string) ([]token, error) {
	var toks []token
	i := 0
	for i < len(src) {
		c := rune(src[i])
		switch {
		case unicode.IsSpace(c):
			i++
		case strings.HasPrefix(src[i:], "${"):
			end := strings.IndexByte(src[i:], '}')
			if end < 0 {
				return nil, fmt.Errorf("%w: unterminated variable at %d", ErrSyntax, i)
			}
			name := strings.TrimSpace(src[i+2 : i+end])
			if name == "" {
				return nil, fmt.Errorf("%w: empty variable at %d", ErrSyntax, i)
			}
			toks = append(toks, token{kind: tokVar, text: name, pos: i})
			i += end + 1
		case c == '\'' || c == '"':
			j := i + 1
			var b strings.Builder
			for j < len(src) && rune(src[j]) != c {
				if src[j] == '\\' && j+1 < len(src) {
					j++
				}
				b.WriteByte(src[j])
				j++
			}
			if j >= len(src) {
				return nil, fmt.Errorf("%w: unterminated string at %d", ErrSyntax, i)
			}
			toks = append(toks, token{kind: tokString, text: b.String(), pos: i})
			i = j + 1
		case unicode.IsDigit(c) || (c == '-' && i+1 < len(src) && unicode.IsDigit(rune(src[i+1])) && expectsOperand(toks)):
			j := i + 1
			for j < len(src) && (unicode.IsDigit(rune(src[j])) || src[j] == '.') {
				j++
			}
			toks = append(toks, token{kind: tokNumber, text: src[i:j], pos: i})
			i = j
		case unicode.IsLetter(c) || c == '_':
			j := i + 1
			for j < len(src) && (unicode.IsLetter(rune(src[j])) || unicode.IsDigit(rune(src[j])) || src[j] == '_') {
				j++
			}
			toks = append(toks, token{kind: tokIdent, text: src[i:j], pos: i})
			i = j
		case c == '(':
			toks = append(toks, token{kind: tokLParen, text: "(", pos: i})
			i++
		case c == ')':
			toks = append(toks, token{kind: tokRParen, text: ")", pos: i})
			i++
		default:
			op := ""
			for _, cand := range []string{"==", "!=", "<=", ">=", "&&", "||", "<", ">", "!", "&", "|"} {
				if strings.HasPrefix(src[i:], cand) {
					op = cand
					break
				}
			}
			if op == "" {
				return nil, fmt.Errorf("%w: unexpected character %q at %d", ErrSyntax, c, i)
			}
			toks = append(toks, token{kind: tokOp, text: op, pos: i})
			i += len(op)
		}
	}
	return append(toks, token{kind: tokEOF, pos: len(src)}), nil
}

// expectsOperand reports whether a '-' at this point starts a negative number.
func expectsOperand(toks []token) bool {
	if len(toks) == 0 {
		return true
	}
	last := toks[len(toks)-1]
	switch last.kind {
	case tokOp, tokLParen:
		return true
	case tokIdent:
		return isKeyword(last.text, "and", "or", "not")
	}
	return false
}

func isKeyword(s string, kws ...string) bool {
	for _, k := range kws {
		if strings.EqualFold(s, k) {
			return true
		}
	}
	return false
}

// --- parser ---

type parser struct {
	toks []token
	i    int
	vars map[string]struct{}
}

func (p *parser) peek() token { return p.toks[p.i] }

func (p *parser) next() token {
	t := p.toks[p.i]
	if t.kind != tokEOF {
		p.i++
	}
	return t
}

func (p *parser) errorf(format string, args ...any) error {
	return fmt.Errorf("%w at %d: %s", ErrSyntax, p.peek().pos, fmt.Sprintf(format, args...))
}

func (p *parser) accept(kind tokKind, texts ...string) bool {
	t := p.peek()
	if t.kind != kind {
		return false
	}
	if len(texts) > 0 && !isKeyword(t.text, texts...) {
		return false
	}
	p.i++
	return true
}

func (p *parser) parseOr() (node, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.accept(tokIdent, "or") || p.accept(tokOp, "|", "||") {
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = orNode{left, right}
	}
	return left, nil
}

func (p *parser) parseAnd() (node, error) {
	left, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	for p.accept(tokIdent, "and") || p.accept(tokOp, "&", "&&") {
		right, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		left = andNode{left, right}
	}
	return left, nil
}

func (p *parser) parseNot() (node, error) {
	if p.accept(tokIdent, "not") || p.accept(tokOp, "!") {
		inner, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		return notNode{inner}, nil
	}
	return p.parseComparison()
}

func (p *parser) parseComparison() (node, error) {
	left, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	t := p.peek()
	if t.kind == tokOp {
		switch t.text {
		case "==", "!=", "<", "<=", ">", ">=":
			p.next()
			right, err := p.parsePrimary()
			if err != nil {
				return nil, err
			}
			return cmpNode{op: t.text, left: left, right: right}, nil
		}
	}
	return left, nil
}

func (p *parser) parsePrimary() (node, error) {
	t := p.next()
	switch t.kind {
	case tokVar:
		p.vars[t.text] = struct{}{}
		return varNode{name: t.text}, nil
	case tokNumber:
		f, err := strconv.ParseFloat(t.text, 64)
		if err != nil {
			return nil, fmt.Errorf("%w at %d: bad number %q", ErrSyntax, t.pos, t.text)
		}
		return litNode{val: f}, nil
	case tokString:
		return litNode{val: t.text}, nil
	case tokLParen:
		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if !p.accept(tokRParen) {
			return nil, p.errorf("expected )")
		}
		return inner, nil
	case tokIdent:
		switch {
		case isKeyword(t.text, "true"):
			return litNode{val: true}, nil
		case isKeyword(t.text, "false"):
			return litNode{val: false}, nil
		case isKeyword(t.text, "none", "null"):
			return litNode{val: nil}, nil
		case t.text == "len":
			if !p.accept(tokLParen) {
				return nil, p.errorf("expected ( after len")
			}
			v := p.next()
			if v.kind != tokVar {
				return nil, fmt.Errorf("%w at %d: len() expects a ${variable}", ErrSyntax, v.pos)
			}
			p.vars[v.text] = struct{}{}
			if !p.accept(tokRParen) {
				return nil, p.errorf("expected )")
			}
			return lenNode{name: v.text}, nil
		}
		return nil, fmt.Errorf("%w at %d: unexpected identifier %q", ErrSyntax, t.pos, t.text)
	case tokEOF:
		return nil, fmt.Errorf("%w at %d: unexpected end of expression", ErrSyntax, t.pos)
	}
	return nil, fmt.Errorf("%w at %d: unexpected %q", ErrSyntax, t.pos, t.text)
}

// --- evaluation ---

type node interface {
	eval(store *core.ContextStore) (any, error)
}

type litNode struct{ val any }

func (n litNode) eval(*core.ContextStore) (any, error) { return n.val, nil }

type varNode struct{ name string }

func (n varNode) eval(store *core.ContextStore) (any, error) {
	v, _ := store.Get(n.name)
	return v, nil
}

type lenNode struct{ name string }

func (n lenNode) eval(store *core.ContextStore) (any, error) {
	v, ok := store.Get(n.name)
	if !ok || v == nil {
		return 0.0, nil
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.String, reflect.Slice, reflect.Map, reflect.Array:
		return float64(rv.Len()), nil
	}
	return nil, fmt.Errorf("len() of %T", v)
}

type notNode struct{ inner node }

func (n notNode) eval(store *core.ContextStore) (any, error) {
	v, err := n.inner.eval(store)
	if err != nil {
		return nil, err
	}
	return !core.IsTruthy(v), nil
}

type andNode struct{ left, right node }

func (n andNode) eval(store *core.ContextStore) (any, error) {
	l, err := n.left.eval(store)
	if err != nil {
		return nil, err
	}
	if !core.IsTruthy(l) {
		return false, nil
	}
	r, err := n.right.eval(store)
	if err != nil {
		return nil, err
	}
	return core.IsTruthy(r), nil
}

type orNode struct{ left, right node }

func (n orNode) eval(store *core.ContextStore) (any, error) {
	l, err := n.left.eval(store)
	if err != nil {
		return nil, err
	}
	if core.IsTruthy(l) {
		return true, nil
	}
	r, err := n.right.eval(store)
	if err != nil {
		return nil, err
	}
	return core.IsTruthy(r), nil
}

type cmpNode struct {
	op          string
	left, right node
}

func (n cmpNode) eval(store *core.ContextStore) (any, error) {
	l, err := n.left.eval(store)
	if err != nil {
		return nil, err
	}
	r, err := n.right.eval(store)
	if err != nil {
		return nil, err
	}
	switch n.op {
	case "==":
		return equal(l, r), nil
	case "!=":
		return !equal(l, r), nil
	}
	c, err := order(l, r)
	if err != nil {
		return nil, err
	}
	switch n.op {
	case "<":
		return c < 0, nil
	case "<=":
		return c <= 0, nil
	case ">":
		return c > 0, nil
	default:
		return c >= 0, nil
	}
}

func toNumber(v any) (float64, bool) {
	if v == nil {
		return 0, false
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int()), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(rv.Uint()), true
	case reflect.Float32, reflect.Float64:
		return rv.Float(), true
	}
	return 0, false
}

func equal(l, r any) bool {
	if l == nil || r == nil {
		return l == nil && r == nil
	}
	if lf, ok := toNumber(l); ok {
		rf, ok := toNumber(r)
		return ok && lf == rf
	}
	return reflect.DeepEqual(l, r)
}

func order(l, r any) (int, error) {
	if lf, ok := toNumber(l); ok {
		if rf, ok := toNumber(r); ok {
			switch {
			case lf < rf:
				return -1, nil
			case lf > rf:
				return 1, nil
			}
			return 0, nil
		}
	}
	if ls, ok := l.(string); ok {
		if rs, ok := r.(string); ok {
			return strings.Compare(ls, rs), nil
		}
	}
	return 0, fmt.Errorf("cannot order %T and %T", l, r)
}
