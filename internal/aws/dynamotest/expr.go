package dynamotest

import (
	"fmt"
	"reflect"
	"strings"
	"unicode"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/shopspring/decimal"
)

// The evaluator supports the expression subset used by the stores:
//
//	conditions: AND OR NOT ( ) = <> < <= > >= attribute_exists attribute_not_exists
//	updates:    SET a = v [+|- v], if_not_exists(a, v), list_append(v, v); ADD a :n; REMOVE a
//
// Paths are top-level attribute names or #placeholders.

type tokenKind int

const (
	tokIdent tokenKind = iota
	tokName
	tokValue
	tokPunct
	tokEOF
)

type token struct {
	kind tokenKind
	text string
}

func tokenize(s string) ([]token, error) {
	var out []token
	i := 0
	for i < len(s) {
		c := rune(s[i])
		switch {
		case unicode.IsSpace(c):
			i++
		case c == '#' || c == ':':
			j := i + 1
			for j < len(s) && isIdentRune(rune(s[j])) {
				j++
			}
			kind := tokName
			if c == ':' {
				kind = tokValue
			}
			out = append(out, token{kind: kind, text: s[i:j]})
			i = j
		case isIdentRune(c):
			j := i
			for j < len(s) && isIdentRune(rune(s[j])) {
				j++
			}
			out = append(out, token{kind: tokIdent, text: s[i:j]})
			i = j
		case c == '<' || c == '>':
			if i+1 < len(s) && (s[i+1] == '=' || (c == '<' && s[i+1] == '>')) {
				out = append(out, token{kind: tokPunct, text: s[i : i+2]})
				i += 2
				continue
			}
			out = append(out, token{kind: tokPunct, text: string(c)})
			i++
		case strings.ContainsRune("()=,+-", c):
			out = append(out, token{kind: tokPunct, text: string(c)})
			i++
		default:
			return nil, fmt.Errorf("unexpected character %q in expression %q", c, s)
		}
	}
	return append(out, token{kind: tokEOF}), nil
}

func isIdentRune(r rune) bool {
	return r == '_' || r == '.' || unicode.IsLetter(r) || unicode.IsDigit(r)
}

type env struct {
	item   map[string]types.AttributeValue
	names  map[string]string
	values map[string]types.AttributeValue
}

type parser struct {
	toks []token
	pos  int
	env  env
}

func (p *parser) peek() token { return p.toks[p.pos] }

func (p *parser) next() token {
	t := p.toks[p.pos]
	if t.kind != tokEOF {
		p.pos++
	}
	return t
}

func (p *parser) keyword(kw string) bool {
	t := p.peek()
	if t.kind == tokIdent && strings.EqualFold(t.text, kw) {
		p.pos++
		return true
	}
	return false
}

func (p *parser) punct(s string) bool {
	t := p.peek()
	if t.kind == tokPunct && t.text == s {
		p.pos++
		return true
	}
	return false
}

func (p *parser) expect(s string) error {
	if !p.punct(s) {
		return fmt.Errorf("expected %q, got %q", s, p.peek().text)
	}
	return nil
}

func (p *parser) path() (string, error) {
	t := p.next()
	switch t.kind {
	case tokIdent:
		return t.text, nil
	case tokName:
		name, ok := p.env.names[t.text]
		if !ok {
			return "", fmt.Errorf("undefined attribute name %s", t.text)
		}
		return name, nil
	default:
		return "", fmt.Errorf("expected attribute path, got %q", t.text)
	}
}

// evalCondition evaluates a condition expression against item.
func evalCondition(expr string, e env) (bool, error) {
	toks, err := tokenize(expr)
	if err != nil {
		return false, err
	}
	p := &parser{toks: toks, env: e}
	ok, err := p.or()
	if err != nil {
		return false, err
	}
	if p.peek().kind != tokEOF {
		return false, fmt.Errorf("trailing tokens in %q", expr)
	}
	return ok, nil
}

func (p *parser) or() (bool, error) {
	left, err := p.and()
	if err != nil {
		return false, err
	}
	for p.keyword("OR") {
		right, err := p.and()
		if err != nil {
			return false, err
		}
		left = left || right
	}
	return left, nil
}

func (p *parser) and() (bool, error) {
	left, err := p.unary()
	if err != nil {
		return false, err
	}
	for p.keyword("AND") {
		right, err := p.unary()
		if err != nil {
			return false, err
		}
		left = left && right
	}
	return left, nil
}

func (p *parser) unary() (bool, error) {
	if p.keyword("NOT") {
		v, err := p.unary()
		return !v, err
	}
	if p.punct("(") {
		v, err := p.or()
		if err != nil {
			return false, err
		}
		return v, p.expect(")")
	}
	t := p.peek()
	if t.kind == tokIdent {
		switch strings.ToLower(t.text) {
		case "attribute_exists", "attribute_not_exists":
			p.next()
			if err := p.expect("("); err != nil {
				return false, err
			}
			name, err := p.path()
			if err != nil {
				return false, err
			}
			if err := p.expect(")"); err != nil {
				return false, err
			}
			_, exists := p.env.item[name]
			if strings.EqualFold(t.text, "attribute_exists") {
				return exists, nil
			}
			return !exists, nil
		}
	}
	left, err := p.operand()
	if err != nil {
		return false, err
	}
	op := p.next()
	if op.kind != tokPunct {
		return false, fmt.Errorf("expected comparator, got %q", op.text)
	}
	right, err := p.operand()
	if err != nil {
		return false, err
	}
	return compare(left, op.text, right)
}

// operand resolves a path or value. Missing attributes resolve to nil.
func (p *parser) operand() (types.AttributeValue, error) {
	t := p.peek()
	if t.kind == tokValue {
		p.next()
		v, ok := p.env.values[t.text]
		if !ok {
			return nil, fmt.Errorf("undefined attribute value %s", t.text)
		}
		return v, nil
	}
	if t.kind == tokIdent {
		switch strings.ToLower(t.text) {
		case "if_not_exists":
			p.next()
			if err := p.expect("("); err != nil {
				return nil, err
			}
			name, err := p.path()
			if err != nil {
				return nil, err
			}
			if err := p.expect(","); err != nil {
				return nil, err
			}
			fallback, err := p.operand()
			if err != nil {
				return nil, err
			}
			if err := p.expect(")"); err != nil {
				return nil, err
			}
			if v, ok := p.env.item[name]; ok {
				return v, nil
			}
			return fallback, nil
		case "list_append":
			p.next()
			if err := p.expect("("); err != nil {
				return nil, err
			}
			a, err := p.operand()
			if err != nil {
				return nil, err
			}
			if err := p.expect(","); err != nil {
				return nil, err
			}
			b, err := p.operand()
			if err != nil {
				return nil, err
			}
			if err := p.expect(")"); err != nil {
				return nil, err
			}
			la, ok1 := a.(*types.AttributeValueMemberL)
			lb, ok2 := b.(*types.AttributeValueMemberL)
			if !ok1 || !ok2 {
				return nil, fmt.Errorf("list_append on non-list operands")
			}
			out := make([]types.AttributeValue, 0, len(la.Value)+len(lb.Value))
			out = append(out, la.Value...)
			out = append(out, lb.Value...)
			return &types.AttributeValueMemberL{Value: out}, nil
		}
	}
	name, err := p.path()
	if err != nil {
		return nil, err
	}
	return p.env.item[name], nil
}

// arith parses operand [(+|-) operand].
func (p *parser) arith() (types.AttributeValue, error) {
	left, err := p.operand()
	if err != nil {
		return nil, err
	}
	for {
		var sign int
		switch {
		case p.punct("+"):
			sign = 1
		case p.punct("-"):
			sign = -1
		default:
			return left, nil
		}
		right, err := p.operand()
		if err != nil {
			return nil, err
		}
		a, err := number(left)
		if err != nil {
			return nil, err
		}
		b, err := number(right)
		if err != nil {
			return nil, err
		}
		if sign > 0 {
			left = &types.AttributeValueMemberN{Value: a.Add(b).String()}
		} else {
			left = &types.AttributeValueMemberN{Value: a.Sub(b).String()}
		}
	}
}

func number(v types.AttributeValue) (decimal.Decimal, error) {
	n, ok := v.(*types.AttributeValueMemberN)
	if !ok {
		return decimal.Zero, fmt.Errorf("arithmetic on non-number operand %T", v)
	}
	return decimal.NewFromString(n.Value)
}

func compare(a types.AttributeValue, op string, b types.AttributeValue) (bool, error) {
	if a == nil || b == nil {
		return false, nil
	}
	var cmp int
	switch av := a.(type) {
	case *types.AttributeValueMemberN:
		bv, ok := b.(*types.AttributeValueMemberN)
		if !ok {
			return false, nil
		}
		x, err := decimal.NewFromString(av.Value)
		if err != nil {
			return false, err
		}
		y, err := decimal.NewFromString(bv.Value)
		if err != nil {
			return false, err
		}
		cmp = x.Cmp(y)
	case *types.AttributeValueMemberS:
		bv, ok := b.(*types.AttributeValueMemberS)
		if !ok {
			return false, nil
		}
		cmp = strings.Compare(av.Value, bv.Value)
	default:
		eq := reflect.DeepEqual(a, b)
		switch op {
		case "=":
			return eq, nil
		case "<>":
			return !eq, nil
		default:
			return false, nil
		}
	}
	switch op {
	case "=":
		return cmp == 0, nil
	case "<>":
		return cmp != 0, nil
	case "<":
		return cmp < 0, nil
	case "<=":
		return cmp <= 0, nil
	case ">":
		return cmp > 0, nil
	case ">=":
		return cmp >= 0, nil
	}
	return false, fmt.Errorf("unknown comparator %q", op)
}

// applyUpdate evaluates an update expression and returns the new item.
// All right-hand sides are evaluated against the original item.
func applyUpdate(expr string, e env) (map[string]types.AttributeValue, error) {
	toks, err := tokenize(expr)
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks, env: e}
	out := cloneItem(e.item)
	for p.peek().kind != tokEOF {
		switch {
		case p.keyword("SET"):
			for {
				name, err := p.path()
				if err != nil {
					return nil, err
				}
				if err := p.expect("="); err != nil {
					return nil, err
				}
				v, err := p.arith()
				if err != nil {
					return nil, err
				}
				out[name] = v
				if !p.punct(",") {
					break
				}
			}
		case p.keyword("ADD"):
			for {
				name, err := p.path()
				if err != nil {
					return nil, err
				}
				v, err := p.operand()
				if err != nil {
					return nil, err
				}
				delta, err := number(v)
				if err != nil {
					return nil, err
				}
				cur := decimal.Zero
				if existing, ok := e.item[name]; ok {
					if cur, err = number(existing); err != nil {
						return nil, err
					}
				}
				out[name] = &types.AttributeValueMemberN{Value: cur.Add(delta).String()}
				if !p.punct(",") {
					break
				}
			}
		case p.keyword("REMOVE"):
			for {
				name, err := p.path()
				if err != nil {
					return nil, err
				}
				delete(out, name)
				if !p.punct(",") {
					break
				}
			}
		default:
			return nil, fmt.Errorf("unexpected token %q in update expression", p.peek().text)
		}
	}
	return out, nil
}

func cloneItem(item map[string]types.AttributeValue) map[string]types.AttributeValue {
	out := make(map[string]types.AttributeValue, len(item))
	for k, v := range item {
		out[k] = v
	}
	return out
}
