package policy

import (
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/rcliao/slicegate/internal/model"
)

// Predicate expressions are a small closed grammar over record
// attributes, compiled once at registration and evaluated per record
// with no runtime code execution:
//
//	expr    := or
//	or      := and ("or" and)*
//	and     := unary ("and" unary)*
//	unary   := "not" unary | "(" expr ")" | cmp
//	cmp     := field op literal
//	field   := "salience" | "thread" | "id" | "source" | "timestamp"
//	op      := "==" | "!=" | "<" | "<=" | ">" | ">="
//	literal := number | quoted string (timestamp: RFC3339)
type expr interface {
	eval(r *model.Record) bool
}

type orExpr struct{ l, r expr }

func (e orExpr) eval(r *model.Record) bool { return e.l.eval(r) || e.r.eval(r) }

type andExpr struct{ l, r expr }

func (e andExpr) eval(r *model.Record) bool { return e.l.eval(r) && e.r.eval(r) }

type notExpr struct{ x expr }

func (e notExpr) eval(r *model.Record) bool { return !e.x.eval(r) }

type cmpOp int

const (
	opEQ cmpOp = iota
	opNE
	opLT
	opLE
	opGT
	opGE
)

func compareInt(c int, op cmpOp) bool {
	switch op {
	case opEQ:
		return c == 0
	case opNE:
		return c != 0
	case opLT:
		return c < 0
	case opLE:
		return c <= 0
	case opGT:
		return c > 0
	case opGE:
		return c >= 0
	}
	return false
}

type numCmp struct {
	get func(r *model.Record) float64
	op  cmpOp
	val float64
}

func (e numCmp) eval(r *model.Record) bool {
	v := e.get(r)
	switch {
	case v == e.val:
		return compareInt(0, e.op)
	case v < e.val:
		return compareInt(-1, e.op)
	default:
		return compareInt(1, e.op)
	}
}

type strCmp struct {
	get func(r *model.Record) string
	op  cmpOp
	val string
}

func (e strCmp) eval(r *model.Record) bool {
	return compareInt(strings.Compare(e.get(r), e.val), e.op)
}

type timeCmp struct {
	op  cmpOp
	val time.Time
}

func (e timeCmp) eval(r *model.Record) bool {
	return compareInt(r.Timestamp.Compare(e.val), e.op)
}

// compilePredicate parses src into an expression tree. Errors are
// schema errors: the policy carrying the predicate is rejected.
func compilePredicate(src string) (expr, error) {
	toks, err := lex(src)
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks}
	e, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if !p.done() {
		return nil, fmt.Errorf("unexpected trailing input at %q", p.peek().text)
	}
	return e, nil
}

type tokKind int

const (
	tokIdent tokKind = iota
	tokNumber
	tokString
	tokOp
	tokLParen
	tokRParen
)

type token struct {
	kind tokKind
	text string
}

func lex(src string) ([]token, error) {
	var toks []token
	i := 0
	for i < len(src) {
		c := src[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n':
			i++
		case c == '(':
			toks = append(toks, token{tokLParen, "("})
			i++
		case c == ')':
			toks = append(toks, token{tokRParen, ")"})
			i++
		case c == '\'' || c == '"':
			quote := c
			j := i + 1
			for j < len(src) && src[j] != quote {
				j++
			}
			if j == len(src) {
				return nil, fmt.Errorf("unterminated string at offset %d", i)
			}
			toks = append(toks, token{tokString, src[i+1 : j]})
			i = j + 1
		case strings.ContainsRune("=!<>", rune(c)):
			j := i + 1
			if j < len(src) && src[j] == '=' {
				j++
			}
			op := src[i:j]
			switch op {
			case "==", "!=", "<", "<=", ">", ">=":
			default:
				return nil, fmt.Errorf("invalid operator %q", op)
			}
			toks = append(toks, token{tokOp, op})
			i = j
		case unicode.IsDigit(rune(c)) || c == '.' || c == '-':
			j := i + 1
			for j < len(src) && (unicode.IsDigit(rune(src[j])) || src[j] == '.') {
				j++
			}
			toks = append(toks, token{tokNumber, src[i:j]})
			i = j
		case unicode.IsLetter(rune(c)) || c == '_':
			j := i + 1
			for j < len(src) && (unicode.IsLetter(rune(src[j])) || unicode.IsDigit(rune(src[j])) || src[j] == '_') {
				j++
			}
			toks = append(toks, token{tokIdent, src[i:j]})
			i = j
		default:
			return nil, fmt.Errorf("unexpected character %q at offset %d", c, i)
		}
	}
	return toks, nil
}

type parser struct {
	toks []token
	pos  int
}

func (p *parser) done() bool { return p.pos >= len(p.toks) }

func (p *parser) peek() token {
	if p.done() {
		return token{}
	}
	return p.toks[p.pos]
}

func (p *parser) next() token {
	t := p.peek()
	p.pos++
	return t
}

func (p *parser) parseOr() (expr, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for !p.done() && p.peek().kind == tokIdent && p.peek().text == "or" {
		p.next()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = orExpr{left, right}
	}
	return left, nil
}

func (p *parser) parseAnd() (expr, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for !p.done() && p.peek().kind == tokIdent && p.peek().text == "and" {
		p.next()
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = andExpr{left, right}
	}
	return left, nil
}

func (p *parser) parseUnary() (expr, error) {
	if p.peek().kind == tokIdent && p.peek().text == "not" {
		p.next()
		x, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return notExpr{x}, nil
	}
	if p.peek().kind == tokLParen {
		p.next()
		e, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if p.peek().kind != tokRParen {
			return nil, fmt.Errorf("expected ')', got %q", p.peek().text)
		}
		p.next()
		return e, nil
	}
	return p.parseCmp()
}

func (p *parser) parseCmp() (expr, error) {
	field := p.next()
	if field.kind != tokIdent {
		return nil, fmt.Errorf("expected field name, got %q", field.text)
	}
	opTok := p.next()
	if opTok.kind != tokOp {
		return nil, fmt.Errorf("expected comparison operator after %q, got %q", field.text, opTok.text)
	}
	var op cmpOp
	switch opTok.text {
	case "==":
		op = opEQ
	case "!=":
		op = opNE
	case "<":
		op = opLT
	case "<=":
		op = opLE
	case ">":
		op = opGT
	case ">=":
		op = opGE
	}
	lit := p.next()

	switch field.text {
	case "salience":
		if lit.kind != tokNumber {
			return nil, fmt.Errorf("salience requires a numeric literal, got %q", lit.text)
		}
		v, err := strconv.ParseFloat(lit.text, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid number %q", lit.text)
		}
		return numCmp{func(r *model.Record) float64 { return r.Salience }, op, v}, nil
	case "thread":
		if lit.kind != tokString {
			return nil, fmt.Errorf("thread requires a string literal, got %q", lit.text)
		}
		return strCmp{func(r *model.Record) string { return r.ThreadID }, op, lit.text}, nil
	case "id":
		if lit.kind != tokString {
			return nil, fmt.Errorf("id requires a string literal, got %q", lit.text)
		}
		return strCmp{func(r *model.Record) string { return r.ID }, op, lit.text}, nil
	case "source":
		if lit.kind != tokString {
			return nil, fmt.Errorf("source requires a string literal, got %q", lit.text)
		}
		return strCmp{func(r *model.Record) string { return r.Source }, op, lit.text}, nil
	case "timestamp":
		if lit.kind != tokString {
			return nil, fmt.Errorf("timestamp requires an RFC3339 string literal, got %q", lit.text)
		}
		ts, err := time.Parse(time.RFC3339, lit.text)
		if err != nil {
			return nil, fmt.Errorf("invalid timestamp literal %q: %v", lit.text, err)
		}
		return timeCmp{op, ts}, nil
	default:
		return nil, fmt.Errorf("unknown field %q (valid: salience, thread, id, source, timestamp)", field.text)
	}
}
