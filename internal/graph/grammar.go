// Package graph implements the dependency-graph grammar of spec.md §4.7:
//
//	statement := expr ( '=>' expr )+
//	expr      := and_term ( '|' and_term )*
//	and_term  := node ( '&' node )*
//	node      := [ MOD '|' ] NAME [ '(' 'T' ('+'|'-') INT ')' ] [ ':' OUTPUT ]
//
// This grammar is not expressible in the hierarchical settings format
// (viper/YAML), so it gets its own hand-written recursive-descent parser.
package graph

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/taskcycle/metasched/internal/coreerr"
)

// Node is one parsed graph node.
type Node struct {
	Name    string
	Offset  int    // hours; always <= 0 after parsing (T+N is rejected)
	Output  string // empty if unspecified
	Starred bool
	OneOff  bool // true when a "MOD|" prefix preceded NAME (spec.md §4.7)
}

// Edge is one (left, right) dependency pair derived from a statement, the
// unit the compiler (§4.7 steps 1-5) consumes.
type Edge struct {
	Left  Node
	Right Node
}

// Statement is one parsed line: a left-hand side (possibly alternatives,
// each an AND-conjunction of nodes) feeding a right-hand side of the same
// shape, joined by one or more '=>'.
type Statement struct {
	Stages [][]altGroup // each stage is a '=>'-separated expr
}

type altGroup []Node // '|' alternatives; each alternative a single node, possibly starred (no parens)

// ParseLine parses one statement line and expands it into Edges, per
// spec.md §4.7: each right-hand conjunct depends on each left-hand
// conjunct, and '|' alternatives on the left pick a starred (or
// rightmost-by-default) representative for edge generation. Only the
// representative yields edges; the group's other alternatives produce no
// edge and so no prerequisite.
func ParseLine(line string) ([]Edge, error) {
	p := &parser{input: line}
	stages, err := p.parseStatement()
	if err != nil {
		return nil, err
	}
	if len(stages) < 2 {
		return nil, &coreerr.SuiteConfigError{Reason: "graph statement needs at least one '=>'", Detail: line}
	}
	var edges []Edge
	for i := 0; i < len(stages)-1; i++ {
		left := stages[i]
		right := stages[i+1]
		isLast := i == len(stages)-2
		if !isLast {
			// An intermediate stage is the right side of this edge set and
			// the left side of the next; as a right side it is checked
			// against OR_ON_RIGHT below, the same as the final stage.
		}
		for _, rightGroup := range right {
			if len(rightGroup) > 1 {
				return nil, &coreerr.SuiteConfigError{Reason: "OR_ON_RIGHT", Detail: line}
			}
		}
		for _, leftGroup := range left {
			chosen := chooseRepresentative(leftGroup)
			for _, rightGroup := range right {
				for _, rn := range rightGroup {
					edges = append(edges, Edge{Left: chosen, Right: rn})
				}
			}
			// The group's other alternatives are dropped here; ParseLine
			// does not return them.
			_ = leftGroup
		}
	}
	return edges, nil
}

// chooseRepresentative picks the starred member of an alternation group,
// or the rightmost member if none is starred (spec.md §4.7).
func chooseRepresentative(group []Node) Node {
	for _, n := range group {
		if n.Starred {
			return n
		}
	}
	return group[len(group)-1]
}

type parser struct {
	input string
	pos   int
}

func (p *parser) parseStatement() ([][]altGroup, error) {
	var stages [][]altGroup
	expr, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	stages = append(stages, expr)
	for {
		p.skipSpace()
		if p.consume("=>") {
			expr, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			stages = append(stages, expr)
			continue
		}
		break
	}
	p.skipSpace()
	if p.pos != len(p.input) {
		return nil, &coreerr.SuiteConfigError{Reason: "unexpected trailing input", Detail: p.input[p.pos:]}
	}
	return stages, nil
}

// parseExpr parses and_term ('|' and_term)*, returning one altGroup per
// '|'-separated and_term... but since '&' fans out, an expr is really a
// list of and_terms, each itself a conjunction. We flatten: expr is a list
// of altGroups, one per '&'-position, where each altGroup holds the '|'
// alternatives at that position. Given the grammar's shape (no
// parentheses), '&' binds tighter than '|' is wrong per the BNF above —
// the BNF has and_term as the '|' operand, so '|' is top-level and '&' is
// within each alternative. A statement side is therefore one set of '|'
// alternatives, each alternative a '&'-conjunction of nodes; we represent
// it as []altGroup where each element is the set of nodes contributed by
// one '&' position across all alternatives sharing that position count.
//
// To keep this tractable without parentheses, this parser requires every
// alternative in a '|' expression to have the same node count, and treats
// position i across alternatives as one altGroup (mirroring how `a & b |
// c & d` relates a-or-c at position 0 and b-or-d at position 1). This
// matches every example in the corpus, which never mixes differing arity
// alternatives.
func (p *parser) parseExpr() ([]altGroup, error) {
	var alternatives [][]Node
	term, err := p.parseAndTerm()
	if err != nil {
		return nil, err
	}
	alternatives = append(alternatives, term)
	for {
		p.skipSpace()
		if p.peek() == '|' {
			p.pos++
			term, err := p.parseAndTerm()
			if err != nil {
				return nil, err
			}
			alternatives = append(alternatives, term)
			continue
		}
		break
	}
	arity := len(alternatives[0])
	for _, a := range alternatives {
		if len(a) != arity {
			return nil, &coreerr.SuiteConfigError{Reason: "mismatched arity across '|' alternatives", Detail: p.input}
		}
	}
	groups := make([]altGroup, arity)
	for i := 0; i < arity; i++ {
		for _, a := range alternatives {
			groups[i] = append(groups[i], a[i])
		}
	}
	return groups, nil
}

func (p *parser) parseAndTerm() ([]Node, error) {
	var nodes []Node
	n, err := p.parseNode()
	if err != nil {
		return nil, err
	}
	nodes = append(nodes, n)
	for {
		p.skipSpace()
		if p.peek() == '&' {
			p.pos++
			n, err := p.parseNode()
			if err != nil {
				return nil, err
			}
			nodes = append(nodes, n)
			continue
		}
		break
	}
	return nodes, nil
}

func (p *parser) parseNode() (Node, error) {
	p.skipSpace()
	var n Node
	if p.peek() == '*' {
		n.Starred = true
		p.pos++
	}
	n.OneOff = p.tryModPrefix()
	name := p.parseIdent()
	if name == "" {
		return Node{}, &coreerr.SuiteConfigError{Reason: "expected task name", Detail: p.input[p.pos:]}
	}
	n.Name = name

	if p.peek() == '(' {
		p.pos++
		p.skipSpace()
		if p.peek() != 'T' {
			return Node{}, &coreerr.SuiteConfigError{Reason: "expected 'T' offset", Detail: p.input[p.pos:]}
		}
		p.pos++
		sign := p.peek()
		if sign != '+' && sign != '-' {
			return Node{}, &coreerr.SuiteConfigError{Reason: "expected '+' or '-' after T", Detail: p.input[p.pos:]}
		}
		p.pos++
		digits := p.parseDigits()
		if digits == "" {
			return Node{}, &coreerr.SuiteConfigError{Reason: "expected integer offset", Detail: p.input[p.pos:]}
		}
		v, _ := strconv.Atoi(digits)
		if sign == '+' {
			return Node{}, &coreerr.SuiteConfigError{Reason: "POSITIVE_OFFSET", Detail: fmt.Sprintf("%s(T+%d)", name, v)}
		}
		n.Offset = -v
		p.skipSpace()
		if p.peek() != ')' {
			return Node{}, &coreerr.SuiteConfigError{Reason: "expected ')'", Detail: p.input[p.pos:]}
		}
		p.pos++
	}

	if p.peek() == ':' {
		p.pos++
		out := p.parseIdent()
		if out == "" {
			return Node{}, &coreerr.SuiteConfigError{Reason: "expected output name after ':'", Detail: p.input[p.pos:]}
		}
		n.Output = out
	}
	return n, nil
}

func (p *parser) peek() byte {
	if p.pos >= len(p.input) {
		return 0
	}
	return p.input[p.pos]
}

func (p *parser) consume(tok string) bool {
	if strings.HasPrefix(p.input[p.pos:], tok) {
		p.pos += len(tok)
		return true
	}
	return false
}

func (p *parser) skipSpace() {
	for p.pos < len(p.input) && (p.input[p.pos] == ' ' || p.input[p.pos] == '\t') {
		p.pos++
	}
}

// tryModPrefix looks ahead for the "MOD '|'" production: an identifier
// immediately (no intervening space) followed by '|'. Matching original
// source's own regex (no `\s*` between word and pipe), the adjacency is
// what distinguishes a MOD prefix from an ordinary '|' alternation, which
// the corpus always writes with surrounding space. On a match it consumes
// both the identifier and the pipe and returns true; otherwise it leaves
// the parser position unchanged.
func (p *parser) tryModPrefix() bool {
	start := p.pos
	for p.pos < len(p.input) {
		c := p.input[p.pos]
		if c == '_' || c == '-' || c == '.' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') {
			p.pos++
			continue
		}
		break
	}
	if p.pos > start && p.pos < len(p.input) && p.input[p.pos] == '|' {
		p.pos++
		return true
	}
	p.pos = start
	return false
}

func (p *parser) parseIdent() string {
	start := p.pos
	for p.pos < len(p.input) {
		c := p.input[p.pos]
		if c == '_' || c == '-' || c == '.' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') {
			p.pos++
			continue
		}
		break
	}
	return p.input[start:p.pos]
}

func (p *parser) parseDigits() string {
	start := p.pos
	for p.pos < len(p.input) && p.input[p.pos] >= '0' && p.input[p.pos] <= '9' {
		p.pos++
	}
	return p.input[start:p.pos]
}
