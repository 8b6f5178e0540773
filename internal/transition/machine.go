package transition

import (
	"fmt"

	"github.com/roach88/flowguard/internal/domain"
)

type state interface {
	~uint8
	String() string
	Valid() bool
}

type edge[S state] struct{ from, to S }

// machine bundles one entity's table and forbidden list.
type machine[S state] struct {
	entity    domain.EntityType
	table     [][]S
	forbidden map[edge[S]]Category
	order     []forbidden[S]
	parse     func(string) (S, error)
}

func newMachine[S state](entity domain.EntityType, table [][]S, rules []forbidden[S], parse func(string) (S, error)) machine[S] {
	m := machine[S]{
		entity:    entity,
		table:     table,
		forbidden: make(map[edge[S]]Category, len(rules)),
		order:     rules,
		parse:     parse,
	}
	for _, r := range rules {
		m.forbidden[edge[S]{r.From, r.To}] = r.Category
	}
	return m
}

func (m machine[S]) allowed(from S) []S {
	if !from.Valid() {
		return nil
	}
	return m.table[from]
}

func (m machine[S]) names(states []S) []string {
	out := make([]string, len(states))
	for i, s := range states {
		out[i] = s.String()
	}
	return out
}

func (m machine[S]) check(from, to S) error {
	if !from.Valid() || !to.Valid() {
		return &Error{
			Code:    CodeInvalidTransition,
			Entity:  m.entity,
			Message: fmt.Sprintf("unknown %s state", m.entity),
		}
	}
	if cat, ok := m.forbidden[edge[S]{from, to}]; ok {
		return &Error{
			Code:     CodeForbidden,
			Entity:   m.entity,
			From:     from.String(),
			To:       to.String(),
			Category: cat,
			Message:  fmt.Sprintf("blocked %s", cat),
		}
	}
	allowed := m.allowed(from)
	for _, s := range allowed {
		if s == to {
			return nil
		}
	}
	return &Error{
		Code:    CodeInvalidTransition,
		Entity:  m.entity,
		From:    from.String(),
		To:      to.String(),
		Allowed: m.names(allowed),
		Message: "transition not allowed",
	}
}

func (m machine[S]) checkNames(from, to string) error {
	f, err := m.parse(from)
	if err != nil {
		return &Error{Code: CodeInvalidTransition, Entity: m.entity, From: from, To: to, Message: err.Error()}
	}
	t, err := m.parse(to)
	if err != nil {
		return &Error{Code: CodeInvalidTransition, Entity: m.entity, From: from, To: to, Message: err.Error()}
	}
	return m.check(f, t)
}

var (
	paymentMachine = newMachine(domain.EntityPayment, paymentTable[:], forbiddenPayment, domain.ParsePaymentState)
	sessionMachine = newMachine(domain.EntitySession, sessionTable[:], forbiddenSession, domain.ParseSessionState)
	videoMachine   = newMachine(domain.EntityVideo, videoTable[:], forbiddenVideo, domain.ParseVideoState)
	refundMachine  = newMachine(domain.EntityRefund, refundTable[:], forbiddenRefund, domain.ParseRefundState)
)
