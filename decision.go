package postwhite

import (
	"errors"
	"strings"
	"sync/atomic"
)

// Engine is the Decision Engine of §4.D: given a parsed request, the
// recipient registry, the allow-list store and the learning spool, it
// produces one MTA action and, where §4.D calls for it, one queued
// advisory reply-mail.
type Engine struct {
	registry  atomic.Pointer[Registry]
	store     Store
	spool     Spool
	templates *Templates
	cfg       *Config
}

// NewEngine wires the collaborators the decision table needs.
func NewEngine(registry *Registry, store Store, spool Spool, templates *Templates, cfg *Config) *Engine {
	e := &Engine{store: store, spool: spool, templates: templates, cfg: cfg}
	e.registry.Store(registry)
	return e
}

// SetRegistry swaps in a freshly loaded recipients.yml without a daemon
// restart, picked up by the next Decide call.
func (e *Engine) SetRegistry(registry *Registry) {
	e.registry.Store(registry)
}

// Decide runs the top-down rule table of §4.D. It never returns an error:
// any failure surfaces as (DUNNO, "daemon error") so an internal fault
// never blocks mail delivery (§7's fail-open propagation policy).
func (e *Engine) Decide(req *Request) Decision {
	d, err := e.decide(req)
	if err != nil {
		var unauthorized *UnauthorizedCommand
		if errors.As(err, &unauthorized) {
			return newDecision(ActionReject, "authorization failed")
		}
		return newDecision(ActionDunno, "daemon error")
	}
	return d
}

func (e *Engine) decide(req *Request) (Decision, error) {
	if isLoopback(req.ClientAddress) {
		return newDecision(ActionDunno, "not a whitelist protected recipient"), nil
	}
	if !e.registry.Load().Protected(req.Recipient) {
		return newDecision(ActionDunno, "not a whitelist protected recipient"), nil
	}

	if req.HasCmd {
		if !e.authorized(req) {
			return Decision{}, &UnauthorizedCommand{Recipient: req.Recipient, Sender: req.Sender}
		}
		if err := executeCommand(e.store, e.spool, req); err != nil {
			return Decision{}, err
		}
		d := newDecision(ActionDiscard, "executing command")
		if req.Command == VerbInfo {
			whitelist, err := whitelistDump(e.store, req.Recipient)
			if err != nil {
				return Decision{}, err
			}
			data := mailData(req)
			data["whitelist"] = whitelist
			d.Mail = &OutgoingMail{
				Template: "info",
				To:       req.Recipient,
				ReplyTo:  req.Recipient,
				Data:     data,
			}
		}
		return d, nil
	}

	learning, err := e.spool.IsLearning(req.Recipient)
	if err != nil {
		return Decision{}, err
	}
	if learning {
		return e.decideLearning(req)
	}

	method, err := e.store.Query(req.Recipient, req.Sender, req.SenderDomain)
	if err != nil {
		return Decision{}, err
	}
	switch method {
	case MethodSwallow:
		return newDecision(ActionDiscard, "found on whitelist with SWALLOW"), nil
	case MethodAllow:
		return newDecision(ActionDunno, "found on whitelist with ALLOW"), nil
	default:
		return newDecision(ActionReject, e.cfg.RejectMessage), nil
	}
}

func (e *Engine) decideLearning(req *Request) (Decision, error) {
	method, err := e.store.Query(req.Recipient, req.Sender, req.SenderDomain)
	if err != nil {
		return Decision{}, err
	}

	d := newDecision(ActionOK, "learning mode")
	if method == MethodDeny {
		d.Mail = &OutgoingMail{
			Template: "learn-allow-advisory",
			To:       req.Recipient,
			ReplyTo:  commandAddress(req.Recipient, VerbAllow, req.SenderDomain),
			Data:     mailData(req),
		}
	} else {
		d.Mail = &OutgoingMail{
			Template: "learn-deny-advisory",
			To:       req.Recipient,
			ReplyTo:  commandAddress(req.Recipient, VerbDeny, req.SenderDomain),
			Data:     mailData(req),
		}
	}
	return d, nil
}

// authorized implements the conjunctive check of §4.D: the sender must
// itself be registered, must equal the (stripped) recipient, and must
// carry the expected SASL identity when that enforcement is enabled.
func (e *Engine) authorized(req *Request) bool {
	registry := e.registry.Load()
	if !registry.Protected(req.Sender) {
		return false
	}
	if req.Sender != req.Recipient {
		return false
	}
	if !e.cfg.RequireSASL {
		return true
	}
	expected, ok := registry.ExpectedSASL(req.Sender)
	if !ok {
		return true
	}
	return expected == req.SASLUsername
}

func isLoopback(addr string) bool {
	return addr == "127.0.0.1" || addr == "::1"
}

// commandAddress renders the local+verb-arg@domain form used as the
// Reply-To of advisory mails, the "reply to toggle" mechanism of §4.F.
func commandAddress(recipient string, verb Verb, arg string) string {
	local, domain := splitAddress(recipient)
	if arg == "" {
		return local + "+" + string(verb) + "@" + domain
	}
	return local + "+" + string(verb) + "-" + strings.ReplaceAll(arg, "@", "-at-") + "@" + domain
}

func splitAddress(addr string) (local, domain string) {
	i := strings.LastIndexByte(addr, '@')
	if i < 0 {
		return addr, ""
	}
	return addr[:i], addr[i+1:]
}

func mailData(req *Request) map[string]string {
	return map[string]string{
		"recipient":     req.Recipient,
		"sender":        req.Sender,
		"sender_domain": req.SenderDomain,
		"sender_local":  req.SenderLocal,
	}
}
