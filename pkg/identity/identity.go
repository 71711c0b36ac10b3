// Package identity implements spec.md section 4.5: the identity
// transformer, rewriting `<name> <email> <timestamp> <timezone>`
// author/committer lines via either mailmap rules or explicit
// old==>new rewrite files (mailmap taking precedence when both are
// configured).
//
// Grounded on the teacher's Attribution type (surgeon/reposurgeon.go
// lines ~1482-1580: parseAttributionLine, newAttribution, remap) for the
// identity-line shape and rewrite-matching semantics, and on its use of
// gitlab.com/esr/fqme (surgeon/reposurgeon.go's whoami) for a
// last-resort fallback identity when a parsed author/committer line has
// both an empty name and an empty email.
package identity

import (
	"fmt"
	"regexp"
	"strings"

	"gitlab.com/esr/fqme"

	"github.com/reposieve/reposieve/pkg/ruleset"
)

var attributionRE = regexp.MustCompile(`([^<]*\s*)<([^>]*)>+(\s*.*)`)

// Identity is a parsed `<name> <email> <timestamp> <timezone>` line.
type Identity struct {
	Name      string
	Email     string
	Timestamp string
	Timezone  string
}

// Parse splits a raw attribution line into its fields, matching the
// teacher's parseAttributionLine grammar: name may be empty, email is
// bracketed, and everything after the closing bracket is the date stamp
// (timestamp followed by timezone, space-separated).
func Parse(line string) (Identity, error) {
	m := attributionRE.FindStringSubmatch(strings.TrimSpace(line))
	if m == nil {
		return Identity{}, fmt.Errorf("malformed identity line %q", line)
	}
	name := strings.TrimSpace(m[1])
	email := strings.TrimSpace(m[2])
	rest := strings.Fields(strings.TrimSpace(m[3]))
	var ts, tz string
	if len(rest) >= 1 {
		ts = rest[0]
	}
	if len(rest) >= 2 {
		tz = rest[1]
	}
	return Identity{Name: name, Email: email, Timestamp: ts, Timezone: tz}, nil
}

// String renders an Identity back to the fast-export line form.
func (id Identity) String() string {
	return fmt.Sprintf("%s <%s> %s %s", id.Name, id.Email, id.Timestamp, id.Timezone)
}

// Transformer applies mailmap or explicit-mode rewrites to identities.
// Mailmap takes precedence when both are configured, per spec.md
// section 4.5.
type Transformer struct {
	mailmap     []ruleset.MailmapEntry
	authorNames map[string]string // lowercased old -> new
	commitNames map[string]string
	emails      map[string]string
	fallback    *Identity
}

// New builds a Transformer from rs's identity-related fields, resolving
// a fallback identity via fqme.WhoAmI that replaces an identity whose
// name and email are both empty. A commit with no author line, or with a
// committer line that does not parse, is left as is by the commit
// rewriter and never reaches this transformer.
func New(rs *ruleset.RuleSet) *Transformer {
	t := &Transformer{mailmap: rs.Mailmap}
	if len(rs.Mailmap) == 0 {
		t.authorNames = rewriteMap(rs.AuthorNameRules)
		t.commitNames = rewriteMap(rs.CommitterNameRules)
		t.emails = rewriteMap(rs.EmailRules)
	}
	if name, email, err := fqme.WhoAmI(); err == nil {
		t.fallback = &Identity{Name: name, Email: email}
	}
	return t
}

func rewriteMap(rules []ruleset.IdentityRewrite) map[string]string {
	m := make(map[string]string, len(rules))
	for _, r := range rules {
		m[strings.ToLower(r.Old)] = r.New
	}
	return m
}

// RewriteAuthor applies the configured rules to an author identity.
func (t *Transformer) RewriteAuthor(id Identity) Identity {
	return t.rewrite(id, t.authorNames)
}

// RewriteCommitter applies the configured rules to a committer identity.
func (t *Transformer) RewriteCommitter(id Identity) Identity {
	return t.rewrite(id, t.commitNames)
}

func (t *Transformer) rewrite(id Identity, nameRules map[string]string) Identity {
	if id.Name == "" && id.Email == "" && t.fallback != nil {
		id.Name, id.Email = t.fallback.Name, t.fallback.Email
	}
	if len(t.mailmap) > 0 {
		return t.rewriteMailmap(id)
	}
	if newName, ok := nameRules[strings.ToLower(id.Name)]; ok {
		id.Name = newName
	}
	if newEmail, ok := t.emails[strings.ToLower(id.Email)]; ok {
		id.Email = newEmail
	}
	return id
}

// rewriteMailmap applies standard mailmap semantics: an entry matches
// when its old-email (if present) equals id's email, or, when no
// old-email is given, when its canonical email equals id's email.
func (t *Transformer) rewriteMailmap(id Identity) Identity {
	lowerEmail := strings.ToLower(id.Email)
	for _, e := range t.mailmap {
		if e.OldEmail != "" {
			if strings.EqualFold(e.OldEmail, id.Email) &&
				(e.OldName == "" || strings.EqualFold(e.OldName, id.Name)) {
				id.Name, id.Email = e.CanonicalName, e.CanonicalEmail
				return id
			}
			continue
		}
		if strings.EqualFold(e.CanonicalEmail, lowerEmail) {
			id.Name = e.CanonicalName
			return id
		}
	}
	return id
}
