package hive

import (
	"context"
	"regexp"
)

// referencePattern matches {{<id>[.<key>]}}, where id and key are each a
// non-empty run of [A-Za-z0-9_]. This hand-rolled regexp (rather than
// text/template) is what lets the resolver implement the default-key
// fallback rule below: text/template has no notion of "this reference is
// incomplete, go pick a default field on the target".
var referencePattern = regexp.MustCompile(`\{\{([A-Za-z0-9_]+)(?:\.([A-Za-z0-9_]+))?\}\}`)

// defaultKeyCandidates is the priority order used to pick a credential's
// default key when a reference omits one.
var defaultKeyCandidates = []string{"value", "api_key", "access_token"}

// Reference is a parsed {{id[.key]}} template reference.
type Reference struct {
	ID     string
	Key    string
	HasKey bool
}

// CredentialGetter is the read path a Resolver uses to fetch credentials by
// id. The Store implements this by way of its cache + refresh logic; tests
// can supply a bare function.
type CredentialGetter func(ctx context.Context, id string) (*CredentialObject, bool, error)

// Resolver substitutes {{id}} / {{id.key}} references in template strings
// with live secret values fetched through a CredentialGetter.
type Resolver struct {
	get CredentialGetter
}

// NewResolver returns a Resolver that fetches credentials through get.
func NewResolver(get CredentialGetter) *Resolver {
	return &Resolver{get: get}
}

// HasTemplates reports whether the pattern matches anywhere in text.
func (r *Resolver) HasTemplates(text string) bool {
	return referencePattern.MatchString(text)
}

// ExtractReferences returns every {{id[.key]}} reference in text, used for
// static validation of usage specs without resolving any values.
func (r *Resolver) ExtractReferences(text string) []Reference {
	matches := referencePattern.FindAllStringSubmatch(text, -1)
	out := make([]Reference, 0, len(matches))
	for _, m := range matches {
		out = append(out, Reference{ID: m[1], Key: m[2], HasKey: m[2] != ""})
	}
	return out
}

// Resolve replaces each reference in template with its live secret value.
// On a missing credential: fails with CredentialNotFound if failOnMissing,
// otherwise the reference text is left untouched. A missing key on a
// present credential always fails with CredentialKeyNotFound.
//
// All references to the same credential id within one Resolve call observe
// the same snapshot, fetched (and refreshed, if due) exactly once per id,
// even under concurrent refresh elsewhere.
func (r *Resolver) Resolve(ctx context.Context, template string, failOnMissing bool) (string, error) {
	snapshot := make(map[string]*CredentialObject)
	var firstErr error

	result := referencePattern.ReplaceAllStringFunc(template, func(match string) string {
		if firstErr != nil {
			return match
		}
		sub := referencePattern.FindStringSubmatch(match)
		id, key := sub[1], sub[2]

		cred, ok := snapshot[id]
		if !ok {
			c, found, err := r.get(ctx, id)
			if err != nil {
				firstErr = err
				return match
			}
			if !found {
				if failOnMissing {
					firstErr = NewError(CredentialNotFound, id, "credential not found")
					return match
				}
				return match
			}
			snapshot[id] = c
			cred = c
		}

		value, err := r.resolveValue(cred, key)
		if err != nil {
			firstErr = err
			return match
		}
		return value
	})

	if firstErr != nil {
		return "", firstErr
	}
	return result, nil
}

// resolveValue returns the secret value for key on cred, or the default-key
// value when key is empty.
func (r *Resolver) resolveValue(cred *CredentialObject, key string) (string, error) {
	if key == "" {
		return r.resolveDefault(cred)
	}
	k, ok := cred.Key(key)
	if !ok {
		return "", NewKeyError(cred.ID, key)
	}
	return k.Value.Reveal(), nil
}

// resolveDefault implements the default-key selection rule: the first
// present of value, api_key, access_token; else the first-inserted key;
// else CredentialKeyNotFound.
func (r *Resolver) resolveDefault(cred *CredentialObject) (string, error) {
	for _, candidate := range defaultKeyCandidates {
		if k, ok := cred.Key(candidate); ok {
			return k.Value.Reveal(), nil
		}
	}
	keys := cred.Keys()
	if len(keys) == 0 {
		return "", NewKeyError(cred.ID, "")
	}
	return keys[0].Value.Reveal(), nil
}

// ResolveHeaders applies Resolve to each value of headers, preserving keys.
func (r *Resolver) ResolveHeaders(ctx context.Context, headers map[string]string, failOnMissing bool) (map[string]string, error) {
	out := make(map[string]string, len(headers))
	for k, v := range headers {
		resolved, err := r.Resolve(ctx, v, failOnMissing)
		if err != nil {
			return nil, err
		}
		out[k] = resolved
	}
	return out, nil
}
