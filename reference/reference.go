// Package reference parses the Docker-style image-reference grammar that
// image-pull subsystems consume (spec.md §6): `refstr = [domain '/'] path
// [':' tag] ['@' digest]`. Grounded on original_source/containrs'
// reference/mod.rs, translated from its Pest-grammar-driven parser to
// Go's regexp, since no example repo carries a PEG parser library.
package reference

import (
	"fmt"
	"regexp"
	"strings"
)

// MaxNameLength is the ceiling on domain+path, per spec.md §6.
const MaxNameLength = 255

var (
	domainComponent = `[a-zA-Z0-9](?:[a-zA-Z0-9-]*[a-zA-Z0-9])?`
	domainPattern   = regexp.MustCompile(`^` + domainComponent + `(?:\.` + domainComponent + `)*(?::[0-9]+)?$`)

	pathComponent = `[a-z0-9]+(?:(?:\.|_{1,2}|-+)[a-z0-9]+)*`
	pathPattern   = regexp.MustCompile(`^` + pathComponent + `(?:/` + pathComponent + `)*$`)

	tagPattern = regexp.MustCompile(`^[A-Za-z0-9_][A-Za-z0-9_.-]{0,127}$`)

	digestPattern = regexp.MustCompile(`^([A-Za-z0-9]+):([A-Fa-f0-9]+)$`)
)

// digestMinHexLength gives the minimum accepted hex-digit length for
// known digest algorithms, per spec.md §6.
var digestMinHexLength = map[string]int{
	"sha256": 64,
	"sha512": 128,
}

// Kind distinguishes a tag reference from a content digest reference.
type Kind int

const (
	// KindTag means Reference resolves by tag.
	KindTag Kind = iota
	// KindDigest means Reference resolves by content digest.
	KindDigest
)

// ReferenceKind pairs a Kind with its string value (the tag text or the
// full "algorithm:hex" digest).
type ReferenceKind struct {
	Kind  Kind
	Value string
}

func (k ReferenceKind) String() string { return k.Value }

// RawReference is what the grammar alone determines: a name plus
// optional domain, tag, and digest, with no defaults applied yet.
type RawReference struct {
	Name   string
	Domain string // empty means "no domain component was present"
	Tag    string
	Digest string
}

// Reference is a fully-resolved reference: defaults have been applied so
// every field needed to address an image is present.
type Reference struct {
	Name      string
	Domain    string
	Reference ReferenceKind
}

// String renders the canonical form domain/name:tag or domain/name@digest.
func (r Reference) String() string {
	base := r.Name
	if r.Domain != "" {
		base = r.Domain + "/" + r.Name
	}
	switch r.Reference.Kind {
	case KindDigest:
		return base + "@" + r.Reference.Value
	default:
		return base + ":" + r.Reference.Value
	}
}

// ParseRaw parses refstr against the reference grammar, returning a
// RawReference with no defaults applied. It deliberately does NOT apply
// the "domain must contain a dot, colon, or be localhost" heuristic when
// splitting off a domain — that heuristic belongs to Canonicalize's
// docker-compat reinterpretation, exactly as the original parser defers
// it. One consequence, preserved intentionally: a bare first segment
// with no dot/colon (e.g. "Uppercase/lowercase:tag") is still accepted
// as a domain at this stage, even though it is not a conventionally
// valid one.
func ParseRaw(refstr string) (RawReference, error) {
	if refstr == "" {
		return RawReference{}, fmt.Errorf("reference: empty reference")
	}

	rest := refstr
	var domain string
	if i := strings.IndexByte(rest, '/'); i != -1 {
		candidate := rest[:i]
		if domainPattern.MatchString(candidate) {
			domain = candidate
			rest = rest[i+1:]
		}
	}

	var digest string
	if i := strings.IndexByte(rest, '@'); i != -1 {
		digest = rest[i+1:]
		rest = rest[:i]
		if err := validateDigest(digest); err != nil {
			return RawReference{}, err
		}
	}

	name := rest
	var tag string
	lastSlash := strings.LastIndexByte(rest, '/')
	segment := rest
	segmentStart := 0
	if lastSlash != -1 {
		segment = rest[lastSlash+1:]
		segmentStart = lastSlash + 1
	}
	if i := strings.IndexByte(segment, ':'); i != -1 {
		tag = segment[i+1:]
		name = rest[:segmentStart+i]
		if !tagPattern.MatchString(tag) {
			return RawReference{}, fmt.Errorf("reference: invalid tag %q", tag)
		}
	}

	if name == "" {
		return RawReference{}, fmt.Errorf("reference: missing name")
	}
	if !pathPattern.MatchString(name) {
		return RawReference{}, fmt.Errorf("reference: invalid name %q", name)
	}

	fullLen := len(name)
	if domain != "" {
		fullLen += len(domain) + 1
	}
	if fullLen > MaxNameLength {
		return RawReference{}, fmt.Errorf("reference: name too long (%d > %d)", fullLen, MaxNameLength)
	}

	return RawReference{Name: name, Domain: domain, Tag: tag, Digest: digest}, nil
}

func validateDigest(digest string) error {
	m := digestPattern.FindStringSubmatch(digest)
	if m == nil {
		return fmt.Errorf("reference: malformed digest %q", digest)
	}
	algorithm, hex := m[1], m[2]
	minLen, known := digestMinHexLength[strings.ToLower(algorithm)]
	if !known {
		return fmt.Errorf("reference: unsupported digest algorithm %q", algorithm)
	}
	if len(hex) < minLen {
		return fmt.Errorf("reference: digest %q shorter than %d hex digits for %s", digest, minLen, algorithm)
	}
	return nil
}

// Canonicalize resolves a RawReference into a Reference, applying
// defaultDomain/defaultTag where absent. When dockerCompat is true, it
// reinterprets a domain lacking a dot, colon, or "localhost" value as
// actually being the first path segment of an unqualified name (the
// "prilik/ubuntu" vs "registry.example.com/ubuntu" ambiguity) when the
// name itself has no slash; a name with a slash keeps such a domain. It
// also prepends "library/" to a name with no domain and no existing slash.
func (r RawReference) Canonicalize(defaultDomain, defaultTag string, dockerCompat bool) Reference {
	name := r.Name
	domain := r.Domain

	if dockerCompat {
		if domain != "" {
			if !strings.ContainsAny(domain, ".:") && domain != "localhost" && !strings.Contains(name, "/") {
				name = domain + "/" + name
				domain = ""
			}
		} else if !strings.Contains(name, "/") {
			name = "library/" + name
		}
	}

	if domain == "" {
		domain = defaultDomain
	}

	var kind ReferenceKind
	switch {
	case r.Digest != "":
		kind = ReferenceKind{Kind: KindDigest, Value: r.Digest}
	case r.Tag != "":
		kind = ReferenceKind{Kind: KindTag, Value: r.Tag}
	default:
		kind = ReferenceKind{Kind: KindTag, Value: defaultTag}
	}

	return Reference{Name: name, Domain: domain, Reference: kind}
}
