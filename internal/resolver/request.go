package resolver

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
)

// Kind selects how a search term is interpreted.
type Kind int

const (
	ByName Kind = iota
	ByNPI
)

func (k Kind) String() string {
	switch k {
	case ByName:
		return "name"
	case ByNPI:
		return "npi"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// ParseKind maps the wire form ("name", "npi") to a Kind.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "name":
		return ByName, nil
	case "npi":
		return ByNPI, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidKind, s)
}

var (
	ErrEmptyTerm   = errors.New("search term is empty")
	ErrInvalidKind = errors.New("invalid search type")
)

// SearchRequest is a single lookup. State is optional.
type SearchRequest struct {
	Term  string
	Kind  Kind
	State string
}

// NameRequest is a convenience constructor for a name search.
func NameRequest(term, state string) SearchRequest {
	return SearchRequest{Term: term, Kind: ByName, State: state}
}

// NPIRequest is a convenience constructor for an NPI search.
func NPIRequest(npi, state string) SearchRequest {
	return SearchRequest{Term: npi, Kind: ByNPI, State: state}
}

// normalized is a request after trimming and splitting.
type normalized struct {
	kind  Kind
	npi   string
	first string
	last  string
	state string
}

func normalize(req SearchRequest) (normalized, error) {
	n := normalized{
		kind:  req.Kind,
		state: strings.ToUpper(strings.TrimSpace(req.State)),
	}
	term := strings.TrimSpace(req.Term)
	if term == "" {
		return n, ErrEmptyTerm
	}

	switch req.Kind {
	case ByNPI:
		n.npi = term
	case ByName:
		n.first, n.last = splitName(term)
	default:
		return n, fmt.Errorf("%w: %v", ErrInvalidKind, req.Kind)
	}
	return n, nil
}

// splitName splits on the first whitespace run. A single token is the last name.
func splitName(term string) (first, last string) {
	idx := strings.IndexFunc(term, unicode.IsSpace)
	if idx < 0 {
		return "", term
	}
	return term[:idx], strings.TrimSpace(term[idx:])
}
