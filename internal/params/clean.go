package params

import (
	"regexp"
	"strconv"
	"strings"
)

// Sentinel value the search form puts in the sort order field when the
// user did not pick one.
const reuseOrderSentinel = "Reuse same sort as last time"

var (
	// Custom search cell names: chart triples like 0-0-0 or a field
	// letter followed by a row number (f1, o2, v3).
	customCellRe = regexp.MustCompile(`^(\d-\d-\d|[a-z]\d+)$`)

	// Join operator rows: j1, j2, ... or the top-level j_top.
	joinOpRe = regexp.MustCompile(`^j\d+$`)
)

// Sub-fields that hang off each numbered email filter group.
var emailSubFields = []string{
	"type", "assigned_to", "reporter", "qa_contact", "cc", "longdesc",
}

// CleanSearch strips UI-default and no-op parameters that browsers
// submit but which do not alter search semantics. It mutates the set in
// place and is idempotent. The surviving parameters are what a saved
// search is keyed on.
func (s *Set) CleanSearch() {
	// Empty values carry no meaning; drop them together with their
	// paired <name>_type qualifier.
	for _, name := range s.Names() {
		if !s.Has(name) {
			continue // removed as a companion of an earlier name
		}
		if s.First(name) == "" && allEmpty(s.All(name)) {
			s.Delete(name)
			s.Delete(name + "_type")
		}
	}

	for _, name := range s.Names() {
		switch {
		case customCellRe.MatchString(name) && s.First(name) == "noop":
			s.Delete(name)
		case (joinOpRe.MatchString(name) || name == "j_top") && s.First(name) == "AND":
			s.Delete(name)
		}
	}

	// Login form leftovers.
	s.Delete("Bugzilla_remember")
	s.Delete("GoAheadAndLogIn")

	// The anti-forgery token only matters when the request actually
	// saves or forgets a remembered search.
	remtype := s.First("remtype")
	remaction := s.First("remaction")
	if !(remtype == "asdefault" || remtype == "asnamed" || remaction == "forget") {
		s.Delete("token")
	}

	// Email filter groups: an empty base address makes every sub-field
	// of the group meaningless.
	for n := 1; n <= 3; n++ {
		suffix := strconv.Itoa(n)
		if s.First("email"+suffix) != "" {
			continue
		}
		s.Delete("email" + suffix)
		// Both companion spellings occur in the wild: emailtype1 from
		// the advanced form and email1type from older saved URLs.
		for _, sub := range emailSubFields {
			s.Delete("email" + sub + suffix)
			s.Delete("email" + suffix + sub)
		}
	}

	// "Changed to now" is meaningless without a since bound.
	if strings.EqualFold(s.First("chfieldto"), "now") &&
		!s.Has("chfieldfrom") && !s.Has("chfield") && !s.Has("chfieldvalue") {
		s.Delete("chfieldto")
	}

	// cmdtype=doit is the implicit default unless a remembered-search
	// action was requested.
	if s.First("cmdtype") == "doit" && !s.Has("remtype") {
		s.Delete("cmdtype")
	}

	if s.First("order") == reuseOrderSentinel {
		s.Delete("order")
	}

	// Request-scoped bookkeeping, never part of a search identity.
	s.Delete("list_id")
	s.Delete("no_redirect")

	// An empty search should serialize to truly empty parameters. This
	// deliberately checks for exactly one remaining parameter rather
	// than "no meaningful parameter".
	if s.Len() == 1 && s.Has("query_format") {
		s.Delete("query_format")
	}
}

func allEmpty(vals []string) bool {
	for _, v := range vals {
		if v != "" {
			return false
		}
	}
	return true
}
