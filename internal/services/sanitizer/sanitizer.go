package sanitizer

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/funnytutor6/tutorconnect/internal/domain/model"
)

type Category string

const (
	CategoryEmail  Category = "email"
	CategoryPhone  Category = "phone"
	CategoryDomain Category = "domain"
)

// minPhoneDigits is the digit count below which a number is treated as
// ordinary text (prices, years, room numbers).
const minPhoneDigits = 7

var ErrValidationFailed = errors.New("validation failed")

type Violation struct {
	Field    string   `json:"field"`
	Category Category `json:"category"`
	Message  string   `json:"message"`
}

type ValidationError struct {
	Violations []Violation
}

func (e *ValidationError) Error() string {
	if e == nil || len(e.Violations) == 0 {
		return ErrValidationFailed.Error()
	}
	return fmt.Sprintf("%s: %s", ErrValidationFailed.Error(), e.Violations[0].Message)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidationFailed
}

func AsValidationError(err error) (*ValidationError, bool) {
	var verr *ValidationError
	if errors.As(err, &verr) {
		return verr, true
	}
	return nil, false
}

// Policy lists which categories apply to a field. Fields without an entry
// are checked against every category.
type Policy map[string][]Category

var allCategories = []Category{CategoryEmail, CategoryPhone, CategoryDomain}

var fieldLabels = map[string]string{
	"headline":    "the headline",
	"subject":     "the subject",
	"description": "the description",
	"message":     "your message",
}

// phoneSep is one separator between digit groups: any run of spaces, or a
// dash, dot or slash with optional spaces around it.
const phoneSep = `(?:\s*[./\-]\s*|\s+)`

var (
	emailPattern = regexp.MustCompile(`(?i)[a-z0-9._%+\-]+@[a-z0-9\-]+(?:\.[a-z0-9\-]+)*\.[a-z]{2,}`)

	phonePatterns = []*regexp.Regexp{
		// 555-123-4567, 555 - 123 - 4567, 555/123/4567, 555  123  4567
		regexp.MustCompile(`\d{3}` + phoneSep + `\d{3}` + phoneSep + `\d{4}`),
		// (555) 123-4567, (017) 2345678
		regexp.MustCompile(`\(\s*\d{1,4}\s*\)(?:` + phoneSep + `)?\d(?:(?:` + phoneSep + `)?\d){4,}`),
		// +1 555 123 4567, 0044 20 7946 0958
		regexp.MustCompile(`(?:\+|\b00)\d{1,3}(?:(?:` + phoneSep + `)?\(?\d{1,4}\)?){1,5}`),
		// bare runs, separators optional
		regexp.MustCompile(`\d(?:(?:` + phoneSep + `)?\d){6,}`),
	}

	// 2024-09-01, 2024/09/01, 2024.09.01
	isoDatePattern = regexp.MustCompile(`\b(?:19|20)\d{2}[./\-](?:0[1-9]|1[0-2])[./\-](?:0[1-9]|[12]\d|3[01])\b`)

	linkPattern = regexp.MustCompile(`(?i)\b(?:https?://|www\.)\S+`)
)

var commonTLDs = []string{
	"com", "net", "org", "io", "co", "me", "info", "biz", "app", "dev",
	"xyz", "us", "uk", "ca", "au", "in", "de", "fr", "es", "it", "nl",
	"ru", "by", "ua", "ly", "gl", "gg", "to", "tv", "site", "online", "link", "page",
}

type Sanitizer struct {
	policy        Policy
	domainPattern *regexp.Regexp
}

func New(policy Policy) *Sanitizer {
	return &Sanitizer{
		policy:        clonePolicy(policy),
		domainPattern: compileDomainPattern(commonTLDs),
	}
}

// Default checks every free-text field for every category.
func Default() *Sanitizer {
	return New(nil)
}

// Validate checks text that is not bound to a named field.
func (s *Sanitizer) Validate(text string) []Violation {
	return s.ValidateField("", text)
}

func (s *Sanitizer) ValidateField(field, text string) []Violation {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	categories := s.categoriesFor(field)
	label := labelFor(field)

	// Emails are blanked before the other scans so an address is reported once.
	emailFree := emailPattern.ReplaceAllStringFunc(text, func(m string) string {
		return strings.Repeat(" ", len(m))
	})

	var violations []Violation
	for _, category := range categories {
		var found bool
		switch category {
		case CategoryEmail:
			found = emailPattern.MatchString(text)
		case CategoryPhone:
			found = containsPhone(maskDates(emailFree))
		case CategoryDomain:
			found = linkPattern.MatchString(emailFree) || s.domainPattern.MatchString(emailFree)
		}
		if found {
			violations = append(violations, Violation{
				Field:    field,
				Category: category,
				Message:  messageFor(category, label),
			})
		}
	}

	return violations
}

// Check validates a set of fields and returns a *ValidationError listing every
// violation, or nil when all fields are clean.
func (s *Sanitizer) Check(fields ...model.FreeTextField) error {
	var violations []Violation
	for _, f := range fields {
		violations = append(violations, s.ValidateField(f.Name, f.Value)...)
	}
	if len(violations) == 0 {
		return nil
	}
	return &ValidationError{Violations: violations}
}

func (s *Sanitizer) categoriesFor(field string) []Category {
	if s.policy == nil {
		return allCategories
	}
	categories, ok := s.policy[field]
	if !ok {
		return allCategories
	}
	return categories
}

// maskDates hides calendar dates from the phone scan. The mask is not a
// separator, so digits on either side never join into one run.
func maskDates(text string) string {
	return isoDatePattern.ReplaceAllStringFunc(text, func(m string) string {
		return strings.Repeat("_", len(m))
	})
}

func containsPhone(text string) bool {
	for _, pattern := range phonePatterns {
		for _, candidate := range pattern.FindAllString(text, -1) {
			if looksLikePhone(candidate) {
				return true
			}
		}
	}
	return false
}

func looksLikePhone(candidate string) bool {
	digits := 0
	for _, r := range candidate {
		if r >= '0' && r <= '9' {
			digits++
		}
	}
	if digits < minPhoneDigits {
		return false
	}
	return !yearsOnly(candidate)
}

// yearsOnly reports whether every digit group is a plausible year, which
// covers ranges such as "2019 - 2024".
func yearsOnly(candidate string) bool {
	groups := strings.FieldsFunc(candidate, func(r rune) bool {
		return r < '0' || r > '9'
	})
	if len(groups) == 0 {
		return false
	}
	for _, g := range groups {
		if len(g) != 4 {
			return false
		}
		year, err := strconv.Atoi(g)
		if err != nil || year < 1900 || year > 2099 {
			return false
		}
	}
	return true
}

func compileDomainPattern(tlds []string) *regexp.Regexp {
	label := `[a-z0-9](?:[a-z0-9\-]{0,61}[a-z0-9])?`
	return regexp.MustCompile(`(?i)\b` + label + `(?:\.` + label + `)*\.(?:` + strings.Join(tlds, "|") + `)\b`)
}

func labelFor(field string) string {
	if label, ok := fieldLabels[field]; ok {
		return label
	}
	return "this field"
}

func messageFor(category Category, label string) string {
	switch category {
	case CategoryEmail:
		return "email addresses are not allowed in " + label
	case CategoryPhone:
		return "phone numbers are not allowed in " + label
	default:
		return "links and website addresses are not allowed in " + label
	}
}

func clonePolicy(policy Policy) Policy {
	if policy == nil {
		return nil
	}
	out := make(Policy, len(policy))
	for field, categories := range policy {
		out[field] = append([]Category(nil), categories...)
	}
	return out
}
