package sanitizer

import (
	"errors"
	"strings"
	"testing"

	"github.com/funnytutor6/tutorconnect/internal/domain/model"
)

func TestValidateFlagsEmbeddedContacts(t *testing.T) {
	s := Default()

	cases := []struct {
		name string
		text string
		want []Category
	}{
		{name: "plain email", text: "write me at jane.doe+math@example.org", want: []Category{CategoryEmail}},
		{name: "grouped phone", text: "call 555-123-4567 after six", want: []Category{CategoryPhone}},
		{name: "dotted phone", text: "call 555.123.4567", want: []Category{CategoryPhone}},
		{name: "spaced dashes", text: "call 555 - 123 - 4567", want: []Category{CategoryPhone}},
		{name: "double spaces", text: "call 555  123  4567", want: []Category{CategoryPhone}},
		{name: "slashes", text: "call 555/123/4567", want: []Category{CategoryPhone}},
		{name: "spaced international", text: "whatsapp +44 / 20 / 7946 / 0958", want: []Category{CategoryPhone}},
		{name: "spaced bare run", text: "ring 12 34 - 567", want: []Category{CategoryPhone}},
		{name: "phone next to a date", text: "from 2024-09-01 call 555 123 4567", want: []Category{CategoryPhone}},
		{name: "parenthesized area code", text: "office (017) 234-5678", want: []Category{CategoryPhone}},
		{name: "international prefix", text: "whatsapp +44 20 7946 0958", want: []Category{CategoryPhone}},
		{name: "double zero prefix", text: "dial 0044 20 7946 0958", want: []Category{CategoryPhone}},
		{name: "bare ten digit run", text: "my number 5551234567", want: []Category{CategoryPhone}},
		{name: "seven digit run", text: "ring 1234567", want: []Category{CategoryPhone}},
		{name: "domain token", text: "see my site janetutors.com", want: []Category{CategoryDomain}},
		{name: "https link", text: "portfolio at https://tutor.example.xyz/me", want: []Category{CategoryDomain}},
		{name: "www link with unlisted tld", text: "visit www.janetutors.academy", want: []Category{CategoryDomain}},
		{name: "email and phone", text: "jane@mail.com or 555 123 4567", want: []Category{CategoryEmail, CategoryPhone}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := categoriesOf(s.Validate(tc.text))
			if strings.Join(got, ",") != joinCategories(tc.want) {
				t.Fatalf("Validate(%q) categories = %v, want %v", tc.text, got, tc.want)
			}
		})
	}
}

func TestValidateAllowsOrdinaryText(t *testing.T) {
	s := Default()

	texts := []string{
		"",
		"   ",
		"Graduated in 2024",
		"Algebra and geometry for grades 7-9",
		"Taught from 2019 - 2024 at a city school",
		"Classes start 2024-09-01 and end 2025/06/30",
		"Term: 2024.09.01 - 2024.12.20",
		"Rate is 25 per hour, 90 minute sessions",
		"Room 1204, building 3",
		"Preparing for the SAT and IELTS exams",
	}

	for _, text := range texts {
		if v := s.Validate(text); len(v) != 0 {
			t.Fatalf("Validate(%q) = %+v, want no violations", text, v)
		}
	}
}

func TestPhoneRunThresholdProperty(t *testing.T) {
	s := Default()

	for _, run := range []string{"5551234567", "0000000000", "9876543210", "1234567890"} {
		for _, text := range []string{run, "prefix " + run, run + " suffix", "a" + run + "b"} {
			if !hasCategory(s.Validate(text), CategoryPhone) {
				t.Fatalf("text %q with 10-digit run must be flagged as phone", text)
			}
		}
	}

	for _, run := range []string{"2024", "1999", "0000", "4821"} {
		for _, text := range []string{run, "in " + run, run + " onwards", "class of " + run + "!"} {
			if hasCategory(s.Validate(text), CategoryPhone) {
				t.Fatalf("text %q with a single 4-digit run must not be flagged", text)
			}
		}
	}
}

func TestEmailIsReportedOnlyAsEmail(t *testing.T) {
	v := Default().Validate("reach 5551234567@sms.gateway.com")
	if got := joinCategories(categoryList(v)); got != string(CategoryEmail) {
		t.Fatalf("unexpected categories: %s", got)
	}
}

func TestValidateFieldUsesFieldLabel(t *testing.T) {
	v := Default().ValidateField("description", "email me: tutor@example.com")
	if len(v) != 1 {
		t.Fatalf("expected one violation, got %d", len(v))
	}
	if v[0].Message != "email addresses are not allowed in the description" {
		t.Fatalf("unexpected message: %q", v[0].Message)
	}
	if v[0].Field != "description" {
		t.Fatalf("unexpected field: %q", v[0].Field)
	}

	generic := Default().Validate("call 555-123-4567")
	if generic[0].Message != "phone numbers are not allowed in this field" {
		t.Fatalf("unexpected generic message: %q", generic[0].Message)
	}
}

func TestPolicyRestrictsCategoriesPerField(t *testing.T) {
	s := New(Policy{
		"subject": {CategoryEmail, CategoryPhone},
	})

	if v := s.ValidateField("subject", "Node.js and example.com basics"); len(v) != 0 {
		t.Fatalf("subject policy excludes domains, got %+v", v)
	}
	if v := s.ValidateField("headline", "example.com"); !hasCategory(v, CategoryDomain) {
		t.Fatalf("fields without a policy entry use every category")
	}
}

func TestCheckReturnsValidationErrorWithAllViolations(t *testing.T) {
	err := Default().Check(
		model.FreeTextField{Name: "headline", Value: "Math tutor"},
		model.FreeTextField{Name: "description", Value: "text me 555 123 4567"},
		model.FreeTextField{Name: "subject", Value: "mail tutor@example.com"},
	)
	if err == nil {
		t.Fatalf("expected validation error")
	}
	if !errors.Is(err, ErrValidationFailed) {
		t.Fatalf("expected ErrValidationFailed, got %v", err)
	}
	verr, ok := AsValidationError(err)
	if !ok {
		t.Fatalf("expected *ValidationError, got %T", err)
	}
	if len(verr.Violations) != 2 {
		t.Fatalf("expected 2 violations, got %d", len(verr.Violations))
	}
	if verr.Violations[0].Field != "description" || verr.Violations[1].Field != "subject" {
		t.Fatalf("unexpected violation order: %+v", verr.Violations)
	}

	if err := Default().Check(model.FreeTextField{Name: "headline", Value: "Physics, grade 10"}); err != nil {
		t.Fatalf("clean fields must pass, got %v", err)
	}
}

func categoriesOf(v []Violation) []string {
	out := make([]string, 0, len(v))
	for _, item := range v {
		out = append(out, string(item.Category))
	}
	return out
}

func categoryList(v []Violation) []Category {
	out := make([]Category, 0, len(v))
	for _, item := range v {
		out = append(out, item.Category)
	}
	return out
}

func joinCategories(c []Category) string {
	parts := make([]string, 0, len(c))
	for _, item := range c {
		parts = append(parts, string(item))
	}
	return strings.Join(parts, ",")
}

func hasCategory(v []Violation, c Category) bool {
	for _, item := range v {
		if item.Category == c {
			return true
		}
	}
	return false
}
