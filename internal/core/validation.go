package core

// validation.go checks Group and Channel definitions before they are saved.
//
// Validation happens at two levels:
//  1. Field level: struct tags checked by go-playground/validator (required
//     names, absolute source URL, HH:00 update times, non-empty mappings)
//  2. Model level: invariants that need more than one field (distinct target
//     names, source fields known to the referenced group)
//
// Uniqueness of names and reference resolution need the store and are
// checked by ConfigStore implementations.

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/samber/lo"
)

var hourMarkRegex = regexp.MustCompile(`^([01]\d|2[0-3]):00$`)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

// structValidator returns the shared validator with custom rules registered.
func structValidator() *validator.Validate {
	validateOnce.Do(func() {
		v := validator.New(validator.WithRequiredStructEnabled())

		// Report JSON field names in messages
		v.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})

		if err := v.RegisterValidation("hourmark", func(fl validator.FieldLevel) bool {
			return hourMarkRegex.MatchString(fl.Field().String())
		}); err != nil {
			panic(fmt.Sprintf("register hourmark validator: %v", err))
		}

		validate = v
	})
	return validate
}

// UpdateTimeOptions returns every accepted update time, "00:00" through "23:00".
func UpdateTimeOptions() []string {
	opts := make([]string, 24)
	for h := range opts {
		opts[h] = fmt.Sprintf("%02d:00", h)
	}
	return opts
}

// ParseHourMark returns the hour of an "HH:00" update time.
func ParseHourMark(s string) (int, error) {
	if !hourMarkRegex.MatchString(s) {
		return 0, fmt.Errorf("invalid update time %q: want HH:00 between 00:00 and 23:00", s)
	}
	return strconv.Atoi(s[:2])
}

// normalizeHourMark pads single-digit hours ("7:00" -> "07:00").
func normalizeHourMark(s string) string {
	s = strings.TrimSpace(s)
	if len(s) == 4 && s[1] == ':' {
		return "0" + s
	}
	return s
}

// NormalizeGroup trims input, collapses duplicate update times and sorts them,
// and validates the result. Fields are always cleared: they are owned by the
// pipeline, not by configuration input.
func NormalizeGroup(g Group) (Group, error) {
	g.Name = strings.TrimSpace(g.Name)
	g.SourceURL = strings.TrimSpace(g.SourceURL)
	g.Fields = nil

	times := lo.Uniq(lo.Map(g.UpdateTimes, func(t string, _ int) string {
		return normalizeHourMark(t)
	}))
	sort.Strings(times)
	g.UpdateTimes = times

	if err := structValidator().Struct(g); err != nil {
		return Group{}, toValidationError(err)
	}
	return g, nil
}

// NormalizeChannel trims input and validates the channel against its group.
// If the group's schema is not yet known, source field checks are deferred.
func NormalizeChannel(c Channel, group Group) (Channel, error) {
	c.Name = strings.TrimSpace(c.Name)
	c.Group = strings.TrimSpace(c.Group)

	fields := make([]FieldMapping, len(c.Fields))
	for i, f := range c.Fields {
		fields[i] = FieldMapping{
			TargetName:  strings.TrimSpace(f.TargetName),
			SourceField: strings.TrimSpace(f.SourceField),
			Rule:        f.Rule,
		}
	}
	c.Fields = fields

	if err := structValidator().Struct(c); err != nil {
		return Channel{}, toValidationError(err)
	}

	if c.Group != group.Name {
		return Channel{}, invalid(ErrDanglingReference, "group", "group %q does not exist", c.Group)
	}

	seen := make(map[string]int, len(c.Fields))
	for i, f := range c.Fields {
		if prev, dup := seen[f.TargetName]; dup {
			return Channel{}, invalid(ErrDuplicateTargetField, fmt.Sprintf("fields[%d].targetName", i),
				"target %q already used by fields[%d]", f.TargetName, prev)
		}
		seen[f.TargetName] = i

		if rule := CompileRule(f.Rule); rule.IsRound() && !rule.Valid() {
			return Channel{}, invalid(ErrInvalidField, fmt.Sprintf("fields[%d].rule", i),
				"rule %q needs round:<n> with n between 0 and %d", f.Rule, MaxRoundPlaces)
		}

		if group.SchemaKnown() && !group.HasField(f.SourceField) {
			return Channel{}, invalid(ErrInvalidField, fmt.Sprintf("fields[%d].sourceField", i),
				"source field %q is not a field of group %q", f.SourceField, group.Name)
		}
	}

	return c, nil
}

// toValidationError converts validator output into a single ValidationError
// listing every failing field.
func toValidationError(err error) *ValidationError {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return invalid(ErrInvalidField, "", "%v", err)
	}

	msgs := make([]string, len(verrs))
	for i, fe := range verrs {
		msgs[i] = fmt.Sprintf("%s %s", fieldPath(fe), tagMessage(fe))
	}
	return &ValidationError{
		Reason:  ErrInvalidField,
		Field:   fieldPath(verrs[0]),
		Message: strings.Join(msgs, "; "),
	}
}

// fieldPath strips the struct name from a validator namespace:
// "Channel.fields[0].targetName" -> "fields[0].targetName".
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.Index(ns, "."); i >= 0 {
		return ns[i+1:]
	}
	return ns
}

func tagMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "url":
		return "must be an absolute URL"
	case "hourmark":
		return fmt.Sprintf("must be HH:00 between 00:00 and 23:00 (got %q)", fe.Value())
	case "min":
		return fmt.Sprintf("must have at least %s entr(ies)", fe.Param())
	case "max":
		return fmt.Sprintf("must be at most %s characters", fe.Param())
	default:
		return "is invalid (" + fe.Tag() + ")"
	}
}
