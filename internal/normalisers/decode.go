package normalisers

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/custodia-labs/trellis/internal/core/domain"
)

// Decode unmarshals the record's payload into v.
//
// A payload that is not a JSON object is reported as a
// *domain.MalformedPayloadError. When only some fields fail to decode, the
// others are kept, the failed ones are left zero and a
// *domain.PartialPayloadError naming them is returned. Callers check the
// natural key themselves and treat the partial error with Fatal.
func Decode(rec domain.RawRecord, v any) error {
	if len(rec.Payload) == 0 {
		return Malformed(rec, errors.New("empty payload"))
	}
	return DecodeObject(rec, "", rec.Payload, v)
}

// DecodeObject decodes data, a JSON object nested in rec's payload, into v
// the same way Decode does. Failed field names are reported under prefix.
func DecodeObject(rec domain.RawRecord, prefix string, data json.RawMessage, v any) error {
	err := json.Unmarshal(data, v)
	if err == nil {
		return nil
	}

	var fields map[string]json.RawMessage
	if json.Unmarshal(data, &fields) != nil {
		if prefix == "" {
			return Malformed(rec, err)
		}
		return partial(rec, []string{prefix})
	}

	target := reflect.ValueOf(v).Elem()
	target.SetZero()

	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)

	var failed []string
	for _, name := range names {
		single, _ := json.Marshal(map[string]json.RawMessage{name: fields[name]})
		// Decode into a scratch value first so a failed field leaves v untouched.
		scratch := reflect.New(target.Type()).Interface()
		if json.Unmarshal(single, scratch) != nil {
			if prefix != "" {
				name = prefix + "." + name
			}
			failed = append(failed, name)
			continue
		}
		_ = json.Unmarshal(single, v)
	}
	if len(failed) == 0 {
		return Malformed(rec, err)
	}
	return partial(rec, failed)
}

// Fatal reports whether err prevents building the entity. Nil and partial
// payload errors are not fatal.
func Fatal(err error) bool {
	return err != nil && !errors.Is(err, domain.ErrPartialPayload)
}

// JoinPartial merges the failed fields of partial payload errors. Nil
// errors are ignored; the first non-partial error is returned as is.
func JoinPartial(errs ...error) error {
	var joined *domain.PartialPayloadError
	for _, err := range errs {
		if err == nil {
			continue
		}
		var p *domain.PartialPayloadError
		if !errors.As(err, &p) {
			return err
		}
		if joined == nil {
			cp := *p
			cp.Fields = append([]string(nil), p.Fields...)
			joined = &cp
			continue
		}
		joined.Fields = append(joined.Fields, p.Fields...)
	}
	if joined == nil {
		return nil
	}
	return joined
}

func partial(rec domain.RawRecord, fields []string) error {
	return &domain.PartialPayloadError{
		Source:     rec.Source,
		Kind:       rec.Kind,
		ExternalID: rec.ExternalID,
		Fields:     fields,
	}
}

// Malformed wraps err as a malformed payload of rec.
func Malformed(rec domain.RawRecord, err error) error {
	return &domain.MalformedPayloadError{
		Source:     rec.Source,
		Kind:       rec.Kind,
		ExternalID: rec.ExternalID,
		Err:        err,
	}
}

// Missing reports a required field absent from rec's payload.
func Missing(rec domain.RawRecord, field string) error {
	return Malformed(rec, fmt.Errorf("missing %s", field))
}

// Unsupported reports a kind the source does not expose.
func Unsupported(source string, kind domain.EntityKind) error {
	return fmt.Errorf("%s does not expose %s: %w", source, kind, domain.ErrUnsupportedType)
}

// Title returns the first line of a commit message.
func Title(message string) string {
	title, _, _ := strings.Cut(strings.TrimSpace(message), "\n")
	return strings.TrimSpace(title)
}

// TimePtr returns nil for the zero time.
func TimePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	t = t.UTC()
	return &t
}

// IssueKey builds the human reference of an issue (group/repo#12).
func IssueKey(project *domain.Project, number int) string {
	return fmt.Sprintf("%s#%d", projectRef(project), number)
}

// MergeRequestKey builds the human reference of a merge request (group/repo!7).
func MergeRequestKey(project *domain.Project, number int) string {
	return fmt.Sprintf("%s!%d", projectRef(project), number)
}

func projectRef(project *domain.Project) string {
	if project == nil {
		return ""
	}
	return project.ExternalID
}
