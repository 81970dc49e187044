package store

import (
	"encoding/json"
	"fmt"

	"github.com/coursedex/coursedex/internal/course"
	dexerrors "github.com/coursedex/coursedex/internal/errors"
)

// evalCondition checks a write precondition against the current item.
// A nil item means the key is absent.
func evalCondition(existing *course.Course, cond *Condition) bool {
	if cond == nil {
		return true
	}

	if existing == nil {
		return cond.Op == CondNotExists
	}

	m, err := courseToMap(existing)
	if err != nil {
		return false
	}
	val, present := m[cond.Field]

	switch cond.Op {
	case CondExists:
		return present
	case CondNotExists:
		return !present
	case CondEquals:
		return present && fmt.Sprint(val) == cond.Value
	default:
		return false
	}
}

func condString(cond *Condition) string {
	if cond == nil {
		return ""
	}
	if cond.Op == CondEquals {
		return fmt.Sprintf("%s %s %s", cond.Field, cond.Op, cond.Value)
	}
	return fmt.Sprintf("%s %s", cond.Field, cond.Op)
}

// applyUpdate builds the updated course from the three operation kinds,
// composed as one mutation. The id field is immutable.
func applyUpdate(existing *course.Course, id string, upd Update) (*course.Course, error) {
	var m map[string]any
	if existing != nil {
		var err error
		m, err = courseToMap(existing)
		if err != nil {
			return nil, err
		}
	} else {
		m = map[string]any{"id": id}
	}

	for field, value := range upd.Set {
		if field == "id" {
			return nil, dexerrors.InvalidRecord("cannot set immutable field \"id\"")
		}
		m[field] = value
	}

	for _, field := range upd.Remove {
		if field == "id" {
			return nil, dexerrors.InvalidRecord("cannot remove immutable field \"id\"")
		}
		delete(m, field)
	}

	for field, amount := range upd.Increment {
		if field == "id" {
			return nil, dexerrors.InvalidRecord("cannot increment field \"id\"")
		}
		// Counters never go negative.
		next := course.IntOr0(m[field]) + amount
		if next < 0 {
			next = 0
		}
		m[field] = next
	}

	return mapToCourse(m)
}

// projectFields clears attributes not listed in fields. The id is
// always kept so results stay addressable.
func projectFields(c *course.Course, fields []string) (*course.Course, error) {
	m, err := courseToMap(c)
	if err != nil {
		return nil, err
	}

	keep := map[string]bool{"id": true}
	for _, f := range fields {
		keep[f] = true
	}
	for k := range m {
		if !keep[k] {
			delete(m, k)
		}
	}

	return mapToCourse(m)
}

func courseToMap(c *course.Course) (map[string]any, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return nil, dexerrors.Wrap(dexerrors.ErrCodeStoreIO, err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, dexerrors.Wrap(dexerrors.ErrCodeStoreIO, err)
	}
	return m, nil
}

func mapToCourse(m map[string]any) (*course.Course, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, dexerrors.Wrap(dexerrors.ErrCodeStoreIO, err)
	}
	var c course.Course
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, dexerrors.Wrap(dexerrors.ErrCodeStoreIO, err)
	}
	return &c, nil
}
