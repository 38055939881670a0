package monitordog

import (
	"math"
	"reflect"
	"sort"
	"strconv"
	"strings"
)

// Tags is the trailing tags argument of every emission method. A TagList is
// forwarded verbatim, a TagMap is converted with EncodeTags first.
type Tags interface {
	tagList() []string
}

// TagList is a ready-to-send list of "key:value" tags
type TagList []string

func (l TagList) tagList() []string {
	return []string(l)
}

// TagMap holds structured tag data. Only bool, string and numeric values are
// encoded; anything else is dropped.
type TagMap map[string]any

func (m TagMap) tagList() []string {
	return EncodeTags(m)
}

// EncodeTags converts a TagMap into a list of "key:value" strings. Booleans come
// first, then strings, then numbers; keys are sorted within each group. Values
// are classified by kind, so named types such as time.Duration or a string enum
// are kept. Every ':' in a key or value is replaced with '_'.
func EncodeTags(m TagMap) []string {
	groups := make([][]string, groupCount)
	values := make(map[string]string, len(m))

	for key, value := range m {
		formatted, group, ok := formatTagValue(value)
		if !ok {
			continue
		}
		groups[group] = append(groups[group], key)
		values[key] = formatted
	}

	result := make([]string, 0, len(values))
	for _, group := range groups {
		sort.Strings(group)
		for _, key := range group {
			result = append(result, escapeTagToken(key)+":"+escapeTagToken(values[key]))
		}
	}

	return result
}

// resolveTags flattens an optional Tags argument
func resolveTags(tags Tags) []string {
	if tags == nil {
		return nil
	}
	return tags.tagList()
}

func escapeTagToken(token string) string {
	return strings.ReplaceAll(token, ":", "_")
}

const (
	groupBool = iota
	groupString
	groupNumber
	groupCount
)

func formatTagValue(value any) (string, int, bool) {
	if value == nil {
		return "", 0, false
	}

	v := reflect.ValueOf(value)
	switch v.Kind() {
	case reflect.Bool:
		return strconv.FormatBool(v.Bool()), groupBool, true
	case reflect.String:
		return v.String(), groupString, true
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(v.Int(), 10), groupNumber, true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return strconv.FormatUint(v.Uint(), 10), groupNumber, true
	case reflect.Float32:
		return formatFloat(v.Float(), 32), groupNumber, true
	case reflect.Float64:
		return formatFloat(v.Float(), 64), groupNumber, true
	}
	return "", 0, false
}

// formatFloat writes plain decimals, switching to exponent form outside [1e-6, 1e21)
func formatFloat(f float64, bitSize int) string {
	if abs := math.Abs(f); abs != 0 && (abs >= 1e21 || abs < 1e-6) {
		return strconv.FormatFloat(f, 'g', -1, bitSize)
	}
	return strconv.FormatFloat(f, 'f', -1, bitSize)
}
