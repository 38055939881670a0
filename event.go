package monitordog

import (
	"strconv"
	"strings"
	"time"
)

// Priority of a custom event
type Priority string

// AlertType of a custom event
type AlertType string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"

	AlertError   AlertType = "error"
	AlertWarning AlertType = "warning"
	AlertInfo    AlertType = "info"
	AlertSuccess AlertType = "success"
)

// EventOptions describes a custom event. Title and Text are required; zero
// values of the other fields leave them out of the datagram.
type EventOptions struct {
	Title          string
	Text           string
	OccurredAt     time.Time
	Hostname       string
	AggregationKey string
	Priority       Priority
	AlertType      AlertType
	Tags           []string
}

// Valid reports whether the priority is one the agent accepts
func (p Priority) Valid() bool {
	return p == PriorityLow || p == PriorityNormal
}

// Valid reports whether the alert type is one the agent accepts
func (a AlertType) Valid() bool {
	switch a {
	case AlertError, AlertWarning, AlertInfo, AlertSuccess:
		return true
	}
	return false
}

// EncodeEvent builds the DogStatsD event datagram:
//
//	_e{<title.length>,<text.length>}:<title>|<text>|d:<date>|h:<host>|k:<key>|p:<priority>|t:<alert>|#<tags>
//
// The header lengths are the byte lengths of title and text after '|' has been
// stripped, so they always match the emitted payload.
func EncodeEvent(opt *EventOptions) ([]byte, error) {
	if opt == nil {
		return nil, ErrValidation.New("missing required options")
	}
	if opt.Title == "" {
		return nil, ErrValidation.New("missing required title option")
	}
	if opt.Text == "" {
		return nil, ErrValidation.New("missing required text option")
	}

	title := sanitizeEventField(opt.Title)
	text := sanitizeEventField(opt.Text)

	var buf strings.Builder
	buf.WriteString("_e{")
	buf.WriteString(strconv.Itoa(len(title)))
	buf.WriteByte(',')
	buf.WriteString(strconv.Itoa(len(text)))
	buf.WriteString("}:")
	buf.WriteString(title)
	buf.WriteByte('|')
	buf.WriteString(text)

	if !opt.OccurredAt.IsZero() {
		buf.WriteString("|d:")
		buf.WriteString(strconv.FormatInt(opt.OccurredAt.Unix(), 10))
	}

	if opt.Hostname != "" {
		buf.WriteString("|h:")
		buf.WriteString(sanitizeEventField(opt.Hostname))
	}

	if opt.AggregationKey != "" {
		buf.WriteString("|k:")
		buf.WriteString(sanitizeEventField(opt.AggregationKey))
	}

	if opt.Priority.Valid() {
		buf.WriteString("|p:")
		buf.WriteString(string(opt.Priority))
	}

	if opt.AlertType.Valid() {
		buf.WriteString("|t:")
		buf.WriteString(string(opt.AlertType))
	}

	if opt.Tags != nil {
		tags := make([]string, len(opt.Tags))
		for i, tag := range opt.Tags {
			tags[i] = strings.ReplaceAll(tag, ",", "")
		}
		buf.WriteString("|#")
		buf.WriteString(strings.Join(tags, ","))
	}

	return []byte(buf.String()), nil
}

func sanitizeEventField(s string) string {
	return strings.ReplaceAll(s, "|", "")
}
