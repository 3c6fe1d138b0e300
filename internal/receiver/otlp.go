package receiver

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	collogspb "go.opentelemetry.io/proto/otlp/collector/logs/v1"
	commonpb "go.opentelemetry.io/proto/otlp/common/v1"
	logspb "go.opentelemetry.io/proto/otlp/logs/v1"

	"github.com/fidde/groupsink/pkg/models"
)

// OTLP semantic convention attribute keys
const (
	attrServiceName         = "service.name"
	attrExceptionType       = "exception.type"
	attrExceptionMessage    = "exception.message"
	attrExceptionStacktrace = "exception.stacktrace"
)

// defaultProject is used when a resource carries no service.name.
const defaultProject = "default"

// EventsFromLogs maps an OTLP logs export request onto error events.
// Records without exception attributes below ERROR severity are dropped.
func EventsFromLogs(req *collogspb.ExportLogsServiceRequest) []*models.Event {
	var events []*models.Event

	for _, rl := range req.GetResourceLogs() {
		project := defaultProject
		resourceTags := map[string]string{}
		for _, attr := range rl.GetResource().GetAttributes() {
			value := attributeString(attr.GetValue())
			if attr.GetKey() == attrServiceName {
				if value != "" {
					project = value
				}
				continue
			}
			if value != "" {
				resourceTags[attr.GetKey()] = value
			}
		}

		for _, sl := range rl.GetScopeLogs() {
			logger := sl.GetScope().GetName()
			for _, record := range sl.GetLogRecords() {
				event := eventFromRecord(record, project, logger, resourceTags)
				if event != nil {
					events = append(events, event)
				}
			}
		}
	}

	return events
}

// eventFromRecord maps one log record, or returns nil when the record
// carries no error signal worth grouping.
func eventFromRecord(record *logspb.LogRecord, project, logger string, resourceTags map[string]string) *models.Event {
	var excType, excMessage, excStacktrace string
	tags := map[string]string{}
	for k, v := range resourceTags {
		tags[k] = v
	}

	for _, attr := range record.GetAttributes() {
		value := attributeString(attr.GetValue())
		switch attr.GetKey() {
		case attrExceptionType:
			excType = value
		case attrExceptionMessage:
			excMessage = value
		case attrExceptionStacktrace:
			excStacktrace = value
		default:
			if value != "" {
				tags[attr.GetKey()] = value
			}
		}
	}

	hasException := excType != "" || excMessage != ""
	if !hasException && record.GetSeverityNumber() < logspb.SeverityNumber_SEVERITY_NUMBER_ERROR {
		return nil
	}

	event := &models.Event{
		Project: project,
		Level:   severityLevel(record.GetSeverityNumber()),
		Logger:  logger,
		Message: attributeString(record.GetBody()),
	}
	if len(tags) > 0 {
		event.Tags = tags
	}
	if nanos := record.GetTimeUnixNano(); nanos > 0 {
		event.Timestamp = time.Unix(0, int64(nanos)).UTC()
	}

	if hasException {
		event.Exceptions = []models.Exception{{
			Type:       excType,
			Value:      excMessage,
			Stacktrace: parseStacktrace(excStacktrace),
		}}
	}

	return event
}

// severityLevel maps an OTLP severity number onto a level string.
func severityLevel(severity logspb.SeverityNumber) string {
	switch {
	case severity >= logspb.SeverityNumber_SEVERITY_NUMBER_FATAL:
		return "fatal"
	case severity >= logspb.SeverityNumber_SEVERITY_NUMBER_ERROR:
		return "error"
	case severity >= logspb.SeverityNumber_SEVERITY_NUMBER_WARN:
		return "warning"
	case severity >= logspb.SeverityNumber_SEVERITY_NUMBER_INFO:
		return "info"
	case severity > 0:
		return "debug"
	}
	return "error"
}

// attributeString extracts a string rendering of an attribute value.
// Non-scalar values are ignored.
func attributeString(v *commonpb.AnyValue) string {
	switch val := v.GetValue().(type) {
	case *commonpb.AnyValue_StringValue:
		return val.StringValue
	case *commonpb.AnyValue_IntValue:
		return strconv.FormatInt(val.IntValue, 10)
	case *commonpb.AnyValue_DoubleValue:
		return strconv.FormatFloat(val.DoubleValue, 'g', -1, 64)
	case *commonpb.AnyValue_BoolValue:
		return strconv.FormatBool(val.BoolValue)
	}
	return ""
}

// Stacktrace line formats:
//
//	at com.example.Service.handle(Service.java:42)   Java / JS
//	File "app/views.py", line 12, in handler         Python
var (
	atFrameRe     = regexp.MustCompile(`^\s*at\s+(\S+?)\s*\(([^():]+)(?::(\d+))?(?::\d+)?\)\s*$`)
	pythonFrameRe = regexp.MustCompile(`^\s*File "([^"]+)", line (\d+), in (\S+)\s*$`)
)

// parseStacktrace extracts frames from a semantic-convention stacktrace
// string, best effort. Java and JS traces list the most recent call
// first, so those frames are reversed into oldest-first order.
func parseStacktrace(text string) []models.Frame {
	if text == "" {
		return nil
	}

	var atFrames, pyFrames []models.Frame
	for _, line := range strings.Split(text, "\n") {
		if m := atFrameRe.FindStringSubmatch(line); m != nil {
			frame := models.Frame{Filename: m[2], Lineno: atoi(m[3])}
			// Java style qualifies the function with the class path
			if dot := strings.LastIndex(m[1], "."); dot > 0 && strings.Contains(m[2], ".java") {
				frame.Module = m[1][:dot]
				frame.Function = m[1][dot+1:]
			} else {
				frame.Function = m[1]
			}
			atFrames = append(atFrames, frame)
			continue
		}
		if m := pythonFrameRe.FindStringSubmatch(line); m != nil {
			pyFrames = append(pyFrames, models.Frame{
				Filename: m[1],
				Lineno:   atoi(m[2]),
				Function: m[3],
			})
		}
	}

	if len(pyFrames) > 0 {
		return pyFrames
	}
	for i, j := 0, len(atFrames)-1; i < j; i, j = i+1, j-1 {
		atFrames[i], atFrames[j] = atFrames[j], atFrames[i]
	}
	return atFrames
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}
