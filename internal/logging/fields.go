package logging

import (
	"log/slog"
	"time"
)

// Field names shared by every component.
const (
	FieldService      = "service"
	FieldInvocationID = "invocation_id"
	FieldSource       = "source"
	FieldOrigin       = "origin"
	FieldArtifact     = "artifact"
	FieldDeviceID     = "device_id"
	FieldMethod       = "method"
	FieldStatus       = "status"
	FieldDuration     = "duration_ms"
	FieldRecords      = "records"
	FieldDatabase     = "database"
	FieldCollection   = "collection"
	FieldTopic        = "topic"
	FieldError        = "error"
)

func Service(name string) slog.Attr {
	return slog.String(FieldService, name)
}

// Source returns the ingestion source kind of an event.
func Source(kind string) slog.Attr {
	return slog.String(FieldSource, kind)
}

func Origin(id string) slog.Attr {
	return slog.String(FieldOrigin, id)
}

// Artifact returns the name of the triggering artifact.
func Artifact(ref string) slog.Attr {
	return slog.String(FieldArtifact, ref)
}

func DeviceID(id string) slog.Attr {
	return slog.String(FieldDeviceID, id)
}

func Method(name string) slog.Attr {
	return slog.String(FieldMethod, name)
}

func Status(code int) slog.Attr {
	return slog.Int(FieldStatus, code)
}

// Duration reports d in milliseconds.
func Duration(d time.Duration) slog.Attr {
	return slog.Int64(FieldDuration, d.Milliseconds())
}

func Records(n int) slog.Attr {
	return slog.Int(FieldRecords, n)
}

func Database(id string) slog.Attr {
	return slog.String(FieldDatabase, id)
}

func Collection(id string) slog.Attr {
	return slog.String(FieldCollection, id)
}

func Topic(topic string) slog.Attr {
	return slog.String(FieldTopic, topic)
}

// Error returns a slog attribute for an error. A nil error yields an empty value.
func Error(err error) slog.Attr {
	if err == nil {
		return slog.String(FieldError, "")
	}
	return slog.String(FieldError, err.Error())
}
