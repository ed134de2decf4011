package events

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/goccy/go-json"

	"parkhub/internal/models"
)

// ErrUnsupportedVersion is returned for envelopes newer than this build understands.
var ErrUnsupportedVersion = fmt.Errorf("%w: unsupported event version", models.ErrValidation)

// Encode serializes an envelope in the canonical form.
func Encode(env Envelope) ([]byte, error) {
	return json.Marshal(env)
}

// rawEnvelope accepts both the canonical envelope and the legacy
// {eventName, payload, publishedAt} shape.
type rawEnvelope struct {
	EventID     string          `json:"eventId"`
	EventType   string          `json:"eventType"`
	EventName   string          `json:"eventName"`
	Version     int             `json:"version"`
	Producer    string          `json:"producer"`
	OccurredAt  *time.Time      `json:"occurredAt"`
	PublishedAt *time.Time      `json:"publishedAt"`
	Payload     json.RawMessage `json:"payload"`
}

type rawPayload struct {
	BookingID  flexID     `json:"bookingId"`
	BookingIDx flexID     `json:"booking_id"`
	UserID     flexID     `json:"userId"`
	UserIDx    flexID     `json:"user_id"`
	LotID      flexString `json:"lotId"`
	LotIDx     flexString `json:"lot_id"`
	SpotID     flexString `json:"spotId"`
	SpotIDx    flexString `json:"spot_id"`
	Status     string     `json:"status"`
	Reason     string     `json:"reason"`
	Timestamp  *time.Time `json:"timestamp"`
}

// Decode parses an event received on topic. Legacy envelope names, snake_case
// payload keys and numeric ids are translated into the canonical form.
func Decode(topic string, data []byte) (Envelope, error) {
	var raw rawEnvelope
	if err := json.Unmarshal(data, &raw); err != nil {
		return Envelope{}, models.Validationf("decode envelope: %v", err)
	}
	if raw.Version > SchemaVersion {
		return Envelope{}, fmt.Errorf("%w: %d", ErrUnsupportedVersion, raw.Version)
	}

	body := []byte(raw.Payload)
	if len(bytes.TrimSpace(body)) == 0 || bytes.Equal(bytes.TrimSpace(body), []byte("null")) {
		// bare payload published without an envelope
		body = data
	}
	var p rawPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return Envelope{}, models.Validationf("decode payload: %v", err)
	}

	env := Envelope{
		EventID:   raw.EventID,
		EventType: firstNonEmpty(raw.EventType, raw.EventName, topic),
		Version:   raw.Version,
		Producer:  firstNonEmpty(raw.Producer, producerUnknown),
		Payload: BookingPayload{
			BookingID: int64(firstNonZero(p.BookingID, p.BookingIDx)),
			UserID:    int64(firstNonZero(p.UserID, p.UserIDx)),
			LotID:     firstNonEmpty(string(p.LotID), string(p.LotIDx)),
			SpotID:    firstNonEmpty(string(p.SpotID), string(p.SpotIDx)),
			Status:    p.Status,
			Reason:    p.Reason,
		},
	}
	switch {
	case raw.OccurredAt != nil:
		env.OccurredAt = raw.OccurredAt.UTC()
	case raw.PublishedAt != nil:
		env.OccurredAt = raw.PublishedAt.UTC()
	}
	if p.Timestamp != nil {
		env.Payload.Timestamp = p.Timestamp.UTC()
	} else {
		env.Payload.Timestamp = env.OccurredAt
	}
	if env.Version == 0 {
		env.Version = SchemaVersion
	}
	if env.EventID == "" {
		// legacy producers did not stamp ids; derive a stable one
		env.EventID = env.DedupeKey()
	}

	if topic != "" && env.EventType != topic {
		return Envelope{}, models.Validationf("event type %q received on topic %q", env.EventType, topic)
	}
	if env.Payload.BookingID <= 0 {
		return Envelope{}, models.Validationf("event %s has no bookingId", env.EventType)
	}
	return env, nil
}

// flexID accepts a JSON number, a numeric string or null.
type flexID int64

func (f *flexID) UnmarshalJSON(b []byte) error {
	s := string(bytes.Trim(b, `"`))
	if s == "" || s == "null" {
		return nil
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid id %s", b)
	}
	*f = flexID(v)
	return nil
}

// flexString accepts a JSON string, a number or null.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	if _, err := strconv.ParseFloat(string(b), 64); err != nil {
		return errors.New("expected string or number")
	}
	*f = flexString(b)
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func firstNonZero(values ...flexID) flexID {
	for _, v := range values {
		if v != 0 {
			return v
		}
	}
	return 0
}

func formatID(id int64) string {
	return strconv.FormatInt(id, 10)
}
