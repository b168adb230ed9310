// Package ingest turns business events from the club's other systems
// (bookings, payments, announcements) into inbox notifications.
package ingest

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/seabreeze-yc/clubinbox/internal/models"
)

var (
	ErrUnsupportedEvent = errors.New("unsupported event type")
	ErrMalformedEvent   = errors.New("malformed event")
)

type Meta struct {
	ID       string    `json:"id"`
	Type     string    `json:"type"`
	Time     time.Time `json:"time"`
	Producer *string   `json:"producer,omitempty"`
}

type Envelope struct {
	Meta Meta            `json:"meta"`
	Data json.RawMessage `json:"data"`
}

// eventData holds the fields every producer may set. Everything else in data
// is kept as display metadata.
type eventData struct {
	MemberID       string `json:"member_id"`
	Title          string `json:"title"`
	Message        string `json:"message"`
	Priority       string `json:"priority"`
	ActionRequired *bool  `json:"action_required"`
}

type rule struct {
	kind     string
	priority string
	title    string
	message  string
	action   bool
}

var rules = map[string]rule{
	"booking.created": {
		kind:     models.NotificationNewBooking,
		priority: models.PriorityHigh,
		title:    "New booking",
		message:  "A new booking needs confirmation.",
		action:   true,
	},
	"service_booking.created": {
		kind:     models.NotificationServiceBooking,
		priority: models.PriorityHigh,
		title:    "New service booking",
		message:  "A service request was booked.",
		action:   true,
	},
	"event_registration.created": {
		kind:     models.NotificationEventRegistration,
		priority: models.PriorityMedium,
		title:    "New event registration",
		message:  "A member registered for an event.",
	},
	"payment.captured": {
		kind:     models.NotificationPayment,
		priority: models.PriorityMedium,
		title:    "Payment received",
		message:  "A payment was captured.",
	},
	"payment.failed": {
		kind:     models.NotificationPayment,
		priority: models.PriorityUrgent,
		title:    "Payment failed",
		message:  "A payment could not be captured.",
		action:   true,
	},
	"system.announcement": {
		kind:     models.NotificationSystem,
		priority: models.PriorityLow,
		title:    "Club announcement",
		message:  "There is a new announcement from the club.",
	},
}

var versionSuffix = regexp.MustCompile(`\.v[0-9]+$`)

// EventType strips the version suffix, so "payment.failed.v2" and
// "payment.failed" map the same way.
func EventType(raw string) string {
	return versionSuffix.ReplaceAllString(strings.ToLower(strings.TrimSpace(raw)), "")
}

func Decode(body []byte) (Envelope, error) {
	var envelope Envelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if strings.TrimSpace(envelope.Meta.ID) == "" {
		return Envelope{}, fmt.Errorf("%w: meta.id is empty", ErrMalformedEvent)
	}
	return envelope, nil
}

// Translate returns the staff notification for an event, followed by the
// member's own copy when the event names a member.
func Translate(envelope Envelope) ([]models.CreateNotificationInput, error) {
	eventType := EventType(envelope.Meta.Type)
	r, ok := rules[eventType]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedEvent, envelope.Meta.Type)
	}

	var data eventData
	metadata := map[string]any{}
	if len(envelope.Data) > 0 && string(envelope.Data) != "null" {
		if err := json.Unmarshal(envelope.Data, &data); err != nil {
			return nil, fmt.Errorf("%w: data: %v", ErrMalformedEvent, err)
		}
		if err := json.Unmarshal(envelope.Data, &metadata); err != nil {
			return nil, fmt.Errorf("%w: data: %v", ErrMalformedEvent, err)
		}
	}
	for _, key := range []string{"title", "message", "priority", "action_required"} {
		delete(metadata, key)
	}
	metadata["event_type"] = eventType
	if !envelope.Meta.Time.IsZero() {
		metadata["event_time"] = envelope.Meta.Time.UTC()
	}

	priority := r.priority
	if p := strings.ToLower(strings.TrimSpace(data.Priority)); models.ValidPriority(p) {
		priority = p
	}
	action := r.action
	if data.ActionRequired != nil {
		action = *data.ActionRequired
	}

	sourceID := envelope.Meta.ID
	staff := models.CreateNotificationInput{
		RecipientScope: models.RecipientStaff,
		Type:           r.kind,
		Priority:       priority,
		Title:          firstNonEmpty(data.Title, r.title),
		Message:        firstNonEmpty(data.Message, r.message),
		ActionRequired: action,
		Metadata:       metadata,
		SourceEventID:  &sourceID,
	}
	inputs := []models.CreateNotificationInput{staff}

	if memberID := strings.TrimSpace(data.MemberID); memberID != "" {
		member := staff
		member.RecipientScope = models.RecipientUser
		member.RecipientID = &memberID
		// action items belong to staff
		member.ActionRequired = false
		inputs = append(inputs, member)
	}
	return inputs, nil
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
