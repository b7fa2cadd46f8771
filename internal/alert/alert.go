// Package alert delivers outbound notifications for confirmed incidents.
//
// A destination is a "scheme:recipient" string such as "sms:+491701234567",
// "discord:112233445566" or "redis:voiceguard:alerts". The [Dispatcher] routes
// each destination to the [Transport] registered for its scheme. Every
// transport sits behind its own circuit breaker, and a failing recipient never
// prevents delivery to the others.
package alert

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MrWong99/voiceguard/pkg/incident"
	"github.com/MrWong99/voiceguard/pkg/types"
)

// DefaultMessage is the SOS text used when no message is configured.
const DefaultMessage = "SOS from VoiceGuard: An urgent alert has been triggered. Please check on the user immediately. This is a potential emergency."

var (
	// ErrInvalidDestination is returned for destinations that are not of the
	// form "scheme:recipient".
	ErrInvalidDestination = errors.New("alert: invalid destination")

	// ErrNoTransport is returned when no transport handles a scheme.
	ErrNoTransport = errors.New("alert: no transport for scheme")
)

// Alert is the payload delivered to every destination.
type Alert struct {
	IncidentID string
	Level      types.ThreatLevel
	Timestamp  time.Time
	Volume     float64
	Confidence float64

	// Message is the human-readable SOS text.
	Message string

	// Transcript is the recognised speech, if content analysis ran.
	Transcript string
}

// FromIncident builds the alert for inc. An empty message selects
// [DefaultMessage].
func FromIncident(inc incident.Incident, message string) Alert {
	if message == "" {
		message = DefaultMessage
	}
	a := Alert{
		IncidentID: inc.ID,
		Level:      inc.ThreatLevel,
		Timestamp:  inc.Timestamp,
		Volume:     inc.Volume,
		Confidence: inc.SpeechConfidence,
		Message:    message,
	}
	if inc.Analysis != nil {
		a.Transcript = inc.Analysis.Transcript
	}
	return a
}

// Text renders the alert as a single plain-text message.
func (a Alert) Text() string {
	var b strings.Builder
	b.WriteString(a.Message)
	fmt.Fprintf(&b, " [%s threat, incident %s at %s]", a.Level, a.IncidentID, a.Timestamp.UTC().Format(time.RFC3339))
	if a.Transcript != "" {
		fmt.Fprintf(&b, " Heard: %q", a.Transcript)
	}
	return b.String()
}

// Transport delivers an alert to a single recipient.
//
// Implementations must be safe for concurrent use.
type Transport interface {
	// Scheme returns the destination prefix this transport handles, without
	// the trailing colon.
	Scheme() string

	// Send delivers a to recipient. A nil error means the message was
	// accepted by the remote side.
	Send(ctx context.Context, recipient string, a Alert) error
}

// ParseDestination splits "scheme:recipient". The scheme is lower-cased and
// the recipient is trimmed. Only the first colon separates the two, so redis
// stream keys may themselves contain colons.
func ParseDestination(dest string) (scheme, recipient string, err error) {
	scheme, recipient, ok := strings.Cut(strings.TrimSpace(dest), ":")
	scheme = strings.ToLower(strings.TrimSpace(scheme))
	recipient = strings.TrimSpace(recipient)
	if !ok || scheme == "" || recipient == "" {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidDestination, dest)
	}
	return scheme, recipient, nil
}

// ValidateDestinations checks every destination's syntax and reports all
// offenders at once.
func ValidateDestinations(dests []string) error {
	var errs []error
	for _, d := range dests {
		if _, _, err := ParseDestination(d); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
