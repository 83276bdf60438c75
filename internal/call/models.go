package call

import (
	"fmt"
	"time"
)

// Direction indicates who initiated the call.
type Direction string

const (
	DirectionIncoming Direction = "incoming"
	DirectionOutgoing Direction = "outgoing"
)

// State is the lifecycle state of a call record.
type State string

const (
	// StateCalling means the call is being set up (ringing either way).
	StateCalling State = "calling"
	// StateOngoing means media is flowing. A call in this state always has
	// a non-nil StartedAt.
	StateOngoing State = "ongoing"
	// StateTerminated means the call completed normally.
	StateTerminated State = "terminated"
	// StateMissed means the remote party gave up before we answered.
	StateMissed State = "missed"
	// StateRejected means the call was declined, either locally or by the
	// remote end.
	StateRejected State = "rejected"
)

// Contact is a person associated with one or more calls.
type Contact struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	PhoneNumber  string `json:"phone_number"`
	MobileNumber string `json:"mobile_number,omitempty"`
	Email        string `json:"email,omitempty"`
	AvatarURL    string `json:"avatar_url,omitempty"`
}

// Activity is a reference to an external task record (e.g. a scheduled
// call activity in a CRM) that a call may settle.
type Activity struct {
	ID           string `json:"id"`
	Kind         string `json:"kind"`
	Name         string `json:"name"`
	PhoneNumber  string `json:"phone_number,omitempty"`
	MobileNumber string `json:"mobile_number,omitempty"`
	Partner      *Contact `json:"partner,omitempty"`
}

// Number returns the best phone number for the activity.
func (a *Activity) Number() string {
	if a.MobileNumber != "" {
		return a.MobileNumber
	}
	return a.PhoneNumber
}

// Call is a displayable record of one phone interaction, independent of
// signaling state. Records are owned by the Store; the orchestrator holds
// the active call's record exclusively for the session's lifetime.
type Call struct {
	ID          string     `json:"id"`
	Direction   Direction  `json:"direction"`
	State       State      `json:"state"`
	PhoneNumber string     `json:"phone_number"`
	DisplayName string     `json:"display_name,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	EndedAt     *time.Time `json:"ended_at,omitempty"`

	// Partner is a weak reference resolved by contact lookup; it may be
	// filled in after the call record is created.
	Partner *Contact `json:"partner,omitempty"`

	// Activity is the external task this call settles, if any.
	Activity *Activity `json:"activity,omitempty"`

	// Elapsed is the running call duration in seconds, maintained by the
	// orchestrator's ticker while the call is ongoing.
	Elapsed int64 `json:"elapsed,omitempty"`
}

// InProgress reports whether the record describes a call that has not yet
// reached a terminal state.
func (c *Call) InProgress() bool {
	return c.State == StateCalling || c.State == StateOngoing
}

// Duration returns the answered duration of the call. It is zero for calls
// that never started or have not ended.
func (c *Call) Duration() time.Duration {
	if c.StartedAt == nil || c.EndedAt == nil {
		return 0
	}
	return c.EndedAt.Sub(*c.StartedAt)
}

// DurationString renders the call duration for display:
// "1 second", "42 seconds", "2 minutes", "3 min 5 sec".
// Returns "" for a zero duration.
func (c *Call) DurationString() string {
	secs := int(c.Duration() / time.Second)
	if secs == 0 {
		return ""
	}
	minutes := secs / 60
	seconds := secs % 60
	switch {
	case minutes == 0 && seconds == 1:
		return "1 second"
	case minutes == 0:
		return fmt.Sprintf("%d seconds", seconds)
	case seconds == 0 && minutes == 1:
		return "1 minute"
	case seconds == 0:
		return fmt.Sprintf("%d minutes", minutes)
	default:
		return fmt.Sprintf("%d min %d sec", minutes, seconds)
	}
}

// CallDate returns the timestamp a call list should display: the answer
// time for completed calls, otherwise the creation time.
func (c *Call) CallDate() time.Time {
	if c.State == StateTerminated && c.StartedAt != nil {
		return *c.StartedAt
	}
	return c.CreatedAt
}

// Disposition maps the terminal state of a call to a call-log disposition.
// Calls that never left "calling" were aborted by the local user.
func (c *Call) Disposition() string {
	switch c.State {
	case StateMissed:
		return "missed"
	case StateRejected:
		return "rejected"
	case StateTerminated:
		if c.StartedAt == nil {
			return "aborted"
		}
		return "completed"
	default:
		return string(c.State)
	}
}
