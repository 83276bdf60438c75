package call

import "errors"

// ErrEmptyCorrespondence is returned when a correspondence is created
// without an activity, a partner, or a call.
var ErrEmptyCorrespondence = errors.New("correspondence must refer to an activity, a partner, or a call")

// Correspondence is a read-only join of an activity, a partner, and a call.
// The display layer uses it to decide what to show for a selected entry;
// attaching a call triggers a one-time call-log write by the composition
// layer.
type Correspondence struct {
	Activity *Activity
	Call     *Call

	partner *Contact
}

// NewCorrespondence builds a correspondence from any combination of the
// three references. At least one must be non-nil.
func NewCorrespondence(activity *Activity, partner *Contact, c *Call) (*Correspondence, error) {
	if activity == nil && partner == nil && c == nil {
		return nil, ErrEmptyCorrespondence
	}
	return &Correspondence{Activity: activity, Call: c, partner: partner}, nil
}

// Partner resolves the contact for this correspondence, preferring the
// call's partner, then the activity's, then the directly attached one.
func (co *Correspondence) Partner() *Contact {
	if co.Call != nil && co.Call.Partner != nil {
		return co.Call.Partner
	}
	if co.Activity != nil && co.Activity.Partner != nil {
		return co.Activity.Partner
	}
	return co.partner
}

// PhoneNumber returns the number to dial for this correspondence:
// the call's number, else the activity's, else the partner's. Mobile
// numbers win over landlines.
func (co *Correspondence) PhoneNumber() string {
	if co.Call != nil && co.Call.PhoneNumber != "" {
		return co.Call.PhoneNumber
	}
	if co.Activity != nil {
		if n := co.Activity.Number(); n != "" {
			return n
		}
	}
	if p := co.Partner(); p != nil {
		if p.MobileNumber != "" {
			return p.MobileNumber
		}
		return p.PhoneNumber
	}
	return ""
}
