package agent

import (
	"errors"
	"fmt"

	"github.com/softdial/softdial/internal/media"
)

// User-facing error texts for conditions that prevent the agent from
// starting at all.
const (
	msgNoAudioSupport = "Your system does not support the audio features required for VoIP to work. " +
		"Please check your audio subsystem or use a different machine."
	msgServerMissing  = "PBX or signaling server address is missing. Please check your settings."
	msgBadCredentials = "Your login details are not set correctly. Please contact your administrator."
	msgConnecting     = "Connecting…"
	msgStartFailed = "The user agent could not be started. The signaling server URL may be incorrect. " +
		"Please have an administrator check the server URL in the settings."
	msgConnectionLost  = "The connection to the server has been lost. Attempting to reestablish the connection…"
	msgReconnectGaveUp = "The connection to the server was lost and couldn't be reestablished."
	msgMicReminder     = "Please accept the use of the microphone."
)

// mediaFailureMessage classifies a media acquisition failure into the text
// shown to the user.
func mediaFailureMessage(err error) string {
	switch {
	case errors.Is(err, media.ErrNotAllowed):
		return "Cannot access the audio recording device. If you have denied access to your " +
			"microphone, please allow it and try again. Otherwise, make sure that this " +
			"application is allowed to use media devices."
	case errors.Is(err, media.ErrNotFound):
		return "No audio recording device available. The application requires a microphone in " +
			"order to be used."
	case errors.Is(err, media.ErrNotReadable):
		return "A hardware error has occurred while trying to access the audio recording " +
			"device. Please ensure that your drivers are up to date and try again."
	default:
		return fmt.Sprintf("An error occurred involving the audio recording device:\n%v", err)
	}
}

// rejectionMessage classifies a final failure response to an outgoing
// invite. 487 never reaches this function: the caller's own cancellation
// is handled by the hangup path.
func rejectionMessage(statusCode int, reason string) string {
	switch statusCode {
	case 404, StatusNotAcceptableHere, StatusDecline:
		return fmt.Sprintf("The number is incorrect, the user credentials could be wrong, or the "+
			"connection cannot be made. Please check your configuration.\n(Reason received: %s)", reason)
	case StatusBusyHere, 600:
		return "The person you are trying to contact is currently unavailable."
	default:
		return fmt.Sprintf("Call rejected (reason: %q)", reason)
	}
}

// inviteFailureMessage is shown when building or sending an invite fails
// outright.
func inviteFailureMessage(number string, err error) string {
	return fmt.Sprintf("An error occurred trying to invite the following number: %s\n\nError: %v", number, err)
}
