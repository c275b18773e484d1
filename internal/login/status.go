package login

// Status is the login handshake status published for an account.
type Status string

const (
	// StatusInit - config written, process spawning or starting up.
	StatusInit Status = "init"
	// StatusQRCode - a QR code is waiting to be scanned.
	StatusQRCode Status = "qrcode"
	// StatusCaptcha - an image captcha is waiting to be solved.
	StatusCaptcha Status = "captcha"
	// StatusSlider - a slider captcha must be completed in a browser.
	StatusSlider Status = "slider"
	// StatusSMS - the gateway waits for an SMS code on stdin.
	StatusSMS Status = "sms"
	// StatusSMSConfirm - device lock is on and an SMS code was sent.
	StatusSMSConfirm Status = "sms-confirm"
	// StatusSMSOrQRCode - device lock is on, operator picks SMS or QR.
	StatusSMSOrQRCode Status = "sms-or-qrcode"
	// StatusSliderOrQRCode - slider required, operator picks slider or QR.
	StatusSliderOrQRCode Status = "slider-or-qrcode"
	// StatusContinue - a ticket was submitted, the gateway is verifying it.
	StatusContinue Status = "continue"
	// StatusSuccess - handshake complete, the process keeps running.
	StatusSuccess Status = "success"
	// StatusError - handshake failed, needs an explicit restart.
	StatusError Status = "error"
	// StatusOffline - cleanly stopped.
	StatusOffline Status = "offline"
)

var allStatuses = []Status{
	StatusInit,
	StatusQRCode,
	StatusCaptcha,
	StatusSlider,
	StatusSMS,
	StatusSMSConfirm,
	StatusSMSOrQRCode,
	StatusSliderOrQRCode,
	StatusContinue,
	StatusSuccess,
	StatusError,
	StatusOffline,
}

// Statuses returns every status value.
func Statuses() []Status {
	out := make([]Status, len(allStatuses))
	copy(out, allStatuses)
	return out
}

func (s Status) String() string {
	return string(s)
}

// Valid reports whether s is one of the enumerated statuses.
func (s Status) Valid() bool {
	for _, v := range allStatuses {
		if s == v {
			return true
		}
	}
	return false
}

// Terminal reports whether s ends the current login attempt.
func (s Status) Terminal() bool {
	switch s {
	case StatusSuccess, StatusError, StatusOffline:
		return true
	default:
		return false
	}
}

// Interactive reports whether s waits on an operator.
func (s Status) Interactive() bool {
	switch s {
	case StatusQRCode, StatusCaptcha, StatusSlider, StatusSMS, StatusSMSConfirm,
		StatusSMSOrQRCode, StatusSliderOrQRCode:
		return true
	default:
		return false
	}
}

// State is the observer-visible status record of one account.
type State struct {
	Status  Status `json:"status"`
	Image   string `json:"image,omitempty"`
	Phone   string `json:"phone,omitempty"`
	Link    string `json:"link,omitempty"`
	Message string `json:"message,omitempty"`
	Device  string `json:"device,omitempty"`
}
