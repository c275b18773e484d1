// Package login drives a gateway's interactive login handshake from its log
// output.
//
// Each classified line is matched against an ordered table of recognizers.
// The first recognizer that matches decides the effect: a status transition,
// a field attached to the current status, or a reply written to the gateway's
// stdin. More specific patterns sit above more general ones (device lock plus
// SMS before the plain SMS prompt, for instance).
package login

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"github.com/Dicklesworthstone/gateway_supervisor/internal/logline"
)

// Host is the account side the machine acts on.
type Host interface {
	// Write sends a line to the gateway's stdin.
	Write(text string) error

	// ReadFile reads a file from the account's working directory.
	ReadFile(name string) ([]byte, error)
}

// Store holds the published state of one account.
type Store interface {
	// Get returns the current state.
	Get() (State, bool)

	// Set replaces the state and notifies observers.
	Set(State)

	// Update mutates the state in place and notifies observers.
	Update(func(*State))

	// Touch re-announces the current state without changing it.
	Touch()
}

const (
	// SuccessMarker is printed once the gateway finished logging in.
	SuccessMarker = "アトリは、高性能ですから"

	// QRCodeFile is written by the gateway for QR logins.
	QRCodeFile = "qrcode.png"

	// CaptchaFile is written by the gateway for image captchas.
	CaptchaFile = "captcha.jpg"

	// DefaultCaptchaPath is the local page that hosts the slider flow.
	DefaultCaptchaPath = "/captcha"
)

// Messages published alongside statuses.
const (
	MsgScanCancelled   = "QR code scan was cancelled by the user."
	MsgQRCodeExpired   = "QR code has expired."
	MsgScanSucceeded   = "QR code scanned, confirm the login on your phone."
	MsgSendFailed      = "Failed to send the verification code, requests may be too frequent."
	MsgVerifyTimeout   = "Login failed: verification timed out."
	MsgDeviceLock      = "Device lock is enabled, verify at the link below and then restart."
	MsgProtocolNoQR    = "The configured device protocol does not support QR code login, configure a password or switch protocol."
	MsgUnexpectedExit  = "Gateway process exited before login completed."
	MsgGatewayExited   = "Gateway process exited after login."
	MsgSpawnFailed     = "Failed to start the gateway process."
	captchaVendorURLRe = `^https://ssl\.captcha\.qq\.com/template/wireless_mqq_captcha\.html\?`
)

// Patterns for recognizing gateway prompts.
var Patterns = struct {
	MenuPrompt       *regexp.Regexp
	Phone            *regexp.Regexp
	URL              *regexp.Regexp
	DeviceLockURL    *regexp.Regexp
	CaptchaVendorURL *regexp.Regexp
}{
	// "请输入(1 - 2)："
	MenuPrompt: regexp.MustCompile(`请输入\s*\(\s*1\s*-\s*2\s*\)`),

	// "向手机 138****0000 发送短信验证码"
	Phone: regexp.MustCompile(`向手机\s*(.+?)\s*发送短信验证码`),

	// "请前往该地址验证 -> https://ssl.captcha.qq.com/..."
	URL: regexp.MustCompile(`https:\S+`),

	// "账号已开启设备锁，请前往 -> https://accounts.qq.com/... <- 验证后重启Bot."
	DeviceLockURL: regexp.MustCompile(`->\s*(.+?)\s*<-`),

	CaptchaVendorURL: regexp.MustCompile(captchaVendorURLRe),
}

const (
	textDeviceLock     = "账号已开启设备锁"
	textChooseMethod   = "请选择验证方式"
	textSliderRequired = "登录需要滑条验证码"
	textTicketMethod   = "请选择提交滑块ticket方式"
	textSMSCode        = "请输入短信验证码"
	textVisitAddress   = "请前往该地址验证"
	textScanCancelled  = "扫码被用户取消"
	textQRExpired      = "二维码过期"
	textScanSucceeded  = "扫码成功"
	textPressEnter     = "Enter 继续"
	textSendFailed     = "发送验证码失败"
	textVerifyTimeout  = "验证超时"
	textLoginFailed    = "登录失败"
)

var textNoQRLogin = []string{"不支持二维码登录", "不支持扫码登录"}

// Recognizer is one row of the transition table.
type Recognizer struct {
	// Name identifies the recognizer in logs and results.
	Name string

	// Match returns the captures for text, or nil when it does not apply.
	// Index 0 is the whole text.
	Match func(text string) []string

	// Apply performs the effect.
	Apply func(ctx context.Context, m *Machine, caps []string) error
}

// Result describes what a handled line did.
type Result struct {
	// Recognizer is the name of the matching recognizer, empty if none.
	Recognizer string

	// Resolved is set when the line completed the login handshake.
	Resolved bool

	// Skipped is set for message-traffic lines.
	Skipped bool

	// Err is the error returned by the recognizer's effect, if any.
	Err error
}

// Options configures a Machine.
type Options struct {
	// CaptchaPath is the local page slider links are rewritten to.
	CaptchaPath string

	// Logger receives the gateway's output lines.
	Logger *slog.Logger
}

// Machine is the login state machine of one account. It is not safe for
// concurrent use: lines of an account are handled one at a time, in order.
type Machine struct {
	sid         string
	host        Host
	store       Store
	logger      *slog.Logger
	captchaPath string
	table       []Recognizer
	resolved    bool
}

// New creates a machine for account sid.
func New(sid string, host Host, store Store, opts Options) *Machine {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.CaptchaPath == "" {
		opts.CaptchaPath = DefaultCaptchaPath
	}
	return &Machine{
		sid:         sid,
		host:        host,
		store:       store,
		logger:      opts.Logger,
		captchaPath: opts.CaptchaPath,
		table:       Table(),
	}
}

// Resolved reports whether the success marker has been seen.
func (m *Machine) Resolved() bool {
	return m.resolved
}

// Handle logs a classified line and applies the first matching recognizer.
func (m *Machine) Handle(ctx context.Context, line logline.Line) Result {
	if line.Traffic {
		return Result{Skipped: true}
	}
	m.logger.Log(ctx, line.Level, line.Text)

	for _, r := range m.table {
		caps := r.Match(line.Text)
		if caps == nil {
			continue
		}
		res := Result{Recognizer: r.Name}
		if err := r.Apply(ctx, m, caps); err != nil {
			m.logger.Warn("login handler failed",
				"recognizer", r.Name,
				"error", err,
				"action", "handler_failed")
			res.Err = err
		}
		res.Resolved = r.Name == "success"
		return res
	}
	return Result{}
}

// Table returns the ordered recognizer table.
func Table() []Recognizer {
	return []Recognizer{
		{
			Name:  "success",
			Match: contains(SuccessMarker),
			Apply: func(_ context.Context, m *Machine, _ []string) error {
				m.resolved = true
				m.transition(State{Status: StatusSuccess})
				return nil
			},
		},
		{
			Name:  "menu-reprompt",
			Match: matchRegexp(Patterns.MenuPrompt),
			Apply: func(_ context.Context, m *Machine, _ []string) error {
				m.store.Touch()
				return nil
			},
		},
		{
			Name:  "sms-or-qrcode",
			Match: contains(textDeviceLock, textChooseMethod),
			Apply: setStatus(StatusSMSOrQRCode),
		},
		{
			Name:  "slider-or-qrcode",
			Match: contains(textSliderRequired, textChooseMethod),
			Apply: setStatus(StatusSliderOrQRCode),
		},
		{
			Name:  "ticket-method",
			Match: contains(textTicketMethod),
			Apply: func(_ context.Context, m *Machine, _ []string) error {
				return m.write("2")
			},
		},
		{
			Name:  "sms-phone",
			Match: matchRegexp(Patterns.Phone),
			Apply: func(_ context.Context, m *Machine, caps []string) error {
				phone := strings.TrimSpace(caps[1])
				if strings.Contains(caps[0], textDeviceLock) {
					m.transition(State{Status: StatusSMSConfirm, Phone: phone})
					return nil
				}
				m.store.Update(func(s *State) { s.Phone = phone })
				return nil
			},
		},
		{
			Name:  "captcha-image",
			Match: contains(CaptchaFile),
			Apply: func(_ context.Context, m *Machine, _ []string) error {
				image, err := m.readImage(CaptchaFile, "captcha.png")
				if err != nil {
					return err
				}
				m.transition(State{Status: StatusCaptcha, Image: image})
				return nil
			},
		},
		{
			Name:  "qrcode-image",
			Match: contains(QRCodeFile),
			Apply: func(_ context.Context, m *Machine, _ []string) error {
				image, err := m.readImage(QRCodeFile)
				if err != nil {
					return err
				}
				m.transition(State{Status: StatusQRCode, Image: image})
				return nil
			},
		},
		{
			Name:  "sms-prompt",
			Match: contains(textSMSCode),
			Apply: func(_ context.Context, m *Machine, _ []string) error {
				m.store.Update(func(s *State) { s.Status = StatusSMS })
				return nil
			},
		},
		{
			Name: "slider-link",
			Match: func(text string) []string {
				if !strings.Contains(text, textVisitAddress) {
					return nil
				}
				link := Patterns.URL.FindString(text)
				if link == "" {
					return nil
				}
				return []string{text, link}
			},
			Apply: func(_ context.Context, m *Machine, caps []string) error {
				m.transition(State{Status: StatusSlider, Link: m.RewriteCaptchaURL(caps[1])})
				return nil
			},
		},
		{
			Name:  "scan-cancelled",
			Match: contains(textScanCancelled),
			Apply: attachMessage(MsgScanCancelled),
		},
		{
			Name:  "qrcode-expired",
			Match: contains(textQRExpired),
			Apply: attachMessage(MsgQRCodeExpired),
		},
		{
			Name:  "scan-succeeded",
			Match: contains(textScanSucceeded),
			Apply: attachMessage(MsgScanSucceeded),
		},
		{
			Name:  "press-enter",
			Match: contains(textPressEnter),
			Apply: func(_ context.Context, m *Machine, _ []string) error {
				return m.write("")
			},
		},
		{
			Name:  "send-failed",
			Match: contains(textSendFailed),
			Apply: fail(MsgSendFailed),
		},
		{
			Name:  "verify-timeout",
			Match: contains(textVerifyTimeout),
			Apply: fail(MsgVerifyTimeout),
		},
		{
			Name:  "login-failed",
			Match: contains(textLoginFailed),
			Apply: func(_ context.Context, m *Machine, caps []string) error {
				m.transition(State{Status: StatusError, Message: caps[0]})
				return nil
			},
		},
		{
			Name: "device-lock-link",
			Match: func(text string) []string {
				if !strings.Contains(text, textDeviceLock) {
					return nil
				}
				return Patterns.DeviceLockURL.FindStringSubmatch(text)
			},
			Apply: func(_ context.Context, m *Machine, caps []string) error {
				m.transition(State{Status: StatusError, Message: MsgDeviceLock, Link: caps[1]})
				return m.write("")
			},
		},
		{
			Name: "protocol-no-qrcode",
			Match: func(text string) []string {
				for _, t := range textNoQRLogin {
					if strings.Contains(text, t) {
						return []string{text}
					}
				}
				return nil
			},
			Apply: fail(MsgProtocolNoQR),
		},
	}
}

// RewriteCaptchaURL points a captcha vendor URL at the local captcha page so
// the ticket can be posted back for this account. Other URLs are unchanged.
func (m *Machine) RewriteCaptchaURL(link string) string {
	loc := Patterns.CaptchaVendorURL.FindStringIndex(link)
	if loc == nil {
		return link
	}
	return fmt.Sprintf("%s?id=%s&%s", m.captchaPath, url.QueryEscape(m.sid), link[loc[1]:])
}

func (m *Machine) transition(next State) {
	prev, _ := m.store.Get()
	m.store.Set(next)
	m.logger.Info("login state transition",
		"from_status", prev.Status.String(),
		"to_status", next.Status.String(),
		"action", "transition")
}

func (m *Machine) write(text string) error {
	if err := m.host.Write(text); err != nil {
		return fmt.Errorf("write to gateway: %w", err)
	}
	m.logger.Debug("injection succeeded", "inject_len", len(text), "action", "inject_success")
	return nil
}

// readImage reads the first existing file of names and returns it as a data
// URI.
func (m *Machine) readImage(names ...string) (string, error) {
	var lastErr error
	for _, name := range names {
		data, err := m.host.ReadFile(name)
		if err != nil {
			lastErr = err
			continue
		}
		return DataURI(data), nil
	}
	return "", fmt.Errorf("read login image: %w", lastErr)
}

// DataURI encodes image bytes as a data URI, sniffing the content type.
func DataURI(data []byte) string {
	mime := http.DetectContentType(data)
	if !strings.HasPrefix(mime, "image/") {
		mime = "image/png"
	}
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data)
}

func contains(parts ...string) func(string) []string {
	return func(text string) []string {
		for _, p := range parts {
			if !strings.Contains(text, p) {
				return nil
			}
		}
		return []string{text}
	}
}

func matchRegexp(re *regexp.Regexp) func(string) []string {
	return func(text string) []string {
		m := re.FindStringSubmatch(text)
		if m == nil {
			return nil
		}
		m[0] = text
		return m
	}
}

func setStatus(status Status) func(context.Context, *Machine, []string) error {
	return func(_ context.Context, m *Machine, _ []string) error {
		m.transition(State{Status: status})
		return nil
	}
}

func attachMessage(msg string) func(context.Context, *Machine, []string) error {
	return func(_ context.Context, m *Machine, _ []string) error {
		m.store.Update(func(s *State) { s.Message = msg })
		return nil
	}
}

func fail(msg string) func(context.Context, *Machine, []string) error {
	return func(_ context.Context, m *Machine, _ []string) error {
		m.transition(State{Status: StatusError, Message: msg})
		return nil
	}
}
