package login

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"testing"

	"github.com/Dicklesworthstone/gateway_supervisor/internal/logline"
)

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

type fakeHost struct {
	files   map[string][]byte
	writes  []string
	failing bool
}

func (h *fakeHost) Write(text string) error {
	if h.failing {
		return errors.New("broken pipe")
	}
	h.writes = append(h.writes, text)
	return nil
}

func (h *fakeHost) ReadFile(name string) ([]byte, error) {
	data, ok := h.files[name]
	if !ok {
		return nil, os.ErrNotExist
	}
	return data, nil
}

// memStore records every published state.
type memStore struct {
	state   State
	present bool
	history []State
	touches int
}

func (s *memStore) Get() (State, bool) { return s.state, s.present }

func (s *memStore) Set(st State) {
	s.state = st
	s.present = true
	s.history = append(s.history, st)
}

func (s *memStore) Update(fn func(*State)) {
	if !s.present {
		s.state = State{Status: StatusInit}
		s.present = true
	}
	fn(&s.state)
	s.history = append(s.history, s.state)
}

func (s *memStore) Touch() { s.touches++ }

func (s *memStore) statuses() []Status {
	out := make([]Status, len(s.history))
	for i, st := range s.history {
		out[i] = st.Status
	}
	return out
}

func newTestMachine(host *fakeHost) (*Machine, *memStore) {
	store := &memStore{}
	store.Set(State{Status: StatusInit})
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New("onebot:10001", host, store, Options{Logger: logger}), store
}

func feed(t *testing.T, m *Machine, lines ...string) []Result {
	t.Helper()
	var results []Result
	for _, raw := range lines {
		l, ok := logline.Parse(raw)
		if !ok {
			t.Fatalf("Parse(%q) rejected line", raw)
		}
		results = append(results, m.Handle(context.Background(), l))
	}
	return results
}

func equalStatuses(a, b []Status) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestMachine_QRCodeThenSuccess(t *testing.T) {
	host := &fakeHost{files: map[string][]byte{QRCodeFile: pngHeader}}
	m, store := newTestMachine(host)

	results := feed(t, m,
		"[2024-05-01 12:00:00] [INFO]: 开始尝试登录并同步消息...",
		"[2024-05-01 12:00:01] [INFO]: 请使用手机QQ扫描二维码 (qrcode.png) :",
		"[2024-05-01 12:00:09] [INFO]: アトリは、高性能ですから!",
	)

	want := []Status{StatusInit, StatusQRCode, StatusSuccess}
	if got := store.statuses(); !equalStatuses(got, want) {
		t.Fatalf("statuses = %v, want %v", got, want)
	}
	if img := store.history[1].Image; !strings.HasPrefix(img, "data:image/png;base64,") {
		t.Fatalf("qrcode image = %q, want png data URI", img)
	}
	if !results[2].Resolved || !m.Resolved() {
		t.Fatal("success marker should resolve the handshake")
	}
	if results[0].Recognizer != "" {
		t.Fatalf("unrelated line matched %q", results[0].Recognizer)
	}
}

func TestMachine_DeviceLockSMSConfirm(t *testing.T) {
	m, store := newTestMachine(&fakeHost{})

	feed(t, m,
		"[2024-05-01 12:00:00] [WARNING]: 账号已开启设备锁，请选择验证方式:",
		"[2024-05-01 12:00:01] [WARNING]: 账号已开启设备锁, 向手机 123 发送短信验证码",
	)

	got, _ := store.Get()
	if got.Status != StatusSMSConfirm {
		t.Fatalf("status = %q, want %q", got.Status, StatusSMSConfirm)
	}
	if got.Phone != "123" {
		t.Fatalf("phone = %q, want 123", got.Phone)
	}
	want := []Status{StatusInit, StatusSMSOrQRCode, StatusSMSConfirm}
	if s := store.statuses(); !equalStatuses(s, want) {
		t.Fatalf("statuses = %v, want %v", s, want)
	}
}

func TestMachine_PhoneWithoutDeviceLockAttaches(t *testing.T) {
	m, store := newTestMachine(&fakeHost{})

	feed(t, m,
		"[2024-05-01 12:00:00] [WARNING]: 登录需要滑条验证码, 请选择验证方式: ",
		"[2024-05-01 12:00:01] [WARNING]: 向手机 138****0000 发送短信验证码",
		"[2024-05-01 12:00:02] [WARNING]: 请输入短信验证码： (Enter 提交)",
	)

	got, _ := store.Get()
	if got.Status != StatusSMS {
		t.Fatalf("status = %q, want sms", got.Status)
	}
	if got.Phone != "138****0000" {
		t.Fatalf("phone = %q, want it kept across the in-place update", got.Phone)
	}
	if store.history[2].Status != StatusSliderOrQRCode {
		t.Fatalf("attaching a phone changed status to %q", store.history[2].Status)
	}
}

func TestMachine_SliderLinkRewrite(t *testing.T) {
	m, store := newTestMachine(&fakeHost{})

	feed(t, m, "[2024-05-01 12:00:00] [WARNING]: 请前往该地址验证 -> https://ssl.captcha.qq.com/template/wireless_mqq_captcha.html?style=simple&aid=16&uin=10001&sid=abc")

	got, _ := store.Get()
	if got.Status != StatusSlider {
		t.Fatalf("status = %q, want slider", got.Status)
	}
	want := "/captcha?id=onebot%3A10001&style=simple&aid=16&uin=10001&sid=abc"
	if got.Link != want {
		t.Fatalf("link = %q, want %q", got.Link, want)
	}
}

func TestMachine_RewriteCaptchaURL_EscapesSessionID(t *testing.T) {
	store := &memStore{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	m := New("group a&b#c", &fakeHost{}, store, Options{Logger: logger})

	got := m.RewriteCaptchaURL("https://ssl.captcha.qq.com/template/wireless_mqq_captcha.html?aid=16&sid=abc")
	u, err := url.Parse(got)
	if err != nil {
		t.Fatalf("rewritten link %q does not parse: %v", got, err)
	}
	if u.Fragment != "" {
		t.Fatalf("fragment = %q, session id leaked out of the query", u.Fragment)
	}
	q := u.Query()
	if q.Get("id") != "group a&b#c" || q.Get("aid") != "16" || q.Get("sid") != "abc" {
		t.Fatalf("query = %v", q)
	}
}

func TestMachine_RewriteCaptchaURL_OtherHostUnchanged(t *testing.T) {
	m, _ := newTestMachine(&fakeHost{})
	link := "https://example.com/verify?x=1"
	if got := m.RewriteCaptchaURL(link); got != link {
		t.Fatalf("RewriteCaptchaURL() = %q, want unchanged", got)
	}
}

func TestMachine_AutoReplies(t *testing.T) {
	host := &fakeHost{}
	m, store := newTestMachine(host)

	feed(t, m,
		"[2024-05-01 12:00:00] [WARNING]: 请选择提交滑块ticket方式:",
		"[2024-05-01 12:00:01] [INFO]: 按 Enter 继续....",
	)

	if len(host.writes) != 2 || host.writes[0] != "2" || host.writes[1] != "" {
		t.Fatalf("writes = %q, want [\"2\" \"\"]", host.writes)
	}
	if len(store.history) != 1 {
		t.Fatalf("auto replies should not publish, history = %v", store.statuses())
	}
}

func TestMachine_MessagesKeepStatus(t *testing.T) {
	host := &fakeHost{files: map[string][]byte{QRCodeFile: pngHeader}}
	m, store := newTestMachine(host)

	tests := []struct {
		line string
		want string
	}{
		{"[2024-05-01 12:00:01] [INFO]: 扫码成功, 请在手机端确认登录.", MsgScanSucceeded},
		{"[2024-05-01 12:00:02] [INFO]: 扫码被用户取消.", MsgScanCancelled},
		{"[2024-05-01 12:00:03] [INFO]: 二维码过期", MsgQRCodeExpired},
	}

	feed(t, m, "[2024-05-01 12:00:00] [INFO]: 请使用手机QQ扫描二维码 (qrcode.png) :")
	for _, tt := range tests {
		feed(t, m, tt.line)
		got, _ := store.Get()
		if got.Status != StatusQRCode {
			t.Fatalf("after %q status = %q, want qrcode", tt.line, got.Status)
		}
		if got.Message != tt.want {
			t.Fatalf("after %q message = %q, want %q", tt.line, got.Message, tt.want)
		}
		if got.Image == "" {
			t.Fatalf("after %q image was dropped", tt.line)
		}
	}
}

func TestMachine_ErrorTriggers(t *testing.T) {
	tests := []struct {
		name        string
		line        string
		wantMessage string
		wantLink    string
		wantWrites  int
	}{
		{
			name:        "send failed",
			line:        "[2024-05-01 12:00:00] [WARNING]: 发送验证码失败，可能是请求过于频繁.",
			wantMessage: MsgSendFailed,
		},
		{
			name:        "verify timeout",
			line:        "[2024-05-01 12:00:00] [WARNING]: 验证超时",
			wantMessage: MsgVerifyTimeout,
		},
		{
			name:        "generic login failure keeps the line",
			line:        "[2024-05-01 12:00:00] [WARNING]: 登录失败: 密码错误 Code: 1",
			wantMessage: "登录失败: 密码错误 Code: 1",
		},
		{
			name:        "device lock link",
			line:        "[2024-05-01 12:00:00] [WARNING]: 账号已开启设备锁，请前往 -> https://accounts.qq.com/safe/verify?a=1 <- 验证后重启Bot.",
			wantMessage: MsgDeviceLock,
			wantLink:    "https://accounts.qq.com/safe/verify?a=1",
			wantWrites:  1,
		},
		{
			name:        "protocol without qr support",
			line:        "[2024-05-01 12:00:00] [WARNING]: 当前协议不支持二维码登录, 请配置账号密码登录.",
			wantMessage: MsgProtocolNoQR,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			host := &fakeHost{}
			m, store := newTestMachine(host)
			feed(t, m, tt.line)

			got, _ := store.Get()
			if got.Status != StatusError {
				t.Fatalf("status = %q, want error", got.Status)
			}
			if got.Message != tt.wantMessage {
				t.Fatalf("message = %q, want %q", got.Message, tt.wantMessage)
			}
			if got.Link != tt.wantLink {
				t.Fatalf("link = %q, want %q", got.Link, tt.wantLink)
			}
			if len(host.writes) != tt.wantWrites {
				t.Fatalf("writes = %q, want %d", host.writes, tt.wantWrites)
			}
		})
	}
}

func TestMachine_CaptchaFallsBackToPNG(t *testing.T) {
	host := &fakeHost{files: map[string][]byte{"captcha.png": pngHeader}}
	m, store := newTestMachine(host)

	feed(t, m, "[2024-05-01 12:00:00] [WARNING]: 登录需要验证码, 验证码已保存到 captcha.jpg")

	got, _ := store.Get()
	if got.Status != StatusCaptcha || got.Image == "" {
		t.Fatalf("state = %+v, want captcha with image", got)
	}
}

func TestMachine_FailedImageReadLeavesState(t *testing.T) {
	m, store := newTestMachine(&fakeHost{})

	res := feed(t, m, "[2024-05-01 12:00:00] [INFO]: 请使用手机QQ扫描二维码 (qrcode.png) :")

	if res[0].Err == nil {
		t.Fatal("expected a read error")
	}
	if got, _ := store.Get(); got.Status != StatusInit {
		t.Fatalf("status = %q, want init", got.Status)
	}
}

func TestMachine_MenuReprompt(t *testing.T) {
	m, store := newTestMachine(&fakeHost{})
	feed(t, m, "请输入(1 - 2)：")

	if store.touches != 1 {
		t.Fatalf("touches = %d, want 1", store.touches)
	}
	if len(store.history) != 1 {
		t.Fatalf("reprompt published %v", store.statuses())
	}
}

func TestMachine_TrafficSkipped(t *testing.T) {
	m, store := newTestMachine(&fakeHost{})
	// A chat message that happens to mention a trigger must not be classified.
	res := feed(t, m, "[2024-05-01 12:00:00] [INFO]: 收到群 测试(1) 内 某人(2) 的消息: 登录失败 (3)")

	if !res[0].Skipped {
		t.Fatal("traffic line should be skipped")
	}
	if got, _ := store.Get(); got.Status != StatusInit {
		t.Fatalf("status = %q, want init", got.Status)
	}
}

func TestMachine_WriteFailureIsReported(t *testing.T) {
	m, _ := newTestMachine(&fakeHost{failing: true})
	res := feed(t, m, "[2024-05-01 12:00:00] [INFO]: 按 Enter 继续....")
	if res[0].Err == nil {
		t.Fatal("expected write error")
	}
}

// Any line sequence only ever publishes enumerated statuses, and terminal
// statuses only come from their triggers.
func TestMachine_StatusesStayEnumerated(t *testing.T) {
	host := &fakeHost{files: map[string][]byte{QRCodeFile: pngHeader, CaptchaFile: pngHeader}}
	m, store := newTestMachine(host)

	lines := []string{
		"random noise",
		"[2024-05-01 12:00:00] [DEBUG]: 协议版本 8.9.63",
		"[2024-05-01 12:00:00] [INFO]: 请使用手机QQ扫描二维码 (qrcode.png) :",
		"[2024-05-01 12:00:00] [WARNING]: 验证码已保存到 captcha.jpg",
		"[2024-05-01 12:00:00] [WARNING]: 向手机 1 发送短信验证码",
		"[2024-05-01 12:00:00] [WARNING]: 请输入短信验证码",
		"请输入(1 - 2)：",
		"[2024-05-01 12:00:00] [INFO]: 扫码成功",
	}
	feed(t, m, lines...)

	for _, st := range store.history {
		if !st.Status.Valid() {
			t.Fatalf("published invalid status %q", st.Status)
		}
		if st.Status.Terminal() {
			t.Fatalf("published terminal status %q without a trigger", st.Status)
		}
	}
}

func TestDataURI(t *testing.T) {
	if got := DataURI(pngHeader); !strings.HasPrefix(got, "data:image/png;base64,iVBORw0KGgo") {
		t.Fatalf("DataURI(png) = %q", got)
	}
	if got := DataURI([]byte("plain text")); !strings.HasPrefix(got, "data:image/png;base64,") {
		t.Fatalf("DataURI(text) = %q, want png fallback", got)
	}
}

func TestStatus(t *testing.T) {
	for _, s := range Statuses() {
		if !s.Valid() {
			t.Errorf("%q should be valid", s)
		}
	}
	if Status("online").Valid() {
		t.Error("unknown status reported valid")
	}
	for _, s := range []Status{StatusSuccess, StatusError, StatusOffline} {
		if !s.Terminal() {
			t.Errorf("%q should be terminal", s)
		}
	}
	if StatusContinue.Terminal() || StatusContinue.Interactive() {
		t.Error("continue is neither terminal nor interactive")
	}
}
