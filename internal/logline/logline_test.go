package logline

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		wantTag   string
		wantText  string
		wantLevel slog.Level
		traffic   bool
	}{
		{
			name:      "info line maps to debug",
			input:     "[2024-05-01 12:00:00] [INFO]: 开始尝试登录并同步消息...",
			wantTag:   "INFO",
			wantText:  "开始尝试登录并同步消息...",
			wantLevel: slog.LevelDebug,
		},
		{
			name:      "warning line",
			input:     "[2024-05-01 12:00:00] [WARNING]: 账号已开启设备锁，请选择验证方式:",
			wantTag:   "WARNING",
			wantText:  "账号已开启设备锁，请选择验证方式:",
			wantLevel: slog.LevelWarn,
		},
		{
			name:      "fatal maps to error",
			input:     "[2024-05-01 12:00:00] [FATAL]: 登录失败: 密码错误",
			wantTag:   "FATAL",
			wantText:  "登录失败: 密码错误",
			wantLevel: slog.LevelError,
		},
		{
			name:      "colored line is stripped",
			input:     "\x1b[37m[2024-05-01 12:00:00] [\x1b[33mWARNING\x1b[0m]: 二维码过期\x1b[0m",
			wantTag:   "WARNING",
			wantText:  "二维码过期",
			wantLevel: slog.LevelWarn,
		},
		{
			name:      "untagged line logs at info",
			input:     "  请输入(1 - 2)：  ",
			wantTag:   "",
			wantText:  "请输入(1 - 2)：",
			wantLevel: slog.LevelInfo,
		},
		{
			name:      "group message traffic",
			input:     "[2024-05-01 12:00:00] [INFO]: 收到群 测试群(123) 内 小明(456) 的消息: 你好 (0)",
			wantTag:   "INFO",
			wantText:  "收到群 测试群(123) 内 小明(456) 的消息: 你好 (0)",
			wantLevel: slog.LevelDebug,
			traffic:   true,
		},
		{
			name:      "sent private message traffic",
			input:     "[2024-05-01 12:00:00] [INFO]: 发送好友 小明(456) 的消息: hi (id=1)",
			wantTag:   "INFO",
			wantText:  "发送好友 小明(456) 的消息: hi (id=1)",
			wantLevel: slog.LevelDebug,
			traffic:   true,
		},
		{
			name:      "send failure is not traffic",
			input:     "[2024-05-01 12:00:00] [WARNING]: 发送验证码失败，可能是请求过于频繁.",
			wantTag:   "WARNING",
			wantText:  "发送验证码失败，可能是请求过于频繁.",
			wantLevel: slog.LevelWarn,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Parse(tt.input)
			require.True(t, ok)
			assert.Equal(t, tt.wantTag, got.Tag)
			assert.Equal(t, tt.wantText, got.Text)
			assert.Equal(t, tt.wantLevel, got.Level)
			assert.Equal(t, tt.traffic, got.Traffic)
		})
	}
}

func TestParse_EmptyAfterStrip(t *testing.T) {
	_, ok := Parse("\x1b[0m   \r")
	assert.False(t, ok)
}

func TestLevelFor(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, LevelFor("debug"))
	assert.Equal(t, slog.LevelWarn, LevelFor("Warning"))
	assert.Equal(t, slog.LevelError, LevelFor("ERROR"))
	assert.Equal(t, slog.LevelInfo, LevelFor("NOTICE"))
}

func TestSplit(t *testing.T) {
	lines := Split("[2024-05-01 12:00:00] [INFO]: a\r\n\n\x1b[0m\n[2024-05-01 12:00:01] [ERROR]: b\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "a", lines[0].Text)
	assert.Equal(t, "b", lines[1].Text)
	assert.Equal(t, slog.LevelError, lines[1].Level)
}

func TestSplitter_HoldsPartialLines(t *testing.T) {
	var s Splitter

	assert.Empty(t, s.Feed([]byte("[2024-05-01 12:00:00] [INFO]: first ha")))
	assert.True(t, s.Pending())

	lines := s.Feed([]byte("lf\n[2024-05-01 12:00:01] [INFO]: sec"))
	require.Len(t, lines, 1)
	assert.Equal(t, "first half", lines[0].Text)

	lines = s.Feed([]byte("ond\nthird"))
	require.Len(t, lines, 1)
	assert.Equal(t, "second", lines[0].Text)

	lines = s.Flush()
	require.Len(t, lines, 1)
	assert.Equal(t, "third", lines[0].Text)
	assert.False(t, s.Pending())
	assert.Empty(t, s.Flush())
}
